// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package conn implements the classic BitTorrent peer wire protocol: the
// 68-byte handshake and length-prefixed message framing on top of TCP.
package conn

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/hypertube/hypertube/core"
	"github.com/hypertube/hypertube/utils/log"
)

// noDeadline clears a previously set socket deadline.
var noDeadline = time.Time{}

func timeNowAdd(d time.Duration) time.Time {
	return time.Now().Add(d)
}

// ErrConnClosed is returned from Send after the connection has closed.
var ErrConnClosed = errors.New("connection closed")

// Conn is an established peer connection. Outbound messages are serialized
// through a single sender goroutine since peer sockets are not safe for
// concurrent writes; inbound messages are delivered in wire order on the
// Receiver channel, which closes when the connection dies.
type Conn struct {
	config   Config
	nc       net.Conn
	peerID   core.PeerID
	infoHash core.InfoHash

	sender   chan *Message
	receiver chan *Message

	mu           sync.Mutex
	lastReceived time.Time

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(config Config, nc net.Conn, peerID core.PeerID, infoHash core.InfoHash) *Conn {
	c := &Conn{
		config:       config,
		nc:           nc,
		peerID:       peerID,
		infoHash:     infoHash,
		sender:       make(chan *Message, config.SenderBufferSize),
		receiver:     make(chan *Message, config.ReceiverBufferSize),
		lastReceived: time.Now(),
		done:         make(chan struct{}),
	}
	go c.sendLoop()
	go c.receiveLoop()
	return c
}

// PeerID returns the remote peer id from the handshake.
func (c *Conn) PeerID() core.PeerID {
	return c.peerID
}

// InfoHash returns the torrent this connection was opened for.
func (c *Conn) InfoHash() core.InfoHash {
	return c.infoHash
}

// Addr returns the remote address.
func (c *Conn) Addr() string {
	return c.nc.RemoteAddr().String()
}

// Send enqueues m for writing. Does not block on the socket.
func (c *Conn) Send(m *Message) error {
	select {
	case c.sender <- m:
		return nil
	case <-c.done:
		return ErrConnClosed
	}
}

// Receiver returns the inbound message channel. Closed when the connection
// dies.
func (c *Conn) Receiver() <-chan *Message {
	return c.receiver
}

// Close tears down the connection. Safe to call multiple times.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.nc.Close()
	})
}

// Closed returns whether the connection has been torn down.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) sendLoop() {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case m := <-c.sender:
			if err := c.write(m); err != nil {
				log.With("peer", c.Addr()).Debugf("Write error: %s", err)
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) write(m *Message) error {
	if err := c.nc.SetWriteDeadline(timeNowAdd(c.config.ReadTimeout)); err != nil {
		return err
	}
	return EncodeMessage(c.nc, m)
}

func (c *Conn) receiveLoop() {
	defer close(c.receiver)
	defer c.Close()
	for {
		if err := c.nc.SetReadDeadline(timeNowAdd(c.config.ReadTimeout)); err != nil {
			return
		}
		m, err := DecodeMessage(c.nc)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				// A quiet peer is nudged, not dropped, until the idle
				// timeout passes.
				if c.idleFor() > c.config.IdleTimeout {
					log.With("peer", c.Addr()).Debug("Dropping idle connection")
					return
				}
				c.trySend(nil)
				continue
			}
			if !c.Closed() {
				log.With("peer", c.Addr()).Debugf("Read error: %s", err)
			}
			return
		}
		c.touch()
		if m == nil {
			// Keep-alive.
			continue
		}
		select {
		case c.receiver <- m:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) trySend(m *Message) {
	select {
	case c.sender <- m:
	default:
	}
}

func (c *Conn) touch() {
	c.mu.Lock()
	c.lastReceived = time.Now()
	c.mu.Unlock()
}

func (c *Conn) idleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastReceived)
}
