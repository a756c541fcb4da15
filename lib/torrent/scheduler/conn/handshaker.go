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
package conn

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/hypertube/hypertube/core"
)

const _protocol = "BitTorrent protocol"

// handshakeLength is the fixed size of a wire handshake: a length-prefixed
// protocol string, 8 reserved bytes, the info hash and the peer id.
const handshakeLength = 1 + len(_protocol) + 8 + 20 + 20

// ErrInvalidInfoHash is returned when the remote handshake carries a
// different info hash than the torrent being opened. The connection must be
// dropped.
var ErrInvalidInfoHash = errors.New("remote handshake info hash mismatch")

// ErrTorrentNotServed is returned by Accept when the remote requests an
// info hash with no active download.
var ErrTorrentNotServed = errors.New("remote requested unknown info hash")

// Handshake contains the identifying fields exchanged before any framed
// messages.
type Handshake struct {
	InfoHash core.InfoHash
	PeerID   core.PeerID
}

func (h *Handshake) encode() []byte {
	b := make([]byte, handshakeLength)
	b[0] = byte(len(_protocol))
	copy(b[1:], _protocol)
	// 8 reserved bytes remain zero: no extensions negotiated.
	copy(b[28:48], h.InfoHash.Bytes())
	copy(b[48:68], h.PeerID.Bytes())
	return b
}

func decodeHandshake(r io.Reader) (*Handshake, error) {
	b := make([]byte, handshakeLength)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("read handshake: %s", err)
	}
	if int(b[0]) != len(_protocol) || string(b[1:1+len(_protocol)]) != _protocol {
		return nil, errors.New("unknown protocol identifier")
	}
	var h Handshake
	copy(h.InfoHash[:], b[28:48])
	copy(h.PeerID[:], b[48:68])
	return &h, nil
}

// Handshaker establishes peer connections, both outbound and inbound.
type Handshaker struct {
	config Config
	peerID core.PeerID
}

// NewHandshaker creates a new Handshaker identifying as peerID.
func NewHandshaker(config Config, peerID core.PeerID) *Handshaker {
	return &Handshaker{config.applyDefaults(), peerID}
}

// Initialize dials addr and exchanges handshakes for the given info hash,
// returning an established Conn. The remote info hash must match ours
// exactly, else the socket is closed and ErrInvalidInfoHash returned.
func (h *Handshaker) Initialize(addr string, infoHash core.InfoHash) (*Conn, error) {
	nc, err := net.DialTimeout("tcp", addr, h.config.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial: %s", err)
	}
	c, err := h.exchange(nc, infoHash)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

func (h *Handshaker) exchange(nc net.Conn, infoHash core.InfoHash) (*Conn, error) {
	deadline := h.config.DialTimeout
	if err := nc.SetDeadline(timeNowAdd(deadline)); err != nil {
		return nil, fmt.Errorf("set deadline: %s", err)
	}
	local := &Handshake{InfoHash: infoHash, PeerID: h.peerID}
	if _, err := nc.Write(local.encode()); err != nil {
		return nil, fmt.Errorf("send handshake: %s", err)
	}
	remote, err := decodeHandshake(nc)
	if err != nil {
		return nil, err
	}
	if remote.InfoHash != infoHash {
		return nil, ErrInvalidInfoHash
	}
	if err := nc.SetDeadline(noDeadline); err != nil {
		return nil, fmt.Errorf("clear deadline: %s", err)
	}
	return newConn(h.config, nc, remote.PeerID, infoHash), nil
}

// Accept performs the listening side of the handshake on an inbound socket.
// The remote speaks first; its info hash must be admitted by serving before
// we reply with our own handshake. The caller owns nc on error.
func (h *Handshaker) Accept(nc net.Conn, serving func(core.InfoHash) bool) (*Conn, error) {
	if err := nc.SetDeadline(timeNowAdd(h.config.DialTimeout)); err != nil {
		return nil, fmt.Errorf("set deadline: %s", err)
	}
	remote, err := decodeHandshake(nc)
	if err != nil {
		return nil, err
	}
	if !serving(remote.InfoHash) {
		return nil, ErrTorrentNotServed
	}
	local := &Handshake{InfoHash: remote.InfoHash, PeerID: h.peerID}
	if _, err := nc.Write(local.encode()); err != nil {
		return nil, fmt.Errorf("send handshake: %s", err)
	}
	if err := nc.SetDeadline(noDeadline); err != nil {
		return nil, fmt.Errorf("clear deadline: %s", err)
	}
	return newConn(h.config, nc, remote.PeerID, remote.InfoHash), nil
}
