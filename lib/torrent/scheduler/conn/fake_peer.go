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
	"net"

	"github.com/hypertube/hypertube/core"
)

// FakePeer is a scripted remote peer for testing. It listens on an ephemeral
// port, performs the wire handshake on accept and then exposes the raw
// socket for scripting messages.
type FakePeer struct {
	PeerID   core.PeerID
	InfoHash core.InfoHash

	listener net.Listener

	// Conns receives one established socket per accepted connection.
	Conns chan net.Conn
}

// NewFakePeer starts a FakePeer which handshakes with infoHash. Close must
// be called to release the listener.
func NewFakePeer(infoHash core.InfoHash) (*FakePeer, error) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return nil, err
	}
	p := &FakePeer{
		PeerID:   core.PeerIDFixture(),
		InfoHash: infoHash,
		listener: l,
		Conns:    make(chan net.Conn, 1),
	}
	go p.acceptLoop()
	return p, nil
}

// Addr returns the dialable address of the fake peer.
func (p *FakePeer) Addr() string {
	return p.listener.Addr().String()
}

// Close stops the listener.
func (p *FakePeer) Close() {
	p.listener.Close()
}

func (p *FakePeer) acceptLoop() {
	for {
		nc, err := p.listener.Accept()
		if err != nil {
			return
		}
		if _, err := decodeHandshake(nc); err != nil {
			nc.Close()
			continue
		}
		h := &Handshake{InfoHash: p.InfoHash, PeerID: p.PeerID}
		if _, err := nc.Write(h.encode()); err != nil {
			nc.Close()
			continue
		}
		p.Conns <- nc
	}
}
