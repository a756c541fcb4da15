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
	"testing"
	"time"

	"github.com/hypertube/hypertube/core"

	"github.com/stretchr/testify/require"
)

func TestHandshakerInitialize(t *testing.T) {
	require := require.New(t)

	tf := core.SingleFileTorrentFixture(1000, 250)
	infoHash := tf.MetaInfo.InfoHash()

	peer, err := NewFakePeer(infoHash)
	require.NoError(err)
	defer peer.Close()

	localID := core.PeerIDFixture()
	h := NewHandshaker(Config{}, localID)

	c, err := h.Initialize(peer.Addr(), infoHash)
	require.NoError(err)
	defer c.Close()

	require.Equal(peer.PeerID, c.PeerID())
	require.Equal(infoHash, c.InfoHash())

	// The fake peer should have received our side of the handshake intact.
	select {
	case <-peer.Conns:
	case <-time.After(5 * time.Second):
		t.Fatal("fake peer never completed handshake")
	}
}

func TestHandshakerInitializeRejectsInfoHashMismatch(t *testing.T) {
	require := require.New(t)

	tf := core.SingleFileTorrentFixture(1000, 250)
	infoHash := tf.MetaInfo.InfoHash()

	// Peer handshakes for a different torrent.
	var other core.InfoHash
	copy(other[:], infoHash.Bytes())
	other[0] ^= 0xff

	peer, err := NewFakePeer(other)
	require.NoError(err)
	defer peer.Close()

	h := NewHandshaker(Config{}, core.PeerIDFixture())

	_, err = h.Initialize(peer.Addr(), infoHash)
	require.Equal(ErrInvalidInfoHash, err)
}

func TestHandshakerInitializeDialError(t *testing.T) {
	require := require.New(t)

	h := NewHandshaker(Config{DialTimeout: time.Second}, core.PeerIDFixture())

	// Reserved TEST-NET-1 address, nothing listens there.
	_, err := h.Initialize("192.0.2.1:6881", core.InfoHashFixture())
	require.Error(err)
}

func TestHandshakerAccept(t *testing.T) {
	require := require.New(t)

	infoHash := core.InfoHashFixture()

	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(err)
	defer l.Close()

	serverID := core.PeerIDFixture()
	clientID := core.PeerIDFixture()
	server := NewHandshaker(Config{}, serverID)
	client := NewHandshaker(Config{}, clientID)

	accepted := make(chan *Conn, 1)
	errs := make(chan error, 1)
	go func() {
		nc, err := l.Accept()
		if err != nil {
			errs <- err
			return
		}
		c, err := server.Accept(nc, func(h core.InfoHash) bool { return h == infoHash })
		if err != nil {
			nc.Close()
			errs <- err
			return
		}
		accepted <- c
	}()

	out, err := client.Initialize(l.Addr().String(), infoHash)
	require.NoError(err)
	defer out.Close()

	var in *Conn
	select {
	case in = <-accepted:
	case err := <-errs:
		t.Fatalf("accept failed: %s", err)
	case <-time.After(5 * time.Second):
		t.Fatal("inbound handshake never completed")
	}
	defer in.Close()

	require.Equal(serverID, out.PeerID())
	require.Equal(clientID, in.PeerID())
	require.Equal(infoHash, in.InfoHash())

	// The accepted connection is fully usable.
	want := NewHaveMessage(7)
	require.NoError(out.Send(want))
	select {
	case m := <-in.Receiver():
		require.Equal(want, m)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for inbound message")
	}
}

func TestHandshakerAcceptRejectsUnservedInfoHash(t *testing.T) {
	require := require.New(t)

	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(err)
	defer l.Close()

	server := NewHandshaker(Config{}, core.PeerIDFixture())
	client := NewHandshaker(Config{}, core.PeerIDFixture())

	errs := make(chan error, 1)
	go func() {
		nc, err := l.Accept()
		if err != nil {
			errs <- err
			return
		}
		defer nc.Close()
		_, err = server.Accept(nc, func(core.InfoHash) bool { return false })
		errs <- err
	}()

	_, err = client.Initialize(l.Addr().String(), core.InfoHashFixture())
	require.Error(err)

	select {
	case err := <-errs:
		require.Equal(ErrTorrentNotServed, err)
	case <-time.After(5 * time.Second):
		t.Fatal("accept never returned")
	}
}

func TestConnSendReceive(t *testing.T) {
	require := require.New(t)

	infoHash := core.InfoHashFixture()

	peer, err := NewFakePeer(infoHash)
	require.NoError(err)
	defer peer.Close()

	h := NewHandshaker(Config{}, core.PeerIDFixture())

	c, err := h.Initialize(peer.Addr(), infoHash)
	require.NoError(err)
	defer c.Close()

	var remote net.Conn
	select {
	case remote = <-peer.Conns:
	case <-time.After(5 * time.Second):
		t.Fatal("fake peer never completed handshake")
	}
	defer remote.Close()

	// Outbound: messages sent through Conn arrive at the remote socket.
	sent := NewRequestMessage(3, 16384, 16384)
	require.NoError(c.Send(sent))
	got, err := DecodeMessage(remote)
	require.NoError(err)
	require.Equal(sent, got)

	// Inbound: messages written by the remote surface on Receiver.
	want := NewPieceMessage(3, 16384, []byte("block data"))
	require.NoError(EncodeMessage(remote, want))
	select {
	case m := <-c.Receiver():
		require.Equal(want, m)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for inbound message")
	}
}

func TestConnReceiverClosesOnRemoteClose(t *testing.T) {
	require := require.New(t)

	infoHash := core.InfoHashFixture()

	peer, err := NewFakePeer(infoHash)
	require.NoError(err)
	defer peer.Close()

	h := NewHandshaker(Config{}, core.PeerIDFixture())

	c, err := h.Initialize(peer.Addr(), infoHash)
	require.NoError(err)
	defer c.Close()

	select {
	case nc := <-peer.Conns:
		nc.Close()
	case <-time.After(5 * time.Second):
		t.Fatal("fake peer never completed handshake")
	}

	select {
	case _, ok := <-c.Receiver():
		require.False(ok)
	case <-time.After(5 * time.Second):
		t.Fatal("receiver never closed")
	}
	require.True(c.Closed())
}

func TestConnSendAfterCloseErrors(t *testing.T) {
	require := require.New(t)

	infoHash := core.InfoHashFixture()

	peer, err := NewFakePeer(infoHash)
	require.NoError(err)
	defer peer.Close()

	h := NewHandshaker(Config{}, core.PeerIDFixture())

	c, err := h.Initialize(peer.Addr(), infoHash)
	require.NoError(err)

	c.Close()
	require.Equal(ErrConnClosed, c.Send(NewHaveMessage(0)))
}
