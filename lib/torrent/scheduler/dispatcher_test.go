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
package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/hypertube/hypertube/core"
	"github.com/hypertube/hypertube/lib/torrent/scheduler/conn"
	"github.com/hypertube/hypertube/lib/torrent/storage"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
)

// scriptedPeer implements Messages with an in-memory channel, recording
// everything the dispatcher sends.
type scriptedPeer struct {
	id   core.PeerID
	addr string
	in   chan *conn.Message

	mu   sync.Mutex
	sent []*conn.Message

	closeOnce sync.Once
}

func newScriptedPeer(t *testing.T, addr string) *scriptedPeer {
	id, err := core.GeneratePeerID()
	require.NoError(t, err)
	return &scriptedPeer{id: id, addr: addr, in: make(chan *conn.Message, 32)}
}

func (p *scriptedPeer) PeerID() core.PeerID { return p.id }

func (p *scriptedPeer) Addr() string { return p.addr }

func (p *scriptedPeer) Send(m *conn.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, m)
	return nil
}

func (p *scriptedPeer) Receiver() <-chan *conn.Message { return p.in }

func (p *scriptedPeer) Close() {
	p.closeOnce.Do(func() { close(p.in) })
}

func (p *scriptedPeer) numRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n int
	for _, m := range p.sent {
		if m.ID == conn.MsgRequest {
			n++
		}
	}
	return n
}

func dispatcherFixture(
	t *testing.T,
	config Config,
	conns *atomic.Int64,
	tf *core.TorrentFixture) *dispatcher {

	torrent, _, cleanup := storage.TorrentFixture(tf)
	t.Cleanup(cleanup)
	d := newDispatcher(
		config.applyDefaults(), tally.NoopScope, clock.New(),
		conns, torrent, func() {})
	t.Cleanup(d.TearDown)
	return d
}

func fullBitfield(tf *core.TorrentFixture) *conn.Message {
	b := core.NewBitfield(tf.MetaInfo.NumPieces())
	for i := 0; i < tf.MetaInfo.NumPieces(); i++ {
		b.Set(i)
	}
	return conn.NewBitfieldMessage(b.ToBytes())
}

func TestDispatcherCapsActivePeers(t *testing.T) {
	require := require.New(t)

	tf := core.SingleFileTorrentFixture(4*storage.BlockSize, 2*storage.BlockSize)
	config := configFixture()
	config.MaxActivePeers = 1
	d := dispatcherFixture(t, config, atomic.NewInt64(0), tf)

	p1 := newScriptedPeer(t, "10.0.0.1:6881")
	p2 := newScriptedPeer(t, "10.0.0.2:6881")
	require.NoError(d.AddPeer(p1))
	require.NoError(d.AddPeer(p2))

	for _, p := range []*scriptedPeer{p1, p2} {
		p.in <- fullBitfield(tf)
		p.in <- &conn.Message{ID: conn.MsgUnchoke}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p1.numRequests()+p2.numRequests() > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	// Let the second unchoke settle before asserting.
	time.Sleep(100 * time.Millisecond)

	// Exactly one peer was promoted to active; the other holds no
	// reservations and received no requests.
	require.True(p1.numRequests() > 0 || p2.numRequests() > 0)
	require.False(p1.numRequests() > 0 && p2.numRequests() > 0)
	d.mu.Lock()
	active := d.numActivePeers()
	d.mu.Unlock()
	require.Equal(1, active)
}

func TestDispatcherEnforcesGlobalConnectionLimit(t *testing.T) {
	require := require.New(t)

	config := configFixture()
	config.MaxConnections = 1
	conns := atomic.NewInt64(0)

	// The cap spans torrents: two dispatchers share the same counter.
	tf1 := core.SingleFileTorrentFixture(2*storage.BlockSize, 2*storage.BlockSize)
	tf2 := core.SingleFileTorrentFixture(2*storage.BlockSize, 2*storage.BlockSize)
	d1 := dispatcherFixture(t, config, conns, tf1)
	d2 := dispatcherFixture(t, config, conns, tf2)

	p1 := newScriptedPeer(t, "10.0.0.1:6881")
	p2 := newScriptedPeer(t, "10.0.0.2:6881")
	require.NoError(d1.AddPeer(p1))
	require.Equal(errTooManyConnections, d2.AddPeer(p2))

	// The slot frees once the first connection closes.
	p1.Close()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d2.AddPeer(p2) == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("connection slot never freed")
}
