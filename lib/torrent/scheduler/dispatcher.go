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
	"errors"
	"fmt"
	"sync"

	"github.com/hypertube/hypertube/core"
	"github.com/hypertube/hypertube/lib/torrent/scheduler/conn"
	"github.com/hypertube/hypertube/lib/torrent/scheduler/piecerequest"
	"github.com/hypertube/hypertube/lib/torrent/storage"
	"github.com/hypertube/hypertube/utils/log"
	"github.com/hypertube/hypertube/utils/syncutil"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"github.com/willf/bitset"
	"go.uber.org/atomic"
)

var (
	errPeerAlreadyDispatched = errors.New("peer is already dispatched for the torrent")
	errTooManyPeers          = errors.New("peer limit reached")
	errTooManyConnections    = errors.New("global connection limit reached")
	errPeerBlacklisted       = errors.New("peer is blacklisted")
)

// Messages defines a subset of conn.Conn methods which dispatcher requires
// to communicate with remote peers.
type Messages interface {
	PeerID() core.PeerID
	Addr() string
	Send(msg *conn.Message) error
	Receiver() <-chan *conn.Message
	Close()
}

// dispatcher coordinates torrent state with sending / receiving messages
// between multiple peers. dispatcher and Torrent have a one-to-one
// relationship, while dispatcher and conn have a one-to-many relationship.
type dispatcher struct {
	config  Config
	stats   tally.Scope
	clk     clock.Clock
	torrent *storage.Torrent

	// conns counts open connections across every dispatcher of the owning
	// scheduler, enforcing the global connection cap.
	conns *atomic.Int64

	requests *piecerequest.Manager

	mu              sync.Mutex
	peers           map[core.PeerID]*peer
	peersByAddr     map[string]*peer
	blacklist       map[string]struct{}
	numPeersByPiece syncutil.Counters
	pieceRetries    map[int]int

	// onPieceComplete is invoked, unlocked, after every piece verification.
	onPieceComplete func()

	completeOnce sync.Once
	completec    chan struct{}
	errc         chan error

	doneOnce sync.Once
	done     chan struct{}
}

func newDispatcher(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	conns *atomic.Int64,
	t *storage.Torrent,
	onPieceComplete func()) *dispatcher {

	d := &dispatcher{
		config:  config,
		stats:   stats,
		clk:     clk,
		conns:   conns,
		torrent: t,
		requests: piecerequest.NewManager(
			clk, config.BlockTimeout, config.PipelineLimit, primaryFilePiece(t.MetaInfo())),
		peers:           make(map[core.PeerID]*peer),
		peersByAddr:     make(map[string]*peer),
		blacklist:       make(map[string]struct{}),
		numPeersByPiece: syncutil.NewCounters(t.NumPieces()),
		pieceRetries:    make(map[int]int),
		onPieceComplete: onPieceComplete,
		completec:       make(chan struct{}),
		errc:            make(chan error, 1),
		done:            make(chan struct{}),
	}
	go d.watchFailedRequests()
	return d
}

// primaryFilePiece returns the piece index at which the largest file of the
// torrent begins. Downloading it first lets playback start before the rest
// of the swarm catches up.
func primaryFilePiece(mi *core.MetaInfo) int {
	var offset, primary int64
	var size int64 = -1
	for _, f := range mi.Files() {
		if f.Length > size {
			size = f.Length
			primary = offset
		}
		offset += f.Length
	}
	return int(primary / mi.PieceLength())
}

// Complete is closed once every piece has been verified and written.
func (d *dispatcher) Complete() <-chan struct{} {
	return d.completec
}

// Errors surfaces fatal download errors, such as a piece exhausting its
// verification retries.
func (d *dispatcher) Errors() <-chan error {
	return d.errc
}

// NumPeers returns the number of connected peers.
func (d *dispatcher) NumPeers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.peers)
}

// Connected returns whether a peer at addr is currently dispatched.
func (d *dispatcher) Connected(addr string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.peersByAddr[addr]
	return ok
}

// Blacklisted returns whether addr has been banned for repeated failures.
func (d *dispatcher) Blacklisted(addr string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.blacklist[addr]
	return ok
}

// AddPeer registers an established connection and starts reading from it.
func (d *dispatcher) AddPeer(messages Messages) error {
	d.mu.Lock()
	id, addr := messages.PeerID(), messages.Addr()
	if _, ok := d.peers[id]; ok {
		d.mu.Unlock()
		return errPeerAlreadyDispatched
	}
	if len(d.peers) >= d.config.MaxPeers {
		d.mu.Unlock()
		return errTooManyPeers
	}
	if _, ok := d.blacklist[addr]; ok {
		d.mu.Unlock()
		return errPeerBlacklisted
	}
	if d.conns.Inc() > int64(d.config.MaxConnections) {
		d.conns.Dec()
		d.mu.Unlock()
		return errTooManyConnections
	}
	p := newPeer(id, addr, d.torrent.NumPieces(), messages)
	d.peers[id] = p
	d.peersByAddr[addr] = p
	d.mu.Unlock()

	messages.Send(conn.NewBitfieldMessage(d.torrent.Bitfield().ToBytes()))
	messages.Send(&conn.Message{ID: conn.MsgInterested})

	go d.feed(p)
	return nil
}

// TearDown closes all connections and stops internal timers.
func (d *dispatcher) TearDown() {
	d.doneOnce.Do(func() { close(d.done) })

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.peers {
		p.messages.Close()
	}
}

// feed reads off of peer and handles incoming messages. When the peer's
// messages close, the feed goroutine removes the peer and exits.
func (d *dispatcher) feed(p *peer) {
	for msg := range p.messages.Receiver() {
		if err := d.dispatch(p, msg); err != nil {
			log.With("peer", p.addr).Errorf("Error dispatching message: %s", err)
		}
	}
	d.removePeer(p)
}

func (d *dispatcher) dispatch(p *peer, msg *conn.Message) error {
	switch msg.ID {
	case conn.MsgChoke:
		d.handleChoke(p)
	case conn.MsgUnchoke:
		d.handleUnchoke(p)
	case conn.MsgHave:
		d.handleHave(p, int(msg.Index))
	case conn.MsgBitfield:
		return d.handleBitfield(p, msg.Bitfield)
	case conn.MsgPiece:
		d.handlePiecePayload(p, msg)
	case conn.MsgInterested, conn.MsgNotInterested, conn.MsgRequest, conn.MsgCancel:
		// Leecher-only: we never unchoke remotes, so their interest and
		// requests are acknowledged by silence.
	default:
		return fmt.Errorf("unknown message id %d", msg.ID)
	}
	return nil
}

func (d *dispatcher) handleChoke(p *peer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p.choked = true
	// In-flight requests are implicitly discarded by a choking peer. Free
	// the reservations so another peer can pick the pieces up.
	for i := range p.pieces {
		d.requests.MarkUnsent(p.id, i)
	}
	p.pieces = make(map[int]*pieceProgress)
	p.order = nil
}

func (d *dispatcher) handleUnchoke(p *peer) {
	d.mu.Lock()
	p.choked = false
	d.reserveAndRequest(p, d.candidates(p))
	d.mu.Unlock()
}

func (d *dispatcher) handleHave(p *peer, i int) {
	if i < 0 || i >= d.torrent.NumPieces() {
		return
	}
	d.mu.Lock()
	if !p.bitfield.Has(i) {
		p.bitfield.Set(i)
		d.numPeersByPiece.Increment(i)
	}
	if !p.choked {
		d.reserveAndRequest(p, d.candidates(p))
	}
	d.mu.Unlock()
}

func (d *dispatcher) handleBitfield(p *peer, raw []byte) error {
	b, err := core.NewBitfieldFromBytes(d.torrent.NumPieces(), raw)
	if err != nil {
		return fmt.Errorf("parse bitfield: %s", err)
	}
	d.mu.Lock()
	for i := 0; i < d.torrent.NumPieces(); i++ {
		if p.bitfield.Has(i) {
			d.numPeersByPiece.Decrement(i)
		}
		if b.Has(i) {
			d.numPeersByPiece.Increment(i)
		}
	}
	p.bitfield = b
	if !p.choked {
		d.reserveAndRequest(p, d.candidates(p))
	}
	d.mu.Unlock()
	return nil
}

func (d *dispatcher) handlePiecePayload(p *peer, msg *conn.Message) {
	i := int(msg.Index)
	begin := int64(msg.Begin)

	d.mu.Lock()
	if pp, ok := p.pieces[i]; ok {
		delete(pp.outstanding, begin)
	}

	completed, err := d.torrent.WriteBlock(i, begin, msg.Block)
	if err != nil {
		switch e := err.(type) {
		case storage.VerifyError:
			d.handleVerifyFailure(p, i, e)
		default:
			if err == storage.ErrPieceComplete {
				// Duplicate delivery after an endgame race.
				d.requests.Clear(i)
				p.dropPiece(i)
			} else {
				log.With("peer", p.addr, "piece", i).Errorf("Write block: %s", err)
				d.incrementPeerFailure(p)
			}
		}
		d.mu.Unlock()
		return
	}

	d.requests.Touch(p.id, i)
	d.stats.Counter("blocks_received").Inc(1)

	if !completed {
		d.fillPipeline(p)
		d.mu.Unlock()
		return
	}

	d.stats.Counter("pieces_completed").Inc(1)
	d.finishPiece(p, i)
	complete := d.torrent.Complete()
	if !complete {
		d.reserveAndRequest(p, d.candidates(p))
	}
	d.mu.Unlock()

	d.onPieceComplete()
	if complete {
		d.complete()
	}
}

// handleVerifyFailure penalizes the offending peer and either re-queues the
// piece or fails the download once retries are exhausted. Called with d.mu
// held.
func (d *dispatcher) handleVerifyFailure(p *peer, i int, err storage.VerifyError) {
	d.stats.Counter("verify_failures").Inc(1)
	log.With("peer", p.addr, "piece", i).Warnf("Piece failed verification: %s", err)

	d.pieceRetries[i]++
	d.requests.MarkInvalid(p.id, i)
	p.dropPiece(i)
	d.incrementPeerFailure(p)

	if d.pieceRetries[i] > d.config.MaxPieceRetries {
		d.fail(fmt.Errorf("piece %d failed verification %d times", i, d.pieceRetries[i]))
	}
}

// finishPiece clears all bookkeeping for a verified piece, cancelling
// duplicate endgame requests and announcing ownership. Called with d.mu
// held.
func (d *dispatcher) finishPiece(from *peer, i int) {
	for _, id := range d.requests.Holders(i) {
		if id == from.id {
			continue
		}
		q, ok := d.peers[id]
		if !ok {
			continue
		}
		if pp, ok := q.pieces[i]; ok {
			for _, br := range pp.outstanding {
				q.messages.Send(conn.NewCancelMessage(br.Piece, int(br.Begin), int(br.Length)))
			}
			q.dropPiece(i)
			d.fillPipeline(q)
		}
	}
	d.requests.Clear(i)
	from.dropPiece(i)

	for _, q := range d.peers {
		q.messages.Send(conn.NewHaveMessage(i))
	}
}

// candidates returns the pieces p owns which we are still missing. Called
// with d.mu held.
func (d *dispatcher) candidates(p *peer) *bitset.BitSet {
	return p.bitfield.Bits().Difference(d.torrent.Bitfield().Bits())
}

func (d *dispatcher) endgame() bool {
	n := d.torrent.NumPieces()
	return float64(d.torrent.Bitfield().Count()) >= d.config.EndgameThreshold*float64(n)
}

// numActivePeers counts peers currently holding piece reservations. Called
// with d.mu held.
func (d *dispatcher) numActivePeers() int {
	var n int
	for _, p := range d.peers {
		if len(p.pieces) > 0 {
			n++
		}
	}
	return n
}

// reserveAndRequest reserves pieces from candidates for p and fills its
// block pipeline. Standby peers are not promoted past the active peer cap
// outside of endgame. Called with d.mu held.
func (d *dispatcher) reserveAndRequest(p *peer, candidates *bitset.BitSet) {
	if p.choked {
		return
	}
	if len(p.pieces) == 0 && !d.endgame() &&
		d.numActivePeers() >= d.config.MaxActivePeers {
		return
	}
	pieces := d.requests.ReservePieces(p.id, candidates, d.numPeersByPiece, d.endgame())
	for _, i := range pieces {
		blocks, err := d.torrent.BlockRequests(i)
		if err != nil {
			d.requests.Clear(i)
			continue
		}
		p.startPiece(i, blocks)
	}
	d.fillPipeline(p)
}

// fillPipeline tops p up to the pipeline limit of in-flight block requests.
// Called with d.mu held.
func (d *dispatcher) fillPipeline(p *peer) {
	budget := d.config.PipelineLimit - p.outstandingBlocks()
	for _, i := range p.order {
		pp := p.pieces[i]
		for budget > 0 && len(pp.queue) > 0 {
			br := pp.queue[0]
			pp.queue = pp.queue[1:]
			if err := p.messages.Send(
				conn.NewRequestMessage(br.Piece, int(br.Begin), int(br.Length))); err != nil {
				// Connection closed; feed will clean up.
				d.requests.MarkUnsent(p.id, i)
				return
			}
			pp.outstanding[br.Begin] = br
			budget--
		}
		if budget == 0 {
			return
		}
	}
}

// watchFailedRequests periodically re-queues expired, invalid, and unsent
// reservations on other peers.
func (d *dispatcher) watchFailedRequests() {
	for {
		select {
		case <-d.clk.After(d.config.BlockTimeout / 2):
			d.resendFailedRequests()
		case <-d.done:
			return
		}
	}
}

func (d *dispatcher) resendFailedRequests() {
	failed := d.requests.GetFailedRequests()
	if len(failed) == 0 {
		return
	}
	d.stats.Counter("request_failures").Inc(int64(len(failed)))

	d.mu.Lock()
	defer d.mu.Unlock()

	ours := d.torrent.Bitfield()
	for _, r := range failed {
		if p, ok := d.peers[r.PeerID]; ok {
			if _, reserved := p.pieces[r.Piece]; reserved {
				p.dropPiece(r.Piece)
				if r.Status != piecerequest.StatusUnsent {
					d.incrementPeerFailure(p)
				}
			}
		}
		if ours.Has(r.Piece) {
			d.requests.Clear(r.Piece)
			continue
		}
		for _, q := range d.peers {
			if q.id == r.PeerID && r.Status != piecerequest.StatusUnsent {
				// Do not resend to the same peer for expired or invalid
				// requests.
				continue
			}
			if q.choked || !q.bitfield.Has(r.Piece) {
				continue
			}
			nb := bitset.New(uint(d.torrent.NumPieces())).Set(uint(r.Piece))
			before := len(q.pieces)
			d.reserveAndRequest(q, nb)
			if len(q.pieces) > before {
				break
			}
		}
	}
}

// incrementPeerFailure bumps p's failure count and drops the connection once
// the limit is reached, banning the address for the rest of the download.
// Called with d.mu held.
func (d *dispatcher) incrementPeerFailure(p *peer) {
	p.failures++
	d.stats.Counter("peer_failures").Inc(1)
	if p.failures >= d.config.MaxPeerFailures {
		log.With("peer", p.addr, "failures", p.failures).Info("Dropping failing peer")
		d.blacklist[p.addr] = struct{}{}
		p.messages.Close()
	}
}

func (d *dispatcher) removePeer(p *peer) {
	d.mu.Lock()
	d.conns.Dec()
	delete(d.peers, p.id)
	delete(d.peersByAddr, p.addr)
	for i := 0; i < d.torrent.NumPieces(); i++ {
		if p.bitfield.Has(i) {
			d.numPeersByPiece.Decrement(i)
		}
	}
	d.mu.Unlock()

	d.requests.ClearPeer(p.id)
	p.messages.Close()
}

func (d *dispatcher) complete() {
	d.completeOnce.Do(func() { close(d.completec) })
	d.doneOnce.Do(func() { close(d.done) })
}

func (d *dispatcher) fail(err error) {
	select {
	case d.errc <- err:
	default:
	}
}
