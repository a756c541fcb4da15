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

// Package piecerequest encapsulates thread-safe piece reservation
// bookkeeping. Pieces are selected rarest-first with ties broken by
// ascending index, except that the head piece of the primary media file
// always wins so playback can start as early as possible.
package piecerequest

import (
	"sort"
	"sync"
	"time"

	"github.com/hypertube/hypertube/core"
	"github.com/hypertube/hypertube/utils/heap"
	"github.com/hypertube/hypertube/utils/syncutil"

	"github.com/andres-erbsen/clock"
	"github.com/willf/bitset"
)

// Status enumerates possible statuses of a Request.
type Status int

const (
	// StatusPending denotes a valid request which is still in-flight.
	StatusPending Status = iota

	// StatusExpired denotes an in-flight request which has timed out on our end.
	StatusExpired

	// StatusUnsent denotes an unsent request that is safe to retry to the same peer.
	StatusUnsent

	// StatusInvalid denotes a completed request that resulted in an invalid payload.
	StatusInvalid
)

// Request represents a piece reservation held by a peer.
type Request struct {
	Piece  int
	PeerID core.PeerID
	Status Status

	sentAt time.Time
}

// Manager tracks which peer is responsible for downloading which piece.
// It is not responsible for sending nor receiving pieces in any way.
type Manager struct {
	sync.RWMutex

	// requests and requestsByPeer hold the same data, just indexed differently.
	requests       map[int][]*Request
	requestsByPeer map[core.PeerID]map[int]*Request

	clock   clock.Clock
	timeout time.Duration

	pipelineLimit int
	firstPiece    int
}

// NewManager creates a new Manager. firstPiece is promoted ahead of rarity
// ordering; pass a negative value to disable promotion.
func NewManager(
	clk clock.Clock,
	timeout time.Duration,
	pipelineLimit int,
	firstPiece int) *Manager {

	return &Manager{
		requests:       make(map[int][]*Request),
		requestsByPeer: make(map[core.PeerID]map[int]*Request),
		clock:          clk,
		timeout:        timeout,
		pipelineLimit:  pipelineLimit,
		firstPiece:     firstPiece,
	}
}

// ReservePieces selects the next piece(s) to be requested from the given
// peer, rarest-first against numPeersByPiece. If allowDuplicates is set, may
// return pieces which have already been reserved under other peers.
func (m *Manager) ReservePieces(
	peerID core.PeerID,
	candidates *bitset.BitSet,
	numPeersByPiece syncutil.Counters,
	allowDuplicates bool) []int {

	m.Lock()
	defer m.Unlock()

	quota := m.reservationQuota(peerID)
	if quota <= 0 {
		return nil
	}

	valid := func(i int) bool { return m.validRequest(peerID, i, allowDuplicates) }
	pieces := m.selectPieces(quota, valid, candidates, numPeersByPiece)

	for _, i := range pieces {
		r := &Request{
			Piece:  i,
			PeerID: peerID,
			Status: StatusPending,
			sentAt: m.clock.Now(),
		}
		m.requests[i] = append(m.requests[i], r)
		if _, ok := m.requestsByPeer[peerID]; !ok {
			m.requestsByPeer[peerID] = make(map[int]*Request)
		}
		m.requestsByPeer[peerID][i] = r
	}

	return pieces
}

// selectPieces pops candidates off a priority queue weighted by swarm
// rarity. The composite priority breaks rarity ties by ascending index.
func (m *Manager) selectPieces(
	limit int,
	valid func(int) bool,
	candidates *bitset.BitSet,
	numPeersByPiece syncutil.Counters) []int {

	n := int(candidates.Len())
	candidateQueue := heap.NewPriorityQueue()
	for i, e := candidates.NextSet(0); e; i, e = candidates.NextSet(i + 1) {
		priority := numPeersByPiece.Get(int(i))*n + int(i)
		if int(i) == m.firstPiece {
			priority = -1
		}
		candidateQueue.Push(&heap.Item{
			Value:    int(i),
			Priority: priority,
		})
	}

	pieces := make([]int, 0, limit)
	for len(pieces) < limit && candidateQueue.Len() > 0 {
		item, err := candidateQueue.Pop()
		if err != nil {
			break
		}
		candidate := item.Value.(int)
		if valid(candidate) {
			pieces = append(pieces, candidate)
		}
	}
	return pieces
}

// Touch refreshes the reservation timer for piece i held by peerID. Called
// when a block arrives so a steadily producing peer is never expired
// mid-piece.
func (m *Manager) Touch(peerID core.PeerID, i int) {
	m.Lock()
	defer m.Unlock()

	if r, ok := m.requestsByPeer[peerID][i]; ok {
		r.sentAt = m.clock.Now()
	}
}

// MarkUnsent marks the reservation for piece i as unsent.
func (m *Manager) MarkUnsent(peerID core.PeerID, i int) {
	m.markStatus(peerID, i, StatusUnsent)
}

// MarkInvalid marks the reservation for piece i as invalid.
func (m *Manager) MarkInvalid(peerID core.PeerID, i int) {
	m.markStatus(peerID, i, StatusInvalid)
}

// Clear deletes all reservations for piece i. Should be used for freeing up
// unneeded bookkeeping once a piece has been verified.
func (m *Manager) Clear(i int) {
	m.Lock()
	defer m.Unlock()

	delete(m.requests, i)

	for peerID, pm := range m.requestsByPeer {
		delete(pm, i)
		if len(pm) == 0 {
			delete(m.requestsByPeer, peerID)
		}
	}
}

// PendingPieces returns the pieces for all pending reservations held by
// peerID in sorted order.
func (m *Manager) PendingPieces(peerID core.PeerID) []int {
	m.RLock()
	defer m.RUnlock()

	var pieces []int
	for i, r := range m.requestsByPeer[peerID] {
		if r.Status == StatusPending {
			pieces = append(pieces, i)
		}
	}
	sort.Ints(pieces)
	return pieces
}

// Holders returns the ids of all peers holding a pending reservation for
// piece i.
func (m *Manager) Holders(i int) []core.PeerID {
	m.RLock()
	defer m.RUnlock()

	var peers []core.PeerID
	for _, r := range m.requests[i] {
		if r.Status == StatusPending {
			peers = append(peers, r.PeerID)
		}
	}
	return peers
}

// ClearPeer deletes all reservations held by peerID.
func (m *Manager) ClearPeer(peerID core.PeerID) {
	m.Lock()
	defer m.Unlock()

	delete(m.requestsByPeer, peerID)

	for i, rs := range m.requests {
		for j, r := range rs {
			if r.PeerID == peerID {
				// Eject request.
				rs[j] = rs[len(rs)-1]
				m.requests[i] = rs[:len(rs)-1]
				break
			}
		}
	}
}

// GetFailedRequests returns a copy of all failed piece reservations.
func (m *Manager) GetFailedRequests() []Request {
	m.RLock()
	defer m.RUnlock()

	var failed []Request
	for _, rs := range m.requests {
		for _, r := range rs {
			status := r.Status
			if status == StatusPending && m.expired(r) {
				status = StatusExpired
			}
			if status != StatusPending {
				failed = append(failed, Request{
					Piece:  r.Piece,
					PeerID: r.PeerID,
					Status: status,
				})
			}
		}
	}
	return failed
}

func (m *Manager) validRequest(peerID core.PeerID, i int, allowDuplicates bool) bool {
	for _, r := range m.requests[i] {
		if r.Status == StatusPending && !m.expired(r) {
			if r.PeerID == peerID {
				return false
			}
			if !allowDuplicates {
				return false
			}
		}
	}
	return true
}

func (m *Manager) reservationQuota(peerID core.PeerID) int {
	quota := m.pipelineLimit
	pm, ok := m.requestsByPeer[peerID]
	if !ok {
		return quota
	}
	for _, r := range pm {
		if r.Status == StatusPending && !m.expired(r) {
			quota--
			if quota == 0 {
				break
			}
		}
	}
	return quota
}

func (m *Manager) expired(r *Request) bool {
	expiresAt := r.sentAt.Add(m.timeout)
	return m.clock.Now().After(expiresAt)
}

func (m *Manager) markStatus(peerID core.PeerID, i int, s Status) {
	m.Lock()
	defer m.Unlock()

	for _, r := range m.requests[i] {
		if r.PeerID == peerID {
			r.Status = s
		}
	}
}
