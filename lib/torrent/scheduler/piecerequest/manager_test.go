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
package piecerequest

import (
	"testing"
	"time"

	"github.com/hypertube/hypertube/core"
	"github.com/hypertube/hypertube/utils/bitsetutil"
	"github.com/hypertube/hypertube/utils/syncutil"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
)

const _noPromotion = -1

func counters(counts ...int) syncutil.Counters {
	c := syncutil.NewCounters(len(counts))
	for i, n := range counts {
		c.Set(i, n)
	}
	return c
}

func TestManagerPipelineLimit(t *testing.T) {
	require := require.New(t)

	m := NewManager(clock.NewMock(), 5*time.Second, 3, _noPromotion)

	peerID := core.PeerIDFixture()

	require.Len(
		m.ReservePieces(peerID,
			bitsetutil.FromBools(true, true, true, true), counters(1, 1, 1, 1), false),
		3)
	require.Len(m.PendingPieces(peerID), 3)
}

func TestManagerRarestFirstOrdering(t *testing.T) {
	require := require.New(t)

	m := NewManager(clock.NewMock(), 5*time.Second, 2, _noPromotion)

	// Piece 2 is held by a single peer, piece 0 by two, piece 1 by three.
	pieces := m.ReservePieces(
		core.PeerIDFixture(),
		bitsetutil.FromBools(true, true, true),
		counters(2, 3, 1),
		false)
	require.Equal([]int{2, 0}, pieces)
}

func TestManagerRarityTieBreaksByIndex(t *testing.T) {
	require := require.New(t)

	m := NewManager(clock.NewMock(), 5*time.Second, 2, _noPromotion)

	pieces := m.ReservePieces(
		core.PeerIDFixture(),
		bitsetutil.FromBools(true, true, true),
		counters(1, 1, 1),
		false)
	require.Equal([]int{0, 1}, pieces)
}

func TestManagerPromotesFirstPiece(t *testing.T) {
	require := require.New(t)

	// Piece 3 heads the primary file, so it wins over rarer pieces.
	m := NewManager(clock.NewMock(), 5*time.Second, 1, 3)

	pieces := m.ReservePieces(
		core.PeerIDFixture(),
		bitsetutil.FromBools(true, true, true, true),
		counters(1, 1, 1, 50),
		false)
	require.Equal([]int{3}, pieces)
}

func TestManagerReserveExpiredRequest(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	timeout := 5 * time.Second

	m := NewManager(clk, timeout, 1, _noPromotion)

	peerID := core.PeerIDFixture()

	require.Equal(
		[]int{0}, m.ReservePieces(peerID, bitsetutil.FromBools(true), counters(1), false))

	// Further reservations fail.
	require.Empty(m.ReservePieces(peerID, bitsetutil.FromBools(true), counters(1), false))
	require.Empty(
		m.ReservePieces(core.PeerIDFixture(), bitsetutil.FromBools(true), counters(1), false))

	clk.Add(timeout + 1)

	require.Equal(
		[]int{0}, m.ReservePieces(peerID, bitsetutil.FromBools(true), counters(1), false))
}

func TestManagerTouchDefersExpiry(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	timeout := 5 * time.Second

	m := NewManager(clk, timeout, 1, _noPromotion)

	peerID := core.PeerIDFixture()

	require.Equal(
		[]int{0}, m.ReservePieces(peerID, bitsetutil.FromBools(true), counters(1), false))

	clk.Add(timeout - time.Second)
	m.Touch(peerID, 0)
	clk.Add(timeout - time.Second)

	require.Empty(m.GetFailedRequests())

	clk.Add(2 * time.Second)

	failed := m.GetFailedRequests()
	require.Len(failed, 1)
	require.Equal(StatusExpired, failed[0].Status)
}

func TestManagerReserveUnsentRequest(t *testing.T) {
	require := require.New(t)

	m := NewManager(clock.NewMock(), 5*time.Second, 1, _noPromotion)

	peerID := core.PeerIDFixture()

	require.Equal(
		[]int{0}, m.ReservePieces(peerID, bitsetutil.FromBools(true), counters(1), false))
	require.Empty(m.ReservePieces(peerID, bitsetutil.FromBools(true), counters(1), false))

	m.MarkUnsent(peerID, 0)

	require.Equal(
		[]int{0}, m.ReservePieces(peerID, bitsetutil.FromBools(true), counters(1), false))
}

func TestManagerReserveInvalidRequest(t *testing.T) {
	require := require.New(t)

	m := NewManager(clock.NewMock(), 5*time.Second, 1, _noPromotion)

	peerID := core.PeerIDFixture()

	require.Equal(
		[]int{0}, m.ReservePieces(peerID, bitsetutil.FromBools(true), counters(1), false))
	require.Empty(m.ReservePieces(peerID, bitsetutil.FromBools(true), counters(1), false))

	m.MarkInvalid(peerID, 0)

	require.Equal(
		[]int{0}, m.ReservePieces(peerID, bitsetutil.FromBools(true), counters(1), false))
}

func TestManagerDuplicatesInEndgame(t *testing.T) {
	require := require.New(t)

	m := NewManager(clock.NewMock(), 5*time.Second, 1, _noPromotion)

	p0 := core.PeerIDFixture()
	p1 := core.PeerIDFixture()

	require.Equal(
		[]int{0}, m.ReservePieces(p0, bitsetutil.FromBools(true), counters(2), false))
	require.Empty(m.ReservePieces(p1, bitsetutil.FromBools(true), counters(2), false))

	require.Equal(
		[]int{0}, m.ReservePieces(p1, bitsetutil.FromBools(true), counters(2), true))

	holders := m.Holders(0)
	require.Len(holders, 2)
	require.ElementsMatch([]core.PeerID{p0, p1}, holders)
}

func TestManagerClearPeer(t *testing.T) {
	require := require.New(t)

	m := NewManager(clock.NewMock(), 5*time.Second, 2, _noPromotion)

	p0 := core.PeerIDFixture()
	p1 := core.PeerIDFixture()

	require.Equal(
		[]int{0, 1},
		m.ReservePieces(p0, bitsetutil.FromBools(true, true, false), counters(1, 1, 1), false))
	require.Equal(
		[]int{2},
		m.ReservePieces(p1, bitsetutil.FromBools(false, false, true), counters(1, 1, 1), false))

	m.ClearPeer(p0)

	require.Empty(m.PendingPieces(p0))
	require.Equal([]int{2}, m.PendingPieces(p1))

	// Cleared pieces are reservable again.
	require.Equal(
		[]int{0},
		m.ReservePieces(p1, bitsetutil.FromBools(true, false, false), counters(1, 1, 1), false))
}

func TestManagerGetFailedRequests(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	timeout := 5 * time.Second

	m := NewManager(clk, timeout, 1, _noPromotion)

	p0 := core.PeerIDFixture()
	p1 := core.PeerIDFixture()
	p2 := core.PeerIDFixture()

	require.Equal(
		[]int{0},
		m.ReservePieces(p0, bitsetutil.FromBools(true, false, false), counters(1, 1, 1), false))
	require.Equal(
		[]int{1},
		m.ReservePieces(p1, bitsetutil.FromBools(false, true, false), counters(1, 1, 1), false))
	require.Equal(
		[]int{2},
		m.ReservePieces(p2, bitsetutil.FromBools(false, false, true), counters(1, 1, 1), false))

	m.MarkUnsent(p0, 0)
	m.MarkInvalid(p1, 1)
	clk.Add(timeout + 1) // Expires p2's reservation.

	failed := m.GetFailedRequests()
	require.Len(failed, 3)
	statuses := map[core.PeerID]Status{}
	for _, r := range failed {
		statuses[r.PeerID] = r.Status
	}
	require.Equal(StatusUnsent, statuses[p0])
	require.Equal(StatusInvalid, statuses[p1])
	require.Equal(StatusExpired, statuses[p2])
}
