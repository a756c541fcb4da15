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
	"github.com/hypertube/hypertube/core"
	"github.com/hypertube/hypertube/lib/torrent/storage"
)

// peer consolidates bookkeeping for a remote peer. All fields are guarded by
// the owning dispatcher's mutex.
type peer struct {
	id       core.PeerID
	addr     string
	messages Messages

	// Tracks the pieces which the remote peer has.
	bitfield *core.Bitfield

	// choked reflects the remote choke state. Peers start out choking us.
	choked bool

	// failures counts expired and invalid reservations attributed to this
	// peer.
	failures int

	// pieces holds per-reserved-piece block pipelines, keyed by piece
	// index. order preserves reservation order for fair pipelining.
	pieces map[int]*pieceProgress
	order  []int
}

// pieceProgress tracks the block pipeline of one reserved piece.
type pieceProgress struct {
	// queue holds blocks not yet requested.
	queue []storage.BlockRequest

	// outstanding holds requested blocks awaiting a PIECE payload, keyed
	// by begin offset.
	outstanding map[int64]storage.BlockRequest
}

func newPeer(id core.PeerID, addr string, numPieces int, messages Messages) *peer {
	return &peer{
		id:       id,
		addr:     addr,
		messages: messages,
		bitfield: core.NewBitfield(numPieces),
		choked:   true,
		pieces:   make(map[int]*pieceProgress),
	}
}

func (p *peer) String() string {
	return p.id.String()
}

// outstandingBlocks counts in-flight block requests across all reserved
// pieces.
func (p *peer) outstandingBlocks() int {
	var n int
	for _, pp := range p.pieces {
		n += len(pp.outstanding)
	}
	return n
}

// startPiece begins tracking a freshly reserved piece.
func (p *peer) startPiece(i int, blocks []storage.BlockRequest) {
	p.pieces[i] = &pieceProgress{
		queue:       blocks,
		outstanding: make(map[int64]storage.BlockRequest),
	}
	p.order = append(p.order, i)
}

// dropPiece forgets all block state for piece i.
func (p *peer) dropPiece(i int) {
	delete(p.pieces, i)
	for j, o := range p.order {
		if o == i {
			p.order = append(p.order[:j], p.order[j+1:]...)
			break
		}
	}
}
