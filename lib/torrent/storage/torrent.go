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
package storage

import (
	"fmt"
	"sync"

	"github.com/hypertube/hypertube/core"

	"go.uber.org/atomic"
)

// Torrent owns the piece state of a single download: block buffers, the
// completion bitfield and the assembled-file writer. Verified piece bytes
// are flushed to the writer before the bitfield bit is set, so a set bit
// always implies the bytes are on disk.
type Torrent struct {
	mi     *core.MetaInfo
	writer *FileWriter

	mu       sync.Mutex
	pieces   []*piece
	bitfield *core.Bitfield

	downloaded *atomic.Int64
}

// NewTorrent creates piece state for mi, writing verified pieces through
// writer.
func NewTorrent(mi *core.MetaInfo, writer *FileWriter) *Torrent {
	pieces := make([]*piece, mi.NumPieces())
	for i := range pieces {
		pieces[i] = newPiece(mi.GetPieceLength(i), mi.PieceHash(i))
	}
	return &Torrent{
		mi:         mi,
		writer:     writer,
		pieces:     pieces,
		bitfield:   core.NewBitfield(mi.NumPieces()),
		downloaded: atomic.NewInt64(0),
	}
}

// MetaInfo returns the torrent metadata.
func (t *Torrent) MetaInfo() *core.MetaInfo {
	return t.mi
}

// InfoHash returns the torrent info hash.
func (t *Torrent) InfoHash() core.InfoHash {
	return t.mi.InfoHash()
}

// NumPieces returns the number of pieces.
func (t *Torrent) NumPieces() int {
	return t.mi.NumPieces()
}

// Length returns the total torrent size in bytes.
func (t *Torrent) Length() int64 {
	return t.mi.Length()
}

// BytesDownloaded returns the number of verified bytes on disk.
func (t *Torrent) BytesDownloaded() int64 {
	return t.downloaded.Load()
}

// Complete returns whether every piece has been verified.
func (t *Torrent) Complete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bitfield.Complete()
}

// Bitfield returns a copy of the completion bitfield.
func (t *Torrent) Bitfield() *core.Bitfield {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bitfield.Copy()
}

// HasPiece returns whether piece i has been verified.
func (t *Torrent) HasPiece(i int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bitfield.Has(i)
}

// MissingPieces returns the indexes of all unverified pieces.
func (t *Torrent) MissingPieces() []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var missing []int
	for i := 0; i < t.bitfield.Len(); i++ {
		if !t.bitfield.Has(i) {
			missing = append(missing, i)
		}
	}
	return missing
}

// ContiguousBytes returns how many bytes are verified contiguously from the
// start of the piece stream. Progressive playback can safely read this far.
func (t *Torrent) ContiguousBytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var n int64
	for i := 0; i < t.bitfield.Len(); i++ {
		if !t.bitfield.Has(i) {
			break
		}
		n += t.mi.GetPieceLength(i)
	}
	return n
}

// BlockRequests returns every block of piece i which is neither filled nor
// verified, in ascending offset order.
func (t *Torrent) BlockRequests(i int) ([]BlockRequest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i < 0 || i >= len(t.pieces) {
		return nil, fmt.Errorf("invalid piece %d", i)
	}
	p := t.pieces[i]
	if p.complete {
		return nil, nil
	}
	var reqs []BlockRequest
	for b := uint(0); b < p.numBlocks; b++ {
		if !p.blocks.Test(b) {
			begin := int64(b) * BlockSize
			reqs = append(reqs, BlockRequest{Piece: i, Begin: begin, Length: p.blockLength(b)})
		}
	}
	return reqs, nil
}

// NextBlockRequest returns the lowest unfilled block of piece i, or false if
// the piece is fully buffered or already verified.
func (t *Torrent) NextBlockRequest(i int) (BlockRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i < 0 || i >= len(t.pieces) {
		return BlockRequest{}, false
	}
	p := t.pieces[i]
	if p.complete {
		return BlockRequest{}, false
	}
	begin, length, ok := p.nextBlockRequest()
	if !ok {
		return BlockRequest{}, false
	}
	return BlockRequest{Piece: i, Begin: begin, Length: length}, true
}

// WriteBlock buffers a received block. When the block completes its piece,
// the piece is hash-verified and flushed to disk; WriteBlock then returns
// completed=true. A failed verification resets the piece for redownload and
// returns a VerifyError.
func (t *Torrent) WriteBlock(i int, begin int64, b []byte) (completed bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i < 0 || i >= len(t.pieces) {
		return false, fmt.Errorf("invalid piece %d", i)
	}
	p := t.pieces[i]
	if err := p.writeBlock(begin, b); err != nil {
		return false, err
	}
	if !p.filled() {
		return false, nil
	}
	data, ok := p.verify()
	if !ok {
		return false, VerifyError{Piece: i}
	}
	if err := t.writer.WritePiece(i, data); err != nil {
		// Disk failure: the bytes were good, keep them buffered for retry.
		p.buffer = data
		p.complete = false
		return false, fmt.Errorf("flush piece %d: %s", i, err)
	}
	t.bitfield.Set(i)
	t.downloaded.Add(int64(len(data)))
	return true, nil
}

// ResetPiece discards any buffered blocks of an unverified piece.
func (t *Torrent) ResetPiece(i int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i < 0 || i >= len(t.pieces) || t.pieces[i].complete {
		return
	}
	t.pieces[i].reset()
}

func (t *Torrent) String() string {
	return fmt.Sprintf("torrent(hash=%s, downloaded=%d%%)",
		t.InfoHash().Hex(), int(float64(t.BytesDownloaded())/float64(t.Length())*100))
}
