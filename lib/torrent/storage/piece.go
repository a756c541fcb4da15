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
	"bytes"
	"crypto/sha1"

	"github.com/willf/bitset"
)

// piece buffers blocks for a single piece until all are present. The buffer
// is allocated on the first write and released once the piece is verified or
// reset.
type piece struct {
	length       int64
	expectedHash [20]byte

	buffer    []byte
	numBlocks uint
	blocks    *bitset.BitSet
	complete  bool
}

func newPiece(length int64, expectedHash [20]byte) *piece {
	n := uint((length + BlockSize - 1) / BlockSize)
	return &piece{
		length:       length,
		expectedHash: expectedHash,
		numBlocks:    n,
		blocks:       bitset.New(n),
	}
}

func (p *piece) blockLength(i uint) int64 {
	if i == p.numBlocks-1 {
		return p.length - int64(i)*BlockSize
	}
	return BlockSize
}

// writeBlock copies b into the buffer at begin. Rejects out-of-range writes
// without touching piece state. Duplicate writes of a filled block are
// idempotent.
func (p *piece) writeBlock(begin int64, b []byte) error {
	if p.complete {
		return ErrPieceComplete
	}
	if begin < 0 || begin%BlockSize != 0 || begin+int64(len(b)) > p.length {
		return ErrBlockOutOfRange
	}
	i := uint(begin / BlockSize)
	if int64(len(b)) != p.blockLength(i) {
		return ErrBlockOutOfRange
	}
	if p.blocks.Test(i) {
		return nil
	}
	if p.buffer == nil {
		p.buffer = make([]byte, p.length)
	}
	copy(p.buffer[begin:], b)
	p.blocks.Set(i)
	return nil
}

// nextBlockRequest returns the lowest unfilled block, or false if the piece
// is fully buffered.
func (p *piece) nextBlockRequest() (begin, length int64, ok bool) {
	i, ok := p.blocks.NextClear(0)
	if !ok || i >= p.numBlocks {
		return 0, 0, false
	}
	return int64(i) * BlockSize, p.blockLength(i), true
}

func (p *piece) filled() bool {
	return p.blocks.Count() == p.numBlocks
}

// verify hashes the buffered piece against the expected hash. On success the
// piece is sealed and its bytes returned; on failure the buffer and block
// bitmap are reset so the piece can be redownloaded.
func (p *piece) verify() ([]byte, bool) {
	h := sha1.Sum(p.buffer)
	if !bytes.Equal(h[:], p.expectedHash[:]) {
		p.reset()
		return nil, false
	}
	b := p.buffer
	p.buffer = nil
	p.complete = true
	return b, true
}

func (p *piece) reset() {
	p.buffer = nil
	p.blocks.ClearAll()
	p.complete = false
}
