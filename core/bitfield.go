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
package core

import (
	"fmt"

	"github.com/willf/bitset"
)

// Bitfield tracks piece ownership for a fixed number of pieces. The wire
// serialization is MSB-first: bit i lives in byte i/8 under mask 0x80>>(i%8),
// so piece 0 is the most significant bit of byte 0.
//
// Bitfield is not thread-safe. Single-owner semantics are enforced by the
// scheduler.
type Bitfield struct {
	numPieces int
	bits      *bitset.BitSet
}

// NewBitfield creates an empty Bitfield for numPieces pieces.
func NewBitfield(numPieces int) *Bitfield {
	return &Bitfield{numPieces, bitset.New(uint(numPieces))}
}

// NewBitfieldFromBytes parses a wire-format bitfield. Spare bits past
// numPieces must be zero.
func NewBitfieldFromBytes(numPieces int, b []byte) (*Bitfield, error) {
	if len(b) != (numPieces+7)/8 {
		return nil, fmt.Errorf(
			"invalid bitfield length: expected %d bytes, got %d", (numPieces+7)/8, len(b))
	}
	f := NewBitfield(numPieces)
	for i := 0; i < len(b)*8; i++ {
		if b[i/8]&(0x80>>(uint(i)%8)) == 0 {
			continue
		}
		if i >= numPieces {
			return nil, fmt.Errorf("spare bit %d is set", i)
		}
		f.bits.Set(uint(i))
	}
	return f, nil
}

// Len returns the number of pieces f tracks.
func (f *Bitfield) Len() int {
	return f.numPieces
}

// Set marks piece i as owned.
func (f *Bitfield) Set(i int) {
	f.bits.Set(uint(i))
}

// Has returns whether piece i is owned.
func (f *Bitfield) Has(i int) bool {
	return f.bits.Test(uint(i))
}

// Count returns the number of owned pieces.
func (f *Bitfield) Count() int {
	return int(f.bits.Count())
}

// Complete returns whether every piece is owned.
func (f *Bitfield) Complete() bool {
	return f.Count() == f.numPieces
}

// FirstMissingIn returns the lowest piece index which f is missing and other
// has, or -1 if no such piece exists.
func (f *Bitfield) FirstMissingIn(other *Bitfield) int {
	for i := 0; i < f.numPieces; i++ {
		if !f.bits.Test(uint(i)) && other.bits.Test(uint(i)) {
			return i
		}
	}
	return -1
}

// Intersects returns whether other owns at least one piece which f is
// missing.
func (f *Bitfield) Intersects(other *Bitfield) bool {
	return f.FirstMissingIn(other) >= 0
}

// Copy returns a deep copy of f.
func (f *Bitfield) Copy() *Bitfield {
	return &Bitfield{f.numPieces, f.bits.Clone()}
}

// Bits returns a copy of the underlying bitset for set algebra.
func (f *Bitfield) Bits() *bitset.BitSet {
	return f.bits.Clone()
}

// ToBytes serializes f into wire format.
func (f *Bitfield) ToBytes() []byte {
	b := make([]byte, (f.numPieces+7)/8)
	for i, e := f.bits.NextSet(0); e && int(i) < f.numPieces; i, e = f.bits.NextSet(i + 1) {
		b[i/8] |= 0x80 >> (i % 8)
	}
	return b
}

func (f *Bitfield) String() string {
	return fmt.Sprintf("Bitfield(%d/%d)", f.Count(), f.numPieces)
}
