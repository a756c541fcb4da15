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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBitfieldWireFormat(t *testing.T) {
	require := require.New(t)

	f := NewBitfield(10)
	f.Set(0)
	f.Set(7)
	f.Set(9)

	// Piece 0 is the MSB of byte 0.
	require.Equal([]byte{0x81, 0x40}, f.ToBytes())
}

func TestBitfieldRoundTrip(t *testing.T) {
	require := require.New(t)

	f := NewBitfield(19)
	for _, i := range []int{0, 3, 8, 15, 18} {
		f.Set(i)
	}

	g, err := NewBitfieldFromBytes(19, f.ToBytes())
	require.NoError(err)
	require.Equal(f.ToBytes(), g.ToBytes())
	for i := 0; i < 19; i++ {
		require.Equal(f.Has(i), g.Has(i), "bit %d", i)
	}
	require.Equal(5, g.Count())
}

func TestBitfieldFromBytesErrors(t *testing.T) {
	require := require.New(t)

	// Wrong length.
	_, err := NewBitfieldFromBytes(10, []byte{0x00})
	require.Error(err)

	// Spare bit set past numPieces.
	_, err = NewBitfieldFromBytes(10, []byte{0x00, 0x01})
	require.Error(err)
}

func TestBitfieldFirstMissingIn(t *testing.T) {
	require := require.New(t)

	mine := NewBitfield(8)
	mine.Set(0)
	mine.Set(1)

	theirs := NewBitfield(8)
	theirs.Set(1)
	theirs.Set(4)

	require.Equal(4, mine.FirstMissingIn(theirs))
	require.True(mine.Intersects(theirs))

	mine.Set(4)
	require.Equal(-1, mine.FirstMissingIn(theirs))
	require.False(mine.Intersects(theirs))
}

func TestBitfieldComplete(t *testing.T) {
	require := require.New(t)

	f := NewBitfield(3)
	require.False(f.Complete())
	f.Set(0)
	f.Set(1)
	f.Set(2)
	require.True(f.Complete())
	require.Equal(3, f.Count())
}
