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

// Package storage tracks per-piece download state and assembles verified
// pieces into the torrent's on-disk file layout.
package storage

import (
	"errors"
	"fmt"
)

// BlockSize is the fixed request granularity within a piece. The final block
// of a piece may be shorter.
const BlockSize int64 = 16384

// ErrPieceComplete occurs when writing a block to an already verified piece.
var ErrPieceComplete = errors.New("piece is already complete")

// ErrBlockOutOfRange occurs when a block write falls outside the piece
// bounds. The piece state is unchanged.
var ErrBlockOutOfRange = errors.New("block out of range")

// VerifyError occurs when a fully buffered piece fails its hash check. The
// piece buffer and block bitmap have been reset for redownload.
type VerifyError struct {
	Piece int
}

func (e VerifyError) Error() string {
	return fmt.Sprintf("piece %d failed hash verification", e.Piece)
}

// BlockRequest identifies a single block to request from a peer.
type BlockRequest struct {
	Piece  int
	Begin  int64
	Length int64
}
