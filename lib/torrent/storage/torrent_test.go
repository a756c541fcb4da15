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
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/hypertube/hypertube/core"

	"github.com/stretchr/testify/require"
)

func TestTorrentDownloadSingleFile(t *testing.T) {
	require := require.New(t)

	tf := core.SingleFileTorrentFixture(2*BlockSize+100, BlockSize)
	tor, dir, cleanup := TorrentFixture(tf)
	defer cleanup()

	require.Equal([]int{0, 1, 2}, tor.MissingPieces())

	for i := 0; i < tor.NumPieces(); i++ {
		completed, err := WriteTorrentPiece(tor, tf, i)
		require.NoError(err)
		require.True(completed)
		require.True(tor.HasPiece(i))
	}

	require.True(tor.Complete())
	require.Equal(tf.MetaInfo.Length(), tor.BytesDownloaded())
	require.Empty(tor.MissingPieces())

	b, err := ioutil.ReadFile(filepath.Join(dir, tf.MetaInfo.Name()))
	require.NoError(err)
	require.Equal(tf.Content, b)
}

func TestTorrentDownloadMultiFileSplitsPieces(t *testing.T) {
	require := require.New(t)

	// Piece length 1000 with files of 700 and 1300 bytes: piece 0 straddles
	// the file boundary.
	tf := core.MultiFileTorrentFixture(1000, 700, 1300)
	tor, dir, cleanup := TorrentFixture(tf)
	defer cleanup()

	for i := 0; i < tor.NumPieces(); i++ {
		_, err := WriteTorrentPiece(tor, tf, i)
		require.NoError(err)
	}
	require.True(tor.Complete())

	var got []byte
	for _, f := range tf.MetaInfo.Files() {
		b, err := ioutil.ReadFile(filepath.Join(dir, filepath.FromSlash(f.Path)))
		require.NoError(err)
		require.Len(b, int(f.Length))
		got = append(got, b...)
	}
	require.Equal(tf.Content, got)
}

func TestTorrentWriteBlockVerifyFailure(t *testing.T) {
	require := require.New(t)

	tf := core.SingleFileTorrentFixture(BlockSize, BlockSize)
	tor, _, cleanup := TorrentFixture(tf)
	defer cleanup()

	corrupt := append([]byte{}, tf.Content...)
	corrupt[0] ^= 0xff

	completed, err := tor.WriteBlock(0, 0, corrupt)
	require.False(completed)
	require.Equal(VerifyError{Piece: 0}, err)
	require.False(tor.HasPiece(0))
	require.Equal(int64(0), tor.BytesDownloaded())

	// The piece is redownloadable after the failed verify.
	req, ok := tor.NextBlockRequest(0)
	require.True(ok)
	require.Equal(BlockRequest{Piece: 0, Begin: 0, Length: BlockSize}, req)

	completed, err = tor.WriteBlock(0, 0, tf.Content)
	require.NoError(err)
	require.True(completed)
	require.True(tor.HasPiece(0))
}

func TestTorrentContiguousBytes(t *testing.T) {
	require := require.New(t)

	tf := core.SingleFileTorrentFixture(3*BlockSize, BlockSize)
	tor, _, cleanup := TorrentFixture(tf)
	defer cleanup()

	require.Equal(int64(0), tor.ContiguousBytes())

	// Piece 1 alone does not extend the contiguous prefix.
	_, err := WriteTorrentPiece(tor, tf, 1)
	require.NoError(err)
	require.Equal(int64(0), tor.ContiguousBytes())

	_, err = WriteTorrentPiece(tor, tf, 0)
	require.NoError(err)
	require.Equal(2*BlockSize, tor.ContiguousBytes())

	_, err = WriteTorrentPiece(tor, tf, 2)
	require.NoError(err)
	require.Equal(3*BlockSize, tor.ContiguousBytes())
}

func TestTorrentBlockRequests(t *testing.T) {
	require := require.New(t)

	tf := core.SingleFileTorrentFixture(3*BlockSize, 3*BlockSize)
	tor, _, cleanup := TorrentFixture(tf)
	defer cleanup()

	reqs, err := tor.BlockRequests(0)
	require.NoError(err)
	require.Equal([]BlockRequest{
		{Piece: 0, Begin: 0, Length: BlockSize},
		{Piece: 0, Begin: BlockSize, Length: BlockSize},
		{Piece: 0, Begin: 2 * BlockSize, Length: BlockSize},
	}, reqs)

	_, err = tor.WriteBlock(0, BlockSize, tf.Content[BlockSize:2*BlockSize])
	require.NoError(err)

	reqs, err = tor.BlockRequests(0)
	require.NoError(err)
	require.Equal([]BlockRequest{
		{Piece: 0, Begin: 0, Length: BlockSize},
		{Piece: 0, Begin: 2 * BlockSize, Length: BlockSize},
	}, reqs)
}

func TestTorrentWriteBlockRejectsCompletePiece(t *testing.T) {
	require := require.New(t)

	tf := core.SingleFileTorrentFixture(BlockSize, BlockSize)
	tor, _, cleanup := TorrentFixture(tf)
	defer cleanup()

	completed, err := tor.WriteBlock(0, 0, tf.Content)
	require.NoError(err)
	require.True(completed)

	_, err = tor.WriteBlock(0, 0, tf.Content)
	require.Equal(ErrPieceComplete, err)
}
