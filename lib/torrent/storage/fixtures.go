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
	"os"

	"github.com/hypertube/hypertube/core"
)

// TorrentFixture returns a Torrent for tf writing into a temporary
// directory, plus the directory and a cleanup function.
func TorrentFixture(tf *core.TorrentFixture) (*Torrent, string, func()) {
	dir, err := ioutil.TempDir("", "torrent-storage-test-")
	if err != nil {
		panic(err)
	}
	w, err := NewFileWriter(dir, tf.MetaInfo)
	if err != nil {
		os.RemoveAll(dir)
		panic(err)
	}
	cleanup := func() {
		w.Close()
		os.RemoveAll(dir)
	}
	return NewTorrent(tf.MetaInfo, w), dir, cleanup
}

// WriteTorrentPiece writes every block of piece i of tf's content through t.
// Returns the result of the final block write.
func WriteTorrentPiece(t *Torrent, tf *core.TorrentFixture, i int) (bool, error) {
	start := int64(i) * tf.MetaInfo.PieceLength()
	length := tf.MetaInfo.GetPieceLength(i)
	var completed bool
	var err error
	for begin := int64(0); begin < length; begin += BlockSize {
		n := BlockSize
		if begin+n > length {
			n = length - begin
		}
		completed, err = t.WriteBlock(i, begin, tf.Content[start+begin:start+begin+n])
		if err != nil {
			return completed, err
		}
	}
	return completed, err
}
