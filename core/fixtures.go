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
	"crypto/sha1"

	"github.com/hypertube/hypertube/lib/bencode"
	"github.com/hypertube/hypertube/utils/randutil"
)

// TorrentFixture pairs a parsed MetaInfo with the content and blob it was
// built from.
type TorrentFixture struct {
	MetaInfo *MetaInfo
	Content  []byte
	Blob     []byte
}

// InfoHashFixture returns a random InfoHash.
func InfoHashFixture() InfoHash {
	var h InfoHash
	copy(h[:], randutil.Blob(20))
	return h
}

// PeerIDFixture returns a random PeerID.
func PeerIDFixture() PeerID {
	p, err := GeneratePeerID()
	if err != nil {
		panic(err)
	}
	return p
}

// PeerInfoFixture returns a PeerInfo with random address.
func PeerInfoFixture() *PeerInfo {
	return NewPeerInfo(randutil.IP(), randutil.Port())
}

// SingleFileTorrentFixture builds a single-file torrent of the given size
// over random content. Optional trackers override the default announce URL.
func SingleFileTorrentFixture(size, pieceLength int64, trackers ...string) *TorrentFixture {
	content := randutil.Blob(int(size))

	info := bencode.NewDict()
	info.Set("length", bencode.Int(size))
	info.Set("name", bencode.String("fixture"))
	info.Set("piece length", bencode.Int(pieceLength))
	info.Set("pieces", bencode.Bytes(pieceHashes(content, pieceLength)))

	return buildTorrent(info, content, trackers...)
}

// MultiFileTorrentFixture builds a multi-file torrent with the given file
// sizes over random content.
func MultiFileTorrentFixture(pieceLength int64, fileSizes ...int64) *TorrentFixture {
	var total int64
	files := bencode.List()
	var entries []*bencode.Value
	for i, size := range fileSizes {
		total += size
		d := bencode.NewDict()
		d.Set("length", bencode.Int(size))
		d.Set("path", bencode.List(bencode.String(fileName(i))))
		entries = append(entries, bencode.DictValue(d))
	}
	files = bencode.List(entries...)
	content := randutil.Blob(int(total))

	info := bencode.NewDict()
	info.Set("files", files)
	info.Set("name", bencode.String("fixture"))
	info.Set("piece length", bencode.Int(pieceLength))
	info.Set("pieces", bencode.Bytes(pieceHashes(content, pieceLength)))

	return buildTorrent(info, content)
}

func fileName(i int) string {
	return string(rune('a'+i)) + ".bin"
}

func buildTorrent(info *bencode.Dict, content []byte, trackers ...string) *TorrentFixture {
	announce := "http://tracker.fixture/announce"
	if len(trackers) > 0 {
		announce = trackers[0]
	}
	root := bencode.NewDict()
	root.Set("announce", bencode.String(announce))
	if len(trackers) > 1 {
		var tiers []*bencode.Value
		for _, tr := range trackers {
			tiers = append(tiers, bencode.List(bencode.String(tr)))
		}
		root.Set("announce-list", bencode.List(tiers...))
	}
	root.Set("info", bencode.DictValue(info))
	blob := bencode.Encode(bencode.DictValue(root))

	mi, err := NewMetaInfoFromBlob(blob)
	if err != nil {
		panic(err)
	}
	return &TorrentFixture{MetaInfo: mi, Content: content, Blob: blob}
}

func pieceHashes(content []byte, pieceLength int64) []byte {
	var hashes []byte
	for start := int64(0); start < int64(len(content)); start += pieceLength {
		end := start + pieceLength
		if end > int64(len(content)) {
			end = int64(len(content))
		}
		h := sha1.Sum(content[start:end])
		hashes = append(hashes, h[:]...)
	}
	return hashes
}
