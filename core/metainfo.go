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
	"errors"
	"fmt"
	"path"

	"github.com/hypertube/hypertube/lib/bencode"
)

// FileInfo describes a single file in the torrent layout. For multi-file
// torrents, Path is prefixed with the torrent name.
type FileInfo struct {
	Path   string
	Length int64
}

// MetaInfo contains torrent metadata. Immutable after parse.
type MetaInfo struct {
	infoHash    InfoHash
	name        string
	pieceLength int64
	pieceHashes []byte
	files       []FileInfo
	length      int64
	singleFile  bool
	trackers    []string
}

// NewMetaInfoFromBlob parses a .torrent blob. The info hash is computed over
// the canonical re-encoding of the info dictionary, so blobs which differ
// only outside of info (e.g. in announce) produce identical hashes.
func NewMetaInfoFromBlob(blob []byte) (*MetaInfo, error) {
	v, err := bencode.Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("decode torrent: %s", err)
	}
	root, ok := v.AsDict()
	if !ok {
		return nil, errors.New("torrent is not a dictionary")
	}
	infoDict, ok := root.GetDict("info")
	if !ok {
		return nil, errors.New("missing info dictionary")
	}

	mi := &MetaInfo{
		infoHash: NewInfoHashFromBytes(bencode.Encode(bencode.DictValue(infoDict))),
		trackers: extractTrackers(root),
	}

	mi.name, ok = infoDict.GetString("name")
	if !ok {
		return nil, errors.New("missing name")
	}
	mi.pieceLength, ok = infoDict.GetInt("piece length")
	if !ok || mi.pieceLength <= 0 {
		return nil, errors.New("missing or invalid piece length")
	}
	mi.pieceHashes, ok = infoDict.GetBytes("pieces")
	if !ok {
		return nil, errors.New("missing pieces")
	}
	if len(mi.pieceHashes)%20 != 0 {
		return nil, fmt.Errorf("pieces length %d is not a multiple of 20", len(mi.pieceHashes))
	}

	if files, ok := infoDict.GetList("files"); ok {
		for _, fv := range files {
			fi, err := parseFileEntry(mi.name, fv)
			if err != nil {
				return nil, err
			}
			mi.files = append(mi.files, fi)
			mi.length += fi.Length
		}
		if len(mi.files) == 0 {
			return nil, errors.New("empty files list")
		}
	} else {
		length, ok := infoDict.GetInt("length")
		if !ok || length < 0 {
			return nil, errors.New("missing or invalid length")
		}
		mi.singleFile = true
		mi.length = length
		mi.files = []FileInfo{{Path: mi.name, Length: length}}
	}

	expected := int((mi.length + mi.pieceLength - 1) / mi.pieceLength)
	if mi.NumPieces() != expected {
		return nil, fmt.Errorf(
			"piece count mismatch: %d hashes for %d pieces", mi.NumPieces(), expected)
	}
	return mi, nil
}

func parseFileEntry(name string, v *bencode.Value) (FileInfo, error) {
	d, ok := v.AsDict()
	if !ok {
		return FileInfo{}, errors.New("file entry is not a dictionary")
	}
	length, ok := d.GetInt("length")
	if !ok || length < 0 {
		return FileInfo{}, errors.New("file entry missing length")
	}
	parts, ok := d.GetList("path")
	if !ok || len(parts) == 0 {
		return FileInfo{}, errors.New("file entry missing path")
	}
	elems := []string{name}
	for _, pv := range parts {
		p, ok := pv.AsString()
		if !ok || p == "" || p == ".." {
			return FileInfo{}, errors.New("invalid path component")
		}
		elems = append(elems, p)
	}
	return FileInfo{Path: path.Join(elems...), Length: length}, nil
}

// extractTrackers flattens announce and announce-list, preserving first
// occurrence order.
func extractTrackers(root *bencode.Dict) []string {
	var trackers []string
	seen := make(map[string]bool)
	add := func(url string) {
		if url != "" && !seen[url] {
			seen[url] = true
			trackers = append(trackers, url)
		}
	}
	if announce, ok := root.GetString("announce"); ok {
		add(announce)
	}
	if tiers, ok := root.GetList("announce-list"); ok {
		for _, tier := range tiers {
			urls, ok := tier.AsList()
			if !ok {
				continue
			}
			for _, uv := range urls {
				if url, ok := uv.AsString(); ok {
					add(url)
				}
			}
		}
	}
	return trackers
}

// InfoHash returns the torrent InfoHash.
func (mi *MetaInfo) InfoHash() InfoHash {
	return mi.infoHash
}

// Name returns the torrent name.
func (mi *MetaInfo) Name() string {
	return mi.name
}

// Length returns the total length of all files.
func (mi *MetaInfo) Length() int64 {
	return mi.length
}

// NumPieces returns the number of pieces in the torrent.
func (mi *MetaInfo) NumPieces() int {
	return len(mi.pieceHashes) / 20
}

// PieceLength returns the nominal piece length. The final piece may be
// shorter; use GetPieceLength for true lengths.
func (mi *MetaInfo) PieceLength() int64 {
	return mi.pieceLength
}

// GetPieceLength returns the length of piece i.
func (mi *MetaInfo) GetPieceLength(i int) int64 {
	n := mi.NumPieces()
	if i < 0 || i >= n {
		return 0
	}
	if i == n-1 {
		return mi.length - mi.pieceLength*int64(i)
	}
	return mi.pieceLength
}

// PieceHash returns the expected SHA1 of piece i. Does not check bounds.
func (mi *MetaInfo) PieceHash(i int) [20]byte {
	var h [20]byte
	copy(h[:], mi.pieceHashes[i*20:(i+1)*20])
	return h
}

// Files returns the file layout in torrent order.
func (mi *MetaInfo) Files() []FileInfo {
	return mi.files
}

// SingleFile returns whether the torrent holds a single file.
func (mi *MetaInfo) SingleFile() bool {
	return mi.singleFile
}

// Trackers returns announce URLs in metadata order.
func (mi *MetaInfo) Trackers() []string {
	return mi.trackers
}
