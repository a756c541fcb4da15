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
	"os"
	"path/filepath"
	"sync"

	"github.com/hypertube/hypertube/core"
)

// fileSpan maps a contiguous range of the logical piece stream onto a single
// file on disk.
type fileSpan struct {
	path   string
	offset int64
	length int64
}

// FileWriter writes verified pieces into the torrent's file layout rooted at
// a base directory. Pieces of multi-file torrents are split across file
// boundaries.
type FileWriter struct {
	mi    *core.MetaInfo
	spans []fileSpan

	mu    sync.Mutex
	files map[string]*os.File
}

// NewFileWriter creates the directory layout for mi under baseDir.
func NewFileWriter(baseDir string, mi *core.MetaInfo) (*FileWriter, error) {
	var spans []fileSpan
	var offset int64
	for _, f := range mi.Files() {
		p := filepath.Join(baseDir, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(p), 0775); err != nil {
			return nil, fmt.Errorf("create layout dirs: %s", err)
		}
		spans = append(spans, fileSpan{path: p, offset: offset, length: f.Length})
		offset += f.Length
	}
	return &FileWriter{
		mi:    mi,
		spans: spans,
		files: make(map[string]*os.File),
	}, nil
}

// WritePiece writes the verified bytes of piece index at its logical offset,
// splitting across file boundaries as needed.
func (w *FileWriter) WritePiece(index int, b []byte) error {
	offset := int64(index) * w.mi.PieceLength()
	for _, s := range w.spans {
		if offset >= s.offset+s.length {
			continue
		}
		if len(b) == 0 {
			break
		}
		fileOff := offset - s.offset
		n := s.length - fileOff
		if n > int64(len(b)) {
			n = int64(len(b))
		}
		if err := w.writeAt(s.path, b[:n], fileOff); err != nil {
			return err
		}
		b = b[n:]
		offset += n
	}
	if len(b) > 0 {
		return fmt.Errorf("piece %d extends past torrent length", index)
	}
	return nil
}

func (w *FileWriter) writeAt(path string, b []byte, offset int64) error {
	f, err := w.open(path)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(b, offset); err != nil {
		return fmt.Errorf("write %s: %s", path, err)
	}
	return nil
}

func (w *FileWriter) open(path string) (*os.File, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if f, ok := w.files[path]; ok {
		return f, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0664)
	if err != nil {
		return nil, fmt.Errorf("open %s: %s", path, err)
	}
	w.files[path] = f
	return f, nil
}

// Close releases all open file handles.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var err error
	for _, f := range w.files {
		if cerr := f.Close(); cerr != nil {
			err = cerr
		}
	}
	w.files = make(map[string]*os.File)
	return err
}
