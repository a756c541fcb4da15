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
package subtitle

import (
	"database/sql"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/jmoiron/sqlx"
)

// ErrNotFound occurs when a (video, language) pair has no subtitle.
var ErrNotFound = errors.New("subtitle not found")

// Subtitle is a persisted subtitle track record. Source says where the
// track came from, e.g. "opensubtitles", "embedded" or "upload".
type Subtitle struct {
	VideoID      string    `db:"video_id"`
	LanguageCode string    `db:"language_code"`
	FilePath     string    `db:"file_path"`
	Format       string    `db:"format"`
	Source       string    `db:"source"`
	CreatedAt    time.Time `db:"created_at"`
}

// Store persists subtitle records and their files under
// <basePath>/<video_id>/<language>.<format>.
type Store struct {
	db       *sqlx.DB
	basePath string
	clk      clock.Clock
}

// NewStore creates a new Store rooted at basePath.
func NewStore(db *sqlx.DB, basePath string, clk clock.Clock) (*Store, error) {
	if err := os.MkdirAll(basePath, 0775); err != nil {
		return nil, fmt.Errorf("create subtitle dir: %s", err)
	}
	return &Store{db, basePath, clk}, nil
}

func (s *Store) path(videoID, lang, format string) string {
	return filepath.Join(s.basePath, videoID, lang+"."+format)
}

// PutSRT converts an SRT track from source to WebVTT and stores it for
// (videoID, lang), replacing any previous track for the pair. Partial
// output is never left behind on failure.
func (s *Store) PutSRT(videoID, lang, source string, src []byte) (*Subtitle, error) {
	vtt, err := ConvertSRT(src)
	if err != nil {
		return nil, fmt.Errorf("convert srt: %s", err)
	}
	return s.put(videoID, lang, "vtt", source, vtt)
}

// PutVTT stores an already converted WebVTT track for (videoID, lang).
func (s *Store) PutVTT(videoID, lang, source string, vtt []byte) (*Subtitle, error) {
	if len(vtt) == 0 {
		return nil, ErrEmptySource
	}
	return s.put(videoID, lang, "vtt", source, vtt)
}

func (s *Store) put(videoID, lang, format, source string, b []byte) (*Subtitle, error) {
	p := s.path(videoID, lang, format)
	if err := os.MkdirAll(filepath.Dir(p), 0775); err != nil {
		return nil, fmt.Errorf("create video subtitle dir: %s", err)
	}
	tmp, err := ioutil.TempFile(filepath.Dir(p), ".subtitle-")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %s", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %s", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %s", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return nil, fmt.Errorf("rename: %s", err)
	}

	sub := &Subtitle{
		VideoID:      videoID,
		LanguageCode: lang,
		FilePath:     p,
		Format:       format,
		Source:       source,
		CreatedAt:    s.clk.Now(),
	}
	_, err = s.db.NamedExec(`
		INSERT INTO subtitle (video_id, language_code, file_path, format, source, created_at)
		VALUES (:video_id, :language_code, :file_path, :format, :source, :created_at)
		ON CONFLICT (video_id, language_code)
		DO UPDATE SET file_path=excluded.file_path, format=excluded.format,
			source=excluded.source, created_at=excluded.created_at`, sub)
	if err != nil {
		return nil, fmt.Errorf("upsert subtitle: %s", err)
	}
	return sub, nil
}

// List returns all subtitle tracks of a video ordered by language.
func (s *Store) List(videoID string) ([]*Subtitle, error) {
	var subs []*Subtitle
	err := s.db.Select(&subs, `
		SELECT * FROM subtitle WHERE video_id=? ORDER BY language_code`, videoID)
	if err != nil {
		return nil, fmt.Errorf("select subtitles: %s", err)
	}
	return subs, nil
}

// Get returns the subtitle record for (videoID, lang).
func (s *Store) Get(videoID, lang string) (*Subtitle, error) {
	var sub Subtitle
	err := s.db.Get(&sub, `
		SELECT * FROM subtitle WHERE video_id=? AND language_code=?`, videoID, lang)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select subtitle: %s", err)
	}
	return &sub, nil
}

// GetContent returns the stored subtitle bytes for (videoID, lang).
func (s *Store) GetContent(videoID, lang string) ([]byte, error) {
	sub, err := s.Get(videoID, lang)
	if err != nil {
		return nil, err
	}
	b, err := ioutil.ReadFile(sub.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read subtitle file: %s", err)
	}
	return b, nil
}
