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

// Package videostore manages the on-disk cache of completed downloads:
// TTL expiration, size-capped LRU eviction and open-stream reference
// counting so a video is never deleted mid-playback.
package videostore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hypertube/hypertube/utils/log"

	"github.com/andres-erbsen/clock"
	"github.com/jmoiron/sqlx"
	"github.com/uber-go/tally"
)

// ErrNotFound occurs when a video id has no cache record.
var ErrNotFound = errors.New("cached video not found")

// CachedVideo is a persisted cache record of a completed download, keyed
// by (video id, torrent id) so distinct torrents of the same title cache
// independently.
type CachedVideo struct {
	VideoID     string `db:"video_id"`
	TorrentID   string `db:"torrent_id"`
	JobID       string `db:"job_id"`
	FilePath    string `db:"file_path"`
	SizeBytes   int64  `db:"size_bytes"`
	ContentType string `db:"content_type"`

	// Media metadata probed from the cached file.
	Format          string  `db:"format"`
	Codec           string  `db:"codec"`
	Resolution      string  `db:"resolution"`
	DurationSeconds float64 `db:"duration_seconds"`
	Bitrate         int64   `db:"bitrate"`

	AccessCount    int64     `db:"access_count"`
	CreatedAt      time.Time `db:"created_at"`
	ExpiresAt      time.Time `db:"expires_at"`
	LastAccessedAt time.Time `db:"last_accessed_at"`
}

// Stats summarizes cache usage.
type Stats struct {
	EntryCount    int   `json:"entry_count"`
	TotalBytes    int64 `json:"total_bytes"`
	CapacityBytes int64 `json:"capacity_bytes"`
}

// Store manages cached video records and their backing files.
type Store struct {
	config Config
	db     *sqlx.DB
	clk    clock.Clock
	stats  tally.Scope

	mu       sync.Mutex
	refs     map[string]int
	deferred map[string]bool

	stopOnce sync.Once
	stopc    chan struct{}
}

// NewStore creates a new Store. StartCleanup must be called to activate the
// background sweeper.
func NewStore(config Config, db *sqlx.DB, clk clock.Clock, stats tally.Scope) *Store {
	stats = stats.Tagged(map[string]string{
		"module": "videostore",
	})
	return &Store{
		config:   config.applyDefaults(),
		db:       db,
		clk:      clk,
		stats:    stats,
		refs:     make(map[string]int),
		deferred: make(map[string]bool),
		stopc:    make(chan struct{}),
	}
}

// Add inserts or refreshes the cache record for (v.VideoID, v.TorrentID).
// Timestamps and expiry are stamped by the store.
func (s *Store) Add(v *CachedVideo) error {
	now := s.clk.Now()
	v.CreatedAt = now
	v.ExpiresAt = now.Add(s.config.TTL)
	v.LastAccessedAt = now
	_, err := s.db.NamedExec(`
		INSERT INTO cached_video (
			video_id, torrent_id, job_id, file_path, size_bytes, content_type,
			format, codec, resolution, duration_seconds, bitrate,
			created_at, expires_at, last_accessed_at
		) VALUES (
			:video_id, :torrent_id, :job_id, :file_path, :size_bytes, :content_type,
			:format, :codec, :resolution, :duration_seconds, :bitrate,
			:created_at, :expires_at, :last_accessed_at
		)
		ON CONFLICT (video_id, torrent_id) DO UPDATE SET
			job_id=excluded.job_id,
			file_path=excluded.file_path,
			size_bytes=excluded.size_bytes,
			content_type=excluded.content_type,
			format=excluded.format,
			codec=excluded.codec,
			resolution=excluded.resolution,
			duration_seconds=excluded.duration_seconds,
			bitrate=excluded.bitrate,
			expires_at=excluded.expires_at,
			last_accessed_at=excluded.last_accessed_at`, v)
	if err != nil {
		return fmt.Errorf("upsert cached video: %s", err)
	}
	return nil
}

// Get returns the newest cache record for videoID.
func (s *Store) Get(videoID string) (*CachedVideo, error) {
	var v CachedVideo
	if err := s.db.Get(&v, `
		SELECT * FROM cached_video WHERE video_id=?
		ORDER BY created_at DESC, torrent_id LIMIT 1`, videoID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select cached video: %s", err)
	}
	return &v, nil
}

// GetByJob returns the cache record backed by jobID.
func (s *Store) GetByJob(jobID string) (*CachedVideo, error) {
	var v CachedVideo
	if err := s.db.Get(&v, `SELECT * FROM cached_video WHERE job_id=?`, jobID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select cached video: %s", err)
	}
	return &v, nil
}

// OpenStream bumps access statistics of videoID and pins it against
// eviction. The returned release function must be called when the stream
// closes; a deferred eviction runs once the last reader releases.
func (s *Store) OpenStream(videoID string) (*CachedVideo, func(), error) {
	v, err := s.Get(videoID)
	if err != nil {
		return nil, nil, err
	}
	_, err = s.db.Exec(`
		UPDATE cached_video
		SET last_accessed_at=?, access_count=access_count+1
		WHERE video_id=? AND torrent_id=?`, s.clk.Now(), videoID, v.TorrentID)
	if err != nil {
		return nil, nil, fmt.Errorf("bump access: %s", err)
	}

	s.mu.Lock()
	s.refs[videoID]++
	s.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() { s.release(videoID) })
	}
	return v, release, nil
}

func (s *Store) release(videoID string) {
	s.mu.Lock()
	s.refs[videoID]--
	evict := false
	if s.refs[videoID] <= 0 {
		delete(s.refs, videoID)
		if s.deferred[videoID] {
			delete(s.deferred, videoID)
			evict = true
		}
	}
	s.mu.Unlock()

	if evict {
		if v, err := s.Get(videoID); err == nil {
			if err := s.evict(v); err != nil {
				log.With("video_id", videoID).Errorf("Error running deferred eviction: %s", err)
			}
		}
	}
}

// Stats returns cache usage counters.
func (s *Store) Stats() (*Stats, error) {
	var row struct {
		Count int           `db:"count"`
		Total sql.NullInt64 `db:"total"`
	}
	err := s.db.Get(&row, `
		SELECT COUNT(*) AS count, SUM(size_bytes) AS total FROM cached_video`)
	if err != nil {
		return nil, fmt.Errorf("select cache stats: %s", err)
	}
	return &Stats{
		EntryCount:    row.Count,
		TotalBytes:    row.Total.Int64,
		CapacityBytes: int64(s.config.MaxCacheSize.Bytes()),
	}, nil
}

// StartCleanup launches the background sweeper.
func (s *Store) StartCleanup() {
	if s.config.CleanupDisabled {
		log.Warn("Video cache cleanup disabled")
		return
	}
	ticker := s.clk.Ticker(s.config.CleanupInterval)
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := s.Cleanup(); err != nil {
					log.Errorf("Error cleaning video cache: %s", err)
				}
			case <-s.stopc:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the background sweeper.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopc) })
}

// Cleanup runs one sweep: expired records are removed, then if total size
// exceeds the cap, least recently accessed records are evicted until usage
// drops under the soft limit. Records with open streams are never removed;
// their eviction is deferred until the last reader releases.
func (s *Store) Cleanup() error {
	if err := s.removeExpired(); err != nil {
		return err
	}
	if err := s.enforceSizeCap(); err != nil {
		return err
	}
	st, err := s.Stats()
	if err != nil {
		return err
	}
	s.stats.Gauge("cache_size").Update(float64(st.TotalBytes))
	return nil
}

func (s *Store) removeExpired() error {
	var expired []*CachedVideo
	err := s.db.Select(&expired, `
		SELECT * FROM cached_video WHERE expires_at < ?`, s.clk.Now())
	if err != nil {
		return fmt.Errorf("select expired: %s", err)
	}
	for _, v := range expired {
		if s.pinned(v.VideoID) {
			continue
		}
		if err := s.evict(v); err != nil {
			log.With("video_id", v.VideoID).Errorf("Error removing expired video: %s", err)
			continue
		}
		s.stats.Counter("expirations").Inc(1)
	}
	return nil
}

func (s *Store) enforceSizeCap() error {
	st, err := s.Stats()
	if err != nil {
		return err
	}
	if st.TotalBytes <= int64(s.config.MaxCacheSize.Bytes()) {
		return nil
	}

	var candidates []*CachedVideo
	err = s.db.Select(&candidates, `
		SELECT * FROM cached_video ORDER BY last_accessed_at, video_id, torrent_id`)
	if err != nil {
		return fmt.Errorf("select eviction candidates: %s", err)
	}

	total := st.TotalBytes
	for _, v := range candidates {
		if total <= s.config.softLimit() {
			break
		}
		if s.pinned(v.VideoID) {
			continue
		}
		if err := s.evict(v); err != nil {
			log.With("video_id", v.VideoID).Errorf("Error evicting video: %s", err)
			continue
		}
		total -= v.SizeBytes
		s.stats.Counter("evictions").Inc(1)
	}
	return nil
}

// pinned marks videoID for deferred eviction if it has open streams.
func (s *Store) pinned(videoID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs[videoID] > 0 {
		s.deferred[videoID] = true
		return true
	}
	return false
}

// evict deletes the record and its file. The delete re-checks
// last_accessed_at so a concurrent stream open aborts the eviction.
func (s *Store) evict(v *CachedVideo) error {
	res, err := s.db.Exec(`
		DELETE FROM cached_video
		WHERE video_id=? AND torrent_id=? AND last_accessed_at=?`,
		v.VideoID, v.TorrentID, v.LastAccessedAt)
	if err != nil {
		return fmt.Errorf("delete record: %s", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected: %s", err)
	} else if n == 0 {
		// Accessed since we listed it. Leave it alone.
		return nil
	}
	if err := os.Remove(v.FilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %s", err)
	}
	// Best effort removal of the now possibly empty job directory.
	os.Remove(filepath.Dir(v.FilePath))
	return nil
}
