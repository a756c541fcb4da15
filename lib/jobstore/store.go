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
package jobstore

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/andres-erbsen/clock"
	"github.com/jmoiron/sqlx"
	"github.com/satori/go.uuid"
)

// ErrJobNotFound occurs when a job id has no record.
var ErrJobNotFound = errors.New("job not found")

// InvalidTransitionError occurs on a status change the state machine does
// not allow. The job record is unchanged.
type InvalidTransitionError struct {
	From, To Status
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid job transition %s -> %s", e.From, e.To)
}

// Store reads and writes download job records.
type Store struct {
	db  *sqlx.DB
	clk clock.Clock
}

// NewStore creates a new Store.
func NewStore(db *sqlx.DB, clk clock.Clock) *Store {
	return &Store{db, clk}
}

// Initiate finds or creates a job for (videoID, userID). If a non-terminal
// job already exists it is returned with created=false, making repeated
// requests idempotent. Uniqueness of the active job is enforced by a
// partial unique index, so concurrent initiations converge on one record.
func (s *Store) Initiate(videoID, torrentID, userID, magnetURI string) (j *Job, created bool, err error) {
	for {
		var existing Job
		err = s.db.Get(&existing, `
			SELECT * FROM download_job
			WHERE video_id=? AND user_id=? AND status NOT IN (?, ?, ?)
			ORDER BY created_at DESC LIMIT 1`,
			videoID, userID, StatusCompleted, StatusFailed, StatusCancelled)
		if err == nil {
			return &existing, false, nil
		}
		if err != sql.ErrNoRows {
			return nil, false, fmt.Errorf("select active job: %s", err)
		}

		now := s.clk.Now()
		j = &Job{
			ID:        uuid.NewV4().String(),
			VideoID:   videoID,
			TorrentID: torrentID,
			UserID:    userID,
			MagnetURI: magnetURI,
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		res, err := s.db.NamedExec(`
			INSERT INTO download_job (
				id, video_id, torrent_id, user_id, magnet_uri, status,
				created_at, updated_at
			) VALUES (
				:id, :video_id, :torrent_id, :user_id, :magnet_uri, :status,
				:created_at, :updated_at
			)
			ON CONFLICT (video_id, user_id)
			WHERE status NOT IN ('COMPLETED', 'FAILED', 'CANCELLED')
			DO NOTHING`, j)
		if err != nil {
			return nil, false, fmt.Errorf("insert job: %s", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, false, fmt.Errorf("rows affected: %s", err)
		}
		if n == 0 {
			// Lost the insert race. Loop around and pick up the winner.
			continue
		}
		return j, true, nil
	}
}

// Get returns the job with the given id.
func (s *Store) Get(id string) (*Job, error) {
	var j Job
	if err := s.db.Get(&j, `SELECT * FROM download_job WHERE id=?`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("select job: %s", err)
	}
	return &j, nil
}

// List returns all jobs, newest first.
func (s *Store) List() ([]*Job, error) {
	var jobs []*Job
	err := s.db.Select(&jobs, `
		SELECT * FROM download_job ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("select jobs: %s", err)
	}
	return jobs, nil
}

// ListByUser returns all jobs initiated by userID, newest first.
func (s *Store) ListByUser(userID string) ([]*Job, error) {
	var jobs []*Job
	err := s.db.Select(&jobs, `
		SELECT * FROM download_job WHERE user_id=?
		ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("select user jobs: %s", err)
	}
	return jobs, nil
}

// SetStatus transitions the job to a new status and appends an audit
// record. Illegal transitions leave the record unchanged and return an
// InvalidTransitionError.
func (s *Store) SetStatus(id string, to Status, detail string) error {
	j, err := s.Get(id)
	if err != nil {
		return err
	}
	if !legalTransition(j.Status, to) {
		return InvalidTransitionError{From: j.Status, To: to}
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %s", err)
	}
	defer tx.Rollback()

	now := s.clk.Now()
	res, err := tx.Exec(`
		UPDATE download_job
		SET status=?, error_message=?, updated_at=?
		WHERE id=? AND status=?`,
		to, errorDetail(to, detail), now, id, j.Status)
	if err != nil {
		return fmt.Errorf("update status: %s", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected: %s", err)
	} else if n == 0 {
		// Lost a race with a concurrent transition.
		return InvalidTransitionError{From: j.Status, To: to}
	}
	if _, err := tx.Exec(`
		INSERT INTO job_transition (job_id, from_status, to_status, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, j.Status, to, detail, now); err != nil {
		return fmt.Errorf("insert transition: %s", err)
	}
	return tx.Commit()
}

func errorDetail(to Status, detail string) string {
	if to == StatusFailed {
		return detail
	}
	return ""
}

// SetProgress updates the advisory download statistics of a job without
// touching its status.
func (s *Store) SetProgress(id string, p Progress) error {
	res, err := s.db.Exec(`
		UPDATE download_job
		SET progress=?, downloaded_bytes=?, contiguous_bytes=?, total_bytes=?,
			download_speed=?, eta_seconds=?, peers=?, current_phase=?, updated_at=?
		WHERE id=?`,
		p.Percent(), p.DownloadedBytes, p.ContiguousBytes, p.TotalBytes,
		p.SpeedBPS, p.ETASeconds, p.Peers, p.Phase, s.clk.Now(), id)
	if err != nil {
		return fmt.Errorf("update progress: %s", err)
	}
	return checkFound(res)
}

// SetInfoHash records the resolved info hash of the job's magnet.
func (s *Store) SetInfoHash(id, infoHash string) error {
	res, err := s.db.Exec(`
		UPDATE download_job SET info_hash=?, updated_at=? WHERE id=?`,
		infoHash, s.clk.Now(), id)
	if err != nil {
		return fmt.Errorf("update info hash: %s", err)
	}
	return checkFound(res)
}

// SetFilePath records the primary media file of a finished download.
func (s *Store) SetFilePath(id, filePath string) error {
	res, err := s.db.Exec(`
		UPDATE download_job SET file_path=?, updated_at=? WHERE id=?`,
		filePath, s.clk.Now(), id)
	if err != nil {
		return fmt.Errorf("update file path: %s", err)
	}
	return checkFound(res)
}

// GetTransitions returns the audit trail of a job in chronological order.
func (s *Store) GetTransitions(id string) ([]*Transition, error) {
	var ts []*Transition
	err := s.db.Select(&ts, `
		SELECT * FROM job_transition WHERE job_id=? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("select transitions: %s", err)
	}
	return ts, nil
}

func checkFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %s", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}
