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

// Package jobstore persists download job records and their status
// transitions in the locally embedded database.
package jobstore

import "time"

// Status is the lifecycle state of a download job.
type Status string

// Job statuses. Completed, failed and cancelled are terminal.
const (
	StatusPending     Status = "PENDING"
	StatusDownloading Status = "DOWNLOADING"
	StatusConverting  Status = "CONVERTING"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
	StatusCancelled   Status = "CANCELLED"
)

// Terminal returns whether no further status transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// _transitions defines the legal status machine. Advisory fields (progress,
// speed, eta, peers) update freely within a status and are not transitions.
var _transitions = map[Status][]Status{
	StatusPending:     {StatusDownloading, StatusCancelled},
	StatusDownloading: {StatusConverting, StatusFailed, StatusCancelled},
	StatusConverting:  {StatusCompleted, StatusFailed},
}

func legalTransition(from, to Status) bool {
	for _, s := range _transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job is a persisted download job record.
type Job struct {
	ID              string    `db:"id"`
	VideoID         string    `db:"video_id"`
	TorrentID       string    `db:"torrent_id"`
	UserID          string    `db:"user_id"`
	MagnetURI       string    `db:"magnet_uri"`
	InfoHash        string    `db:"info_hash"`
	Status          Status    `db:"status"`
	ErrorMessage    string    `db:"error_message"`
	Progress        float64   `db:"progress"`
	DownloadedBytes int64     `db:"downloaded_bytes"`
	ContiguousBytes int64     `db:"contiguous_bytes"`
	TotalBytes      int64     `db:"total_bytes"`
	DownloadSpeed   float64   `db:"download_speed"`
	ETASeconds      int64     `db:"eta_seconds"`
	Peers           int       `db:"peers"`
	CurrentPhase    string    `db:"current_phase"`
	FilePath        string    `db:"file_path"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// Ready returns whether the job's file is fully available for streaming.
func (j *Job) Ready() bool {
	return j.Status == StatusCompleted
}

// Transition is an audit record of a single status change.
type Transition struct {
	ID         int64     `db:"id"`
	JobID      string    `db:"job_id"`
	FromStatus Status    `db:"from_status"`
	ToStatus   Status    `db:"to_status"`
	Detail     string    `db:"detail"`
	CreatedAt  time.Time `db:"created_at"`
}

// Progress captures the advisory download statistics published by the
// download engine.
type Progress struct {
	DownloadedBytes int64

	// ContiguousBytes is how much of the primary file is verified from
	// offset 0, i.e. how far a progressive stream may read.
	ContiguousBytes int64

	TotalBytes int64
	SpeedBPS   float64
	ETASeconds int64
	Peers      int
	Phase      string
}

// Percent returns download completion in [0, 100].
func (p Progress) Percent() float64 {
	if p.TotalBytes == 0 {
		return 0
	}
	return float64(p.DownloadedBytes) / float64(p.TotalBytes) * 100
}
