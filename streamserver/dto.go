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
package streamserver

import (
	"time"

	"github.com/hypertube/hypertube/lib/jobstore"
	"github.com/hypertube/hypertube/lib/subtitle"
)

// DownloadRequest is the body of POST /streaming/download.
type DownloadRequest struct {
	VideoID    string `json:"videoId"`
	TorrentID  string `json:"torrentId"`
	UserID     string `json:"userId"`
	MagnetLink string `json:"magnetLink"`

	// Priority is the download queue priority (1..10). Zero means default.
	Priority int `json:"priority,omitempty"`
}

// DownloadJobDTO is the external representation of a download job.
type DownloadJobDTO struct {
	ID              string    `json:"id"`
	VideoID         string    `json:"videoId"`
	TorrentID       string    `json:"torrentId,omitempty"`
	UserID          string    `json:"userId"`
	InfoHash        string    `json:"infoHash,omitempty"`
	Status          string    `json:"status"`
	Progress        float64   `json:"progress"`
	DownloadedBytes int64     `json:"downloadedBytes"`
	TotalBytes      int64     `json:"totalBytes"`
	DownloadSpeed   float64   `json:"downloadSpeed"`
	ETASeconds      int64     `json:"etaSeconds"`
	Peers           int       `json:"peers"`
	CurrentPhase    string    `json:"currentPhase,omitempty"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
	FilePath        string    `json:"filePath,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func newJobDTO(j *jobstore.Job) *DownloadJobDTO {
	return &DownloadJobDTO{
		ID:              j.ID,
		VideoID:         j.VideoID,
		TorrentID:       j.TorrentID,
		UserID:          j.UserID,
		InfoHash:        j.InfoHash,
		Status:          string(j.Status),
		Progress:        j.Progress,
		DownloadedBytes: j.DownloadedBytes,
		TotalBytes:      j.TotalBytes,
		DownloadSpeed:   j.DownloadSpeed,
		ETASeconds:      j.ETASeconds,
		Peers:           j.Peers,
		CurrentPhase:    j.CurrentPhase,
		ErrorMessage:    j.ErrorMessage,
		FilePath:        j.FilePath,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
}

// ReadyResponse answers GET /streaming/jobs/{id}/ready.
type ReadyResponse struct {
	JobID           string  `json:"jobId"`
	Ready           bool    `json:"ready"`
	Status          string  `json:"status"`
	Progress        float64 `json:"progress"`
	FilePath        string  `json:"filePath,omitempty"`
	DownloadedBytes int64   `json:"downloadedBytes"`
	TotalBytes      int64   `json:"totalBytes"`
	DownloadSpeed   float64 `json:"downloadSpeed"`
	ETASeconds      int64   `json:"etaSeconds"`
	Peers           int     `json:"peers"`
	CurrentPhase    string  `json:"currentPhase,omitempty"`
	ErrorMessage    string  `json:"errorMessage,omitempty"`
}

func newReadyResponse(j *jobstore.Job) *ReadyResponse {
	return &ReadyResponse{
		JobID:           j.ID,
		Ready:           j.Ready(),
		Status:          string(j.Status),
		Progress:        j.Progress,
		FilePath:        j.FilePath,
		DownloadedBytes: j.DownloadedBytes,
		TotalBytes:      j.TotalBytes,
		DownloadSpeed:   j.DownloadSpeed,
		ETASeconds:      j.ETASeconds,
		Peers:           j.Peers,
		CurrentPhase:    j.CurrentPhase,
		ErrorMessage:    j.ErrorMessage,
	}
}

// PagedResponse wraps list endpoints. Total is the number of items matched,
// which for now always equals len(Items).
type PagedResponse struct {
	Items interface{} `json:"items"`
	Total int         `json:"total"`
}

// SubtitleDTO is the external representation of a subtitle track.
type SubtitleDTO struct {
	VideoID   string    `json:"videoId"`
	Language  string    `json:"language"`
	Format    string    `json:"format"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func newSubtitleDTO(s *subtitle.Subtitle) *SubtitleDTO {
	return &SubtitleDTO{
		VideoID:   s.VideoID,
		Language:  s.LanguageCode,
		Format:    s.Format,
		Source:    s.Source,
		CreatedAt: s.CreatedAt,
	}
}
