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

// Package streamserver exposes the client-facing HTTP API: initiating
// downloads, polling job progress, and range-streaming cached or
// still-downloading videos.
package streamserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/hypertube/hypertube/core"
	"github.com/hypertube/hypertube/lib/jobstore"
	"github.com/hypertube/hypertube/lib/middleware"
	"github.com/hypertube/hypertube/lib/queue"
	"github.com/hypertube/hypertube/lib/subtitle"
	"github.com/hypertube/hypertube/lib/videostore"
	"github.com/hypertube/hypertube/utils/handler"
	"github.com/hypertube/hypertube/utils/log"

	"github.com/andres-erbsen/clock"
	"github.com/go-chi/chi"
	"github.com/uber-go/tally"
)

const _defaultPriority = 5

// JobCanceller interrupts running downloads. Implemented by the worker
// pool.
type JobCanceller interface {
	CancelDownload(jobID string) error
}

// Server defines the streaming HTTP server.
type Server struct {
	config    Config
	stats     tally.Scope
	clk       clock.Clock
	jobs      *jobstore.Store
	videos    *videostore.Store
	subtitles *subtitle.Store
	downloadQ *queue.Queue
	canceller JobCanceller
	auth      func(http.Handler) http.Handler
}

// New creates a new Server.
func New(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	jobs *jobstore.Store,
	videos *videostore.Store,
	subtitles *subtitle.Store,
	downloadQ *queue.Queue,
	canceller JobCanceller) (*Server, error) {

	config = config.applyDefaults()

	stats = stats.Tagged(map[string]string{
		"module": "streamserver",
	})

	var auth func(http.Handler) http.Handler
	if config.AuthDisabled {
		log.Warn("Streaming API authentication disabled")
	} else {
		config.Auth.PublicPaths = append(config.Auth.PublicPaths, "/health")
		var err error
		auth, err = middleware.JWTAuth(config.Auth)
		if err != nil {
			return nil, fmt.Errorf("jwt middleware: %s", err)
		}
	}

	return &Server{
		config:    config,
		stats:     stats,
		clk:       clk,
		jobs:      jobs,
		videos:    videos,
		subtitles: subtitles,
		downloadQ: downloadQ,
		canceller: canceller,
		auth:      auth,
	}, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.HitCounter(s.stats))
	r.Use(middleware.LatencyTimer(s.stats))
	// Rate limiting runs after auth so per-user buckets key on the verified
	// identity rather than anything client-supplied.
	if s.auth != nil {
		r.Use(s.auth)
	}
	r.Use(middleware.RateLimit(s.config.RateLimit))

	r.Get("/health", s.healthHandler)

	r.Route("/streaming", func(r chi.Router) {
		r.Post("/download", handler.Wrap(s.initiateDownloadHandler))
		r.Get("/jobs", handler.Wrap(s.listJobsHandler))
		r.Get("/jobs/user/{userId}", handler.Wrap(s.listUserJobsHandler))
		r.Get("/jobs/{id}", handler.Wrap(s.getJobHandler))
		r.Delete("/jobs/{id}", handler.Wrap(s.cancelJobHandler))
		r.Get("/jobs/{id}/ready", handler.Wrap(s.readyHandler))
		r.Get("/video/{jobId}", handler.Wrap(s.videoHandler))
		r.Get("/subtitles/{videoId}", handler.Wrap(s.listSubtitlesHandler))
		r.Get("/subtitles/{videoId}/{lang}", handler.Wrap(s.getSubtitleHandler))
		r.Get("/cache/stats", handler.Wrap(s.cacheStatsHandler))
	})

	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	io.WriteString(w, "OK")
}

// initiateDownloadHandler finds or creates the download job for
// (videoId, userId) and, for fresh jobs, publishes a download message.
// Repeated requests return the existing job.
func (s *Server) initiateDownloadHandler(w http.ResponseWriter, r *http.Request) error {
	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return handler.Errorf("decode body: %s", err).Status(http.StatusBadRequest)
	}
	userID := r.Header.Get(middleware.UserIDHeader)
	if userID == "" {
		userID = req.UserID
	}
	if req.VideoID == "" || userID == "" {
		return handler.Errorf("videoId and userId required").Status(http.StatusBadRequest)
	}
	if _, err := core.ParseMagnet(req.MagnetLink); err != nil {
		return handler.Errorf("invalid magnet link: %s", err).Status(http.StatusBadRequest)
	}
	priority := req.Priority
	if priority == 0 {
		priority = _defaultPriority
	}
	if priority < queue.MinPriority || priority > queue.MaxPriority {
		return handler.Errorf(
			"priority must be in [%d, %d]",
			queue.MinPriority, queue.MaxPriority).Status(http.StatusBadRequest)
	}

	job, created, err := s.jobs.Initiate(req.VideoID, req.TorrentID, userID, req.MagnetLink)
	if err != nil {
		return handler.Errorf("initiate job: %s", err)
	}
	if created {
		_, err := queue.EnqueueDownload(s.downloadQ, &queue.DownloadMessage{
			JobID:     job.ID,
			MagnetURI: req.MagnetLink,
			Priority:  priority,
		})
		if err != nil {
			s.failInitiate(job.ID)
			return handler.Errorf("enqueue download: %s", err)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if created {
		w.WriteHeader(http.StatusCreated)
	}
	if err := json.NewEncoder(w).Encode(newJobDTO(job)); err != nil {
		return handler.Errorf("encode response: %s", err)
	}
	return nil
}

// failInitiate marks a freshly created job FAILED after its download message
// could not be published, so it does not hang in PENDING forever.
func (s *Server) failInitiate(jobID string) {
	if err := s.jobs.SetStatus(jobID, jobstore.StatusDownloading, ""); err != nil {
		log.With("job", jobID).Errorf("Error failing unenqueued job: %s", err)
		return
	}
	if err := s.jobs.SetStatus(jobID, jobstore.StatusFailed, "enqueue download failed"); err != nil {
		log.With("job", jobID).Errorf("Error failing unenqueued job: %s", err)
	}
}

func (s *Server) getJobHandler(w http.ResponseWriter, r *http.Request) error {
	job, err := s.getJob(chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	return writeJSON(w, newJobDTO(job))
}

// cancelJobHandler cancels a pending or running download.
func (s *Server) cancelJobHandler(w http.ResponseWriter, r *http.Request) error {
	job, err := s.getJob(chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	if err := s.canceller.CancelDownload(job.ID); err != nil {
		if _, ok := err.(jobstore.InvalidTransitionError); ok {
			return handler.Errorf(
				"cannot cancel job in %s", job.Status).Status(http.StatusConflict)
		}
		return handler.Errorf("cancel download: %s", err)
	}
	job, err = s.getJob(job.ID)
	if err != nil {
		return err
	}
	return writeJSON(w, newJobDTO(job))
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) error {
	job, err := s.getJob(chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	return writeJSON(w, newReadyResponse(job))
}

func (s *Server) listJobsHandler(w http.ResponseWriter, r *http.Request) error {
	jobs, err := s.jobs.List()
	if err != nil {
		return handler.Errorf("list jobs: %s", err)
	}
	return writeJSON(w, pageOfJobs(jobs))
}

func (s *Server) listUserJobsHandler(w http.ResponseWriter, r *http.Request) error {
	userID := chi.URLParam(r, "userId")
	jobs, err := s.jobs.ListByUser(userID)
	if err != nil {
		return handler.Errorf("list user jobs: %s", err)
	}
	return writeJSON(w, pageOfJobs(jobs))
}

// videoHandler streams a job's video. Completed jobs are served out of the
// cache with the record pinned against eviction for the whole request.
// Running downloads are served from the growing file, bounded by the bytes
// verified contiguously from offset zero.
func (s *Server) videoHandler(w http.ResponseWriter, r *http.Request) error {
	job, err := s.getJob(chi.URLParam(r, "jobId"))
	if err != nil {
		return err
	}

	v, release, err := s.videos.OpenStream(job.VideoID)
	if err == nil {
		defer release()
		return s.serveFile(w, r, v.FilePath, v.SizeBytes, v.ContentType)
	}
	if err != videostore.ErrNotFound {
		return handler.Errorf("open stream: %s", err)
	}

	switch job.Status {
	case jobstore.StatusDownloading:
		if job.FilePath == "" || job.TotalBytes == 0 {
			return handler.Errorf("download starting").Status(http.StatusConflict)
		}
		return s.serveGrowing(w, r, job)
	case jobstore.StatusPending, jobstore.StatusConverting:
		return handler.Errorf("video not ready").Status(http.StatusConflict)
	case jobstore.StatusFailed, jobstore.StatusCancelled:
		return handler.Errorf("download %s", job.Status).Status(http.StatusGone)
	default:
		// Completed but evicted from the cache.
		return handler.Errorf("video expired from cache").Status(http.StatusNotFound)
	}
}

// serveFile answers plain and range requests against a fully written file.
func (s *Server) serveFile(
	w http.ResponseWriter, r *http.Request, path string, size int64, contentType string) error {

	start, end, ok, err := parseRange(r.Header.Get("Range"), size)
	if err != nil {
		return rangeError(err, size)
	}

	f, err := os.Open(path)
	if err != nil {
		return handler.Errorf("open video file: %s", err)
	}
	defer f.Close()

	w.Header().Set("Accept-Ranges", "bytes")
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	if !ok {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		if _, err := io.Copy(w, f); err != nil {
			log.Errorf("Error streaming video: %s", err)
		}
		return nil
	}
	writeRange(w, f, start, end, size)
	return nil
}

// serveGrowing answers range requests against a file which is still being
// downloaded. Only bytes below the contiguously verified frontier are
// served; a request past it waits up to StreamWait for the frontier to
// advance, then gives up with 416.
func (s *Server) serveGrowing(
	w http.ResponseWriter, r *http.Request, job *jobstore.Job) error {

	size := job.TotalBytes
	start, end, ok, err := parseRange(r.Header.Get("Range"), size)
	if err != nil {
		return rangeError(err, size)
	}
	if !ok {
		start, end = 0, size-1
	}

	available := job.ContiguousBytes
	deadline := s.clk.Now().Add(s.config.StreamWait)
	for start >= available {
		if s.clk.Now().After(deadline) {
			return rangeError(errUnsatisfiable, size)
		}
		s.clk.Sleep(s.config.StreamPollInterval)
		job, err = s.jobs.Get(job.ID)
		if err != nil {
			return handler.Errorf("reload job: %s", err)
		}
		available = job.ContiguousBytes
		if job.Status != jobstore.StatusDownloading {
			// Download finished (or died) while we waited.
			break
		}
	}
	if job.Status == jobstore.StatusFailed || job.Status == jobstore.StatusCancelled {
		return handler.Errorf("download %s", job.Status).Status(http.StatusGone)
	}
	if job.Status != jobstore.StatusDownloading {
		// The whole file is on disk now.
		available = size
	}
	if start >= available {
		return rangeError(errUnsatisfiable, size)
	}
	if end >= available {
		end = available - 1
	}

	f, err := os.Open(job.FilePath)
	if err != nil {
		return handler.Errorf("open video file: %s", err)
	}
	defer f.Close()

	w.Header().Set("Accept-Ranges", "bytes")
	writeRange(w, f, start, end, size)
	return nil
}

func writeRange(w http.ResponseWriter, f *os.File, start, end, size int64) {
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	if _, err := io.Copy(w, io.NewSectionReader(f, start, end-start+1)); err != nil {
		log.Errorf("Error streaming video range: %s", err)
	}
}

func rangeError(err error, size int64) error {
	if err == errUnsatisfiable {
		return handler.Errorf("range not satisfiable").
			Status(http.StatusRequestedRangeNotSatisfiable).
			Header("Content-Range", fmt.Sprintf("bytes */%d", size))
	}
	return handler.Errorf("%s", err).Status(http.StatusBadRequest)
}

func (s *Server) listSubtitlesHandler(w http.ResponseWriter, r *http.Request) error {
	subs, err := s.subtitles.List(chi.URLParam(r, "videoId"))
	if err != nil {
		return handler.Errorf("list subtitles: %s", err)
	}
	dtos := make([]*SubtitleDTO, len(subs))
	for i, sub := range subs {
		dtos[i] = newSubtitleDTO(sub)
	}
	return writeJSON(w, PagedResponse{Items: dtos, Total: len(dtos)})
}

func (s *Server) getSubtitleHandler(w http.ResponseWriter, r *http.Request) error {
	videoID := chi.URLParam(r, "videoId")
	lang := chi.URLParam(r, "lang")
	b, err := s.subtitles.GetContent(videoID, lang)
	if err != nil {
		if err == subtitle.ErrNotFound {
			return handler.ErrorStatus(http.StatusNotFound)
		}
		return handler.Errorf("get subtitle: %s", err)
	}
	w.Header().Set("Content-Type", "text/vtt; charset=utf-8")
	w.Write(b)
	return nil
}

func (s *Server) cacheStatsHandler(w http.ResponseWriter, r *http.Request) error {
	stats, err := s.videos.Stats()
	if err != nil {
		return handler.Errorf("cache stats: %s", err)
	}
	return writeJSON(w, stats)
}

func (s *Server) getJob(id string) (*jobstore.Job, error) {
	if id == "" {
		return nil, handler.Errorf("job id required").Status(http.StatusBadRequest)
	}
	job, err := s.jobs.Get(id)
	if err != nil {
		if err == jobstore.ErrJobNotFound {
			return nil, handler.ErrorStatus(http.StatusNotFound)
		}
		return nil, handler.Errorf("get job: %s", err)
	}
	return job, nil
}

func pageOfJobs(jobs []*jobstore.Job) PagedResponse {
	dtos := make([]*DownloadJobDTO, len(jobs))
	for i, j := range jobs {
		dtos[i] = newJobDTO(j)
	}
	return PagedResponse{Items: dtos, Total: len(dtos)}
}

func writeJSON(w http.ResponseWriter, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return handler.Errorf("encode response: %s", err)
	}
	return nil
}
