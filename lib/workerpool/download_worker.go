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
package workerpool

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hypertube/hypertube/core"
	"github.com/hypertube/hypertube/lib/jobstore"
	"github.com/hypertube/hypertube/lib/queue"
	"github.com/hypertube/hypertube/lib/torrent/scheduler"
	"github.com/hypertube/hypertube/lib/torrent/storage"
	"github.com/hypertube/hypertube/utils/log"
)

func (p *Pool) processDownload(e *queue.Envelope) {
	msg, err := queue.DecodeDownload(e)
	if err != nil {
		log.Errorf("Dropping malformed download message: %s", err)
		p.downloadQ.Ack(e.ID)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.With("job", msg.JobID).Errorf("Panic in download worker: %v", r)
			p.fail(msg.JobID, fmt.Errorf("internal error: %v", r))
			p.downloadQ.Ack(e.ID)
		}
	}()

	job, err := p.jobs.Get(msg.JobID)
	if err != nil {
		log.With("job", msg.JobID).Errorf("Dropping message for unknown job: %s", err)
		p.downloadQ.Ack(e.ID)
		return
	}

	switch job.Status {
	case jobstore.StatusPending:
		if err := p.jobs.SetStatus(job.ID, jobstore.StatusDownloading, ""); err != nil {
			// Lost a race against cancellation.
			log.With("job", job.ID).Infof("Not starting download: %s", err)
			p.downloadQ.Ack(e.ID)
			return
		}
	case jobstore.StatusDownloading:
		// Redelivered after a crash. Piece state is rebuilt from scratch
		// and writes are idempotent, so the download simply restarts.
		log.With("job", job.ID).Info("Resuming interrupted download")
	default:
		p.downloadQ.Ack(e.ID)
		return
	}

	if err := p.runDownload(job); err != nil {
		if p.interrupted(err) {
			// Shutdown: leave the message unacked for redelivery.
			return
		}
		if j, jerr := p.jobs.Get(job.ID); jerr == nil && j.Status == jobstore.StatusCancelled {
			// Interrupted by CancelDownload. Downloads restart from
			// scratch, so partial pieces are useless now.
			log.With("job", job.ID).Info("Download cancelled")
			if err := os.RemoveAll(filepath.Join(p.config.DownloadDir, job.ID)); err != nil {
				log.With("job", job.ID).Errorf("Error removing partial download: %s", err)
			}
		} else {
			p.fail(job.ID, err)
		}
	}
	p.downloadQ.Ack(e.ID)
}

func (p *Pool) runDownload(job *jobstore.Job) error {
	ctx, done := p.track(job.ID)
	defer done()

	magnet, err := core.ParseMagnet(job.MagnetURI)
	if err != nil {
		return fmt.Errorf("parse magnet: %s", err)
	}
	if err := p.jobs.SetInfoHash(job.ID, magnet.InfoHash.Hex()); err != nil {
		return fmt.Errorf("record info hash: %s", err)
	}

	mi, err := p.metainfo.Download(magnet.InfoHash)
	if err != nil {
		return fmt.Errorf("resolve metainfo: %s", err)
	}

	dir := filepath.Join(p.config.DownloadDir, job.ID)
	w, err := storage.NewFileWriter(dir, mi)
	if err != nil {
		return fmt.Errorf("create file writer: %s", err)
	}
	defer w.Close()
	t := storage.NewTorrent(mi, w)

	// Recording the output path up front lets the streaming handler serve
	// the growing file while the download is still running.
	in := filepath.Join(dir, primaryFile(mi).Path)
	if err := p.jobs.SetFilePath(job.ID, in); err != nil {
		return fmt.Errorf("record file path: %s", err)
	}

	publish := func(pr scheduler.Progress) {
		err := p.jobs.SetProgress(job.ID, jobstore.Progress{
			DownloadedBytes: pr.DownloadedBytes,
			ContiguousBytes: pr.ContiguousBytes,
			TotalBytes:      pr.TotalBytes,
			SpeedBPS:        float64(pr.SpeedBPS),
			ETASeconds:      pr.ETASeconds,
			Peers:           pr.Peers,
			Phase:           string(pr.Phase),
		})
		if err != nil {
			log.With("job", job.ID).Errorf("Error publishing progress: %s", err)
		}
	}

	if err := p.downloader.Download(ctx, t, magnet.Trackers, publish); err != nil {
		return fmt.Errorf("download: %s", err)
	}

	if err := p.jobs.SetStatus(job.ID, jobstore.StatusConverting, ""); err != nil {
		return fmt.Errorf("transition to converting: %s", err)
	}
	out := filepath.Join(p.config.CacheDir, job.VideoID+".mp4")
	if _, err := queue.EnqueueConversion(p.conversionQ, &queue.ConversionMessage{
		JobID:      job.ID,
		InputPath:  in,
		OutputPath: out,
	}); err != nil {
		return fmt.Errorf("enqueue conversion: %s", err)
	}
	return nil
}

// primaryFile returns the largest file of the torrent, which is assumed to
// be the media being acquired.
func primaryFile(mi *core.MetaInfo) core.FileInfo {
	var primary core.FileInfo
	var size int64 = -1
	for _, f := range mi.Files() {
		if f.Length > size {
			size = f.Length
			primary = f
		}
	}
	return primary
}
