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

// Package workerpool runs the fixed pools of download and conversion
// workers which drain the durable job queues. Messages are acknowledged
// only after the corresponding terminal write to the job record, so a crash
// mid-job results in redelivery.
package workerpool

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/hypertube/hypertube/lib/jobstore"
	"github.com/hypertube/hypertube/lib/queue"
	"github.com/hypertube/hypertube/lib/torrent/scheduler"
	"github.com/hypertube/hypertube/lib/torrent/storage"
	"github.com/hypertube/hypertube/lib/transcode"
	"github.com/hypertube/hypertube/lib/videostore"
	"github.com/hypertube/hypertube/tracker/metainfoclient"
	"github.com/hypertube/hypertube/utils/log"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
)

// Downloader downloads torrent content to disk.
type Downloader interface {
	Download(
		ctx context.Context,
		t *storage.Torrent,
		trackers []string,
		publish func(scheduler.Progress)) error
}

// Transcoder inspects downloads and converts them into browser-playable
// files.
type Transcoder interface {
	Probe(ctx context.Context, path string) (*transcode.MediaInfo, error)
	Convert(ctx context.Context, in, out string) error
}

// Pool owns the download and conversion worker goroutines.
type Pool struct {
	config Config
	stats  tally.Scope
	clk    clock.Clock

	jobs        *jobstore.Store
	downloadQ   *queue.Queue
	conversionQ *queue.Queue
	metainfo    metainfoclient.Client
	downloader  Downloader
	transcoder  Transcoder
	videos      *videostore.Store

	ctx    context.Context
	cancel context.CancelFunc
	stopc  chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New creates a new Pool.
func New(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	jobs *jobstore.Store,
	downloadQ *queue.Queue,
	conversionQ *queue.Queue,
	metainfo metainfoclient.Client,
	downloader Downloader,
	transcoder Transcoder,
	videos *videostore.Store) *Pool {

	config = config.applyDefaults()

	stats = stats.Tagged(map[string]string{
		"module": "workerpool",
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		config:      config,
		stats:       stats,
		clk:         clk,
		jobs:        jobs,
		downloadQ:   downloadQ,
		conversionQ: conversionQ,
		metainfo:    metainfo,
		downloader:  downloader,
		transcoder:  transcoder,
		videos:      videos,
		ctx:         ctx,
		cancel:      cancel,
		stopc:       make(chan struct{}),
		running:     make(map[string]context.CancelFunc),
	}
}

// Start recovers abandoned messages and launches the worker pools.
func (p *Pool) Start() error {
	for _, dir := range []string{p.config.DownloadDir, p.config.CacheDir} {
		if err := os.MkdirAll(dir, 0775); err != nil {
			return fmt.Errorf("create dir %s: %s", dir, err)
		}
	}
	for _, q := range []*queue.Queue{p.downloadQ, p.conversionQ} {
		n, err := q.RecoverProcessing()
		if err != nil {
			return fmt.Errorf("recover processing: %s", err)
		}
		if n > 0 {
			log.Infof("Recovered %d abandoned queue messages", n)
		}
	}
	for i := 0; i < p.config.DownloadWorkers; i++ {
		p.wg.Add(1)
		go p.work(p.downloadQ, p.processDownload)
	}
	for i := 0; i < p.config.ConversionWorkers; i++ {
		p.wg.Add(1)
		go p.work(p.conversionQ, p.processConversion)
	}
	return nil
}

// Stop cancels in-flight work and blocks until every worker exits. Unacked
// messages are redelivered on the next Start.
func (p *Pool) Stop() {
	close(p.stopc)
	p.cancel()
	p.wg.Wait()
}

func (p *Pool) work(q *queue.Queue, process func(*queue.Envelope)) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopc:
			return
		default:
		}
		e, err := q.Dequeue()
		if err != nil {
			if err != queue.ErrEmpty {
				log.Errorf("Dequeue: %s", err)
			}
			select {
			case <-p.stopc:
				return
			case <-p.clk.After(p.config.PollInterval):
			}
			continue
		}
		process(e)
	}
}

// fail transitions a job to FAILED with the given cause. Losing a race
// against cancellation is fine.
func (p *Pool) fail(jobID string, cause error) {
	log.With("job", jobID).Errorf("Job failed: %s", cause)
	p.stats.Counter("job_failures").Inc(1)
	if err := p.jobs.SetStatus(jobID, jobstore.StatusFailed, cause.Error()); err != nil {
		log.With("job", jobID).Errorf("Error recording failure: %s", err)
	}
}

// interrupted returns whether err is due to pool shutdown, in which case the
// message must be left unacked for redelivery.
func (p *Pool) interrupted(err error) bool {
	return p.ctx.Err() != nil
}

// CancelDownload transitions a job to CANCELLED and interrupts its running
// download, if this pool is executing one.
func (p *Pool) CancelDownload(jobID string) error {
	if err := p.jobs.SetStatus(jobID, jobstore.StatusCancelled, ""); err != nil {
		return err
	}
	p.mu.Lock()
	cancel, ok := p.running[jobID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// track derives a per-job context which CancelDownload can interrupt. The
// returned closure unregisters the job.
func (p *Pool) track(jobID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(p.ctx)
	p.mu.Lock()
	p.running[jobID] = cancel
	p.mu.Unlock()
	return ctx, func() {
		cancel()
		p.mu.Lock()
		delete(p.running, jobID)
		p.mu.Unlock()
	}
}
