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
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/hypertube/hypertube/core"
	"github.com/hypertube/hypertube/lib/jobstore"
	"github.com/hypertube/hypertube/lib/queue"
	"github.com/hypertube/hypertube/lib/torrent/scheduler"
	"github.com/hypertube/hypertube/lib/torrent/storage"
	"github.com/hypertube/hypertube/lib/transcode"
	"github.com/hypertube/hypertube/lib/videostore"
	"github.com/hypertube/hypertube/tracker/metainfoclient"
	"github.com/hypertube/hypertube/utils/testutil"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
)

type fakeMetaInfoClient struct {
	torrents map[core.InfoHash]*core.MetaInfo
}

func (c *fakeMetaInfoClient) Download(h core.InfoHash) (*core.MetaInfo, error) {
	mi, ok := c.torrents[h]
	if !ok {
		return nil, metainfoclient.ErrNotFound
	}
	return mi, nil
}

// fakeDownloader materializes torrent content instantly from the fixture
// instead of talking to a swarm.
type fakeDownloader struct {
	tf    *core.TorrentFixture
	err   error
	block bool
}

func (d *fakeDownloader) Download(
	ctx context.Context,
	t *storage.Torrent,
	trackers []string,
	publish func(scheduler.Progress)) error {

	if d.err != nil {
		return d.err
	}
	if d.block {
		<-ctx.Done()
		return ctx.Err()
	}
	for i := 0; i < t.NumPieces(); i++ {
		if _, err := storage.WriteTorrentPiece(t, d.tf, i); err != nil {
			return err
		}
	}
	if publish != nil {
		publish(scheduler.Progress{
			DownloadedBytes: t.Length(),
			TotalBytes:      t.Length(),
			Phase:           scheduler.PhaseFinalizing,
		})
	}
	return nil
}

// fakeTranscoder scripts probe results and copies input to output on
// conversion. Converted outputs probe as streamable MP4.
type fakeTranscoder struct {
	needs bool
	err   error

	mu        sync.Mutex
	converted map[string]bool
}

func (tr *fakeTranscoder) Probe(ctx context.Context, path string) (*transcode.MediaInfo, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.needs && !tr.converted[path] {
		return &transcode.MediaInfo{
			Format:          "matroska,webm",
			VideoCodec:      "hevc",
			AudioCodec:      "ac3",
			Width:           1920,
			Height:          1080,
			DurationSeconds: 90,
			BitRate:         1500000,
		}, nil
	}
	return &transcode.MediaInfo{
		Format:          "mov,mp4,m4a,3gp,3g2,mj2",
		VideoCodec:      "h264",
		AudioCodec:      "aac",
		Width:           1280,
		Height:          720,
		DurationSeconds: 90,
		BitRate:         1200000,
	}, nil
}

func (tr *fakeTranscoder) Convert(ctx context.Context, in, out string) error {
	if tr.err != nil {
		return tr.err
	}
	b, err := ioutil.ReadFile(in)
	if err != nil {
		return err
	}
	if err := ioutil.WriteFile(out, b, 0644); err != nil {
		return err
	}
	tr.mu.Lock()
	tr.converted[out] = true
	tr.mu.Unlock()
	return nil
}

type poolMocks struct {
	jobs        *jobstore.Store
	videos      *videostore.Store
	downloadQ   *queue.Queue
	conversionQ *queue.Queue
	metainfo    *fakeMetaInfoClient
	downloader  *fakeDownloader
	transcoder  *fakeTranscoder
}

func newPoolMocks(t *testing.T) (*poolMocks, func()) {
	var cleanup testutil.Cleanup
	defer cleanup.Recover()

	jobs, _, c := jobstore.StoreFixture()
	cleanup.Add(c)

	videos, _, c := videostore.StoreFixture(videostore.Config{})
	cleanup.Add(c)

	downloadQ, _, c := queue.Fixture("download")
	cleanup.Add(c)

	conversionQ, _, c := queue.Fixture("conversion")
	cleanup.Add(c)

	m := &poolMocks{
		jobs:        jobs,
		videos:      videos,
		downloadQ:   downloadQ,
		conversionQ: conversionQ,
		metainfo:    &fakeMetaInfoClient{torrents: map[core.InfoHash]*core.MetaInfo{}},
		downloader:  &fakeDownloader{},
		transcoder:  &fakeTranscoder{converted: map[string]bool{}},
	}
	return m, cleanup.Run
}

func (m *poolMocks) newPool(t *testing.T) (*Pool, func()) {
	var cleanup testutil.Cleanup
	defer cleanup.Recover()

	downloadDir, err := ioutil.TempDir("", "downloads-")
	require.NoError(t, err)
	cleanup.Add(func() { os.RemoveAll(downloadDir) })

	cacheDir, err := ioutil.TempDir("", "cache-")
	require.NoError(t, err)
	cleanup.Add(func() { os.RemoveAll(cacheDir) })

	config := Config{
		DownloadWorkers:   1,
		ConversionWorkers: 1,
		PollInterval:      10 * time.Millisecond,
		DownloadDir:       downloadDir,
		CacheDir:          cacheDir,
	}
	p := New(
		config, tally.NoopScope, clock.New(),
		m.jobs, m.downloadQ, m.conversionQ,
		m.metainfo, m.downloader, m.transcoder, m.videos)
	return p, cleanup.Run
}

// seedJob registers a torrent fixture with the fake metainfo client, creates
// a job for it and enqueues the download message.
func (m *poolMocks) seedJob(t *testing.T, tf *core.TorrentFixture) *jobstore.Job {
	h := tf.MetaInfo.InfoHash()
	m.metainfo.torrents[h] = tf.MetaInfo
	m.downloader.tf = tf

	magnet := fmt.Sprintf("magnet:?xt=urn:btih:%s&dn=test", h.Hex())
	job, created, err := m.jobs.Initiate("v1", "t1", "u1", magnet)
	require.NoError(t, err)
	require.True(t, created)

	_, err = queue.EnqueueDownload(m.downloadQ, &queue.DownloadMessage{
		JobID:     job.ID,
		MagnetURI: magnet,
		Priority:  5,
	})
	require.NoError(t, err)
	return job
}

func waitForStatus(t *testing.T, jobs *jobstore.Store, id string, want jobstore.Status) *jobstore.Job {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j, err := jobs.Get(id)
		require.NoError(t, err)
		if j.Status == want {
			return j
		}
		if j.Status == jobstore.StatusFailed && want != jobstore.StatusFailed {
			t.Fatalf("job failed: %s", j.ErrorMessage)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for job %s to reach %s", id, want)
	return nil
}

func TestPoolRunsJobToCompletion(t *testing.T) {
	require := require.New(t)

	mocks, cleanup := newPoolMocks(t)
	defer cleanup()

	mocks.transcoder.needs = true

	tf := core.SingleFileTorrentFixture(4*storage.BlockSize, 2*storage.BlockSize)
	job := mocks.seedJob(t, tf)

	p, c := mocks.newPool(t)
	defer c()
	require.NoError(p.Start())
	defer p.Stop()

	j := waitForStatus(t, mocks.jobs, job.ID, jobstore.StatusCompleted)

	// Conversion was required, so the final file lives in the cache dir.
	b, err := ioutil.ReadFile(j.FilePath)
	require.NoError(err)
	require.Equal(tf.Content, b)

	// The cache record carries the probed metadata of the converted output.
	v, err := mocks.videos.Get("v1")
	require.NoError(err)
	require.Equal("t1", v.TorrentID)
	require.Equal(j.FilePath, v.FilePath)
	require.Equal(int64(len(tf.Content)), v.SizeBytes)
	require.Equal("video/mp4", v.ContentType)
	require.Equal("mov,mp4,m4a,3gp,3g2,mj2", v.Format)
	require.Equal("h264", v.Codec)
	require.Equal("1280x720", v.Resolution)
	require.Equal(float64(90), v.DurationSeconds)
	require.Equal(int64(1200000), v.Bitrate)

	transitions, err := mocks.jobs.GetTransitions(job.ID)
	require.NoError(err)
	var states []jobstore.Status
	for _, tr := range transitions {
		states = append(states, tr.ToStatus)
	}
	require.Equal([]jobstore.Status{
		jobstore.StatusDownloading,
		jobstore.StatusConverting,
		jobstore.StatusCompleted,
	}, states)
}

func TestPoolSkipsConversionWhenInputIsStreamable(t *testing.T) {
	require := require.New(t)

	mocks, cleanup := newPoolMocks(t)
	defer cleanup()

	mocks.transcoder.needs = false

	tf := core.SingleFileTorrentFixture(2*storage.BlockSize, 2*storage.BlockSize)
	job := mocks.seedJob(t, tf)

	p, c := mocks.newPool(t)
	defer c()
	require.NoError(p.Start())
	defer p.Stop()

	j := waitForStatus(t, mocks.jobs, job.ID, jobstore.StatusCompleted)

	// Original download is registered as-is, with its probed metadata.
	v, err := mocks.videos.Get("v1")
	require.NoError(err)
	require.Equal(j.FilePath, v.FilePath)
	require.Equal("h264", v.Codec)
	require.Equal("1280x720", v.Resolution)

	b, err := ioutil.ReadFile(j.FilePath)
	require.NoError(err)
	require.Equal(tf.Content, b)
}

func TestPoolFailsJobOnDownloadError(t *testing.T) {
	require := require.New(t)

	mocks, cleanup := newPoolMocks(t)
	defer cleanup()

	mocks.downloader.err = errors.New("swarm gone")

	tf := core.SingleFileTorrentFixture(2*storage.BlockSize, 2*storage.BlockSize)
	job := mocks.seedJob(t, tf)

	p, c := mocks.newPool(t)
	defer c()
	require.NoError(p.Start())
	defer p.Stop()

	j := waitForStatus(t, mocks.jobs, job.ID, jobstore.StatusFailed)
	require.Contains(j.ErrorMessage, "swarm gone")
}

func TestPoolFailsJobOnUnknownTorrent(t *testing.T) {
	require := require.New(t)

	mocks, cleanup := newPoolMocks(t)
	defer cleanup()

	tf := core.SingleFileTorrentFixture(2*storage.BlockSize, 2*storage.BlockSize)
	job := mocks.seedJob(t, tf)

	// No source knows about this torrent.
	delete(mocks.metainfo.torrents, tf.MetaInfo.InfoHash())

	p, c := mocks.newPool(t)
	defer c()
	require.NoError(p.Start())
	defer p.Stop()

	j := waitForStatus(t, mocks.jobs, job.ID, jobstore.StatusFailed)
	require.Contains(j.ErrorMessage, "resolve metainfo")
}

func TestPoolFailsJobOnConversionError(t *testing.T) {
	require := require.New(t)

	mocks, cleanup := newPoolMocks(t)
	defer cleanup()

	mocks.transcoder.needs = true
	mocks.transcoder.err = errors.New("codec exploded")

	tf := core.SingleFileTorrentFixture(2*storage.BlockSize, 2*storage.BlockSize)
	job := mocks.seedJob(t, tf)

	p, c := mocks.newPool(t)
	defer c()
	require.NoError(p.Start())
	defer p.Stop()

	j := waitForStatus(t, mocks.jobs, job.ID, jobstore.StatusFailed)
	require.Contains(j.ErrorMessage, "codec exploded")
}

func TestPoolCancelsRunningDownload(t *testing.T) {
	require := require.New(t)

	mocks, cleanup := newPoolMocks(t)
	defer cleanup()

	mocks.downloader.block = true

	tf := core.SingleFileTorrentFixture(2*storage.BlockSize, 2*storage.BlockSize)
	job := mocks.seedJob(t, tf)

	p, c := mocks.newPool(t)
	defer c()
	require.NoError(p.Start())
	defer p.Stop()

	waitForStatus(t, mocks.jobs, job.ID, jobstore.StatusDownloading)

	require.NoError(p.CancelDownload(job.ID))

	j := waitForStatus(t, mocks.jobs, job.ID, jobstore.StatusCancelled)
	require.Equal(jobstore.StatusCancelled, j.Status)

	// The message was acked, not redelivered.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		n, err := mocks.downloadQ.Len()
		require.NoError(err)
		if n == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("cancelled message was never acked")
}

func TestPoolDropsMalformedMessages(t *testing.T) {
	require := require.New(t)

	mocks, cleanup := newPoolMocks(t)
	defer cleanup()

	_, err := mocks.downloadQ.Enqueue([]byte("not json"), 5)
	require.NoError(err)

	p, c := mocks.newPool(t)
	defer c()
	require.NoError(p.Start())
	defer p.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		n, err := mocks.downloadQ.Len()
		require.NoError(err)
		if n == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("malformed message was never drained")
}

func TestPoolDropsMessagesForUnknownJobs(t *testing.T) {
	require := require.New(t)

	mocks, cleanup := newPoolMocks(t)
	defer cleanup()

	_, err := queue.EnqueueDownload(mocks.downloadQ, &queue.DownloadMessage{
		JobID:     "no-such-job",
		MagnetURI: "magnet:?xt=urn:btih:0000000000000000000000000000000000000000",
		Priority:  5,
	})
	require.NoError(err)

	p, c := mocks.newPool(t)
	defer c()
	require.NoError(p.Start())
	defer p.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		n, err := mocks.downloadQ.Len()
		require.NoError(err)
		if n == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("unknown-job message was never drained")
}

func TestPoolIgnoresStaleMessagesForTerminalJobs(t *testing.T) {
	require := require.New(t)

	mocks, cleanup := newPoolMocks(t)
	defer cleanup()

	tf := core.SingleFileTorrentFixture(2*storage.BlockSize, 2*storage.BlockSize)
	job := mocks.seedJob(t, tf)

	// Cancel before any worker picks the message up.
	require.NoError(mocks.jobs.SetStatus(job.ID, jobstore.StatusCancelled, ""))

	p, c := mocks.newPool(t)
	defer c()
	require.NoError(p.Start())
	defer p.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		n, err := mocks.downloadQ.Len()
		require.NoError(err)
		if n == 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	j, err := mocks.jobs.Get(job.ID)
	require.NoError(err)
	require.Equal(jobstore.StatusCancelled, j.Status)
}
