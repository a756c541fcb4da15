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

	"github.com/hypertube/hypertube/lib/jobstore"
	"github.com/hypertube/hypertube/lib/queue"
	"github.com/hypertube/hypertube/lib/videostore"
	"github.com/hypertube/hypertube/utils/log"
)

// streamContentType is what every file leaving the conversion pipeline is
// served as. Inputs which already satisfy the container contract skip
// transcoding but still match it.
const streamContentType = "video/mp4"

func (p *Pool) processConversion(e *queue.Envelope) {
	msg, err := queue.DecodeConversion(e)
	if err != nil {
		log.Errorf("Dropping malformed conversion message: %s", err)
		p.conversionQ.Ack(e.ID)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.With("job", msg.JobID).Errorf("Panic in conversion worker: %v", r)
			p.fail(msg.JobID, fmt.Errorf("internal error: %v", r))
			p.conversionQ.Ack(e.ID)
		}
	}()

	job, err := p.jobs.Get(msg.JobID)
	if err != nil {
		log.With("job", msg.JobID).Errorf("Dropping message for unknown job: %s", err)
		p.conversionQ.Ack(e.ID)
		return
	}
	if job.Status != jobstore.StatusConverting {
		// Conversion is re-runnable thanks to temp-file + rename, so a
		// redelivery in CONVERTING restarts it. Anything else is stale.
		p.conversionQ.Ack(e.ID)
		return
	}

	if err := p.runConversion(job, msg); err != nil {
		if p.interrupted(err) {
			return
		}
		p.fail(job.ID, err)
	}
	p.conversionQ.Ack(e.ID)
}

func (p *Pool) runConversion(job *jobstore.Job, msg *queue.ConversionMessage) error {
	info, err := p.transcoder.Probe(p.ctx, msg.InputPath)
	if err != nil {
		return fmt.Errorf("probe input: %s", err)
	}

	final := msg.InputPath
	if !info.Streamable() {
		if err := p.transcoder.Convert(p.ctx, msg.InputPath, msg.OutputPath); err != nil {
			return fmt.Errorf("convert: %s", err)
		}
		final = msg.OutputPath
		if info, err = p.transcoder.Probe(p.ctx, final); err != nil {
			return fmt.Errorf("probe output: %s", err)
		}
	}

	fi, err := os.Stat(final)
	if err != nil {
		return fmt.Errorf("stat output: %s", err)
	}
	if err := p.videos.Add(&videostore.CachedVideo{
		VideoID:         job.VideoID,
		TorrentID:       job.TorrentID,
		JobID:           job.ID,
		FilePath:        final,
		SizeBytes:       fi.Size(),
		ContentType:     streamContentType,
		Format:          info.Format,
		Codec:           info.VideoCodec,
		Resolution:      info.Resolution(),
		DurationSeconds: info.DurationSeconds,
		Bitrate:         info.BitRate,
	}); err != nil {
		return fmt.Errorf("register cached video: %s", err)
	}
	if err := p.jobs.SetFilePath(job.ID, final); err != nil {
		return fmt.Errorf("record file path: %s", err)
	}
	if err := p.jobs.SetStatus(job.ID, jobstore.StatusCompleted, ""); err != nil {
		return fmt.Errorf("transition to completed: %s", err)
	}
	return nil
}
