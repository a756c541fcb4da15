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

// Package transcode gates downloads through an external media process so
// that everything served to browsers is MP4 with H.264 video.
package transcode

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hypertube/hypertube/utils/log"
)

// MediaInfo describes the container, codecs and dimensions of a media file.
type MediaInfo struct {
	Format          string
	VideoCodec      string
	AudioCodec      string
	Width           int
	Height          int
	DurationSeconds float64
	BitRate         int64
}

// Resolution renders the frame dimensions as "WxH", or "" when unknown.
func (i *MediaInfo) Resolution() string {
	if i.Width == 0 && i.Height == 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", i.Width, i.Height)
}

// Streamable returns whether the file already satisfies the serving
// contract: MP4 container with H.264 video.
func (i *MediaInfo) Streamable() bool {
	return strings.Contains(i.Format, "mp4") && strings.Contains(i.VideoCodec, "h264")
}

// Transcoder inspects and converts media files by shelling out to ffprobe
// and ffmpeg.
type Transcoder struct {
	config Config

	// run is swapped in tests to avoid requiring ffmpeg on the host.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// New creates a new Transcoder.
func New(config Config) *Transcoder {
	return &Transcoder{
		config: config.applyDefaults(),
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}
}

// Probe inspects path with ffprobe.
func (t *Transcoder) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat input: %s", err)
	}
	info := &MediaInfo{}

	out, err := t.run(ctx, t.config.FFProbePath,
		"-v", "quiet",
		"-show_entries", "format=format_name,duration,bit_rate",
		"-of", "csv=p=0",
		path)
	if err != nil {
		return nil, fmt.Errorf("probe format: %s", err)
	}
	// format_name may itself contain commas (e.g. "mov,mp4,m4a,3gp,3g2,mj2"),
	// so the numeric fields are peeled off from the right.
	line := strings.TrimSpace(string(out))
	if i := strings.LastIndex(line, ","); i >= 0 {
		if b, err := strconv.ParseInt(strings.TrimSpace(line[i+1:]), 10, 64); err == nil {
			info.BitRate = b
			line = line[:i]
		}
	}
	if i := strings.LastIndex(line, ","); i >= 0 {
		if d, err := strconv.ParseFloat(strings.TrimSpace(line[i+1:]), 64); err == nil {
			info.DurationSeconds = d
			line = line[:i]
		}
	}
	info.Format = line

	out, err = t.run(ctx, t.config.FFProbePath,
		"-v", "quiet",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_name,width,height",
		"-of", "csv=p=0",
		path)
	if err != nil {
		return nil, fmt.Errorf("probe video stream: %s", err)
	}
	fields := strings.Split(strings.TrimSpace(string(out)), ",")
	info.VideoCodec = strings.TrimSpace(fields[0])
	if len(fields) >= 3 {
		if w, err := strconv.Atoi(strings.TrimSpace(fields[1])); err == nil {
			info.Width = w
		}
		if h, err := strconv.Atoi(strings.TrimSpace(fields[2])); err == nil {
			info.Height = h
		}
	}

	out, err = t.run(ctx, t.config.FFProbePath,
		"-v", "quiet",
		"-select_streams", "a:0",
		"-show_entries", "stream=codec_name",
		"-of", "csv=p=0",
		path)
	if err != nil {
		return nil, fmt.Errorf("probe audio codec: %s", err)
	}
	info.AudioCodec = strings.TrimSpace(string(out))

	return info, nil
}

// Convert transcodes in to an MP4/H.264 baseline file at out. The output
// appears at its final path only after a fully successful run; failures
// leave no partial file behind.
func (t *Transcoder) Convert(ctx context.Context, in, out string) error {
	ctx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(out), 0775); err != nil {
		return fmt.Errorf("create output dir: %s", err)
	}
	tmp := filepath.Join(filepath.Dir(out), "."+filepath.Base(out)+".converting")
	defer os.Remove(tmp)

	log.With("input", in, "output", out).Info("Starting conversion")

	_, err := t.run(ctx, t.config.FFMPEGPath,
		"-i", in,
		"-c:v", "libx264",
		"-profile:v", "baseline",
		"-preset", t.config.Preset,
		"-crf", strconv.Itoa(t.config.CRF),
		"-c:a", "aac",
		"-b:a", t.config.AudioBitrate,
		"-movflags", "+faststart",
		"-f", "mp4",
		"-y", tmp)
	if err != nil {
		return fmt.Errorf("run ffmpeg: %s", err)
	}
	if fi, err := os.Stat(tmp); err != nil || fi.Size() == 0 {
		return fmt.Errorf("conversion produced no output")
	}
	if err := os.Rename(tmp, out); err != nil {
		return fmt.Errorf("rename output: %s", err)
	}
	return nil
}
