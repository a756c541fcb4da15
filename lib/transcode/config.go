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
package transcode

import "time"

// Config defines external media process configuration.
type Config struct {
	FFMPEGPath  string `yaml:"ffmpeg_path"`
	FFProbePath string `yaml:"ffprobe_path"`

	Preset       string `yaml:"preset"`
	CRF          int    `yaml:"crf"`
	AudioBitrate string `yaml:"audio_bitrate"`

	// Timeout bounds a single conversion run.
	Timeout time.Duration `yaml:"timeout"`
}

func (c Config) applyDefaults() Config {
	if c.FFMPEGPath == "" {
		c.FFMPEGPath = "ffmpeg"
	}
	if c.FFProbePath == "" {
		c.FFProbePath = "ffprobe"
	}
	if c.Preset == "" {
		c.Preset = "veryfast"
	}
	if c.CRF == 0 {
		c.CRF = 23
	}
	if c.AudioBitrate == "" {
		c.AudioBitrate = "128k"
	}
	if c.Timeout == 0 {
		c.Timeout = 2 * time.Hour
	}
	return c
}
