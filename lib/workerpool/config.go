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

import "time"

// Config defines worker pool configuration.
type Config struct {
	// DownloadWorkers is the number of concurrent torrent downloads.
	DownloadWorkers int `yaml:"download_workers"`

	// ConversionWorkers is the number of concurrent transcodes.
	ConversionWorkers int `yaml:"conversion_workers"`

	// PollInterval is how long an idle worker sleeps between dequeues.
	PollInterval time.Duration `yaml:"poll_interval"`

	// DownloadDir is where in-progress torrent content is written, one
	// subdirectory per job.
	DownloadDir string `yaml:"download_dir"`

	// CacheDir is where converted, streamable files are written.
	CacheDir string `yaml:"cache_dir"`
}

func (c Config) applyDefaults() Config {
	if c.DownloadWorkers == 0 {
		c.DownloadWorkers = 3
	}
	if c.ConversionWorkers == 0 {
		c.ConversionWorkers = 2
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
	if c.DownloadDir == "" {
		c.DownloadDir = "downloads"
	}
	if c.CacheDir == "" {
		c.CacheDir = "cache"
	}
	return c
}
