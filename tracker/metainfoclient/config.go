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
package metainfoclient

import "time"

// Config defines metainfo client configuration.
type Config struct {
	// Sources are torrent cache URL templates tried in order. A {hash}
	// placeholder is substituted with the hex info hash; templates without
	// one get "/<hash>.torrent" appended.
	Sources []string `yaml:"sources"`

	// Timeout bounds a single source request.
	Timeout time.Duration `yaml:"timeout"`

	// Retries is the number of times a failed download cycle is retried.
	Retries uint64 `yaml:"retries"`
}

func (c Config) applyDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}
