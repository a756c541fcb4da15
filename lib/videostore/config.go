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
package videostore

import (
	"time"

	"github.com/c2h5oh/datasize"
)

// Config defines video cache configuration.
type Config struct {
	// MaxCacheSize caps total on-disk size of cached videos. When exceeded,
	// records are evicted by ascending last access time until usage drops
	// under the soft limit (90% of max).
	MaxCacheSize datasize.ByteSize `yaml:"max_cache_size"`

	// TTL expires cached videos regardless of access.
	TTL time.Duration `yaml:"ttl"`

	CleanupDisabled bool          `yaml:"cleanup_disabled"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

func (c Config) applyDefaults() Config {
	if c.MaxCacheSize == 0 {
		c.MaxCacheSize = 100 * datasize.GB
	}
	if c.TTL == 0 {
		c.TTL = 30 * 24 * time.Hour
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = 6 * time.Hour
	}
	return c
}

func (c Config) softLimit() int64 {
	return int64(float64(c.MaxCacheSize.Bytes()) * 0.9)
}
