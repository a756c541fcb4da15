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
package streamserver

import (
	"time"

	"github.com/hypertube/hypertube/lib/middleware"
)

// Config defines Server configuration.
type Config struct {
	Auth middleware.AuthConfig `yaml:"auth"`

	// AuthDisabled serves every endpoint without token validation.
	// Test-only.
	AuthDisabled bool `yaml:"auth_disabled"`

	RateLimit middleware.RateLimitConfig `yaml:"rate_limit"`

	// StreamWait bounds how long a range request against a still-growing
	// download may wait for the requested offset to become available.
	StreamWait time.Duration `yaml:"stream_wait"`

	// StreamPollInterval is how often a waiting range request re-reads the
	// job record.
	StreamPollInterval time.Duration `yaml:"stream_poll_interval"`
}

func (c Config) applyDefaults() Config {
	if c.StreamWait == 0 {
		c.StreamWait = 5 * time.Second
	}
	if c.StreamPollInterval == 0 {
		c.StreamPollInterval = 250 * time.Millisecond
	}
	return c
}
