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
package announceclient

import "time"

// Config defines announce client configuration.
type Config struct {
	// Timeout bounds a single tracker request, connect and body included.
	Timeout time.Duration `yaml:"timeout"`

	// NumWant is the number of peers requested per announce.
	NumWant int `yaml:"num_want"`

	// Retries is the number of times a failed announce cycle is retried
	// before the error is surfaced.
	Retries uint64 `yaml:"retries"`
}

func (c Config) applyDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.NumWant == 0 {
		c.NumWant = 50
	}
	return c
}
