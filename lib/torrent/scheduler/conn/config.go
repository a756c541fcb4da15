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
package conn

import "time"

// Config defines peer connection configuration.
type Config struct {
	// DialTimeout bounds the TCP connect plus handshake exchange.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// ReadTimeout is the deadline for a single read. Expiration sends a
	// keep-alive rather than dropping the connection.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// KeepAliveInterval is how often a keep-alive is written on an
	// otherwise idle outbound channel.
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`

	// IdleTimeout drops a connection which has received nothing at all for
	// this long.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// SenderBufferSize bounds queued outbound messages.
	SenderBufferSize int `yaml:"sender_buffer_size"`

	// ReceiverBufferSize bounds queued inbound messages.
	ReceiverBufferSize int `yaml:"receiver_buffer_size"`
}

func (c Config) applyDefaults() Config {
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = 90 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	if c.SenderBufferSize == 0 {
		c.SenderBufferSize = 64
	}
	if c.ReceiverBufferSize == 0 {
		c.ReceiverBufferSize = 64
	}
	return c
}
