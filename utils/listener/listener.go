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

// Package listener serves HTTP on a configurable network, letting
// deployments swap tcp and unix sockets without code changes.
package listener

import (
	"fmt"
	"net"
	"net/http"
)

// Config defines listener configuration.
type Config struct {
	// Net is the network to listen on, e.g. tcp or unix.
	Net string `yaml:"net"`

	// Addr is the address to listen on.
	Addr string `yaml:"addr"`
}

func (c Config) String() string {
	return fmt.Sprintf("%s:%s", c.Net, c.Addr)
}

// Serve serves h on a listener bound per config. Blocks until the server
// exits.
func Serve(config Config, h http.Handler) error {
	l, err := net.Listen(config.Net, config.Addr)
	if err != nil {
		return err
	}
	return http.Serve(l, h)
}
