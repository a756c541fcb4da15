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
package queue

import (
	"github.com/alicebob/miniredis"
	"github.com/andres-erbsen/clock"
)

// Fixture returns a Queue backed by an embedded Redis plus a mock clock.
func Fixture(name string) (*Queue, *clock.Mock, func()) {
	s, err := miniredis.Run()
	if err != nil {
		panic(err)
	}
	clk := clock.NewMock()
	q, err := New(Config{Addr: s.Addr()}, name, clk)
	if err != nil {
		s.Close()
		panic(err)
	}
	return q, clk, s.Close
}
