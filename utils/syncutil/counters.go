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

// Package syncutil provides small synchronization primitives.
package syncutil

import "sync"

// slot holds one counter value and its own lock, so updates to different
// indexes never contend.
type slot struct {
	mu    sync.RWMutex
	value int
}

// Counters is a fixed-length list of integers safe for concurrent access.
// The length is set at construction and never changes.
type Counters []slot

// NewCounters returns length zeroed counters.
func NewCounters(length int) Counters {
	return Counters(make([]slot, length))
}

// Len returns the number of counters.
func (c Counters) Len() int {
	return len(c)
}

// Get returns the value at index i.
func (c Counters) Get(i int) int {
	c[i].mu.RLock()
	defer c[i].mu.RUnlock()

	return c[i].value
}

// Set overwrites the value at index i.
func (c Counters) Set(i, v int) {
	c[i].mu.Lock()
	defer c[i].mu.Unlock()

	c[i].value = v
}

// Increment adds one to the value at index i.
func (c Counters) Increment(i int) {
	c[i].mu.Lock()
	defer c[i].mu.Unlock()

	c[i].value++
}

// Decrement subtracts one from the value at index i.
func (c Counters) Decrement(i int) {
	c[i].mu.Lock()
	defer c[i].mu.Unlock()

	c[i].value--
}
