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

// Package heap provides a min-oriented priority queue.
package heap

import (
	"container/heap"
	"errors"
)

// Item pairs an arbitrary value with its priority. Lower priority values pop
// first.
type Item struct {
	Value    interface{}
	Priority int
}

// PriorityQueue pops Items in ascending priority order.
type PriorityQueue struct {
	q items
}

// NewPriorityQueue creates a PriorityQueue seeded with the given items.
func NewPriorityQueue(seed ...*Item) *PriorityQueue {
	q := items(seed)
	heap.Init(&q)
	return &PriorityQueue{q}
}

// Len returns the number of queued Items.
func (pq *PriorityQueue) Len() int { return len(pq.q) }

// Push adds item to the queue.
func (pq *PriorityQueue) Push(item *Item) {
	heap.Push(&pq.q, item)
}

// Pop removes and returns the Item with the lowest priority value. Returns
// an error when the queue is empty.
func (pq *PriorityQueue) Pop() (*Item, error) {
	if len(pq.q) == 0 {
		return nil, errors.New("queue empty")
	}
	return heap.Pop(&pq.q).(*Item), nil
}

// items implements heap.Interface.
type items []*Item

func (q items) Len() int { return len(q) }

func (q items) Less(i, j int) bool { return q[i].Priority < q[j].Priority }

func (q items) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *items) Push(x interface{}) {
	*q = append(*q, x.(*Item))
}

func (q *items) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
