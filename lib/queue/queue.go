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

// Package queue implements a durable priority work queue on Redis. Messages
// carry a priority in [1, 10] and a TTL; expired messages are discarded at
// dequeue time. Dequeued messages are parked in a processing set until
// acknowledged, so an unacknowledged message survives a worker crash and can
// be redelivered.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hypertube/hypertube/utils/log"

	"github.com/andres-erbsen/clock"
	"github.com/gomodule/redigo/redis"
	"github.com/satori/go.uuid"
)

// Priority bounds.
const (
	MinPriority = 1
	MaxPriority = 10
)

// ErrEmpty occurs when a dequeue finds no live messages.
var ErrEmpty = errors.New("queue is empty")

// ErrInvalidPriority occurs when enqueueing outside [MinPriority, MaxPriority].
var ErrInvalidPriority = errors.New("priority must be within [1, 10]")

// Envelope wraps a queued payload with delivery metadata.
type Envelope struct {
	ID         string `json:"id"`
	Priority   int    `json:"priority"`
	EnqueuedAt int64  `json:"enqueued_at"`
	TTL        int64  `json:"ttl"`
	Payload    []byte `json:"payload"`
}

func (e *Envelope) expired(now time.Time) bool {
	return now.UnixNano() > e.EnqueuedAt+e.TTL
}

// Queue is a named durable priority queue.
type Queue struct {
	config Config
	name   string
	pool   *redis.Pool
	clk    clock.Clock
}

// New creates a Queue under the given name.
func New(config Config, name string, clk clock.Clock) (*Queue, error) {
	config = config.applyDefaults()

	if config.Addr == "" {
		return nil, errors.New("invalid config: missing addr")
	}

	return &Queue{
		config: config,
		name:   name,
		pool: &redis.Pool{
			Dial: func() (redis.Conn, error) {
				return redis.Dial(
					"tcp",
					config.Addr,
					redis.DialConnectTimeout(config.DialTimeout),
					redis.DialReadTimeout(config.ReadTimeout),
					redis.DialWriteTimeout(config.WriteTimeout))
			},
			MaxIdle:     config.MaxIdleConns,
			MaxActive:   config.MaxActiveConns,
			IdleTimeout: config.IdleConnTimeout,
			Wait:        true,
		},
		clk: clk,
	}, nil
}

func (q *Queue) pendingKey(priority int) string {
	return fmt.Sprintf("queue:%s:p%02d", q.name, priority)
}

func (q *Queue) processingKey() string {
	return fmt.Sprintf("queue:%s:processing", q.name)
}

// Enqueue appends payload at the given priority and returns the message id.
func (q *Queue) Enqueue(payload []byte, priority int) (string, error) {
	if priority < MinPriority || priority > MaxPriority {
		return "", ErrInvalidPriority
	}
	e := &Envelope{
		ID:         uuid.NewV4().String(),
		Priority:   priority,
		EnqueuedAt: q.clk.Now().UnixNano(),
		TTL:        int64(q.config.TTL),
		Payload:    payload,
	}
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %s", err)
	}

	c := q.pool.Get()
	defer c.Close()

	if _, err := c.Do("RPUSH", q.pendingKey(priority), b); err != nil {
		return "", fmt.Errorf("rpush: %s", err)
	}
	return e.ID, nil
}

// Dequeue pops the highest-priority live message, FIFO within a priority.
// The message stays parked in the processing set until Ack. Returns ErrEmpty
// when no live messages remain.
func (q *Queue) Dequeue() (*Envelope, error) {
	c := q.pool.Get()
	defer c.Close()

	now := q.clk.Now()
	for priority := MaxPriority; priority >= MinPriority; priority-- {
		for {
			b, err := redis.Bytes(c.Do("LPOP", q.pendingKey(priority)))
			if err == redis.ErrNil {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("lpop: %s", err)
			}
			var e Envelope
			if err := json.Unmarshal(b, &e); err != nil {
				return nil, fmt.Errorf("unmarshal envelope: %s", err)
			}
			if e.expired(now) {
				log.With("queue", q.name, "id", e.ID).Info("Discarding expired message")
				continue
			}
			if _, err := c.Do("HSET", q.processingKey(), e.ID, b); err != nil {
				return nil, fmt.Errorf("hset processing: %s", err)
			}
			return &e, nil
		}
	}
	return nil, ErrEmpty
}

// Ack removes a delivered message from the processing set. Idempotent.
func (q *Queue) Ack(id string) error {
	c := q.pool.Get()
	defer c.Close()

	if _, err := c.Do("HDEL", q.processingKey(), id); err != nil {
		return fmt.Errorf("hdel processing: %s", err)
	}
	return nil
}

// RecoverProcessing requeues every unacknowledged message at its original
// priority. Intended to run on worker pool startup so messages orphaned by a
// crash are redelivered. Expired messages are discarded. Returns the number
// of messages requeued.
func (q *Queue) RecoverProcessing() (int, error) {
	c := q.pool.Get()
	defer c.Close()

	values, err := redis.ByteSlices(c.Do("HVALS", q.processingKey()))
	if err != nil {
		return 0, fmt.Errorf("hvals processing: %s", err)
	}

	now := q.clk.Now()
	var n int
	for _, b := range values {
		var e Envelope
		if err := json.Unmarshal(b, &e); err != nil {
			return n, fmt.Errorf("unmarshal envelope: %s", err)
		}
		if !e.expired(now) {
			// Requeue at the head to preserve rough ordering.
			if _, err := c.Do("LPUSH", q.pendingKey(e.Priority), b); err != nil {
				return n, fmt.Errorf("lpush: %s", err)
			}
			n++
		}
		if _, err := c.Do("HDEL", q.processingKey(), e.ID); err != nil {
			return n, fmt.Errorf("hdel processing: %s", err)
		}
	}
	return n, nil
}

// Len returns the number of pending messages across all priorities.
func (q *Queue) Len() (int, error) {
	c := q.pool.Get()
	defer c.Close()

	var n int
	for priority := MinPriority; priority <= MaxPriority; priority++ {
		l, err := redis.Int(c.Do("LLEN", q.pendingKey(priority)))
		if err != nil {
			return 0, fmt.Errorf("llen: %s", err)
		}
		n += l
	}
	return n, nil
}
