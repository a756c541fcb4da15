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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueuePriorityOrdering(t *testing.T) {
	require := require.New(t)

	q, _, cleanup := Fixture("download")
	defer cleanup()

	_, err := q.Enqueue([]byte("low"), 1)
	require.NoError(err)
	_, err = q.Enqueue([]byte("high"), 10)
	require.NoError(err)
	_, err = q.Enqueue([]byte("mid"), 5)
	require.NoError(err)

	var got []string
	for i := 0; i < 3; i++ {
		e, err := q.Dequeue()
		require.NoError(err)
		got = append(got, string(e.Payload))
		require.NoError(q.Ack(e.ID))
	}
	require.Equal([]string{"high", "mid", "low"}, got)

	_, err = q.Dequeue()
	require.Equal(ErrEmpty, err)
}

func TestQueueFIFOWithinPriority(t *testing.T) {
	require := require.New(t)

	q, _, cleanup := Fixture("download")
	defer cleanup()

	for _, payload := range []string{"a", "b", "c"} {
		_, err := q.Enqueue([]byte(payload), 5)
		require.NoError(err)
	}
	for _, want := range []string{"a", "b", "c"} {
		e, err := q.Dequeue()
		require.NoError(err)
		require.Equal(want, string(e.Payload))
	}
}

func TestQueueRejectsInvalidPriority(t *testing.T) {
	require := require.New(t)

	q, _, cleanup := Fixture("download")
	defer cleanup()

	_, err := q.Enqueue([]byte("x"), 0)
	require.Equal(ErrInvalidPriority, err)
	_, err = q.Enqueue([]byte("x"), 11)
	require.Equal(ErrInvalidPriority, err)
}

func TestQueueDiscardsExpiredMessages(t *testing.T) {
	require := require.New(t)

	q, clk, cleanup := Fixture("download")
	defer cleanup()

	_, err := q.Enqueue([]byte("stale"), 5)
	require.NoError(err)

	clk.Add(q.config.TTL + time.Second)

	_, err = q.Enqueue([]byte("fresh"), 5)
	require.NoError(err)

	e, err := q.Dequeue()
	require.NoError(err)
	require.Equal("fresh", string(e.Payload))

	_, err = q.Dequeue()
	require.Equal(ErrEmpty, err)
}

func TestQueueRecoverProcessing(t *testing.T) {
	require := require.New(t)

	q, _, cleanup := Fixture("download")
	defer cleanup()

	id, err := q.Enqueue([]byte("work"), 7)
	require.NoError(err)

	e, err := q.Dequeue()
	require.NoError(err)
	require.Equal(id, e.ID)

	// Simulated crash: never acked. Recovery makes it deliverable again.
	n, err := q.RecoverProcessing()
	require.NoError(err)
	require.Equal(1, n)

	e, err = q.Dequeue()
	require.NoError(err)
	require.Equal(id, e.ID)
	require.Equal(7, e.Priority)
	require.NoError(q.Ack(e.ID))

	// Acked messages are not recovered.
	n, err = q.RecoverProcessing()
	require.NoError(err)
	require.Equal(0, n)
}

func TestQueueLen(t *testing.T) {
	require := require.New(t)

	q, _, cleanup := Fixture("download")
	defer cleanup()

	n, err := q.Len()
	require.NoError(err)
	require.Equal(0, n)

	_, err = q.Enqueue([]byte("a"), 1)
	require.NoError(err)
	_, err = q.Enqueue([]byte("b"), 9)
	require.NoError(err)

	n, err = q.Len()
	require.NoError(err)
	require.Equal(2, n)
}

func TestDownloadMessageRoundTrip(t *testing.T) {
	require := require.New(t)

	q, _, cleanup := Fixture("download")
	defer cleanup()

	m := &DownloadMessage{JobID: "j1", MagnetURI: "magnet:?xt=urn:btih:abc", Priority: 8}
	_, err := EnqueueDownload(q, m)
	require.NoError(err)

	e, err := q.Dequeue()
	require.NoError(err)
	got, err := DecodeDownload(e)
	require.NoError(err)
	require.Equal(m, got)
}
