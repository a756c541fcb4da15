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
package middleware

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/hypertube/hypertube/utils/httputil"
	"github.com/hypertube/hypertube/utils/testutil"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
)

func TestScopeByEndpoint(t *testing.T) {
	tests := []struct {
		method   string
		path     string
		reqPath  string
		expected string
	}{
		{"GET", "/foo/{foo}/bar/{bar}", "/foo/x/bar/y", "foo.bar.GET"},
		{"POST", "/foo/{foo}/bar/{bar}", "/foo/x/bar/y", "foo.bar.POST"},
		{"GET", "/a/b/c", "/a/b/c", "a.b.c.GET"},
		{"GET", "/", "/", "GET"},
		{"GET", "/x/{a}/{b}/{c}", "/x/a/b/c", "x.GET"},
	}

	for _, test := range tests {
		t.Run(test.method+" "+test.path, func(t *testing.T) {
			require := require.New(t)

			stats := tally.NewTestScope("", nil)

			r := chi.NewRouter()
			r.HandleFunc(test.path, func(w http.ResponseWriter, r *http.Request) {
				scopeByEndpoint(stats, r).Counter("count").Inc(1)
			})
			addr, stop := testutil.StartServer(r)
			defer stop()

			_, err := httputil.Send(test.method, fmt.Sprintf("http://%s%s", addr, test.reqPath))
			require.NoError(err)

			counter, ok := stats.Snapshot().Counters()[test.expected+".count"]
			require.True(ok)
			require.Equal(int64(1), counter.Value())
		})
	}
}

func TestHitCounterAndLatencyTimer(t *testing.T) {
	require := require.New(t)

	stats := tally.NewTestScope("", nil)

	r := chi.NewRouter()
	r.Use(HitCounter(stats))
	r.Use(LatencyTimer(stats))
	r.Get("/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {})

	addr, stop := testutil.StartServer(r)
	defer stop()

	_, err := httputil.Get(fmt.Sprintf("http://%s/jobs/123", addr))
	require.NoError(err)

	counter, ok := stats.Snapshot().Counters()["jobs.GET.count"]
	require.True(ok)
	require.Equal(int64(1), counter.Value())

	_, ok = stats.Snapshot().Timers()["jobs.GET.latency"]
	require.True(ok)
}
