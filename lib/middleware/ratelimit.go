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
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimitConfig defines per-identity request rate limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

func (c RateLimitConfig) applyDefaults() RateLimitConfig {
	if c.RPS == 0 {
		c.RPS = 10
	}
	if c.Burst == 0 {
		c.Burst = 20
	}
	return c
}

// RateLimit returns a middleware enforcing a token bucket per caller
// identity: the authenticated user when present, else the client IP.
func RateLimit(config RateLimitConfig) func(next http.Handler) http.Handler {
	config = config.applyDefaults()

	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	limiter := func(id string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[id]
		if !ok {
			l = rate.NewLimiter(rate.Limit(config.RPS), config.Burst)
			limiters[id] = l
		}
		return l
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter(identity(r)).Allow() {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func identity(r *http.Request) string {
	if user := r.Header.Get(UserIDHeader); user != "" {
		return "user:" + user
	}
	// Clients behind proxies are identified by the first forwarded address.
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return "ip:" + strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
