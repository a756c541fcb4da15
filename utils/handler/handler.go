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

// Package handler adapts error-returning HTTP handlers to the standard
// http.HandlerFunc shape, centralizing status mapping and error logging.
package handler

import (
	"fmt"
	"net/http"

	"github.com/hypertube/hypertube/utils/log"
)

// Error carries the status code and extra headers a failing handler wants
// written to the response.
type Error struct {
	status int
	header http.Header
	msg    string
}

// Errorf creates an Error with Printf-style formatting. The status defaults
// to 500 until overridden with Status.
func Errorf(format string, args ...interface{}) *Error {
	return &Error{
		status: http.StatusInternalServerError,
		header: http.Header{},
		msg:    fmt.Sprintf(format, args...),
	}
}

// ErrorStatus creates an Error with status s and no message.
func ErrorStatus(s int) *Error {
	return Errorf("").Status(s)
}

// Status overrides the response status.
func (e *Error) Status(s int) *Error {
	e.status = s
	return e
}

// Header adds a response header.
func (e *Error) Header(k, v string) *Error {
	e.header.Add(k, v)
	return e
}

// GetStatus returns the response status.
func (e *Error) GetStatus() int {
	return e.status
}

func (e *Error) Error() string {
	if e.msg == "" {
		return fmt.Sprintf("server error %d", e.status)
	}
	return fmt.Sprintf("server error %d: %s", e.status, e.msg)
}

// ErrHandler is an HTTP handler which reports failure by returning an error.
type ErrHandler func(http.ResponseWriter, *http.Request) error

// Wrap converts h into an http.HandlerFunc. A returned *Error decides the
// status and headers of the response; any other error maps to a plain 500.
// Server errors other than 404s are logged.
func Wrap(h ErrHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}
		status := http.StatusInternalServerError
		msg := err.Error()
		if e, ok := err.(*Error); ok {
			for k, vs := range e.header {
				for _, v := range vs {
					w.Header().Add(k, v)
				}
			}
			status = e.status
			msg = e.msg
		}
		w.WriteHeader(status)
		w.Write([]byte(msg))
		if status >= 400 && status != 404 {
			log.Infof("%d %s %s %s", status, r.Method, r.URL.Path, msg)
		}
	}
}
