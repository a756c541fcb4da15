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
package streamserver

import (
	"errors"
	"strconv"
	"strings"
)

var (
	errInvalidRange  = errors.New("invalid range header")
	errUnsatisfiable = errors.New("range not satisfiable")
)

// parseRange resolves a Range header against a file of the given size.
// ok is false when no range was requested. Supported forms:
//
//	bytes=a-    -> [a, size-1]
//	bytes=-n    -> last n bytes
//	bytes=a-b   -> [a, min(b, size-1)]
//
// A first byte at or past EOF is unsatisfiable. Multipart ranges are not
// supported.
func parseRange(header string, size int64) (start, end int64, ok bool, err error) {
	if header == "" {
		return 0, 0, false, nil
	}
	if !strings.HasPrefix(header, "bytes=") {
		return 0, 0, false, errInvalidRange
	}
	spec := strings.TrimSpace(strings.TrimPrefix(header, "bytes="))
	if spec == "" || strings.Contains(spec, ",") {
		return 0, 0, false, errInvalidRange
	}
	i := strings.Index(spec, "-")
	if i < 0 {
		return 0, 0, false, errInvalidRange
	}
	if size == 0 {
		return 0, 0, false, errUnsatisfiable
	}
	first, last := spec[:i], spec[i+1:]

	if first == "" {
		// Suffix form: the last n bytes.
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false, errInvalidRange
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, true, nil
	}

	a, err := strconv.ParseInt(first, 10, 64)
	if err != nil || a < 0 {
		return 0, 0, false, errInvalidRange
	}
	if a >= size {
		return 0, 0, false, errUnsatisfiable
	}
	if last == "" {
		return a, size - 1, true, nil
	}
	b, err := strconv.ParseInt(last, 10, 64)
	if err != nil || b < a {
		return 0, 0, false, errInvalidRange
	}
	if b > size-1 {
		b = size - 1
	}
	return a, b, true, nil
}
