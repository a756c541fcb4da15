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

// Package subtitle stores subtitle tracks per video and converts SRT
// sources into WebVTT for browser playback.
package subtitle

import (
	"errors"
	"regexp"
)

// ErrEmptySource occurs when converting an empty subtitle file.
var ErrEmptySource = errors.New("empty subtitle source")

var _timestampRegexp = regexp.MustCompile(
	`(\d{2}:\d{2}:\d{2}),(\d{3}) --> (\d{2}:\d{2}:\d{2}),(\d{3})`)

// ConvertSRT converts an SRT subtitle file to WebVTT: a WEBVTT header is
// prepended and timestamp commas become dots. Everything else is preserved
// byte for byte.
func ConvertSRT(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, ErrEmptySource
	}
	body := _timestampRegexp.ReplaceAll(src, []byte("$1.$2 --> $3.$4"))
	out := make([]byte, 0, len("WEBVTT\n\n")+len(body))
	out = append(out, "WEBVTT\n\n"...)
	out = append(out, body...)
	return out, nil
}
