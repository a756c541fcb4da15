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
	"encoding/json"
	"fmt"
)

// DownloadMessage instructs a download worker to run a job.
type DownloadMessage struct {
	JobID     string `json:"job_id"`
	MagnetURI string `json:"magnet_uri"`
	Priority  int    `json:"priority"`
}

// ConversionMessage instructs a conversion worker to transcode a finished
// download. OutputPath may be empty, in which case the worker derives it
// from InputPath.
type ConversionMessage struct {
	JobID      string `json:"job_id"`
	InputPath  string `json:"input_path"`
	OutputPath string `json:"output_path,omitempty"`
}

// EnqueueDownload publishes m on q at m.Priority.
func EnqueueDownload(q *Queue, m *DownloadMessage) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal download message: %s", err)
	}
	return q.Enqueue(b, m.Priority)
}

// DecodeDownload unmarshals a download message payload.
func DecodeDownload(e *Envelope) (*DownloadMessage, error) {
	var m DownloadMessage
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		return nil, fmt.Errorf("unmarshal download message: %s", err)
	}
	return &m, nil
}

// EnqueueConversion publishes m on q. Conversions are not prioritized
// against each other.
func EnqueueConversion(q *Queue, m *ConversionMessage) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal conversion message: %s", err)
	}
	return q.Enqueue(b, MinPriority)
}

// DecodeConversion unmarshals a conversion message payload.
func DecodeConversion(e *Envelope) (*ConversionMessage, error) {
	var m ConversionMessage
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		return nil, fmt.Errorf("unmarshal conversion message: %s", err)
	}
	return &m, nil
}
