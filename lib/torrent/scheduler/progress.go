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
package scheduler

// Phase describes what a download is currently blocked on.
type Phase string

// Download phases, in rough lifecycle order.
const (
	PhaseContactingTrackers Phase = "CONTACTING_TRACKERS"
	PhaseConnectingPeers    Phase = "CONNECTING_PEERS"
	PhaseDownloading        Phase = "DOWNLOADING"
	PhaseVerifying          Phase = "VERIFYING"
	PhaseFinalizing         Phase = "FINALIZING"
)

// Progress is a point-in-time snapshot of a running download, published on
// every piece completion and at least once per progress interval.
type Progress struct {
	DownloadedBytes int64

	// ContiguousBytes is how much of the file is verified contiguously
	// from offset 0. Progressive streaming may serve up to here.
	ContiguousBytes int64

	TotalBytes int64
	SpeedBPS   int64
	ETASeconds int64
	Peers      int
	Phase      Phase
}

// speedEstimator smooths instantaneous throughput samples with an
// exponential moving average.
type speedEstimator struct {
	alpha  float64
	value  float64
	primed bool
}

func newSpeedEstimator(alpha float64) *speedEstimator {
	return &speedEstimator{alpha: alpha}
}

// sample folds a new bytes-per-second observation into the average and
// returns the smoothed value.
func (e *speedEstimator) sample(bps float64) int64 {
	if !e.primed {
		e.value = bps
		e.primed = true
	} else {
		e.value = e.alpha*bps + (1-e.alpha)*e.value
	}
	return int64(e.value)
}

// current returns the smoothed value without folding in a new sample.
func (e *speedEstimator) current() int64 {
	return int64(e.value)
}

// eta estimates remaining seconds at the current smoothed speed, or -1 when
// no estimate is possible.
func (e *speedEstimator) eta(remaining int64) int64 {
	if !e.primed || e.value <= 0 {
		return -1
	}
	return int64(float64(remaining) / e.value)
}
