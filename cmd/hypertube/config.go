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
package main

import (
	"github.com/hypertube/hypertube/lib/queue"
	"github.com/hypertube/hypertube/lib/torrent/scheduler"
	"github.com/hypertube/hypertube/lib/transcode"
	"github.com/hypertube/hypertube/lib/videostore"
	"github.com/hypertube/hypertube/lib/workerpool"
	"github.com/hypertube/hypertube/localdb"
	"github.com/hypertube/hypertube/metrics"
	"github.com/hypertube/hypertube/streamserver"
	"github.com/hypertube/hypertube/tracker/announceclient"
	"github.com/hypertube/hypertube/tracker/metainfoclient"
	"github.com/hypertube/hypertube/utils/listener"

	"go.uber.org/zap"
)

// Config defines hypertube configuration, assembled from every component.
type Config struct {
	ZapLogging   zap.Config            `yaml:"zap"`
	Metrics      metrics.Config        `yaml:"metrics"`
	Database     localdb.Config        `yaml:"database"`
	Queue        queue.Config          `yaml:"queue"`
	Scheduler    scheduler.Config      `yaml:"scheduler"`
	Announce     announceclient.Config `yaml:"announce"`
	MetaInfo     metainfoclient.Config `yaml:"metainfo"`
	WorkerPool   workerpool.Config     `yaml:"worker_pool"`
	Transcode    transcode.Config      `yaml:"transcode"`
	VideoCache   videostore.Config     `yaml:"video_cache"`
	SubtitlePath string                `yaml:"subtitle_path"`
	StreamServer streamserver.Config   `yaml:"stream_server"`
	Listener     listener.Config       `yaml:"listener"`
}
