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
	"fmt"
	"os"

	"github.com/hypertube/hypertube/lib/jobstore"
	"github.com/hypertube/hypertube/lib/queue"
	"github.com/hypertube/hypertube/lib/subtitle"
	"github.com/hypertube/hypertube/lib/torrent/scheduler"
	"github.com/hypertube/hypertube/lib/transcode"
	"github.com/hypertube/hypertube/lib/videostore"
	"github.com/hypertube/hypertube/lib/workerpool"
	"github.com/hypertube/hypertube/localdb"
	"github.com/hypertube/hypertube/metrics"
	"github.com/hypertube/hypertube/streamserver"
	"github.com/hypertube/hypertube/tracker/announceclient"
	"github.com/hypertube/hypertube/tracker/metainfoclient"
	"github.com/hypertube/hypertube/utils/configutil"
	"github.com/hypertube/hypertube/utils/listener"
	"github.com/hypertube/hypertube/utils/log"

	"github.com/alecthomas/kingpin"
	"github.com/andres-erbsen/clock"
)

func main() {
	app := kingpin.New("hypertube", "P2P video acquisition and streaming engine")
	configFile := app.Flag("config", "YAML configuration file").Short('c').String()
	port := app.Flag("port", "Streaming API port override").Int()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	var config Config
	if *configFile != "" {
		if err := configutil.Load(*configFile, &config); err != nil {
			panic(err)
		}
	}
	if config.ZapLogging.Encoding != "" {
		zlog := log.ConfigureLogger(config.ZapLogging)
		defer zlog.Sync()
	}

	stats, closer, err := metrics.New(config.Metrics)
	if err != nil {
		log.Fatalf("Failed to init metrics: %s", err)
	}
	defer closer.Close()

	db, err := localdb.New(config.Database)
	if err != nil {
		log.Fatalf("Failed to open local database: %s", err)
	}
	defer db.Close()

	clk := clock.New()

	jobs := jobstore.NewStore(db, clk)

	videos := videostore.NewStore(config.VideoCache, db, clk, stats)
	videos.StartCleanup()
	defer videos.Stop()

	subtitlePath := config.SubtitlePath
	if subtitlePath == "" {
		subtitlePath = "subtitles"
	}
	subtitles, err := subtitle.NewStore(db, subtitlePath, clk)
	if err != nil {
		log.Fatalf("Failed to create subtitle store: %s", err)
	}

	downloadQ, err := queue.New(config.Queue, "download", clk)
	if err != nil {
		log.Fatalf("Failed to create download queue: %s", err)
	}
	conversionQ, err := queue.New(config.Queue, "conversion", clk)
	if err != nil {
		log.Fatalf("Failed to create conversion queue: %s", err)
	}

	sched, err := scheduler.New(
		config.Scheduler, stats, clk, announceclient.New(config.Announce))
	if err != nil {
		log.Fatalf("Failed to create torrent scheduler: %s", err)
	}
	defer sched.Stop()
	log.Infof("Torrent peer id: %s, listening on port %d", sched.PeerID(), sched.Port())

	pool := workerpool.New(
		config.WorkerPool, stats, clk,
		jobs, downloadQ, conversionQ,
		metainfoclient.New(config.MetaInfo),
		sched,
		transcode.New(config.Transcode),
		videos)
	if err := pool.Start(); err != nil {
		log.Fatalf("Failed to start worker pool: %s", err)
	}
	defer pool.Stop()

	server, err := streamserver.New(
		config.StreamServer, stats, clk, jobs, videos, subtitles, downloadQ, pool)
	if err != nil {
		log.Fatalf("Failed to create stream server: %s", err)
	}

	if config.Listener.Net == "" {
		config.Listener.Net = "tcp"
	}
	if *port != 0 {
		config.Listener.Addr = fmt.Sprintf(":%d", *port)
	}
	if config.Listener.Addr == "" {
		config.Listener.Addr = ":7075"
	}

	log.Infof("Starting streaming server on %s", config.Listener)
	log.Fatal(listener.Serve(config.Listener, server.Handler()))
}
