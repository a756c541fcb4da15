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

import (
	"time"

	"github.com/hypertube/hypertube/lib/torrent/scheduler/conn"
)

// Config defines download engine configuration.
type Config struct {
	// MaxPeers bounds the number of open peer connections per torrent.
	MaxPeers int `yaml:"max_peers"`

	// MaxActivePeers bounds how many peers may hold piece reservations at
	// once. Connections beyond this stay on standby until an active peer
	// drains or drops, keeping request pressure on the fastest uploaders.
	MaxActivePeers int `yaml:"max_active_peers"`

	// MaxConnections bounds open peer connections across all torrents.
	MaxConnections int `yaml:"max_connections"`

	// BlockTimeout expires a reservation which has produced no block for
	// this long. Expired reservations are re-queued on another peer.
	BlockTimeout time.Duration `yaml:"block_timeout"`

	// PipelineLimit is the maximum number of unfulfilled block requests
	// kept in flight per peer.
	PipelineLimit int `yaml:"pipeline_limit"`

	// EndgameThreshold is the completion ratio past which every remaining
	// piece is requested from every peer holding it.
	EndgameThreshold float64 `yaml:"endgame_threshold"`

	// MaxPeerFailures drops a peer once its expired / invalid reservation
	// count reaches this value.
	MaxPeerFailures int `yaml:"max_peer_failures"`

	// MaxPieceRetries fails the download once a single piece has failed
	// hash verification this many times.
	MaxPieceRetries int `yaml:"max_piece_retries"`

	// IdleSwarmTimeout fails the download when no peers are connected and
	// no tracker has responded for this long.
	IdleSwarmTimeout time.Duration `yaml:"idle_swarm_timeout"`

	// ProgressInterval bounds the gap between two progress publications.
	ProgressInterval time.Duration `yaml:"progress_interval"`

	// DefaultAnnounceInterval is used when the tracker response does not
	// carry an interval of its own.
	DefaultAnnounceInterval time.Duration `yaml:"default_announce_interval"`

	// PortRangeStart and PortRangeEnd delimit the inclusive TCP port range
	// tried, in order, for the inbound peer listener. If every port in the
	// range is taken, an ephemeral port is used instead.
	PortRangeStart int `yaml:"port_range_start"`
	PortRangeEnd   int `yaml:"port_range_end"`

	Conn conn.Config `yaml:"conn"`
}

func (c Config) applyDefaults() Config {
	if c.MaxPeers == 0 {
		c.MaxPeers = 50
	}
	if c.MaxActivePeers == 0 {
		c.MaxActivePeers = 20
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 200
	}
	if c.BlockTimeout == 0 {
		c.BlockTimeout = 30 * time.Second
	}
	if c.PipelineLimit == 0 {
		c.PipelineLimit = 5
	}
	if c.EndgameThreshold == 0 {
		c.EndgameThreshold = 0.95
	}
	if c.MaxPeerFailures == 0 {
		c.MaxPeerFailures = 3
	}
	if c.MaxPieceRetries == 0 {
		c.MaxPieceRetries = 3
	}
	if c.IdleSwarmTimeout == 0 {
		c.IdleSwarmTimeout = time.Minute
	}
	if c.ProgressInterval == 0 {
		c.ProgressInterval = time.Second
	}
	if c.DefaultAnnounceInterval == 0 {
		c.DefaultAnnounceInterval = 30 * time.Second
	}
	if c.PortRangeStart == 0 {
		c.PortRangeStart = 6881
	}
	if c.PortRangeEnd == 0 {
		c.PortRangeEnd = 6889
	}
	return c
}
