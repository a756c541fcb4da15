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

// Package scheduler drives a single torrent download end to end: tracker
// announces, peer connection management, rarest-first piece dispatch, and
// live progress publication.
package scheduler

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hypertube/hypertube/core"
	"github.com/hypertube/hypertube/lib/torrent/scheduler/conn"
	"github.com/hypertube/hypertube/lib/torrent/storage"
	"github.com/hypertube/hypertube/tracker/announceclient"
	"github.com/hypertube/hypertube/utils/log"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
)

// speedAlpha is the smoothing factor of the download speed moving average.
const speedAlpha = 0.2

// Scheduler downloads torrents. A single Scheduler serves many concurrent
// downloads; each Download call owns its torrent exclusively. Inbound peer
// connections are accepted for whichever downloads are currently active.
type Scheduler struct {
	config     Config
	stats      tally.Scope
	clk        clock.Clock
	peerID     core.PeerID
	announce   announceclient.Client
	handshaker *conn.Handshaker

	listener net.Listener
	port     int
	conns    *atomic.Int64

	mu     sync.Mutex
	active map[core.InfoHash]*dispatcher

	stopOnce sync.Once
	done     chan struct{}
}

// New creates a new Scheduler with a freshly generated peer id. The inbound
// listener binds the first free port of the configured range, falling back
// to an ephemeral port when the range is exhausted. Stop must be called to
// release it.
func New(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	announce announceclient.Client) (*Scheduler, error) {

	config = config.applyDefaults()

	stats = stats.Tagged(map[string]string{
		"module": "scheduler",
	})

	peerID, err := core.GeneratePeerID()
	if err != nil {
		return nil, fmt.Errorf("generate peer id: %s", err)
	}
	l, port, err := bindListener(config.PortRangeStart, config.PortRangeEnd)
	if err != nil {
		return nil, fmt.Errorf("bind listener: %s", err)
	}
	s := &Scheduler{
		config:     config,
		stats:      stats,
		clk:        clk,
		peerID:     peerID,
		announce:   announce,
		handshaker: conn.NewHandshaker(config.Conn, peerID),
		listener:   l,
		port:       port,
		conns:      atomic.NewInt64(0),
		active:     make(map[core.InfoHash]*dispatcher),
		done:       make(chan struct{}),
	}
	go s.acceptLoop()
	return s, nil
}

// bindListener tries every port of [start, end] in order, then an ephemeral
// port.
func bindListener(start, end int) (net.Listener, int, error) {
	for port := start; port <= end; port++ {
		l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			return l, port, nil
		}
	}
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, 0, err
	}
	port := l.Addr().(*net.TCPAddr).Port
	log.With("port", port).Infof(
		"Ports %d-%d all taken, using ephemeral port", start, end)
	return l, port, nil
}

// PeerID returns the local peer id reported to trackers and peers.
func (s *Scheduler) PeerID() core.PeerID {
	return s.peerID
}

// Port returns the inbound listener port reported to trackers.
func (s *Scheduler) Port() int {
	return s.port
}

// Stop closes the inbound listener. Running downloads are unaffected but no
// new inbound peers are accepted.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.listener.Close()
	})
}

func (s *Scheduler) acceptLoop() {
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				log.Errorf("Error accepting connection: %s", err)
				return
			}
		}
		go s.handleInbound(nc)
	}
}

// handleInbound admits an inbound peer if its requested torrent has an
// active download.
func (s *Scheduler) handleInbound(nc net.Conn) {
	c, err := s.handshaker.Accept(nc, func(h core.InfoHash) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, ok := s.active[h]
		return ok
	})
	if err != nil {
		log.With("peer", nc.RemoteAddr()).Debugf("Rejecting inbound handshake: %s", err)
		nc.Close()
		return
	}
	s.mu.Lock()
	d, ok := s.active[c.InfoHash()]
	s.mu.Unlock()
	if !ok {
		// Download finished between handshake and registration.
		c.Close()
		return
	}
	if err := d.AddPeer(c); err != nil {
		log.With("peer", c.Addr()).Debugf("Rejecting inbound connection: %s", err)
		c.Close()
	}
}

// register exposes d to inbound connections for the duration of a download.
// Returns false when the hash already has an active download.
func (s *Scheduler) register(h core.InfoHash, d *dispatcher) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[h]; ok {
		return false
	}
	s.active[h] = d
	return true
}

func (s *Scheduler) deregister(h core.InfoHash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, h)
}

// Download downloads t until every piece is verified and written, publishing
// progress along the way. Blocks until completion, a fatal error, or ctx
// cancellation. extraTrackers supplements the metainfo announce list, eg
// with magnet tr hints.
func (s *Scheduler) Download(
	ctx context.Context,
	t *storage.Torrent,
	extraTrackers []string,
	publish func(Progress)) error {

	if publish == nil {
		publish = func(Progress) {}
	}
	if t.Complete() {
		publish(s.progress(nil, t, nil, PhaseFinalizing))
		return nil
	}

	trackers := mergeTrackers(t.MetaInfo().Trackers(), extraTrackers)

	pieceNotify := make(chan struct{}, 1)
	d := newDispatcher(s.config, s.stats, s.clk, s.conns, t, func() {
		select {
		case pieceNotify <- struct{}{}:
		default:
		}
	})
	defer d.TearDown()

	if s.register(t.InfoHash(), d) {
		defer s.deregister(t.InfoHash())
	}

	dialer := newDialer(s.config, s.handshaker, d)

	publish(s.progress(d, t, nil, PhaseContactingTrackers))

	announced := false
	lastHealthy := s.clk.Now()
	interval := s.config.DefaultAnnounceInterval

	resp, err := s.announceAs(trackers, t, announceclient.EventStarted)
	if err != nil {
		log.With("hash", t.InfoHash()).Warnf("Initial announce failed: %s", err)
	} else {
		announced = true
		lastHealthy = s.clk.Now()
		interval = announceInterval(resp, interval)
		dialer.dial(resp.Peers, t.InfoHash())
		publish(s.progress(d, t, nil, PhaseConnectingPeers))
	}

	speed := newSpeedEstimator(speedAlpha)
	lastBytes := t.BytesDownloaded()
	lastSample := s.clk.Now()

	announceTimer := s.clk.Timer(interval)
	defer announceTimer.Stop()
	progressTicker := s.clk.Ticker(s.config.ProgressInterval)
	defer progressTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.announceEvent(trackers, t, announceclient.EventStopped)
			return ctx.Err()

		case <-d.Complete():
			publish(s.progress(d, t, speed, PhaseVerifying))
			s.announceEvent(trackers, t, announceclient.EventCompleted)
			publish(s.progress(d, t, speed, PhaseFinalizing))
			return nil

		case err := <-d.Errors():
			s.announceEvent(trackers, t, announceclient.EventStopped)
			return err

		case <-announceTimer.C:
			resp, err := s.announceAs(trackers, t, announceclient.EventNone)
			if err != nil {
				log.With("hash", t.InfoHash()).Warnf("Announce failed: %s", err)
			} else {
				announced = true
				lastHealthy = s.clk.Now()
				interval = announceInterval(resp, interval)
				dialer.dial(resp.Peers, t.InfoHash())
			}
			announceTimer.Reset(interval)

		case <-pieceNotify:
			publish(s.progress(d, t, speed, s.phase(d, t, announced)))

		case <-progressTicker.C:
			now := s.clk.Now()
			elapsed := now.Sub(lastSample).Seconds()
			if elapsed > 0 {
				bytes := t.BytesDownloaded()
				speed.sample(float64(bytes-lastBytes) / elapsed)
				lastBytes = bytes
				lastSample = now
			}
			if d.NumPeers() > 0 {
				lastHealthy = now
			} else if now.Sub(lastHealthy) >= s.config.IdleSwarmTimeout {
				s.announceEvent(trackers, t, announceclient.EventStopped)
				return fmt.Errorf(
					"no trackers reachable and no peers connected for %s",
					s.config.IdleSwarmTimeout)
			}
			publish(s.progress(d, t, speed, s.phase(d, t, announced)))
		}
	}
}

func (s *Scheduler) phase(d *dispatcher, t *storage.Torrent, announced bool) Phase {
	switch {
	case !announced:
		return PhaseContactingTrackers
	case d.NumPeers() == 0:
		return PhaseConnectingPeers
	default:
		return PhaseDownloading
	}
}

func (s *Scheduler) progress(
	d *dispatcher, t *storage.Torrent, speed *speedEstimator, phase Phase) Progress {

	p := Progress{
		DownloadedBytes: t.BytesDownloaded(),
		ContiguousBytes: t.ContiguousBytes(),
		TotalBytes:      t.Length(),
		ETASeconds:      -1,
		Phase:           phase,
	}
	if d != nil {
		p.Peers = d.NumPeers()
	}
	if speed != nil {
		p.SpeedBPS = speed.current()
		p.ETASeconds = speed.eta(p.TotalBytes - p.DownloadedBytes)
	}
	return p
}

func (s *Scheduler) announceAs(
	trackers []string,
	t *storage.Torrent,
	event announceclient.Event) (*announceclient.Response, error) {

	return s.announce.Announce(trackers, &announceclient.Request{
		InfoHash:   t.InfoHash(),
		PeerID:     s.peerID,
		Port:       s.port,
		Downloaded: t.BytesDownloaded(),
		Left:       t.Length() - t.BytesDownloaded(),
		Event:      event,
	})
}

// announceEvent fires a lifecycle event without caring about the response.
func (s *Scheduler) announceEvent(
	trackers []string, t *storage.Torrent, event announceclient.Event) {

	if _, err := s.announceAs(trackers, t, event); err != nil {
		log.With("hash", t.InfoHash(), "event", event).Infof("Announce failed: %s", err)
	}
}

// mergeTrackers appends extras to trackers, preserving first occurrence.
func mergeTrackers(trackers, extras []string) []string {
	seen := make(map[string]struct{}, len(trackers))
	merged := append([]string{}, trackers...)
	for _, tr := range trackers {
		seen[tr] = struct{}{}
	}
	for _, tr := range extras {
		if _, ok := seen[tr]; !ok {
			seen[tr] = struct{}{}
			merged = append(merged, tr)
		}
	}
	return merged
}

func announceInterval(resp *announceclient.Response, fallback time.Duration) time.Duration {
	if resp.Interval > 0 {
		return time.Duration(resp.Interval) * time.Second
	}
	return fallback
}

// dialer opens outbound connections for freshly discovered peers, skipping
// addresses which are connected, mid-dial, or blacklisted.
type dialer struct {
	config     Config
	handshaker *conn.Handshaker
	dispatcher *dispatcher

	mu      sync.Mutex
	dialing map[string]struct{}
}

func newDialer(config Config, h *conn.Handshaker, d *dispatcher) *dialer {
	return &dialer{
		config:     config,
		handshaker: h,
		dispatcher: d,
		dialing:    make(map[string]struct{}),
	}
}

func (dl *dialer) dial(peers []*core.PeerInfo, h core.InfoHash) {
	for _, pi := range peers {
		addr := pi.Addr()
		if dl.dispatcher.Connected(addr) || dl.dispatcher.Blacklisted(addr) {
			continue
		}
		if dl.dispatcher.NumPeers() >= dl.config.MaxPeers {
			return
		}
		dl.mu.Lock()
		if _, ok := dl.dialing[addr]; ok {
			dl.mu.Unlock()
			continue
		}
		dl.dialing[addr] = struct{}{}
		dl.mu.Unlock()

		go func(addr string) {
			defer func() {
				dl.mu.Lock()
				delete(dl.dialing, addr)
				dl.mu.Unlock()
			}()
			c, err := dl.handshaker.Initialize(addr, h)
			if err != nil {
				log.With("peer", addr).Debugf("Dial failed: %s", err)
				return
			}
			if err := dl.dispatcher.AddPeer(c); err != nil {
				log.With("peer", addr).Debugf("Rejecting connection: %s", err)
				c.Close()
			}
		}(addr)
	}
}
