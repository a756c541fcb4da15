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

// Package announceclient implements the client side of HTTP tracker
// announces (BEP 3). UDP trackers are not supported; non-HTTP(S) announce
// URLs are skipped.
package announceclient

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/ioutil"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/hypertube/hypertube/core"
	"github.com/hypertube/hypertube/lib/bencode"
	"github.com/hypertube/hypertube/utils/httputil"
	"github.com/hypertube/hypertube/utils/log"

	"github.com/cenkalti/backoff"
)

// Event is the optional announce event parameter.
type Event string

// Announce events. EventNone omits the parameter.
const (
	EventNone      Event = ""
	EventStarted   Event = "started"
	EventCompleted Event = "completed"
	EventStopped   Event = "stopped"
)

// ErrNoUsableTrackers is returned when a torrent carries no HTTP(S) tracker
// URLs at all.
var ErrNoUsableTrackers = errors.New("no usable http trackers")

// Request carries the swarm statistics reported on an announce.
type Request struct {
	InfoHash   core.InfoHash
	PeerID     core.PeerID
	Port       int
	Uploaded   int64
	Downloaded int64
	Left       int64
	Event      Event
}

// Response is a successfully parsed tracker response.
type Response struct {
	Interval int
	Peers    []*core.PeerInfo
}

// Client announces to the trackers of a torrent.
type Client interface {
	Announce(trackers []string, req *Request) (*Response, error)
}

type client struct {
	config Config
}

// New creates a new Client.
func New(config Config) Client {
	return &client{config.applyDefaults()}
}

// Announce iterates trackers in metadata order and returns the first
// successfully parsed response. Tracker-level failures are logged and the
// last error is surfaced if every tracker fails.
func (c *client) Announce(trackers []string, req *Request) (*Response, error) {
	var resp *Response
	a := func() error {
		var err error
		resp, err = c.announceOnce(trackers, req)
		return err
	}
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.config.Retries)
	if err := backoff.Retry(a, b); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *client) announceOnce(trackers []string, req *Request) (*Response, error) {
	err := ErrNoUsableTrackers
	for _, tracker := range trackers {
		if !strings.HasPrefix(tracker, "http://") && !strings.HasPrefix(tracker, "https://") {
			continue
		}
		var resp *Response
		resp, err = c.announceTo(tracker, req)
		if err != nil {
			log.With("tracker", tracker).Warnf("Announce failed: %s", err)
			continue
		}
		return resp, nil
	}
	return nil, err
}

func (c *client) announceTo(tracker string, req *Request) (*Response, error) {
	u, err := buildAnnounceURL(tracker, req, c.config.NumWant)
	if err != nil {
		return nil, fmt.Errorf("build url: %s", err)
	}
	httpResp, err := httputil.Get(u, httputil.SendTimeout(c.config.Timeout))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()
	body, err := ioutil.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %s", err)
	}
	return parseResponse(body)
}

func buildAnnounceURL(tracker string, req *Request, numWant int) (string, error) {
	u, err := url.Parse(tracker)
	if err != nil {
		return "", err
	}
	v := url.Values{}
	v.Set("info_hash", string(req.InfoHash.Bytes()))
	v.Set("peer_id", string(req.PeerID.Bytes()))
	v.Set("port", strconv.Itoa(req.Port))
	v.Set("uploaded", strconv.FormatInt(req.Uploaded, 10))
	v.Set("downloaded", strconv.FormatInt(req.Downloaded, 10))
	v.Set("left", strconv.FormatInt(req.Left, 10))
	v.Set("compact", "1")
	v.Set("numwant", strconv.Itoa(numWant))
	if req.Event != EventNone {
		v.Set("event", string(req.Event))
	}
	if u.RawQuery != "" {
		u.RawQuery += "&" + v.Encode()
	} else {
		u.RawQuery = v.Encode()
	}
	return u.String(), nil
}

func parseResponse(body []byte) (*Response, error) {
	v, err := bencode.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("decode response: %s", err)
	}
	d, ok := v.AsDict()
	if !ok {
		return nil, errors.New("response is not a dictionary")
	}
	if reason, ok := d.GetString("failure reason"); ok {
		return nil, fmt.Errorf("tracker failure: %s", reason)
	}
	resp := &Response{}
	if interval, ok := d.GetInt("interval"); ok {
		resp.Interval = int(interval)
	}
	peersVal, ok := d.Get("peers")
	if !ok {
		return resp, nil
	}
	if compact, ok := peersVal.AsBytes(); ok {
		resp.Peers, err = parseCompactPeers(compact)
	} else if dicts, ok := peersVal.AsList(); ok {
		resp.Peers, err = parseDictPeers(dicts)
	} else {
		err = errors.New("peers is neither compact nor a list")
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// parseCompactPeers parses 6-byte entries: 4-byte IPv4 followed by a 2-byte
// big-endian port.
func parseCompactPeers(b []byte) ([]*core.PeerInfo, error) {
	if len(b)%6 != 0 {
		return nil, fmt.Errorf("compact peers length %d is not a multiple of 6", len(b))
	}
	var peers []*core.PeerInfo
	for i := 0; i < len(b); i += 6 {
		ip := net.IP(b[i : i+4]).String()
		port := int(binary.BigEndian.Uint16(b[i+4 : i+6]))
		peers = append(peers, core.NewPeerInfo(ip, port))
	}
	return peers, nil
}

func parseDictPeers(l []*bencode.Value) ([]*core.PeerInfo, error) {
	var peers []*core.PeerInfo
	for _, pv := range l {
		d, ok := pv.AsDict()
		if !ok {
			return nil, errors.New("peer entry is not a dictionary")
		}
		ip, ok := d.GetString("ip")
		if !ok {
			return nil, errors.New("peer entry missing ip")
		}
		port, ok := d.GetInt("port")
		if !ok {
			return nil, errors.New("peer entry missing port")
		}
		p := core.NewPeerInfo(ip, int(port))
		if raw, ok := d.GetBytes("peer id"); ok {
			if id, err := core.NewPeerIDFromBytes(raw); err == nil {
				p.PeerID = id
			}
		}
		peers = append(peers, p)
	}
	return peers, nil
}
