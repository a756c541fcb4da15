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

// Package metainfoclient resolves an info hash into a full .torrent blob
// over HTTP. A magnet URI carries no piece table, so before a download can
// start the piece hashes must be fetched from a torrent cache service.
package metainfoclient

import (
	"errors"
	"fmt"
	"io/ioutil"
	"strings"

	"github.com/hypertube/hypertube/core"
	"github.com/hypertube/hypertube/utils/httputil"
	"github.com/hypertube/hypertube/utils/log"

	"github.com/cenkalti/backoff"
)

// ErrNotFound is returned when no source has a torrent for the info hash.
var ErrNotFound = errors.New("metainfo not found")

// Client defines operations on torrent metainfo.
type Client interface {
	Download(h core.InfoHash) (*core.MetaInfo, error)
}

type client struct {
	config Config
}

// New creates a new Client.
func New(config Config) Client {
	return &client{config.applyDefaults()}
}

// Download fetches and parses the .torrent blob for h, trying each
// configured source in order. The parsed blob must hash back to h.
func (c *client) Download(h core.InfoHash) (*core.MetaInfo, error) {
	var mi *core.MetaInfo
	a := func() error {
		var err error
		mi, err = c.downloadOnce(h)
		if err == ErrNotFound {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.config.Retries)
	if err := backoff.Retry(a, b); err != nil {
		return nil, err
	}
	return mi, nil
}

func (c *client) downloadOnce(h core.InfoHash) (*core.MetaInfo, error) {
	if len(c.config.Sources) == 0 {
		return nil, errors.New("no metainfo sources configured")
	}
	err := ErrNotFound
	for _, source := range c.config.Sources {
		var mi *core.MetaInfo
		mi, err = c.downloadFrom(source, h)
		if err != nil {
			if err != ErrNotFound {
				log.With("source", source, "hash", h).Warnf("Metainfo download failed: %s", err)
			}
			continue
		}
		return mi, nil
	}
	return nil, err
}

func (c *client) downloadFrom(source string, h core.InfoHash) (*core.MetaInfo, error) {
	resp, err := httputil.Get(
		sourceURL(source, h), httputil.SendTimeout(c.config.Timeout))
	if err != nil {
		if httputil.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer resp.Body.Close()
	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %s", err)
	}
	mi, err := core.NewMetaInfoFromBlob(b)
	if err != nil {
		return nil, fmt.Errorf("parse metainfo: %s", err)
	}
	if mi.InfoHash() != h {
		return nil, fmt.Errorf("source returned wrong torrent: %s", mi.InfoHash())
	}
	return mi, nil
}

// sourceURL substitutes the hex info hash into a source template. Templates
// contain either a {hash} placeholder or a trailing path the hash is
// appended to.
func sourceURL(source string, h core.InfoHash) string {
	if strings.Contains(source, "{hash}") {
		return strings.Replace(source, "{hash}", h.Hex(), -1)
	}
	return strings.TrimRight(source, "/") + "/" + h.Hex() + ".torrent"
}
