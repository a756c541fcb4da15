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
package core

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const _btihPrefix = "urn:btih:"

// Magnet holds the fields of a parsed magnet URI. The piece table is not
// available until metadata is fetched, so only the identity and tracker
// hints are known.
type Magnet struct {
	InfoHash InfoHash
	Name     string
	Trackers []string
}

// ParseMagnet parses a magnet URI of the form
// magnet:?xt=urn:btih:<40-hex>&dn=<name>&tr=<url>&tr=...
// A missing or malformed info hash is an error; everything else is optional.
func ParseMagnet(s string) (*Magnet, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("parse uri: %s", err)
	}
	if u.Scheme != "magnet" {
		return nil, fmt.Errorf("invalid scheme %q", u.Scheme)
	}
	params, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("parse query: %s", err)
	}

	m := &Magnet{
		Name:     params.Get("dn"),
		Trackers: params["tr"],
	}

	var found bool
	for _, xt := range params["xt"] {
		if !strings.HasPrefix(xt, _btihPrefix) {
			continue
		}
		h, err := NewInfoHashFromHex(strings.TrimPrefix(xt, _btihPrefix))
		if err != nil {
			return nil, fmt.Errorf("info hash: %s", err)
		}
		m.InfoHash = h
		found = true
		break
	}
	if !found {
		return nil, errors.New("missing info hash")
	}
	return m, nil
}

func (m *Magnet) String() string {
	return fmt.Sprintf("Magnet(%s, %q)", m.InfoHash.Hex(), m.Name)
}
