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
	"fmt"
	"net"
	"strconv"
)

// PeerInfo identifies a remote peer as handed out by a tracker. PeerID may be
// zero when the tracker response was compact.
type PeerInfo struct {
	IP     string
	Port   int
	PeerID PeerID
}

// NewPeerInfo creates a PeerInfo without a known peer id.
func NewPeerInfo(ip string, port int) *PeerInfo {
	return &PeerInfo{IP: ip, Port: port}
}

// Addr returns the dialable "ip:port" address.
func (p *PeerInfo) Addr() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(p.Port))
}

func (p *PeerInfo) String() string {
	return fmt.Sprintf("PeerInfo(%s)", p.Addr())
}
