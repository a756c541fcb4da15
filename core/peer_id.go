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
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
)

// ClientPrefix is the Azureus-style prefix identifying this client on the
// wire.
const ClientPrefix = "-HT0100-"

// ErrInvalidPeerIDLength returns when raw bytes do not form a 20-byte peer id.
var ErrInvalidPeerIDLength = errors.New("peer id has invalid length")

// PeerID is a fixed size BitTorrent peer id.
type PeerID [20]byte

// NewPeerIDFromBytes converts raw bytes into a PeerID. Must be exactly 20
// bytes.
func NewPeerIDFromBytes(b []byte) (PeerID, error) {
	if len(b) != 20 {
		return PeerID{}, ErrInvalidPeerIDLength
	}
	var p PeerID
	copy(p[:], b)
	return p, nil
}

// GeneratePeerID returns a fresh local peer id: the client prefix followed by
// 12 random bytes.
func GeneratePeerID() (PeerID, error) {
	var p PeerID
	copy(p[:], ClientPrefix)
	if _, err := rand.Read(p[len(ClientPrefix):]); err != nil {
		return PeerID{}, fmt.Errorf("read random: %s", err)
	}
	return p, nil
}

// Bytes converts p to raw bytes.
func (p PeerID) Bytes() []byte {
	return p[:]
}

// LessThan returns whether p is less than o.
func (p PeerID) LessThan(o PeerID) bool {
	return bytes.Compare(p[:], o[:]) == -1
}

func (p PeerID) String() string {
	return fmt.Sprintf("%q", p[:])
}
