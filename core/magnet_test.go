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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMagnet(t *testing.T) {
	require := require.New(t)

	m, err := ParseMagnet(
		"magnet:?xt=urn:btih:1234567890abcdef1234567890abcdef12345678" +
			"&dn=Example+Movie&tr=http://t1/&tr=http://t2/")
	require.NoError(err)

	require.Equal("1234567890abcdef1234567890abcdef12345678", m.InfoHash.Hex())
	require.Equal("Example Movie", m.Name)
	require.Equal([]string{"http://t1/", "http://t2/"}, m.Trackers)
}

func TestParseMagnetMinimal(t *testing.T) {
	require := require.New(t)

	m, err := ParseMagnet("magnet:?xt=urn:btih:1234567890abcdef1234567890abcdef12345678")
	require.NoError(err)
	require.Empty(m.Name)
	require.Empty(m.Trackers)
}

func TestParseMagnetErrors(t *testing.T) {
	tests := []struct {
		desc string
		uri  string
	}{
		{"wrong scheme", "http://example.com"},
		{"missing info hash", "magnet:?dn=Example"},
		{"short info hash", "magnet:?xt=urn:btih:abcdef"},
		{"non-hex info hash", "magnet:?xt=urn:btih:zzzz567890abcdef1234567890abcdef12345678"},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			_, err := ParseMagnet(test.uri)
			require.Error(t, err)
		})
	}
}
