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
package metainfoclient

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/hypertube/hypertube/core"
	"github.com/hypertube/hypertube/utils/testutil"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/require"
)

func torrentCacheServer(blobs map[string][]byte) (string, func()) {
	r := chi.NewRouter()
	r.Get("/torrents/{name}", func(w http.ResponseWriter, req *http.Request) {
		b, ok := blobs[chi.URLParam(req, "name")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(b)
	})
	return testutil.StartServer(r)
}

func TestClientDownload(t *testing.T) {
	require := require.New(t)

	tf := core.SingleFileTorrentFixture(256, 64)
	h := tf.MetaInfo.InfoHash()

	addr, stop := torrentCacheServer(map[string][]byte{
		h.Hex() + ".torrent": tf.Blob,
	})
	defer stop()

	c := New(Config{Sources: []string{fmt.Sprintf("http://%s/torrents", addr)}})

	mi, err := c.Download(h)
	require.NoError(err)
	require.Equal(h, mi.InfoHash())
	require.Equal(tf.MetaInfo.NumPieces(), mi.NumPieces())
}

func TestClientDownloadHashPlaceholder(t *testing.T) {
	require := require.New(t)

	tf := core.SingleFileTorrentFixture(256, 64)
	h := tf.MetaInfo.InfoHash()

	addr, stop := torrentCacheServer(map[string][]byte{
		h.Hex(): tf.Blob,
	})
	defer stop()

	c := New(Config{Sources: []string{fmt.Sprintf("http://%s/torrents/{hash}", addr)}})

	_, err := c.Download(h)
	require.NoError(err)
}

func TestClientDownloadNotFound(t *testing.T) {
	require := require.New(t)

	addr, stop := torrentCacheServer(nil)
	defer stop()

	c := New(Config{Sources: []string{fmt.Sprintf("http://%s/torrents", addr)}})

	_, err := c.Download(core.InfoHashFixture())
	require.Equal(ErrNotFound, err)
}

func TestClientDownloadFallsBackAcrossSources(t *testing.T) {
	require := require.New(t)

	tf := core.SingleFileTorrentFixture(256, 64)
	h := tf.MetaInfo.InfoHash()

	addr, stop := torrentCacheServer(map[string][]byte{
		h.Hex() + ".torrent": tf.Blob,
	})
	defer stop()

	c := New(Config{Sources: []string{
		"http://127.0.0.1:1/torrents",
		fmt.Sprintf("http://%s/torrents", addr),
	}})

	_, err := c.Download(h)
	require.NoError(err)
}

func TestClientDownloadRejectsWrongTorrent(t *testing.T) {
	require := require.New(t)

	tf := core.SingleFileTorrentFixture(256, 64)
	h := core.InfoHashFixture()

	addr, stop := torrentCacheServer(map[string][]byte{
		h.Hex() + ".torrent": tf.Blob,
	})
	defer stop()

	c := New(Config{Sources: []string{fmt.Sprintf("http://%s/torrents", addr)}})

	_, err := c.Download(h)
	require.Error(err)
	require.Contains(err.Error(), "wrong torrent")
}
