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
package videostore

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/hypertube/hypertube/localdb"
	"github.com/hypertube/hypertube/utils/randutil"
	"github.com/hypertube/hypertube/utils/testutil"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
)

// StoreFixture returns a Store over a temporary database with a mock clock.
func StoreFixture(config Config) (*Store, *clock.Mock, func()) {
	var cleanup testutil.Cleanup
	defer cleanup.Recover()

	db, c := localdb.Fixture()
	cleanup.Add(c)

	clk := clock.NewMock()
	s := NewStore(config, db, clk, tally.NoopScope)
	cleanup.Add(s.Stop)

	return s, clk, cleanup.Run
}

// FileFixture writes a random file of the given size under a fresh job
// directory and returns its path.
func FileFixture(size int) (path string, cleanup func()) {
	dir, err := ioutil.TempDir("", "videostore-test-")
	if err != nil {
		panic(err)
	}
	path = filepath.Join(dir, "movie.mp4")
	if err := ioutil.WriteFile(path, randutil.Blob(size), 0664); err != nil {
		os.RemoveAll(dir)
		panic(err)
	}
	return path, func() { os.RemoveAll(dir) }
}
