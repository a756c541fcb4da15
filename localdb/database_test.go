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
package localdb

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	require := require.New(t)

	db, cleanup := Fixture()
	defer cleanup()

	require.NoError(db.Ping())

	var tables []string
	require.NoError(db.Select(&tables, `
		SELECT name FROM sqlite_master
		WHERE type='table' AND name NOT LIKE 'goose_%' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`))
	require.Contains(tables, "download_job")
	require.Contains(tables, "job_transition")
	require.Contains(tables, "cached_video")
	require.Contains(tables, "subtitle")

	require.Equal(1, db.Stats().MaxOpenConnections)
}

func TestNewInvalidSource(t *testing.T) {
	require := require.New(t)

	// A path nested under a regular file cannot be created.
	tmpfile := filepath.Join(t.TempDir(), "file")
	require.NoError(ioutil.WriteFile(tmpfile, []byte("x"), 0644))

	_, err := New(Config{Source: filepath.Join(tmpfile, "db.sqlite")})
	require.Error(err)
}

func TestNewIsIdempotent(t *testing.T) {
	require := require.New(t)

	source := filepath.Join(t.TempDir(), "test.db")

	db, err := New(Config{Source: source})
	require.NoError(err)
	require.NoError(db.Close())

	// Reopening an already migrated database succeeds.
	db, err = New(Config{Source: source})
	require.NoError(err)
	require.NoError(db.Close())
}
