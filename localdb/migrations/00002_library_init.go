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
package migrations

import (
	"database/sql"

	"github.com/pressly/goose"
)

func init() {
	goose.AddMigration(up00002, down00002)
}

func up00002(tx *sql.Tx) error {
	if _, err := tx.Exec(
		`CREATE TABLE IF NOT EXISTS cached_video (
		video_id         text      NOT NULL,
		torrent_id       text      NOT NULL DEFAULT '',
		job_id           text      NOT NULL,
		file_path        text      NOT NULL,
		size_bytes       integer   NOT NULL,
		content_type     text      NOT NULL,
		format           text      NOT NULL DEFAULT '',
		codec            text      NOT NULL DEFAULT '',
		resolution       text      NOT NULL DEFAULT '',
		duration_seconds real      NOT NULL DEFAULT 0,
		bitrate          integer   NOT NULL DEFAULT 0,
		access_count     integer   NOT NULL DEFAULT 0,
		created_at       timestamp DEFAULT CURRENT_TIMESTAMP,
		expires_at       timestamp NOT NULL,
		last_accessed_at timestamp NOT NULL,
		PRIMARY KEY(video_id, torrent_id)
	);`); err != nil {
		return err
	}
	_, err := tx.Exec(
		`CREATE TABLE IF NOT EXISTS subtitle (
		video_id      text      NOT NULL,
		language_code text      NOT NULL,
		file_path     text      NOT NULL,
		format        text      NOT NULL,
		source        text      NOT NULL DEFAULT '',
		created_at    timestamp DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(video_id, language_code)
	);`)
	return err
}

func down00002(tx *sql.Tx) error {
	if _, err := tx.Exec(`DROP TABLE subtitle;`); err != nil {
		return err
	}
	_, err := tx.Exec(`DROP TABLE cached_video;`)
	return err
}
