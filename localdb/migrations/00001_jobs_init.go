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
	goose.AddMigration(up00001, down00001)
}

func up00001(tx *sql.Tx) error {
	if _, err := tx.Exec(
		`CREATE TABLE IF NOT EXISTS download_job (
		id               text      NOT NULL,
		video_id         text      NOT NULL,
		torrent_id       text      NOT NULL DEFAULT '',
		user_id          text      NOT NULL,
		magnet_uri       text      NOT NULL,
		info_hash        text      NOT NULL DEFAULT '',
		status           text      NOT NULL,
		error_message    text      NOT NULL DEFAULT '',
		progress         real      NOT NULL DEFAULT 0,
		downloaded_bytes integer   NOT NULL DEFAULT 0,
		contiguous_bytes integer   NOT NULL DEFAULT 0,
		total_bytes      integer   NOT NULL DEFAULT 0,
		download_speed   real      NOT NULL DEFAULT 0,
		eta_seconds      integer   NOT NULL DEFAULT 0,
		peers            integer   NOT NULL DEFAULT 0,
		current_phase    text      NOT NULL DEFAULT '',
		file_path        text      NOT NULL DEFAULT '',
		created_at       timestamp DEFAULT CURRENT_TIMESTAMP,
		updated_at       timestamp DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(id)
	);`); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`CREATE INDEX IF NOT EXISTS download_job_video_user_idx
		ON download_job (video_id, user_id);`); err != nil {
		return err
	}
	// At most one non-terminal job per (video, user). Initiate relies on
	// this index to stay idempotent under concurrent requests.
	if _, err := tx.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS download_job_active_uidx
		ON download_job (video_id, user_id)
		WHERE status NOT IN ('COMPLETED', 'FAILED', 'CANCELLED');`); err != nil {
		return err
	}
	_, err := tx.Exec(
		`CREATE TABLE IF NOT EXISTS job_transition (
		id          integer   NOT NULL,
		job_id      text      NOT NULL,
		from_status text      NOT NULL DEFAULT '',
		to_status   text      NOT NULL,
		detail      text      NOT NULL DEFAULT '',
		created_at  timestamp DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(id AUTOINCREMENT)
	);`)
	return err
}

func down00001(tx *sql.Tx) error {
	if _, err := tx.Exec(`DROP TABLE job_transition;`); err != nil {
		return err
	}
	_, err := tx.Exec(`DROP TABLE download_job;`)
	return err
}
