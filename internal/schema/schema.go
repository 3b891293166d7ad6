// Package schema declares the study database's tables, indexes, and the
// ordered list of migrations that builds them (spec component C), plus the
// structural validators applied at every ingress point.
package schema

import (
	"context"
	"database/sql"
	"fmt"

	"biowatch/internal/apperr"
)

// migration is one forward step of the schema. down is intentionally absent
// from the exported surface: spec §4.C requires only "up"; "down" is
// optional maintenance tooling this repository does not need.
type migration struct {
	version     int
	description string
	up          func(ctx context.Context, tx *sql.Tx) error
}

// migrations is the ordered, append-only list of schema changes. Every
// change to the schema is a new entry at the end of this slice, never an
// edit to an existing one, so that a database migrated under an old build
// still has a faithful history.
var migrations = []migration{
	{1, "initial schema: deployments, media, observations, metadata, model runs/outputs", migration001InitialSchema},
	{2, "add ocr_outputs table", migration002OCROutputs},
}

// Migrate ensures the schema_migrations bookkeeping table exists, then
// applies every migration whose version has not yet been recorded, strictly
// in order, each wrapped in its own transaction so a partial failure leaves
// the database unchanged from the caller's perspective.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		)`); err != nil {
		return apperr.Wrap(apperr.KindIOFailure, err, "create schema_migrations table")
	}

	applied := make(map[int]bool)
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return apperr.Wrap(apperr.KindIOFailure, err, "read schema_migrations")
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return apperr.Wrap(apperr.KindIOFailure, err, "scan schema_migrations")
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return apperr.Wrap(apperr.KindIOFailure, err, "begin migration %d", m.version)
		}

		if err := m.up(ctx, tx); err != nil {
			tx.Rollback()
			return apperr.Wrap(apperr.KindIOFailure, err, "apply migration %d (%s)", m.version, m.description)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, description) VALUES (?, ?)`,
			m.version, m.description); err != nil {
			tx.Rollback()
			return apperr.Wrap(apperr.KindIOFailure, err, "record migration %d", m.version)
		}

		if err := tx.Commit(); err != nil {
			return apperr.Wrap(apperr.KindIOFailure, err, "commit migration %d", m.version)
		}
	}

	return nil
}

func migration001InitialSchema(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE deployments (
			deployment_id          TEXT PRIMARY KEY,
			location_id            TEXT NOT NULL,
			location_name          TEXT,
			deployment_start       TEXT NOT NULL,
			deployment_end         TEXT NOT NULL,
			latitude               REAL NOT NULL,
			longitude              REAL NOT NULL,
			camera_model           TEXT,
			camera_id              TEXT,
			coordinate_uncertainty INTEGER
		)`,
		`CREATE INDEX idx_deployments_location ON deployments(location_id)`,

		`CREATE TABLE media (
			media_id        TEXT PRIMARY KEY,
			deployment_id   TEXT NOT NULL REFERENCES deployments(deployment_id),
			timestamp       TEXT,
			file_path       TEXT NOT NULL,
			file_name       TEXT NOT NULL,
			import_folder   TEXT,
			folder_name     TEXT,
			file_media_type TEXT,
			exif_data       TEXT,
			favorite        INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX idx_media_deployment_id ON media(deployment_id)`,
		`CREATE INDEX idx_media_timestamp ON media(timestamp)`,
		`CREATE INDEX idx_media_file_path ON media(file_path)`,
		`CREATE INDEX idx_media_folder_name ON media(folder_name)`,

		`CREATE TABLE observations (
			observation_id            TEXT PRIMARY KEY,
			media_id                  TEXT REFERENCES media(media_id),
			deployment_id             TEXT NOT NULL REFERENCES deployments(deployment_id),
			event_id                  TEXT,
			event_start               TEXT,
			event_end                 TEXT,
			scientific_name           TEXT,
			common_name               TEXT,
			observation_type          TEXT NOT NULL,
			classification_probability REAL,
			count                     INTEGER NOT NULL DEFAULT 1,
			life_stage                TEXT,
			sex                       TEXT,
			behavior                  TEXT,
			bbox_x                    REAL,
			bbox_y                    REAL,
			bbox_width                REAL,
			bbox_height               REAL,
			detection_confidence      REAL,
			model_output_id           TEXT,
			classification_method     TEXT NOT NULL DEFAULT 'machine',
			classified_by             TEXT,
			classification_timestamp  TEXT
		)`,
		`CREATE INDEX idx_observations_media_id ON observations(media_id)`,
		`CREATE INDEX idx_observations_deployment_id ON observations(deployment_id)`,
		`CREATE INDEX idx_observations_scientific_name ON observations(scientific_name)`,
		`CREATE INDEX idx_observations_event_start ON observations(event_start)`,
		`CREATE INDEX idx_observations_species_event ON observations(scientific_name, event_start)`,
		`CREATE INDEX idx_observations_media_deployment ON observations(media_id, deployment_id)`,

		`CREATE TABLE study_metadata (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			title          TEXT,
			description    TEXT,
			created        TEXT NOT NULL,
			importer_name  TEXT NOT NULL,
			contributors   TEXT,
			updated_at     TEXT,
			start_date     TEXT,
			end_date       TEXT,
			sequence_gap   INTEGER
		)`,

		`CREATE TABLE model_runs (
			id           TEXT PRIMARY KEY,
			model_id     TEXT NOT NULL,
			model_version TEXT NOT NULL,
			started_at   TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'running',
			import_path  TEXT,
			options      TEXT
		)`,

		`CREATE TABLE model_outputs (
			id         TEXT PRIMARY KEY,
			media_id   TEXT NOT NULL REFERENCES media(media_id),
			run_id     TEXT NOT NULL REFERENCES model_runs(id),
			raw_output TEXT NOT NULL,
			UNIQUE (media_id, run_id)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}

func migration002OCROutputs(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		CREATE TABLE ocr_outputs (
			id         TEXT PRIMARY KEY,
			media_id   TEXT NOT NULL REFERENCES media(media_id),
			run_id     TEXT NOT NULL REFERENCES model_runs(id),
			raw_output TEXT NOT NULL,
			UNIQUE (media_id, run_id)
		)`)
	return err
}
