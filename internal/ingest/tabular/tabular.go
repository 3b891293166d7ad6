// Package tabular implements the tabular ingestion pipeline (spec component
// E): four source-format adapters feeding a shared canonicalize -> sanitize
// -> batch-transaction-insert pipeline, followed by event-to-media
// observation expansion.
package tabular

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"biowatch/internal/apperr"
	"biowatch/internal/logging"
	"biowatch/internal/metrics"
	"biowatch/internal/schema"
)

// Format identifies one of the four supported source layouts.
type Format string

const (
	// FormatStandardPackage is the standardized data-package directory
	// layout. Observations in this format may arrive scoped by
	// (deployment_id, event_start, event_end) instead of a media_id, and
	// are resolved by event->media expansion after load.
	FormatStandardPackage Format = "standard_package"
	// FormatVendorCSVA is the first commercial/academic CSV export shape.
	FormatVendorCSVA Format = "vendor_csv_a"
	// FormatVendorCSVB is the second commercial/academic CSV export shape.
	FormatVendorCSVB Format = "vendor_csv_b"
	// FormatFolderScan is an ad-hoc directory of media files with no
	// accompanying metadata file at all.
	FormatFolderScan Format = "folder_scan"
)

// defaultSequenceGapSeconds is applied to every format except
// FormatStandardPackage, which leaves sequence_gap null so the sequence
// engine falls back to event-id grouping (spec §3, §4.E step 5).
const defaultSequenceGapSeconds = 60

// batchSize bounds how many rows accumulate before a batch is committed in
// its own transaction (spec §4.E step 3: "≈1,000-2,000 rows").
const batchSize = 1500

// Stats summarizes one completed (or partially completed, on error) import
// run.
type Stats struct {
	DeploymentsInserted   int
	MediaInserted         int
	ObservationsInserted  int
	ObservationsExpanded  int
	RowsSkipped           int
}

// Import runs the full pipeline for one source directory against an already
// open, migrated study database handle. sequenceGapOverride, if non-nil,
// overrides the format's default sequence_gap.
func Import(ctx context.Context, db *sql.DB, sourceDir string, format Format, sequenceGapOverride *int) (Stats, error) {
	metrics.IngestRunsActive.Inc()
	defer metrics.IngestRunsActive.Dec()

	var stats Stats

	adapter, err := resolveAdapter(format, sourceDir)
	if err != nil {
		return stats, err
	}

	if err := importDeployments(ctx, db, adapter, &stats); err != nil {
		return stats, err
	}
	if err := importMedia(ctx, db, adapter, &stats); err != nil {
		return stats, err
	}
	if err := importObservations(ctx, db, adapter, &stats); err != nil {
		return stats, err
	}

	if format == FormatStandardPackage {
		expanded, err := expandEventObservations(ctx, db)
		if err != nil {
			return stats, err
		}
		stats.ObservationsExpanded = expanded
	}

	sequenceGap := sequenceGapForFormat(format, sequenceGapOverride)
	if err := insertMetadataRow(ctx, db, string(format), sequenceGap); err != nil {
		return stats, err
	}

	return stats, nil
}

func sequenceGapForFormat(format Format, override *int) *int {
	if override != nil {
		return override
	}
	if format == FormatStandardPackage {
		return nil
	}
	gap := defaultSequenceGapSeconds
	return &gap
}

func importDeployments(ctx context.Context, db *sql.DB, adapter sourceAdapter, stats *Stats) error {
	rows, err := adapter.Deployments()
	if err != nil {
		return err
	}
	batch := make([]rawDeployment, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := insertDeploymentBatch(ctx, db, batch)
		stats.DeploymentsInserted += n
		batch = batch[:0]
		return err
	}
	for _, r := range rows {
		sanitized, ok := sanitizeDeployment(r, adapter.name(), stats)
		if !ok {
			continue
		}
		batch = append(batch, sanitized)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func importMedia(ctx context.Context, db *sql.DB, adapter sourceAdapter, stats *Stats) error {
	rows, err := adapter.Media()
	if err != nil {
		return err
	}
	batch := make([]rawMedia, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := insertMediaBatch(ctx, db, batch)
		stats.MediaInserted += n
		batch = batch[:0]
		return err
	}
	for _, r := range rows {
		sanitized, ok := sanitizeMedia(r, adapter.name(), stats)
		if !ok {
			continue
		}
		batch = append(batch, sanitized)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func importObservations(ctx context.Context, db *sql.DB, adapter sourceAdapter, stats *Stats) error {
	rows, err := adapter.Observations()
	if err != nil {
		return err
	}
	batch := make([]rawObservation, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := insertObservationBatch(ctx, db, batch)
		stats.ObservationsInserted += n
		batch = batch[:0]
		return err
	}
	for _, r := range rows {
		sanitized, ok := sanitizeObservation(r, adapter.name(), stats)
		if !ok {
			continue
		}
		batch = append(batch, sanitized)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func insertDeploymentBatch(ctx context.Context, db *sql.DB, rows []rawDeployment) (int, error) {
	start := time.Now()
	n := 0
	err := withTransaction(ctx, db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO deployments
				(deployment_id, location_id, location_name, deployment_start, deployment_end,
				 latitude, longitude, camera_model, camera_id, coordinate_uncertainty)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, r.DeploymentID, r.LocationID, r.LocationName,
				r.DeploymentStart, r.DeploymentEnd, r.Latitude, r.Longitude,
				r.CameraModel, r.CameraID, r.CoordinateUncertainty); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	metrics.IngestBatchDuration.WithLabelValues("generic", "deployments").Observe(time.Since(start).Seconds())
	if err != nil {
		return n, apperr.Wrap(apperr.KindIOFailure, err, "insert deployment batch")
	}
	metrics.IngestRowsProcessed.WithLabelValues("generic", "deployments").Add(float64(n))
	return n, nil
}

func insertMediaBatch(ctx context.Context, db *sql.DB, rows []rawMedia) (int, error) {
	start := time.Now()
	n := 0
	err := withTransaction(ctx, db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO media
				(media_id, deployment_id, timestamp, file_path, file_name,
				 import_folder, folder_name, file_media_type, exif_data, favorite)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			var ts interface{}
			if r.Timestamp != "" {
				ts = r.Timestamp
			}
			if _, err := stmt.ExecContext(ctx, r.MediaID, r.DeploymentID, ts, r.FilePath, r.FileName,
				r.ImportFolder, r.FolderName, r.FileMediaType, r.ExifData); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	metrics.IngestBatchDuration.WithLabelValues("generic", "media").Observe(time.Since(start).Seconds())
	if err != nil {
		return n, apperr.Wrap(apperr.KindIOFailure, err, "insert media batch")
	}
	metrics.IngestRowsProcessed.WithLabelValues("generic", "media").Add(float64(n))
	return n, nil
}

func insertObservationBatch(ctx context.Context, db *sql.DB, rows []rawObservation) (int, error) {
	start := time.Now()
	n := 0
	err := withTransaction(ctx, db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO observations
				(observation_id, media_id, deployment_id, event_id, event_start, event_end,
				 scientific_name, common_name, observation_type, classification_probability,
				 count, life_stage, sex, behavior,
				 bbox_x, bbox_y, bbox_width, bbox_height,
				 detection_confidence, classification_method, classified_by, classification_timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, r.ObservationID, r.MediaID, r.DeploymentID, r.EventID,
				r.EventStart, r.EventEnd, r.ScientificName, r.CommonName, r.ObservationType,
				r.ClassificationProbability, r.Count, r.LifeStage, r.Sex, r.Behavior,
				r.BBoxX, r.BBoxY, r.BBoxWidth, r.BBoxHeight,
				r.DetectionConfidence, r.ClassificationMethod, r.ClassifiedBy, r.ClassificationTimestamp); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	metrics.IngestBatchDuration.WithLabelValues("generic", "observations").Observe(time.Since(start).Seconds())
	if err != nil {
		return n, apperr.Wrap(apperr.KindIOFailure, err, "insert observation batch")
	}
	metrics.IngestRowsProcessed.WithLabelValues("generic", "observations").Add(float64(n))
	return n, nil
}

// expandEventObservations implements spec §4.E step 4: join event-scoped
// observations (null media_id) to the media they cover, materialize one
// observation per match with a fresh id, then delete the originals in
// parameter-cap-sized batches.
func expandEventObservations(ctx context.Context, db *sql.DB) (int, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT o.observation_id, m.media_id, o.deployment_id, o.event_id, o.event_start, o.event_end,
		       o.scientific_name, o.common_name, o.observation_type, o.classification_probability,
		       o.count, o.life_stage, o.sex, o.behavior,
		       o.bbox_x, o.bbox_y, o.bbox_width, o.bbox_height,
		       o.detection_confidence, o.classification_method, o.classified_by, o.classification_timestamp
		FROM observations o
		JOIN media m ON m.deployment_id = o.deployment_id
			AND m.timestamp BETWEEN o.event_start AND COALESCE(o.event_end, o.event_start)
		WHERE o.media_id IS NULL
	`)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindIOFailure, err, "expand event observations: select matches")
	}

	type expanded struct {
		origID                                                             string
		mediaID, deploymentID, eventID, eventStart, eventEnd               sql.NullString
		scientificName, commonName                                         sql.NullString
		observationType                                                    string
		classificationProbability                                          sql.NullFloat64
		count                                                               int
		lifeStage, sex, behavior                                           sql.NullString
		bboxX, bboxY, bboxWidth, bboxHeight, detectionConfidence           sql.NullFloat64
		classificationMethod                                               string
		classifiedBy, classificationTimestamp                              sql.NullString
	}

	var matches []expanded
	var origIDs []string
	for rows.Next() {
		var e expanded
		if err := rows.Scan(&e.origID, &e.mediaID, &e.deploymentID, &e.eventID, &e.eventStart, &e.eventEnd,
			&e.scientificName, &e.commonName, &e.observationType, &e.classificationProbability,
			&e.count, &e.lifeStage, &e.sex, &e.behavior,
			&e.bboxX, &e.bboxY, &e.bboxWidth, &e.bboxHeight,
			&e.detectionConfidence, &e.classificationMethod, &e.classifiedBy, &e.classificationTimestamp); err != nil {
			rows.Close()
			return 0, apperr.Wrap(apperr.KindIOFailure, err, "expand event observations: scan match")
		}
		matches = append(matches, e)
		origIDs = append(origIDs, e.origID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, apperr.Wrap(apperr.KindIOFailure, err, "expand event observations: iterate matches")
	}

	inserted := 0
	err = withTransaction(ctx, db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO observations
				(observation_id, media_id, deployment_id, event_id, event_start, event_end,
				 scientific_name, common_name, observation_type, classification_probability,
				 count, life_stage, sex, behavior,
				 bbox_x, bbox_y, bbox_width, bbox_height,
				 detection_confidence, classification_method, classified_by, classification_timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range matches {
			if _, err := stmt.ExecContext(ctx, uuid.NewString(), e.mediaID, e.deploymentID, e.eventID,
				e.eventStart, e.eventEnd, e.scientificName, e.commonName, e.observationType,
				e.classificationProbability, e.count, e.lifeStage, e.sex, e.behavior,
				e.bboxX, e.bboxY, e.bboxWidth, e.bboxHeight,
				e.detectionConfidence, e.classificationMethod, e.classifiedBy, e.classificationTimestamp); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, apperr.Wrap(apperr.KindIOFailure, err, "expand event observations: insert expanded rows")
	}

	// deleteBatchSize respects SQLite's default prepared-statement variable
	// cap (999) comfortably.
	const deleteBatchSize = 500
	for start := 0; start < len(origIDs); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(origIDs) {
			end = len(origIDs)
		}
		chunk := origIDs[start:end]
		placeholders := ""
		args := make([]interface{}, len(chunk))
		for i, id := range chunk {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args[i] = id
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM observations WHERE observation_id IN (%s)`, placeholders), args...); err != nil {
			return inserted, apperr.Wrap(apperr.KindIOFailure, err, "expand event observations: delete originals")
		}
	}

	logging.Info("event expansion: matched %d event-scoped observations, inserted %d, deleted originals", len(matches), inserted)
	return inserted, nil
}

func insertMetadataRow(ctx context.Context, db *sql.DB, importerName string, sequenceGap *int) error {
	id := uuid.NewString()
	now := time.Now().UTC().Format("2006-01-02T15:04:05Z")
	_, err := db.ExecContext(ctx, `
		INSERT INTO study_metadata (id, name, created, importer_name, contributors, sequence_gap)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, importerName, now, importerName, "[]", sequenceGap)
	if err != nil {
		return apperr.Wrap(apperr.KindIOFailure, err, "insert study metadata row")
	}
	return nil
}

func withTransaction(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// sanitizeDeployment applies the field sanitizers spec §4.E step 2 requires:
// timezone-fill on timestamps.
func sanitizeDeployment(r rawDeployment, format string, stats *Stats) (rawDeployment, bool) {
	start, err := schema.ValidateTimestamp(r.DeploymentStart)
	if err != nil {
		skip(format, "deployments", "invalid deployment_start", stats)
		return rawDeployment{}, false
	}
	end, err := schema.ValidateTimestamp(r.DeploymentEnd)
	if err != nil {
		skip(format, "deployments", "invalid deployment_end", stats)
		return rawDeployment{}, false
	}
	r.DeploymentStart = start
	r.DeploymentEnd = end
	return r, true
}

func sanitizeMedia(r rawMedia, format string, stats *Stats) (rawMedia, bool) {
	if r.Timestamp != "" {
		ts, err := schema.ValidateTimestamp(r.Timestamp)
		if err != nil {
			skip(format, "media", "invalid timestamp", stats)
			return rawMedia{}, false
		}
		r.Timestamp = ts
	}
	return r, true
}

// sanitizeObservation applies bbox clamp, enum mapping, count normalization,
// and probability clamp (spec §4.E step 2).
func sanitizeObservation(r rawObservation, format string, stats *Stats) (rawObservation, bool) {
	obsType, err := schema.ValidateObservationType(r.ObservationType)
	if err != nil {
		skip(format, "observations", "invalid observation_type", stats)
		return rawObservation{}, false
	}
	r.ObservationType = string(obsType)

	r.LifeStage = schema.NormalizeLifeStage(r.LifeStage)
	r.Sex = schema.NormalizeSex(r.Sex)

	r.Count = schema.NormalizeCount(r.CountRaw)

	if r.ClassificationProbability != nil {
		v := schema.ClampProbability(*r.ClassificationProbability)
		r.ClassificationProbability = &v
	}
	if r.DetectionConfidence != nil {
		v := schema.ClampProbability(*r.DetectionConfidence)
		r.DetectionConfidence = &v
	}

	if r.BBoxWidth != nil || r.BBoxHeight != nil {
		box := schema.ClampBBox(schema.BBox{
			X:      floatOrZero(r.BBoxX),
			Y:      floatOrZero(r.BBoxY),
			Width:  floatOrZero(r.BBoxWidth),
			Height: floatOrZero(r.BBoxHeight),
		})
		r.BBoxX, r.BBoxY, r.BBoxWidth, r.BBoxHeight = &box.X, &box.Y, &box.Width, &box.Height
	}

	r.ClassificationMethod = schema.NormalizeClassificationMethod(r.ClassificationMethod)
	return r, true
}

func floatOrZero(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func skip(format, table, reason string, stats *Stats) {
	metrics.IngestRowsSkipped.WithLabelValues(format, table, reason).Inc()
	stats.RowsSkipped++
	logging.Warn("tabular ingest: skipped %s row (%s): %s", table, format, reason)
}
