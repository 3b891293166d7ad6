package query

import (
	"context"
	"database/sql"

	"biowatch/internal/apperr"
)

// GetStudyMetadata returns the single metadata row for a study's database.
func GetStudyMetadata(ctx context.Context, db *sql.DB) (StudyMetadata, error) {
	done := observeQuery("get_study_metadata")
	var m StudyMetadata
	var title, description, contributors, updatedAt, startDate, endDate sql.NullString
	var sequenceGap sql.NullInt64
	err := db.QueryRowContext(ctx, `
		SELECT id, name, title, description, created, importer_name, contributors,
		       updated_at, start_date, end_date, sequence_gap
		FROM study_metadata LIMIT 1`).
		Scan(&m.ID, &m.Name, &title, &description, &m.Created, &m.ImporterName, &contributors,
			&updatedAt, &startDate, &endDate, &sequenceGap)
	done(err)
	if err == sql.ErrNoRows {
		return StudyMetadata{}, apperr.New(apperr.KindNotFound, "no study metadata row")
	}
	if err != nil {
		return StudyMetadata{}, apperr.Wrap(apperr.KindIOFailure, err, "get study metadata")
	}
	m.Title = title.String
	m.Description = description.String
	m.Contributors = contributors.String
	m.UpdatedAt = updatedAt.String
	m.StartDate = startDate.String
	m.EndDate = endDate.String
	if sequenceGap.Valid {
		v := int(sequenceGap.Int64)
		m.SequenceGap = &v
	}
	return m, nil
}

// UpdateStudyMetadata patches the mutable fields of a study's single
// metadata row (name, title, description), leaving importer-derived columns
// untouched.
func UpdateStudyMetadata(ctx context.Context, db *sql.DB, name, title, description string) error {
	done := observeQuery("update_study_metadata")
	res, err := db.ExecContext(ctx, `
		UPDATE study_metadata SET name = ?, title = ?, description = ?, updated_at = datetime('now')`,
		name, title, description)
	doneErr := mustAffectOne(err, res, apperr.New(apperr.KindNotFound, "no study metadata row"))
	done(doneErr)
	return doneErr
}

// GetSequenceGap returns the study's configured sequence-grouping gap in
// seconds, or nil if unset (spec §4.G falls back to a default in that case).
func GetSequenceGap(ctx context.Context, db *sql.DB) (*int, error) {
	done := observeQuery("get_sequence_gap")
	var gap sql.NullInt64
	err := db.QueryRowContext(ctx, `SELECT sequence_gap FROM study_metadata LIMIT 1`).Scan(&gap)
	done(err)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.KindNotFound, "no study metadata row")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "get sequence gap")
	}
	if !gap.Valid {
		return nil, nil
	}
	v := int(gap.Int64)
	return &v, nil
}

// SetSequenceGap updates the study's sequence-grouping gap in seconds.
func SetSequenceGap(ctx context.Context, db *sql.DB, gapSeconds int) error {
	done := observeQuery("set_sequence_gap")
	res, err := db.ExecContext(ctx, `UPDATE study_metadata SET sequence_gap = ?`, gapSeconds)
	doneErr := mustAffectOne(err, res, apperr.New(apperr.KindNotFound, "no study metadata row"))
	done(doneErr)
	return doneErr
}
