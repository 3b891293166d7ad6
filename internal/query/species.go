package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"biowatch/internal/apperr"
)

// SpeciesCount is one (scientific_name, count) row.
type SpeciesCount struct {
	ScientificName string `json:"scientificName"`
	Count          int    `json:"count"`
}

// SpeciesDistribution groups by scientific_name, excluding blank
// observations, ordered by count desc (spec §4.D).
func SpeciesDistribution(ctx context.Context, db *sql.DB) ([]SpeciesCount, error) {
	done := observeQuery("species_distribution")
	rows, err := db.QueryContext(ctx, `
		SELECT scientific_name, COUNT(*) AS n
		FROM observations
		WHERE observation_type != 'blank' AND scientific_name IS NOT NULL
		GROUP BY scientific_name
		ORDER BY n DESC
	`)
	if err != nil {
		done(err)
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "species_distribution")
	}
	defer rows.Close()

	var out []SpeciesCount
	for rows.Next() {
		var sc SpeciesCount
		if err := rows.Scan(&sc.ScientificName, &sc.Count); err != nil {
			done(err)
			return nil, apperr.Wrap(apperr.KindIOFailure, err, "scan species_distribution")
		}
		out = append(out, sc)
	}
	done(rows.Err())
	return out, rows.Err()
}

// BlankMediaCount counts media with no linked observation row. This is the
// canonical blank rule (spec §9 open question): blank iff no observation
// references the media via media_id, which only holds once event expansion
// (spec §4.E step 4) has run.
func BlankMediaCount(ctx context.Context, db *sql.DB) (int, error) {
	done := observeQuery("blank_media_count")
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM media m
		WHERE NOT EXISTS (SELECT 1 FROM observations o WHERE o.media_id = m.media_id)
	`).Scan(&n)
	done(err)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindIOFailure, err, "blank_media_count")
	}
	return n, nil
}

// DistinctSpecies returns distinct scientific_name with per-species
// observation count (unlike SpeciesDistribution, blanks are not excluded
// here, matching the read-everything "distinct" contract of spec §4.D).
func DistinctSpecies(ctx context.Context, db *sql.DB) ([]SpeciesCount, error) {
	done := observeQuery("distinct_species")
	rows, err := db.QueryContext(ctx, `
		SELECT scientific_name, COUNT(*) AS n
		FROM observations
		WHERE scientific_name IS NOT NULL
		GROUP BY scientific_name
		ORDER BY scientific_name ASC
	`)
	if err != nil {
		done(err)
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "distinct_species")
	}
	defer rows.Close()

	var out []SpeciesCount
	for rows.Next() {
		var sc SpeciesCount
		if err := rows.Scan(&sc.ScientificName, &sc.Count); err != nil {
			done(err)
			return nil, apperr.Wrap(apperr.KindIOFailure, err, "scan distinct_species")
		}
		out = append(out, sc)
	}
	done(rows.Err())
	return out, rows.Err()
}

// MediaSpeciesRow is one (species, media) row, the unit the sequence engine
// (component G) consumes to build sequence-aware aggregates.
type MediaSpeciesRow struct {
	MediaID        string   `json:"mediaId"`
	DeploymentID   string   `json:"deploymentId"`
	ScientificName string   `json:"scientificName"`
	Count          int      `json:"count"`
	Timestamp      *string  `json:"timestamp"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	WeekStart      string   `json:"weekStart,omitempty"`
	HourOfDay      *int     `json:"hourOfDay,omitempty"`
	// EventID is carried through so the sequence engine (component G) can
	// group by event id without a second round-trip when sequence_gap is
	// null (event-id mode).
	EventID *string `json:"eventId,omitempty"`
}

// SpeciesTimeseriesByMedia returns one row per (species, media) with the
// start date of its ISO week (the Monday on or before the timestamp, as
// YYYY-MM-DD) computed in SQL (spec §4.D: "never application-side for
// correctness").
func SpeciesTimeseriesByMedia(ctx context.Context, db *sql.DB, species []string) ([]MediaSpeciesRow, error) {
	done := observeQuery("species_timeseries_by_media")

	where, args := SpeciesWhere(species, "o")
	query := fmt.Sprintf(`
		SELECT m.media_id, m.deployment_id, o.scientific_name, o.count, m.timestamp,
		       date(m.timestamp, 'weekday 0', '-6 days') AS week_start, o.event_id
		FROM observations o
		JOIN media m ON m.media_id = o.media_id
		WHERE %s
	`, where)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		done(err)
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "species_timeseries_by_media")
	}
	defer rows.Close()

	var out []MediaSpeciesRow
	for rows.Next() {
		var r MediaSpeciesRow
		var ts, week, eventID sql.NullString
		if err := rows.Scan(&r.MediaID, &r.DeploymentID, &r.ScientificName, &r.Count, &ts, &week, &eventID); err != nil {
			done(err)
			return nil, apperr.Wrap(apperr.KindIOFailure, err, "scan species_timeseries_by_media")
		}
		if ts.Valid {
			r.Timestamp = &ts.String
		}
		r.WeekStart = week.String
		if eventID.Valid {
			r.EventID = &eventID.String
		}
		out = append(out, r)
	}
	done(rows.Err())
	return out, rows.Err()
}

// SpeciesHeatmapByMedia returns one row per (species, media) with
// deployment coordinates joined, honoring a date range, an hour-of-day
// range with wrap-around, and an includeNull flag for null timestamps
// (spec §4.D).
func SpeciesHeatmapByMedia(ctx context.Context, db *sql.DB, species []string, dateRange DateRange, hourRange HourRange, includeNull bool) ([]MediaSpeciesRow, error) {
	done := observeQuery("species_heatmap_by_media")

	var conds []string
	var args []interface{}

	speciesCond, speciesArgs := SpeciesWhere(species, "o")
	conds = append(conds, speciesCond)
	args = append(args, speciesArgs...)

	tsCond, tsArgs := TimestampFilterSQL("m.timestamp", dateRange, hourRange, includeNull)
	conds = append(conds, tsCond)
	args = append(args, tsArgs...)

	query := fmt.Sprintf(`
		SELECT m.media_id, m.deployment_id, o.scientific_name, o.count, m.timestamp,
		       d.latitude, d.longitude, o.event_id
		FROM observations o
		JOIN media m ON m.media_id = o.media_id
		JOIN deployments d ON d.deployment_id = m.deployment_id
		WHERE %s
	`, strings.Join(conds, " AND "))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		done(err)
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "species_heatmap_by_media")
	}
	defer rows.Close()

	var out []MediaSpeciesRow
	for rows.Next() {
		var r MediaSpeciesRow
		var ts, eventID sql.NullString
		if err := rows.Scan(&r.MediaID, &r.DeploymentID, &r.ScientificName, &r.Count, &ts, &r.Latitude, &r.Longitude, &eventID); err != nil {
			done(err)
			return nil, apperr.Wrap(apperr.KindIOFailure, err, "scan species_heatmap_by_media")
		}
		if ts.Valid {
			r.Timestamp = &ts.String
		}
		if eventID.Valid {
			r.EventID = &eventID.String
		}
		out = append(out, r)
	}
	done(rows.Err())
	return out, rows.Err()
}

// SpeciesDailyActivityByMedia is SpeciesHeatmapByMedia plus an integer
// hour-of-day column (spec §4.D).
func SpeciesDailyActivityByMedia(ctx context.Context, db *sql.DB, species []string, dateRange DateRange) ([]MediaSpeciesRow, error) {
	done := observeQuery("species_daily_activity_by_media")

	speciesCond, speciesArgs := SpeciesWhere(species, "o")
	dateCond, dateArgs := DateRangeSQL("m.timestamp", dateRange)

	query := fmt.Sprintf(`
		SELECT m.media_id, m.deployment_id, o.scientific_name, o.count, m.timestamp,
		       CAST(strftime('%%H', m.timestamp) AS INTEGER) AS hour_of_day, o.event_id
		FROM observations o
		JOIN media m ON m.media_id = o.media_id
		WHERE %s AND %s
	`, speciesCond, dateCond)

	args := append(append([]interface{}{}, speciesArgs...), dateArgs...)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		done(err)
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "species_daily_activity_by_media")
	}
	defer rows.Close()

	var out []MediaSpeciesRow
	for rows.Next() {
		var r MediaSpeciesRow
		var ts, eventID sql.NullString
		var hour sql.NullInt64
		if err := rows.Scan(&r.MediaID, &r.DeploymentID, &r.ScientificName, &r.Count, &ts, &hour, &eventID); err != nil {
			done(err)
			return nil, apperr.Wrap(apperr.KindIOFailure, err, "scan species_daily_activity_by_media")
		}
		if ts.Valid {
			r.Timestamp = &ts.String
		}
		if hour.Valid {
			h := int(hour.Int64)
			r.HourOfDay = &h
		}
		if eventID.Valid {
			r.EventID = &eventID.String
		}
		out = append(out, r)
	}
	done(rows.Err())
	return out, rows.Err()
}

// SpeciesWhere builds the species-set predicate, honoring BlankSpeciesSentinel
// to mean "media with no linked observation" (handled by the caller joining
// differently; within this observations-rooted query it instead means "no
// species filter" since a row here always has an observation).
func SpeciesWhere(species []string, alias string) (string, []interface{}) {
	if len(species) == 0 {
		return "1 = 1", nil
	}
	filtered := make([]string, 0, len(species))
	for _, s := range species {
		if s != BlankSpeciesSentinel {
			filtered = append(filtered, s)
		}
	}
	if len(filtered) == 0 {
		return "1 = 1", nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(filtered)), ",")
	args := make([]interface{}, len(filtered))
	for i, s := range filtered {
		args[i] = s
	}
	return fmt.Sprintf("%s.scientific_name IN (%s)", alias, placeholders), args
}

// DateRangeSQL builds an inclusive date-range predicate over an ISO-8601
// timestamp column.
func DateRangeSQL(column string, r DateRange) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if r.Start != "" {
		conds = append(conds, fmt.Sprintf("date(%s) >= date(?)", column))
		args = append(args, r.Start)
	}
	if r.End != "" {
		conds = append(conds, fmt.Sprintf("date(%s) <= date(?)", column))
		args = append(args, r.End)
	}
	if len(conds) == 0 {
		return "1 = 1", nil
	}
	return strings.Join(conds, " AND "), args
}

// TimestampFilterSQL composes a date range, an hour-of-day range with
// wrap-around, and an include-null-timestamps flag into one predicate
// (spec §4.D, shared by the heatmap query and the paginator's phase-1
// filter in internal/sequence).
func TimestampFilterSQL(column string, dateRange DateRange, hourRange HourRange, includeNull bool) (string, []interface{}) {
	dateCond, dateArgs := DateRangeSQL(column, dateRange)

	var hourCond string
	var hourArgs []interface{}
	if hourRange.Set && hourRange.Start != hourRange.End {
		hourExpr := fmt.Sprintf("CAST(strftime('%%H', %s) AS INTEGER)", column)
		if hourRange.Start < hourRange.End {
			hourCond = fmt.Sprintf("(%s >= ? AND %s < ?)", hourExpr, hourExpr)
		} else {
			// Wrap-around, e.g. 22 -> 6: hour >= 22 OR hour < 6.
			hourCond = fmt.Sprintf("(%s >= ? OR %s < ?)", hourExpr, hourExpr)
		}
		hourArgs = []interface{}{hourRange.Start, hourRange.End}
	} else {
		hourCond = "1 = 1"
	}

	// A null timestamp makes dateCond/hourCond evaluate to NULL (date(NULL)
	// and strftime(NULL) are both NULL), so it can never satisfy the first
	// branch on its own merit; includeNull is therefore ORed in as a second,
	// independent branch rather than folded into a third AND term, so null
	// rows pass when and only when the flag is set regardless of dateRange.
	includeNullLit := "0"
	if includeNull {
		includeNullLit = "1"
	}

	full := fmt.Sprintf("((%s) AND (%s)) OR (%s AND %s IS NULL)", dateCond, hourCond, includeNullLit, column)
	args := append(append([]interface{}{}, dateArgs...), hourArgs...)
	return full, args
}
