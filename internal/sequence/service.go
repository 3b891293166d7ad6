package sequence

import (
	"context"
	"database/sql"

	"biowatch/internal/query"
)

// These functions are the component's public entry points, one per
// `sequences.*` RPC handler (spec §6): fetch the underlying per-media rows
// from the query layer, then apply sequence-aware reduction before handing
// back to the caller.

// SpeciesDistribution returns burst-safe per-species totals across every
// media matching species, honoring gapSeconds (nil = event-id mode).
func SpeciesDistribution(ctx context.Context, db *sql.DB, gapSeconds *int, species []string) ([]query.SpeciesCount, error) {
	rows, err := query.SpeciesTimeseriesByMedia(ctx, db, species)
	if err != nil {
		return nil, err
	}
	return ReduceSpeciesCounts(rows, gapSeconds), nil
}

// Timeseries returns one row per (sequence, species) instead of one row per
// (media, species).
func Timeseries(ctx context.Context, db *sql.DB, gapSeconds *int, species []string) ([]query.MediaSpeciesRow, error) {
	rows, err := query.SpeciesTimeseriesByMedia(ctx, db, species)
	if err != nil {
		return nil, err
	}
	return ReduceTimeseries(rows, gapSeconds), nil
}

// Heatmap returns sequence-reduced (species, location) rows.
func Heatmap(ctx context.Context, db *sql.DB, gapSeconds *int, species []string, dateRange query.DateRange, hourRange query.HourRange, includeNull bool) ([]query.MediaSpeciesRow, error) {
	rows, err := query.SpeciesHeatmapByMedia(ctx, db, species, dateRange, hourRange, includeNull)
	if err != nil {
		return nil, err
	}
	return ReduceHeatmap(rows, gapSeconds), nil
}

// DailyActivity returns sequence-reduced (species, hour-of-day) rows.
func DailyActivity(ctx context.Context, db *sql.DB, gapSeconds *int, species []string, dateRange query.DateRange) ([]query.MediaSpeciesRow, error) {
	rows, err := query.SpeciesDailyActivityByMedia(ctx, db, species, dateRange)
	if err != nil {
		return nil, err
	}
	return ReduceDailyActivity(rows, gapSeconds), nil
}

// GetPaginated is the sequences.get_paginated entry point: walk the study's
// media one page of sequences at a time.
func GetPaginated(ctx context.Context, db *sql.DB, gapSeconds *int, limit int, cursor string, filters query.MediaFilters) (*Page, error) {
	return Paginate(ctx, db, gapSeconds, limit, cursor, filters)
}
