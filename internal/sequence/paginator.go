package sequence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"biowatch/internal/apperr"
	"biowatch/internal/metrics"
	"biowatch/internal/query"
)

// DefaultBatch is the floor on how many media rows a single DB round-trip
// fetches before grouping into sequences (spec §4.G).
const DefaultBatch = 200

// maxRefetchIterations bounds how many times the paginator extends a batch
// forward while hunting for a confirmed sequence boundary, so a pathological
// deployment (one gigantic burst) cannot turn a page fetch into an unbounded
// scan (spec §4.G "large-burst edge case... up to a small iteration cap").
const maxRefetchIterations = 25

// Page is one page of the sequence paginator: up to limit sequences, plus
// the opaque cursor for the next call and whether more data remains.
type Page struct {
	Sequences  [][]Item
	NextCursor string
	HasMore    bool
}

// Paginate walks a study's media in sequence-sized pages. gapSeconds nil
// selects event-id mode; otherwise gap mode with that threshold. cursorStr
// is the opaque cursor from a previous call, or "" to start from the
// beginning.
func Paginate(ctx context.Context, db *sql.DB, gapSeconds *int, limit int, cursorStr string, filters query.MediaFilters) (*Page, error) {
	if limit <= 0 {
		limit = 20
	}
	batchSize := limit * 10
	if batchSize < DefaultBatch {
		batchSize = DefaultBatch
	}

	c := decodeCursor(cursorStr)

	if c.Phase == phaseTimestamped {
		page, err := paginatePhase1(ctx, db, gapSeconds, limit, batchSize, c, filters)
		if err != nil {
			return nil, err
		}
		if page.HasMore {
			return page, nil
		}
		if !filters.IncludeNullTimestamps {
			return page, nil
		}
		nullStart := cursor{V: cursorVersion, Phase: phaseNull, Offset: 0}
		if len(page.Sequences) > 0 {
			// Phase one just produced its final page; point the caller at
			// phase two's start instead of reporting the walk as finished.
			page.NextCursor = encodeCursor(nullStart)
			page.HasMore = true
			return page, nil
		}
		return paginatePhase2(ctx, db, limit, nullStart, filters)
	}

	return paginatePhase2(ctx, db, limit, c, filters)
}

// tsCursor is a decoded (timestamp, media_id) lower bound for phase 1.
type tsCursor struct {
	T string
	M string
}

// paginatePhase1 runs the full batch/extend/drop-last-sequence algorithm of
// spec §4.G, scoped purely to phase one: HasMore/NextCursor describe
// whether another phase-one call would yield more data, never phase two.
func paginatePhase1(ctx context.Context, db *sql.DB, gapSeconds *int, limit, batchSize int, c cursor, filters query.MediaFilters) (*Page, error) {
	start := time.Now()
	defer func() {
		metrics.PaginatorPageDuration.WithLabelValues(phaseTimestamped).Observe(time.Since(start).Seconds())
	}()

	var after *tsCursor
	if c.T != "" {
		after = &tsCursor{T: c.T, M: c.M}
	}

	var accumulated []Item
	moreInDB := false

	for iter := 0; ; iter++ {
		items, batchMore, err := fetchPhase1Batch(ctx, db, filters, after, batchSize)
		if err != nil {
			return nil, err
		}
		moreInDB = batchMore
		if len(items) == 0 {
			break
		}
		accumulated = append(accumulated, items...)

		sequences := Group(accumulated, gapSeconds)
		safe := len(sequences)
		if moreInDB {
			safe--
		}
		if safe >= limit || !moreInDB || iter >= maxRefetchIterations {
			break
		}

		metrics.PaginatorRefetches.Inc()
		last := accumulated[len(accumulated)-1]
		after = &tsCursor{T: derefStr(last.Timestamp), M: last.MediaID}
	}

	if len(accumulated) == 0 {
		return &Page{HasMore: false}, nil
	}

	sequences := Group(accumulated, gapSeconds)

	var kept []Sequence
	if moreInDB && len(sequences) > 1 {
		kept = sequences[:len(sequences)-1]
	} else {
		// Either the batch is confirmed complete (!moreInDB), or a single
		// sequence spans the whole accumulated run and the refetch loop
		// above already hit its iteration cap without finding a boundary:
		// emit it rather than an empty page.
		kept = sequences
	}

	truncated := len(kept) > limit
	if truncated {
		kept = kept[:limit]
	}

	// Whenever more data remains (either the DB batch wasn't fully
	// confirmed, or the limit itself cut the page short), the cursor is the
	// oldest item of the last sequence actually returned: every item of
	// every dropped or not-yet-returned sequence sorts strictly before it.
	hasMore := truncated || moreInDB

	out := make([][]Item, len(kept))
	for i, s := range kept {
		out[i] = s.Items
	}

	if !hasMore {
		// Phase one is fully exhausted for this filter set; Paginate decides
		// whether to continue into phase two.
		return &Page{Sequences: out, NextCursor: "", HasMore: false}, nil
	}

	lastSeq := kept[len(kept)-1]
	boundaryItem := lastSeq.Items[len(lastSeq.Items)-1]
	next := cursor{V: cursorVersion, Phase: phaseTimestamped, T: derefStr(boundaryItem.Timestamp), M: boundaryItem.MediaID}
	return &Page{Sequences: out, NextCursor: encodeCursor(next), HasMore: true}, nil
}

// paginatePhase2 walks null-timestamp media by descending media id with a
// plain numeric offset; each item is its own sequence (spec §4.G).
func paginatePhase2(ctx context.Context, db *sql.DB, limit int, c cursor, filters query.MediaFilters) (*Page, error) {
	start := time.Now()
	defer func() {
		metrics.PaginatorPageDuration.WithLabelValues(phaseNull).Observe(time.Since(start).Seconds())
	}()

	items, hasMore, err := fetchPhase2Batch(ctx, db, filters, c.Offset, limit)
	if err != nil {
		return nil, err
	}

	out := make([][]Item, len(items))
	for i, it := range items {
		out[i] = []Item{it}
	}

	var nextCursor string
	if hasMore {
		next := cursor{V: cursorVersion, Phase: phaseNull, Offset: c.Offset + len(items)}
		nextCursor = encodeCursor(next)
	}

	return &Page{Sequences: out, NextCursor: nextCursor, HasMore: hasMore}, nil
}

// filterConds scopes the shared date/hour filter to one phase's partition.
// Phase one (requireNotNull) applies the date range and hour-of-day range
// to timestamped media via query.TimestampFilterSQL with includeNull=false
// (a null timestamp makes dateCond/hourCond evaluate to NULL, so it never
// passes on its own). Phase two media carry no timestamp to test a date or
// hour range against, so every null-timestamp row passes unconditionally —
// filters.IncludeNullTimestamps already decides whether phase two runs at
// all (spec §4.G: only phase one consumes that flag).
func filterConds(column string, filters query.MediaFilters, requireNotNull bool) (string, []interface{}) {
	if !requireNotNull {
		return column + " IS NULL", nil
	}
	return query.TimestampFilterSQL(column, filters.DateRange, filters.HourRange, false)
}

// mediaIDSet builds the same blank/species union-of-subqueries as
// query.GetMedia (grounded there), scoped to either the timestamped or
// null-timestamp partition.
func mediaIDSet(filters query.MediaFilters, requireNotNull bool) (string, []interface{}) {
	wantBlank, wantSpecies := query.SplitBlankSentinel(filters.Species)

	var subs []string
	var args []interface{}

	if wantBlank || len(filters.Species) == 0 {
		cond, condArgs := filterConds("m.timestamp", filters, requireNotNull)
		subs = append(subs, fmt.Sprintf(`
			SELECT m.media_id FROM media m
			WHERE NOT EXISTS (SELECT 1 FROM observations o WHERE o.media_id = m.media_id)
			AND %s`, cond))
		args = append(args, condArgs...)
	}

	if len(wantSpecies) > 0 || len(filters.Species) == 0 {
		speciesCond, speciesArgs := query.SpeciesWhere(wantSpecies, "o")
		cond, condArgs := filterConds("m.timestamp", filters, requireNotNull)
		subs = append(subs, fmt.Sprintf(`
			SELECT DISTINCT m.media_id FROM media m
			JOIN observations o ON o.media_id = m.media_id
			WHERE %s AND %s`, speciesCond, cond))
		args = append(args, speciesArgs...)
		args = append(args, condArgs...)
	}

	return strings.Join(subs, " UNION "), args
}

// fetchPhase1Batch fetches up to limit+1 timestamped media rows strictly
// before the given cursor (or from the start), ordered by (timestamp, media
// id) descending. The extra probe row (when present) is trimmed and used
// only to report whether more rows exist beyond this batch.
func fetchPhase1Batch(ctx context.Context, db *sql.DB, filters query.MediaFilters, after *tsCursor, limit int) ([]Item, bool, error) {
	idSet, args := mediaIDSet(filters, true)

	where := "m.media_id IN (" + idSet + ")"
	if after != nil {
		where += " AND (m.timestamp < ? OR (m.timestamp = ? AND m.media_id < ?))"
		args = append(args, after.T, after.T, after.M)
	}

	q := fmt.Sprintf(`
		SELECT m.media_id, m.deployment_id, m.timestamp,
		       (SELECT o.event_id FROM observations o
		        WHERE o.media_id = m.media_id AND o.event_id IS NOT NULL LIMIT 1) AS event_id
		FROM media m
		WHERE %s
		ORDER BY m.timestamp DESC, m.media_id DESC
		LIMIT ?
	`, where)
	args = append(args, limit+1)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.KindIOFailure, err, "sequence phase1 batch fetch")
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		var ts, eventID sql.NullString
		if err := rows.Scan(&it.MediaID, &it.DeploymentID, &ts, &eventID); err != nil {
			return nil, false, apperr.Wrap(apperr.KindIOFailure, err, "scan sequence phase1 row")
		}
		if ts.Valid {
			it.Timestamp = &ts.String
		}
		if eventID.Valid {
			it.EventID = &eventID.String
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, false, apperr.Wrap(apperr.KindIOFailure, err, "iterate sequence phase1 rows")
	}

	more := len(items) > limit
	if more {
		items = items[:limit]
	}
	return items, more, nil
}

// fetchPhase2Batch fetches up to limit+1 null-timestamp media rows starting
// at offset, ordered by media id descending.
func fetchPhase2Batch(ctx context.Context, db *sql.DB, filters query.MediaFilters, offset, limit int) ([]Item, bool, error) {
	idSet, args := mediaIDSet(filters, false)

	q := fmt.Sprintf(`
		SELECT m.media_id, m.deployment_id, m.timestamp,
		       (SELECT o.event_id FROM observations o
		        WHERE o.media_id = m.media_id AND o.event_id IS NOT NULL LIMIT 1) AS event_id
		FROM media m
		WHERE m.media_id IN (%s)
		ORDER BY m.media_id DESC
		LIMIT ? OFFSET ?
	`, idSet)
	args = append(args, limit+1, offset)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.KindIOFailure, err, "sequence phase2 batch fetch")
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		var ts, eventID sql.NullString
		if err := rows.Scan(&it.MediaID, &it.DeploymentID, &ts, &eventID); err != nil {
			return nil, false, apperr.Wrap(apperr.KindIOFailure, err, "scan sequence phase2 row")
		}
		if eventID.Valid {
			it.EventID = &eventID.String
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, false, apperr.Wrap(apperr.KindIOFailure, err, "iterate sequence phase2 rows")
	}

	more := len(items) > limit
	if more {
		items = items[:limit]
	}
	return items, more, nil
}
