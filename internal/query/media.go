package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"biowatch/internal/apperr"
	"biowatch/internal/schema"
)

// MediaPage is one page of get_media results.
type MediaPage struct {
	Items []Media `json:"items"`
	Total int     `json:"total"`
}

// GetMedia is the fluent filter over species (with BlankSpeciesSentinel),
// date range, hour range, null-timestamp inclusion, and offset/limit
// pagination. When both blank and non-blank species are requested, the two
// set-distinct subqueries are combined via UNION and ordering/pagination is
// applied over the union (spec §4.D).
func GetMedia(ctx context.Context, db *sql.DB, filters MediaFilters, page Pagination) (*MediaPage, error) {
	done := observeQuery("get_media")

	wantBlank, wantSpecies := SplitBlankSentinel(filters.Species)

	var subqueries []string
	var args []interface{}

	if wantBlank || len(filters.Species) == 0 {
		cond, condArgs := TimestampFilterSQL("m.timestamp", filters.DateRange, filters.HourRange, filters.IncludeNullTimestamps)
		sub := fmt.Sprintf(`
			SELECT m.media_id FROM media m
			WHERE NOT EXISTS (SELECT 1 FROM observations o WHERE o.media_id = m.media_id)
			AND %s`, cond)
		subqueries = append(subqueries, sub)
		args = append(args, condArgs...)
	}

	if len(wantSpecies) > 0 || len(filters.Species) == 0 {
		speciesCond, speciesArgs := SpeciesWhere(wantSpecies, "o")
		tsCond, tsArgs := TimestampFilterSQL("m.timestamp", filters.DateRange, filters.HourRange, filters.IncludeNullTimestamps)
		sub := fmt.Sprintf(`
			SELECT DISTINCT m.media_id FROM media m
			JOIN observations o ON o.media_id = m.media_id
			WHERE %s AND %s`, speciesCond, tsCond)
		subqueries = append(subqueries, sub)
		args = append(args, speciesArgs...)
		args = append(args, tsArgs...)
	}

	union := strings.Join(subqueries, " UNION ")

	countQuery := "SELECT COUNT(*) FROM (" + union + ")"
	var total int
	if err := db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		done(err)
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "get_media count")
	}

	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}

	orderBy := fmt.Sprintf("%s DESC NULLS LAST, %s DESC", allowedMediaSortColumns["timestamp"], allowedMediaSortColumns["media_id"])
	listQuery := fmt.Sprintf(`
		SELECT m.media_id, m.deployment_id, m.timestamp, m.file_path, m.file_name,
		       m.import_folder, m.folder_name, m.file_media_type, m.exif_data, m.favorite
		FROM media m
		WHERE m.media_id IN (%s)
		ORDER BY %s
		LIMIT ? OFFSET ?
	`, union, orderBy)
	listArgs := append(append([]interface{}{}, args...), limit, offset)

	rows, err := db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		done(err)
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "get_media list")
	}
	defer rows.Close()

	var items []Media
	for rows.Next() {
		med, err := scanMedia(rows)
		if err != nil {
			done(err)
			return nil, err
		}
		items = append(items, med)
	}
	done(rows.Err())
	return &MediaPage{Items: items, Total: total}, rows.Err()
}

// SplitBlankSentinel separates BlankSpeciesSentinel from a concrete
// species list, for callers (get_media, the sequence paginator) that
// need to branch between an "observation-less media" subquery and a
// "species IN (...)" subquery.
func SplitBlankSentinel(species []string) (bool, []string) {
	var wantBlank bool
	var rest []string
	for _, s := range species {
		if s == BlankSpeciesSentinel {
			wantBlank = true
		} else {
			rest = append(rest, s)
		}
	}
	return wantBlank, rest
}

func scanMedia(rows *sql.Rows) (Media, error) {
	var m Media
	var ts, importFolder, folderName, mediaType, exif sql.NullString
	var favorite int
	if err := rows.Scan(&m.MediaID, &m.DeploymentID, &ts, &m.FilePath, &m.FileName,
		&importFolder, &folderName, &mediaType, &exif, &favorite); err != nil {
		return Media{}, apperr.Wrap(apperr.KindIOFailure, err, "scan media")
	}
	if ts.Valid {
		m.Timestamp = &ts.String
	}
	m.ImportFolder = importFolder.String
	m.FolderName = folderName.String
	m.FileMediaType = mediaType.String
	m.ExifData = exif.String
	m.Favorite = favorite != 0
	return m, nil
}

// FolderStats is one folder's file_data() row.
type FolderStats struct {
	FolderName    string `json:"folderName"`
	ImageCount    int    `json:"imageCount"`
	VideoCount    int    `json:"videoCount"`
	ProcessedCount int   `json:"processedCount"`
	LastUsedModel string `json:"lastUsedModel,omitempty"`
}

// FilesData returns per-folder statistics: image count, video count,
// processed count ("processed" means "has at least one linked
// observation"), and last-used model (spec §4.D).
func FilesData(ctx context.Context, db *sql.DB) ([]FolderStats, error) {
	done := observeQuery("files_data")
	rows, err := db.QueryContext(ctx, `
		SELECT
			m.folder_name,
			SUM(CASE WHEN m.file_media_type LIKE 'image/%' THEN 1 ELSE 0 END) AS image_count,
			SUM(CASE WHEN m.file_media_type LIKE 'video/%' THEN 1 ELSE 0 END) AS video_count,
			SUM(CASE WHEN EXISTS (SELECT 1 FROM observations o WHERE o.media_id = m.media_id) THEN 1 ELSE 0 END) AS processed_count,
			(SELECT mr.model_id FROM model_outputs mo
			 JOIN model_runs mr ON mr.id = mo.run_id
			 JOIN media m2 ON m2.media_id = mo.media_id
			 WHERE m2.folder_name = m.folder_name
			 ORDER BY mr.started_at DESC LIMIT 1) AS last_used_model
		FROM media m
		GROUP BY m.folder_name
		ORDER BY m.folder_name
	`)
	if err != nil {
		done(err)
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "files_data")
	}
	defer rows.Close()

	var out []FolderStats
	for rows.Next() {
		var fs FolderStats
		var folder, model sql.NullString
		if err := rows.Scan(&folder, &fs.ImageCount, &fs.VideoCount, &fs.ProcessedCount, &model); err != nil {
			done(err)
			return nil, apperr.Wrap(apperr.KindIOFailure, err, "scan files_data")
		}
		fs.FolderName = folder.String
		fs.LastUsedModel = model.String
		out = append(out, fs)
	}
	done(rows.Err())
	return out, rows.Err()
}

// BBoxRow is one observation's bounding box, attributed to its media.
type BBoxRow struct {
	MediaID        string   `json:"mediaId"`
	ObservationID  string   `json:"observationId"`
	X, Y           *float64
	Width, Height  *float64
}

// BBoxesForMedia returns every bbox linked to one media item.
func BBoxesForMedia(ctx context.Context, db *sql.DB, mediaID string, includeWithoutBBox bool) ([]BBoxRow, error) {
	done := observeQuery("bboxes_for_media")
	cond := "bbox_x IS NOT NULL"
	if includeWithoutBBox {
		cond = "1 = 1"
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT media_id, observation_id, bbox_x, bbox_y, bbox_width, bbox_height
		FROM observations WHERE media_id = ? AND %s
	`, cond), mediaID)
	if err != nil {
		done(err)
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "bboxes_for_media")
	}
	defer rows.Close()
	out, err := scanBBoxRows(rows)
	done(err)
	return out, err
}

// BBoxesForBatch returns every bbox linked to any of the given media ids.
func BBoxesForBatch(ctx context.Context, db *sql.DB, mediaIDs []string) ([]BBoxRow, error) {
	done := observeQuery("bboxes_for_batch")
	if len(mediaIDs) == 0 {
		done(nil)
		return nil, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(mediaIDs)), ",")
	args := make([]interface{}, len(mediaIDs))
	for i, id := range mediaIDs {
		args[i] = id
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT media_id, observation_id, bbox_x, bbox_y, bbox_width, bbox_height
		FROM observations WHERE media_id IN (%s) AND bbox_x IS NOT NULL
	`, placeholders), args...)
	if err != nil {
		done(err)
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "bboxes_for_batch")
	}
	defer rows.Close()
	out, err := scanBBoxRows(rows)
	done(err)
	return out, err
}

// HaveAnyBBox reports, for each media id, whether it has at least one bbox.
func HaveAnyBBox(ctx context.Context, db *sql.DB, mediaIDs []string) (map[string]bool, error) {
	done := observeQuery("have_any_bbox")
	result := make(map[string]bool, len(mediaIDs))
	for _, id := range mediaIDs {
		result[id] = false
	}
	if len(mediaIDs) == 0 {
		done(nil)
		return result, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(mediaIDs)), ",")
	args := make([]interface{}, len(mediaIDs))
	for i, id := range mediaIDs {
		args[i] = id
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT DISTINCT media_id FROM observations WHERE media_id IN (%s) AND bbox_x IS NOT NULL
	`, placeholders), args...)
	if err != nil {
		done(err)
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "have_any_bbox")
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			done(err)
			return nil, apperr.Wrap(apperr.KindIOFailure, err, "scan have_any_bbox")
		}
		result[id] = true
	}
	done(rows.Err())
	return result, rows.Err()
}

func scanBBoxRows(rows *sql.Rows) ([]BBoxRow, error) {
	var out []BBoxRow
	for rows.Next() {
		var r BBoxRow
		if err := rows.Scan(&r.MediaID, &r.ObservationID, &r.X, &r.Y, &r.Width, &r.Height); err != nil {
			return nil, apperr.Wrap(apperr.KindIOFailure, err, "scan bbox row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateMediaTimestamp parses newTS, rejects years outside [1970, 2100],
// computes the millisecond delta against the old timestamp (if any), shifts
// both event_start and event_end of every linked observation by the same
// delta, and preserves the textual format of the original string
// (milliseconds-or-not, seconds-or-not, timezone designator style). When
// the old timestamp is missing, the new value is set verbatim with no
// shift (spec §4.D).
func UpdateMediaTimestamp(ctx context.Context, db *sql.DB, mediaID, newTS string) error {
	done := observeQuery("update_media_timestamp")

	validated, err := schema.ValidateTimestamp(newTS)
	if err != nil {
		done(err)
		return err
	}
	parsed, err := parseFlexibleTimestamp(validated)
	if err != nil {
		done(err)
		return apperr.Wrap(apperr.KindInvalidInput, err, "update_media_timestamp: parse %q", newTS)
	}
	if err := schema.ValidateYear(parsed.Year()); err != nil {
		done(err)
		return err
	}

	var oldTS sql.NullString
	if err := db.QueryRowContext(ctx, `SELECT timestamp FROM media WHERE media_id = ?`, mediaID).Scan(&oldTS); err != nil {
		done(err)
		if err == sql.ErrNoRows {
			return apperr.New(apperr.KindNotFound, "media %s not found", mediaID)
		}
		return apperr.Wrap(apperr.KindIOFailure, err, "update_media_timestamp lookup")
	}

	// Preserve the textual format of the *new* value the caller supplied
	// (spec requires preserving the format of "the original string", which
	// for a fresh write is the incoming value itself); when an old
	// timestamp existed, reformat newTS to mirror its format characteristics.
	formatted := validated
	var deltaMS int64
	if oldTS.Valid {
		oldParsed, err := parseFlexibleTimestamp(oldTS.String)
		if err == nil {
			deltaMS = parsed.UnixMilli() - oldParsed.UnixMilli()
			formatted = reformatLike(oldTS.String, parsed)
		}
	}

	txErr := func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return apperr.Wrap(apperr.KindIOFailure, err, "begin update_media_timestamp")
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `UPDATE media SET timestamp = ? WHERE media_id = ?`, formatted, mediaID); err != nil {
			return apperr.Wrap(apperr.KindIOFailure, err, "update media timestamp")
		}

		if deltaMS != 0 {
			rows, err := tx.QueryContext(ctx, `SELECT observation_id, event_start, event_end FROM observations WHERE media_id = ?`, mediaID)
			if err != nil {
				return apperr.Wrap(apperr.KindIOFailure, err, "select linked observations")
			}
			type shift struct {
				id               string
				start, end       sql.NullString
			}
			var shifts []shift
			for rows.Next() {
				var s shift
				if err := rows.Scan(&s.id, &s.start, &s.end); err != nil {
					rows.Close()
					return apperr.Wrap(apperr.KindIOFailure, err, "scan linked observation")
				}
				shifts = append(shifts, s)
			}
			rows.Close()

			for _, s := range shifts {
				newStart := shiftTimestamp(s.start, deltaMS)
				newEnd := shiftTimestamp(s.end, deltaMS)
				if _, err := tx.ExecContext(ctx,
					`UPDATE observations SET event_start = ?, event_end = ? WHERE observation_id = ?`,
					newStart, newEnd, s.id); err != nil {
					return apperr.Wrap(apperr.KindIOFailure, err, "shift observation timestamps")
				}
			}
		}

		return tx.Commit()
	}()
	done(txErr)
	return txErr
}

func shiftTimestamp(ns sql.NullString, deltaMS int64) interface{} {
	if !ns.Valid {
		return nil
	}
	t, err := parseFlexibleTimestamp(ns.String)
	if err != nil {
		return ns.String
	}
	shifted := t.Add(time.Duration(deltaMS) * time.Millisecond)
	return reformatLike(ns.String, shifted)
}

// parseFlexibleTimestamp parses any of the ISO-8601+TZ variants this system
// accepts.
func parseFlexibleTimestamp(s string) (time.Time, error) {
	layouts := []string{
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02T15:04Z07:00",
	}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

// reformatLike renders t using the same format characteristics as example
// (milliseconds presence, seconds presence, timezone designator style),
// satisfying spec §8 testable property 3.
func reformatLike(example string, t time.Time) string {
	datePart := example
	if len(datePart) > 19 {
		datePart = datePart[:19]
	}
	hasMillis := strings.Contains(example, ".")
	hasSeconds := strings.Count(datePart, ":") >= 2
	usesZ := strings.HasSuffix(example, "Z")

	var layout string
	switch {
	case hasMillis:
		layout = "2006-01-02T15:04:05.000Z07:00"
	case hasSeconds:
		layout = "2006-01-02T15:04:05Z07:00"
	default:
		layout = "2006-01-02T15:04Z07:00"
	}
	out := t.Format(layout)
	if usesZ {
		out = strings.TrimSuffix(out, "+00:00")
		if !strings.HasSuffix(out, "Z") && t.UTC() == t {
			out += "Z"
		}
	}
	return out
}

// UpdateMediaFavorite sets the favorite flag on a media item.
func UpdateMediaFavorite(ctx context.Context, db *sql.DB, mediaID string, favorite bool) error {
	done := observeQuery("update_media_favorite")
	val := 0
	if favorite {
		val = 1
	}
	res, err := db.ExecContext(ctx, `UPDATE media SET favorite = ? WHERE media_id = ?`, val, mediaID)
	done(err)
	return mustAffectOne(err, res, apperr.New(apperr.KindNotFound, "media %s not found", mediaID))
}

// CountMediaNullTimestamps counts media rows with a null timestamp.
func CountMediaNullTimestamps(ctx context.Context, db *sql.DB) (int, error) {
	done := observeQuery("count_media_null_timestamps")
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM media WHERE timestamp IS NULL`).Scan(&n)
	done(err)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindIOFailure, err, "count_media_null_timestamps")
	}
	return n, nil
}
