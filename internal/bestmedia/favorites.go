package bestmedia

import (
	"context"
	"database/sql"

	"biowatch/internal/apperr"
)

// fetchFavorites returns at most limit user-marked favorite media, newest
// first, each joined to its highest-detection-confidence observation (spec
// §4.H stage 1). A favorite with no observations at all still surfaces,
// with a nil ObservationID/ScientificName.
func fetchFavorites(ctx context.Context, db *sql.DB, limit int) ([]Item, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT m.media_id, m.deployment_id, m.timestamp, o.observation_id, o.scientific_name
		FROM media m
		LEFT JOIN observations o ON o.observation_id = (
			SELECT o2.observation_id FROM observations o2
			WHERE o2.media_id = m.media_id
			ORDER BY (o2.detection_confidence IS NULL), o2.detection_confidence DESC, o2.observation_id
			LIMIT 1
		)
		WHERE m.favorite != 0
		ORDER BY (m.timestamp IS NULL), m.timestamp DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "fetch favorite media")
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		var ts, obsID, sciName sql.NullString
		if err := rows.Scan(&it.MediaID, &it.DeploymentID, &ts, &obsID, &sciName); err != nil {
			return nil, apperr.Wrap(apperr.KindIOFailure, err, "scan favorite media")
		}
		if ts.Valid {
			v := ts.String
			it.Timestamp = &v
		}
		if obsID.Valid {
			v := obsID.String
			it.ObservationID = &v
		}
		if sciName.Valid {
			v := sciName.String
			it.ScientificName = &v
		}
		it.Favorite = true
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "iterate favorite media")
	}
	return out, nil
}
