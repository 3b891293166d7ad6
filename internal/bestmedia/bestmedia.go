// Package bestmedia implements the best-media selector (spec component H):
// mixing user-marked favorites with auto-selected diverse, high-quality
// captures into a single ranked list of at most N representative media for
// a study.
package bestmedia

import (
	"context"
	"database/sql"
	"time"

	"biowatch/internal/metrics"
)

// Item is one selected media item, either a user favorite or a
// diversity-selected candidate.
type Item struct {
	MediaID        string  `json:"mediaId"`
	ObservationID  *string `json:"observationId,omitempty"`
	ScientificName *string `json:"scientificName,omitempty"`
	DeploymentID   string  `json:"deploymentId"`
	Timestamp      *string `json:"timestamp,omitempty"`
	Score          float64 `json:"score"`
	Favorite       bool    `json:"favorite"`
}

// Select runs the three-stage selector and returns at most limit media:
// favorites (timestamp-desc) first, then diverse selections (score-desc),
// truncated to limit (spec §4.H).
func Select(ctx context.Context, db *sql.DB, limit int) ([]Item, error) {
	start := time.Now()
	defer func() { metrics.SelectorDuration.Observe(time.Since(start).Seconds()) }()

	if limit <= 0 {
		return nil, nil
	}

	favorites, err := fetchFavorites(ctx, db, limit)
	if err != nil {
		return nil, err
	}
	if len(favorites) >= limit {
		return favorites[:limit], nil
	}

	candidates, err := fetchScoredCandidates(ctx, db)
	if err != nil {
		return nil, err
	}
	diverse := selectDiverse(candidates, limit-len(favorites))

	out := make([]Item, 0, len(favorites)+len(diverse))
	out = append(out, favorites...)
	out = append(out, diverse...)
	return out, nil
}
