package bestmedia

import (
	"context"
	"database/sql"
	"math"
	"sort"
	"strings"
	"time"

	"biowatch/internal/apperr"
)

// stopListScientificNames excludes subjects that observation_type
// occasionally fails to flag as human/vehicle/blank (spec §4.H: "a
// stop-list of scientific names"). observation_type = 'animal' is the
// primary filter; this is the defensive second layer.
var stopListScientificNames = map[string]bool{
	"homo sapiens": true,
	"human":        true,
	"vehicle":      true,
	"unknown":      true,
	"no cv result": true,
}

// perSpeciesCap is stage 2's stratified cap: no more than this many
// candidates survive per species before stage 3 even sees them.
const perSpeciesCap = 15

type rawCandidate struct {
	ObservationID         string
	MediaID               string
	ScientificName        string
	DeploymentID          string
	Timestamp             *string
	DetectionConfidence   float64
	ClassificationProb    float64
	BBoxX, BBoxY          float64
	BBoxWidth, BBoxHeight float64
}

// fetchScoredCandidates runs stage 2 (spec §4.H): pull every eligible
// observation, score it, keep each media's best-scoring observation, then
// cap at perSpeciesCap rows per species.
func fetchScoredCandidates(ctx context.Context, db *sql.DB) ([]Item, error) {
	counts, err := speciesCounts(ctx, db)
	if err != nil {
		return nil, err
	}
	maxCount := 0
	for _, n := range counts {
		if n > maxCount {
			maxCount = n
		}
	}

	raws, err := fetchRawCandidates(ctx, db)
	if err != nil {
		return nil, err
	}

	bestPerMedia := make(map[string]Item)
	for _, r := range raws {
		name := strings.ToLower(strings.TrimSpace(r.ScientificName))
		if name == "" || stopListScientificNames[name] {
			continue
		}
		score := compositeScore(r, counts[r.ScientificName], maxCount)
		sciName := r.ScientificName
		item := Item{
			MediaID:        r.MediaID,
			ObservationID:  &r.ObservationID,
			ScientificName: &sciName,
			DeploymentID:   r.DeploymentID,
			Timestamp:      r.Timestamp,
			Score:          score,
		}
		if existing, ok := bestPerMedia[r.MediaID]; !ok || item.Score > existing.Score {
			bestPerMedia[r.MediaID] = item
		}
	}

	bySpecies := make(map[string][]Item)
	for _, it := range bestPerMedia {
		bySpecies[*it.ScientificName] = append(bySpecies[*it.ScientificName], it)
	}

	var out []Item
	for _, items := range bySpecies {
		sort.Slice(items, func(i, j int) bool { return items[i].Score > items[j].Score })
		if len(items) > perSpeciesCap {
			items = items[:perSpeciesCap]
		}
		out = append(out, items...)
	}
	return out, nil
}

// speciesCounts returns, for every classified-animal species, the total
// number of observations across the study — the denominator stage 2's
// rarity_score needs.
func speciesCounts(ctx context.Context, db *sql.DB) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT scientific_name, COUNT(*) FROM observations
		WHERE scientific_name IS NOT NULL AND observation_type = 'animal'
		GROUP BY scientific_name
	`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "fetch species counts")
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, apperr.Wrap(apperr.KindIOFailure, err, "scan species count")
		}
		out[name] = n
	}
	return out, rows.Err()
}

// fetchRawCandidates returns every non-favorite, non-video, animal
// observation with a usable bbox (spec §4.H stage 2 eligibility). Scoring
// itself happens in Go (math.Log is not guaranteed available in every
// SQLite build, see DESIGN.md), so this only does the filtering join.
func fetchRawCandidates(ctx context.Context, db *sql.DB) ([]rawCandidate, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT o.observation_id, o.media_id, o.scientific_name, o.deployment_id, m.timestamp,
		       o.detection_confidence, o.classification_probability,
		       o.bbox_x, o.bbox_y, o.bbox_width, o.bbox_height
		FROM observations o
		JOIN media m ON m.media_id = o.media_id
		WHERE m.favorite = 0
		  AND o.observation_type = 'animal'
		  AND o.scientific_name IS NOT NULL
		  AND o.bbox_x IS NOT NULL AND o.bbox_y IS NOT NULL
		  AND o.bbox_width IS NOT NULL AND o.bbox_height IS NOT NULL
		  AND o.bbox_width > 0 AND o.bbox_height > 0
		  AND (m.file_media_type IS NULL OR m.file_media_type NOT LIKE 'video/%')
	`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "fetch candidate observations")
	}
	defer rows.Close()

	var out []rawCandidate
	for rows.Next() {
		var r rawCandidate
		var ts sql.NullString
		var detConf, classProb sql.NullFloat64
		if err := rows.Scan(&r.ObservationID, &r.MediaID, &r.ScientificName, &r.DeploymentID, &ts,
			&detConf, &classProb, &r.BBoxX, &r.BBoxY, &r.BBoxWidth, &r.BBoxHeight); err != nil {
			return nil, apperr.Wrap(apperr.KindIOFailure, err, "scan candidate observation")
		}
		if ts.Valid {
			v := ts.String
			r.Timestamp = &v
		}
		if detConf.Valid {
			r.DetectionConfidence = detConf.Float64
		}
		if classProb.Valid {
			r.ClassificationProb = classProb.Float64
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// compositeScore implements spec §4.H's weighted sum.
func compositeScore(r rawCandidate, speciesCount, maxSpeciesCount int) float64 {
	area := r.BBoxWidth * r.BBoxHeight

	fullyVisible := 0.0
	if r.BBoxX >= 0 && r.BBoxY >= 0 && r.BBoxX+r.BBoxWidth <= 1 && r.BBoxY+r.BBoxHeight <= 1 {
		fullyVisible = 1.0
	}

	minDist := r.BBoxX
	if r.BBoxY < minDist {
		minDist = r.BBoxY
	}
	if right := 1 - (r.BBoxX + r.BBoxWidth); right < minDist {
		minDist = right
	}
	if bottom := 1 - (r.BBoxY + r.BBoxHeight); bottom < minDist {
		minDist = bottom
	}
	if minDist < 0 {
		minDist = 0
	}
	paddingScore := minDist * 5
	if paddingScore > 1 {
		paddingScore = 1
	}

	rarity := 0.0
	if maxSpeciesCount > 0 {
		rarity = 1 - math.Log1p(float64(speciesCount))/math.Log1p(float64(maxSpeciesCount))
		if rarity < 0 {
			rarity = 0
		}
	}

	daytime := 0.5
	if r.Timestamp != nil {
		if t, ok := parseTimestampLoose(*r.Timestamp); ok {
			h := t.Hour()
			switch {
			case h >= 8 && h < 17:
				daytime = 1.0
			case h >= 6 && h < 19:
				daytime = 0.7
			default:
				daytime = 0.2
			}
		}
	}

	return 0.15*areaScore(area) +
		0.20*fullyVisible +
		0.15*paddingScore +
		0.15*r.DetectionConfidence +
		0.10*r.ClassificationProb +
		0.15*rarity +
		0.10*daytime
}

// areaScore peaks on bbox-area in [0.10, 0.60] of the frame and decays on
// either side (spec §4.H).
func areaScore(area float64) float64 {
	switch {
	case area < 0.02:
		return area / 0.02 * 0.3
	case area < 0.10:
		return 0.3 + (area-0.02)/0.08*0.7
	case area <= 0.60:
		return 1.0
	default:
		decayed := 1.0 - (area-0.60)/0.40
		if decayed < 0 {
			return 0
		}
		return decayed
	}
}

// timestampLayouts mirrors the sanitizer's accepted shapes (schema
// package), duplicated here rather than imported since it's unexported
// from internal/sequence.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05Z0700",
}

func parseTimestampLoose(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
