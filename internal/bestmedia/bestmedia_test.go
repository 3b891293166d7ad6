package bestmedia

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"biowatch/internal/schema"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := sql.Open("sqlite3", filepath.Join(dir, "study.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := schema.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func insertDeployment(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	if _, err := db.Exec(`INSERT INTO deployments (deployment_id, location_id, deployment_start, deployment_end, latitude, longitude)
		VALUES (?, ?, '1970-01-01T00:00:00Z', '2100-01-01T00:00:00Z', 0, 0)`, id, id); err != nil {
		t.Fatalf("insert deployment: %v", err)
	}
}

func insertFavorite(t *testing.T, db *sql.DB, mediaID, dep, ts string) {
	t.Helper()
	if _, err := db.Exec(`INSERT INTO media (media_id, deployment_id, timestamp, file_path, file_name, favorite)
		VALUES (?, ?, ?, ?, ?, 1)`, mediaID, dep, ts, "/x/"+mediaID, mediaID); err != nil {
		t.Fatalf("insert favorite media: %v", err)
	}
}

// insertCandidate inserts one media item with a single well-formed animal
// observation eligible for stage 2 scoring.
func insertCandidate(t *testing.T, db *sql.DB, mediaID, dep, ts, species string, bboxArea, detConf float64) {
	t.Helper()
	if _, err := db.Exec(`INSERT INTO media (media_id, deployment_id, timestamp, file_path, file_name) VALUES (?, ?, ?, ?, ?)`,
		mediaID, dep, ts, "/x/"+mediaID, mediaID); err != nil {
		t.Fatalf("insert media: %v", err)
	}
	side := math.Sqrt(bboxArea) // square bbox with width=height=sqrt(area), centered, fully visible
	w := side
	if w <= 0 {
		w = 0.01
	}
	x := (1 - w) / 2
	if _, err := db.Exec(`INSERT INTO observations
		(observation_id, media_id, deployment_id, scientific_name, observation_type, count,
		 bbox_x, bbox_y, bbox_width, bbox_height, detection_confidence, classification_probability)
		VALUES (?, ?, ?, ?, 'animal', 1, ?, ?, ?, ?, ?, ?)`,
		"obs-"+mediaID, mediaID, dep, species, x, x, w, w, detConf, 0.9); err != nil {
		t.Fatalf("insert observation: %v", err)
	}
}

func TestSelectReturnsFavoritesWhenEnough(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	insertDeployment(t, db, "dep1")
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Hour).Format(time.RFC3339)
		insertFavorite(t, db, fmt.Sprintf("fav-%d", i), "dep1", ts)
	}

	items, err := Select(context.Background(), db, 3)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len(items) = %d, want 3", len(items))
	}
	for _, it := range items {
		if !it.Favorite {
			t.Errorf("item %s: Favorite = false, want true (favorites alone satisfy limit)", it.MediaID)
		}
	}
	// timestamp-desc: fav-4 (latest) must come first.
	if items[0].MediaID != "fav-4" {
		t.Errorf("items[0].MediaID = %q, want fav-4 (newest favorite first)", items[0].MediaID)
	}
}

func TestSelectFillsWithDiverseCandidatesWhenFavoritesShort(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	insertDeployment(t, db, "dep1")
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	insertFavorite(t, db, "fav-0", "dep1", base.Format(time.RFC3339))

	species := []string{"Vulpes vulpes", "Sus scrofa", "Cervus elaphus"}
	i := 0
	for _, sp := range species {
		for j := 0; j < 4; j++ {
			ts := base.Add(time.Duration(i*3600) * time.Second).Format(time.RFC3339)
			insertCandidate(t, db, fmt.Sprintf("med-%s-%d", sp, j), "dep1", ts, sp, 0.30, 0.8)
			i++
		}
	}

	items, err := Select(context.Background(), db, 10)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(items) == 0 {
		t.Fatal("Select returned no items")
	}
	// favorites are prepended ahead of diverse selections.
	if !items[0].Favorite {
		t.Errorf("items[0].MediaID = %q is not a favorite, want the favorite first", items[0].MediaID)
	}

	perSpecies := make(map[string]int)
	for _, it := range items {
		if it.Favorite || it.ScientificName == nil {
			continue
		}
		perSpecies[*it.ScientificName]++
	}
	for sp, n := range perSpecies {
		if n > maxPerSpecies {
			t.Errorf("species %s appears %d times, want <= %d", sp, n, maxPerSpecies)
		}
	}
}

func TestSelectHonorsSequenceCap(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	insertDeployment(t, db, "dep1")
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	// Two media 10s apart (well within the 120s sequence gap) but with
	// different species: they collapse into one sequence, so at most one
	// of them should ever be selected.
	insertCandidate(t, db, "burst-a", "dep1", base.Format(time.RFC3339), "Vulpes vulpes", 0.30, 0.9)
	insertCandidate(t, db, "burst-b", "dep1", base.Add(10*time.Second).Format(time.RFC3339), "Sus scrofa", 0.30, 0.9)

	items, err := Select(context.Background(), db, 10)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("len(items) = %d, want 1 (sequence cap of 1 holds across species)", len(items))
	}
}

func TestSelectExcludesLowScoringBelowQualityFloor(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	insertDeployment(t, db, "dep1")
	// 2 AM: outside both daytime windows.
	base := time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)

	// A tiny bbox hugging the frame corner (not fully visible, near-zero
	// padding and area scores) at night, with low confidence/probability:
	// every component lands near zero, so the composite must fail the 0.3
	// quality floor.
	if _, err := db.Exec(`INSERT INTO media (media_id, deployment_id, timestamp, file_path, file_name) VALUES ('poor', 'dep1', ?, '/x/poor', 'poor')`,
		base.Format(time.RFC3339)); err != nil {
		t.Fatalf("insert media: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO observations
		(observation_id, media_id, deployment_id, scientific_name, observation_type, count,
		 bbox_x, bbox_y, bbox_width, bbox_height, detection_confidence, classification_probability)
		VALUES ('obs-poor', 'poor', 'dep1', 'Vulpes vulpes', 'animal', 1, 0.97, 0.97, 0.05, 0.05, 0.01, 0.01)`); err != nil {
		t.Fatalf("insert observation: %v", err)
	}

	items, err := Select(context.Background(), db, 10)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	for _, it := range items {
		if it.MediaID == "poor" {
			t.Errorf("low-scoring media %q was selected despite the 0.3 quality floor (score=%v)", it.MediaID, it.Score)
		}
	}
}

func TestAreaScorePeaksInMidRangeAndDecaysAtExtremes(t *testing.T) {
	t.Parallel()
	low := areaScore(0.001)
	mid := areaScore(0.30)
	high := areaScore(0.95)
	if mid != 1.0 {
		t.Errorf("areaScore(0.30) = %v, want 1.0 (inside the [0.10,0.60] plateau)", mid)
	}
	if low >= mid {
		t.Errorf("areaScore(0.001) = %v, want less than plateau score %v", low, mid)
	}
	if high >= mid {
		t.Errorf("areaScore(0.95) = %v, want less than plateau score %v", high, mid)
	}
}

func TestCompositeScoreRarerSpeciesScoresHigher(t *testing.T) {
	t.Parallel()
	base := rawCandidate{
		BBoxX: 0.2, BBoxY: 0.2, BBoxWidth: 0.3, BBoxHeight: 0.3,
		DetectionConfidence: 0.9, ClassificationProb: 0.9,
	}
	common := compositeScore(base, 1000, 1000)
	rare := compositeScore(base, 1, 1000)
	if rare <= common {
		t.Errorf("rare-species score %v should exceed common-species score %v", rare, common)
	}
}
