package query

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

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
	if _, err := db.Exec(`INSERT INTO deployments
		(deployment_id, location_id, deployment_start, deployment_end, latitude, longitude)
		VALUES (?, ?, '2024-01-01T00:00:00Z', '2024-06-01T00:00:00Z', 0, 0)`, id, id); err != nil {
		t.Fatalf("insert deployment %s: %v", id, err)
	}
}

func insertMedia(t *testing.T, db *sql.DB, id, deploymentID string, ts *string) {
	t.Helper()
	if _, err := db.Exec(`INSERT INTO media (media_id, deployment_id, timestamp, file_path, file_name)
		VALUES (?, ?, ?, ?, ?)`, id, deploymentID, ts, "/data/"+id, id); err != nil {
		t.Fatalf("insert media %s: %v", id, err)
	}
}

func insertObservation(t *testing.T, db *sql.DB, id, mediaID, deploymentID, species string) {
	t.Helper()
	if _, err := db.Exec(`INSERT INTO observations
		(observation_id, media_id, deployment_id, scientific_name, observation_type, count)
		VALUES (?, ?, ?, ?, 'animal', 1)`, id, mediaID, deploymentID, species); err != nil {
		t.Fatalf("insert observation %s: %v", id, err)
	}
}

// TestSpeciesDistributionFixtureA is spec §8 scenario S1: three deployments,
// five media, five observations (two Cervus elaphus, one Vulpes vulpes, one
// Sus scrofa, one with a null scientific name) -> exactly three rows ordered
// by count descending.
func TestSpeciesDistributionFixtureA(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	insertDeployment(t, db, "depA")
	insertDeployment(t, db, "depB")
	insertDeployment(t, db, "depC")

	insertMedia(t, db, "m1", "depA", nil)
	insertMedia(t, db, "m2", "depA", nil)
	insertMedia(t, db, "m3", "depB", nil)
	insertMedia(t, db, "m4", "depC", nil)
	insertMedia(t, db, "m5", "depC", nil)

	insertObservation(t, db, "o1", "m1", "depA", "Cervus elaphus")
	insertObservation(t, db, "o2", "m2", "depA", "Cervus elaphus")
	insertObservation(t, db, "o3", "m3", "depB", "Vulpes vulpes")
	insertObservation(t, db, "o4", "m4", "depC", "Sus scrofa")
	if _, err := db.Exec(`INSERT INTO observations
		(observation_id, media_id, deployment_id, scientific_name, observation_type, count)
		VALUES ('o5', 'm5', 'depC', NULL, 'unclassified', 1)`); err != nil {
		t.Fatalf("insert null-species observation: %v", err)
	}

	got, err := SpeciesDistribution(context.Background(), db)
	if err != nil {
		t.Fatalf("SpeciesDistribution: %v", err)
	}

	want := []SpeciesCount{
		{ScientificName: "Cervus elaphus", Count: 2},
		{ScientificName: "Vulpes vulpes", Count: 1},
		{ScientificName: "Sus scrofa", Count: 1},
	}
	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d (got=%+v)", len(got), len(want), got)
	}
	if got[0] != want[0] {
		t.Errorf("row 0 = %+v, want %+v (highest count must sort first)", got[0], want[0])
	}
	seen := map[string]int{}
	for _, sc := range got[1:] {
		seen[sc.ScientificName] = sc.Count
	}
	for _, w := range want[1:] {
		if seen[w.ScientificName] != w.Count {
			t.Errorf("count for %s = %d, want %d", w.ScientificName, seen[w.ScientificName], w.Count)
		}
	}
}

// TestBlankMediaCount is spec §8 scenario S2: five media, only the first
// three linked to an observation -> two blank.
func TestBlankMediaCount(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	insertDeployment(t, db, "depA")
	for i := 1; i <= 5; i++ {
		insertMedia(t, db, fmt.Sprintf("m%d", i), "depA", nil)
	}
	insertObservation(t, db, "o1", "m1", "depA", "Cervus elaphus")
	insertObservation(t, db, "o2", "m2", "depA", "Cervus elaphus")
	insertObservation(t, db, "o3", "m3", "depA", "Vulpes vulpes")

	n, err := BlankMediaCount(context.Background(), db)
	if err != nil {
		t.Fatalf("BlankMediaCount: %v", err)
	}
	if n != 2 {
		t.Errorf("BlankMediaCount() = %d, want 2", n)
	}
}

// TestGetMediaBlankSentinelUnion exercises get_media's UNION of the blank
// subquery and the species subquery (spec §4.D), ordered timestamp-desc
// with nulls last, tie-broken by media_id desc.
func TestGetMediaBlankSentinelUnion(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	insertDeployment(t, db, "depA")

	ts1 := "2024-01-01T00:00:00Z"
	ts2 := "2024-01-02T00:00:00Z"
	insertMedia(t, db, "m1", "depA", &ts1) // blank
	insertMedia(t, db, "m2", "depA", &ts2) // has Vulpes vulpes
	insertMedia(t, db, "m3", "depA", nil)  // blank, null timestamp
	insertObservation(t, db, "o2", "m2", "depA", "Vulpes vulpes")

	page, err := GetMedia(context.Background(), db,
		MediaFilters{Species: []string{BlankSpeciesSentinel, "Vulpes vulpes"}, IncludeNullTimestamps: true},
		Pagination{Limit: 50})
	if err != nil {
		t.Fatalf("GetMedia: %v", err)
	}
	if page.Total != 3 {
		t.Fatalf("page.Total = %d, want 3", page.Total)
	}
	var ids []string
	for _, m := range page.Items {
		ids = append(ids, m.MediaID)
	}
	// timestamp desc, nulls last: m2 (Jan 2), m1 (Jan 1), m3 (null).
	want := []string{"m2", "m1", "m3"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q (full order %v)", i, ids[i], want[i], ids)
		}
	}
}

// TestGetMediaExcludesUnrequestedSpecies confirms the species subquery
// narrows to the requested set only, without the blank sentinel present.
func TestGetMediaExcludesUnrequestedSpecies(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	insertDeployment(t, db, "depA")

	ts := "2024-01-01T00:00:00Z"
	insertMedia(t, db, "m1", "depA", &ts)
	insertMedia(t, db, "m2", "depA", &ts)
	insertObservation(t, db, "o1", "m1", "depA", "Vulpes vulpes")
	insertObservation(t, db, "o2", "m2", "depA", "Sus scrofa")

	page, err := GetMedia(context.Background(), db,
		MediaFilters{Species: []string{"Vulpes vulpes"}}, Pagination{Limit: 50})
	if err != nil {
		t.Fatalf("GetMedia: %v", err)
	}
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].MediaID != "m1" {
		t.Errorf("GetMedia(species=[Vulpes vulpes]) = %+v, want only m1", page.Items)
	}
}
