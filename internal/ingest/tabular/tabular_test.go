package tabular

import (
	"context"
	"database/sql"
	"os"
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

func writeFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestImportStandardPackage(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "deployments.csv", "deployment_id,location_id,deployment_start,deployment_end,latitude,longitude\n"+
		"dep1,loc1,2023-01-01T00:00:00Z,2023-06-01T00:00:00Z,10.5,20.5\n")
	writeFile(t, dir, "media.csv", "media_id,deployment_id,timestamp,file_path,file_name\n"+
		"med1,dep1,2023-02-01T10:00:00Z,/data/med1.jpg,med1.jpg\n"+
		"med2,dep1,2023-02-01T10:05:00Z,/data/med2.jpg,med2.jpg\n")
	writeFile(t, dir, "observations.csv", "observation_id,deployment_id,event_start,event_end,scientific_name,observation_type,count\n"+
		"obs1,dep1,2023-02-01T09:59:00Z,2023-02-01T10:06:00Z,Vulpes vulpes,animal,1\n")

	db := openTestDB(t)
	stats, err := Import(context.Background(), db, dir, FormatStandardPackage, nil)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if stats.DeploymentsInserted != 1 {
		t.Errorf("deployments inserted = %d, want 1", stats.DeploymentsInserted)
	}
	if stats.MediaInserted != 2 {
		t.Errorf("media inserted = %d, want 2", stats.MediaInserted)
	}
	if stats.ObservationsExpanded != 2 {
		t.Errorf("observations expanded = %d, want 2 (one per matching media)", stats.ObservationsExpanded)
	}

	var remaining int
	if err := db.QueryRow(`SELECT COUNT(*) FROM observations WHERE media_id IS NULL`).Scan(&remaining); err != nil {
		t.Fatalf("count remaining event-scoped rows: %v", err)
	}
	if remaining != 0 {
		t.Errorf("event-scoped originals remaining = %d, want 0", remaining)
	}

	var gap sql.NullInt64
	if err := db.QueryRow(`SELECT sequence_gap FROM study_metadata`).Scan(&gap); err != nil {
		t.Fatalf("read sequence_gap: %v", err)
	}
	if gap.Valid {
		t.Errorf("standard package sequence_gap = %v, want null", gap.Int64)
	}
}

func TestImportFolderScan(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	siteDir := filepath.Join(dir, "siteA")
	if err := os.MkdirAll(siteDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, siteDir, "IMG_0001.JPG", "fake-jpeg-bytes")
	writeFile(t, siteDir, "notes.txt", "not media")

	db := openTestDB(t)
	gap := 60
	stats, err := Import(context.Background(), db, dir, FormatFolderScan, &gap)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if stats.MediaInserted != 1 {
		t.Errorf("media inserted = %d, want 1 (non-media file must be skipped)", stats.MediaInserted)
	}

	var sequenceGap int
	if err := db.QueryRow(`SELECT sequence_gap FROM study_metadata`).Scan(&sequenceGap); err != nil {
		t.Fatalf("read sequence_gap: %v", err)
	}
	if sequenceGap != 60 {
		t.Errorf("sequence_gap = %d, want override 60", sequenceGap)
	}
}

func TestSanitizeObservationRejectsUnknownType(t *testing.T) {
	t.Parallel()
	stats := &Stats{}
	_, ok := sanitizeObservation(rawObservation{
		ObservationID:   "o1",
		ObservationType: "spaceship",
		CountRaw:        "1",
	}, "test", stats)
	if ok {
		t.Fatal("expected unknown observation_type to be rejected")
	}
	if stats.RowsSkipped != 1 {
		t.Errorf("RowsSkipped = %d, want 1", stats.RowsSkipped)
	}
}
