package sequence

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"biowatch/internal/query"
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

// seedMedia inserts n media on deployment dep, spaced spacingSeconds apart
// starting at a fixed base time, each with one observation of species.
func seedMedia(t *testing.T, db *sql.DB, dep string, n int, spacingSeconds int, species string) {
	t.Helper()
	if _, err := db.Exec(`INSERT INTO deployments (deployment_id, location_id, deployment_start, deployment_end, latitude, longitude)
		VALUES (?, ?, '1970-01-01T00:00:00Z', '2100-01-01T00:00:00Z', 0, 0)`, dep, dep); err != nil {
		t.Fatalf("insert deployment: %v", err)
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		mediaID := fmt.Sprintf("%s-media-%04d", dep, i)
		ts := base.Add(time.Duration(i*spacingSeconds) * time.Second).Format(time.RFC3339)
		if _, err := db.Exec(`INSERT INTO media (media_id, deployment_id, timestamp, file_path, file_name) VALUES (?, ?, ?, ?, ?)`,
			mediaID, dep, ts, "/x/"+mediaID, mediaID); err != nil {
			t.Fatalf("insert media: %v", err)
		}
		if _, err := db.Exec(`INSERT INTO observations (observation_id, media_id, deployment_id, scientific_name, observation_type, count)
			VALUES (?, ?, ?, ?, 'animal', 1)`, "obs-"+mediaID, mediaID, dep, species); err != nil {
			t.Fatalf("insert observation: %v", err)
		}
	}
}

func TestPaginatorCoversEveryMediaExactlyOnce(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	seedMedia(t, db, "depA", 200, 10, "Vulpes vulpes")

	gap := 60
	seen := make(map[string]bool)
	cursor := ""
	for i := 0; i < 100; i++ {
		page, err := Paginate(context.Background(), db, &gap, 20, cursor, query.MediaFilters{})
		if err != nil {
			t.Fatalf("Paginate: %v", err)
		}
		for _, seq := range page.Sequences {
			for _, item := range seq {
				if seen[item.MediaID] {
					t.Fatalf("media %s appeared twice across pages", item.MediaID)
				}
				seen[item.MediaID] = true
			}
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
		if cursor == "" {
			t.Fatal("HasMore true but NextCursor empty")
		}
	}

	if len(seen) != 200 {
		t.Errorf("media covered = %d, want 200", len(seen))
	}
}

func TestPaginatorLargeBurstSingleSequenceExceedsLimit(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	seedMedia(t, db, "depB", 50, 10, "Sus scrofa")

	gap := 60
	page, err := Paginate(context.Background(), db, &gap, 5, "", query.MediaFilters{})
	if err != nil {
		t.Fatalf("Paginate: %v", err)
	}
	if len(page.Sequences) == 0 {
		t.Fatal("expected at least one sequence")
	}
	foundBurst := false
	for _, seq := range page.Sequences {
		if len(seq) > 5 {
			foundBurst = true
		}
	}
	if !foundBurst {
		t.Error("expected at least one sequence containing more than the page limit of media")
	}
}

func TestPaginatorIdempotentForSameCursor(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	seedMedia(t, db, "depC", 100, 10, "Lynx lynx")

	gap := 60
	first, err := Paginate(context.Background(), db, &gap, 10, "", query.MediaFilters{})
	if err != nil {
		t.Fatalf("Paginate (first): %v", err)
	}
	second, err := Paginate(context.Background(), db, &gap, 10, first.NextCursor, query.MediaFilters{})
	if err != nil {
		t.Fatalf("Paginate (second, run 1): %v", err)
	}
	third, err := Paginate(context.Background(), db, &gap, 10, first.NextCursor, query.MediaFilters{})
	if err != nil {
		t.Fatalf("Paginate (second, run 2): %v", err)
	}
	if second.NextCursor != third.NextCursor {
		t.Errorf("repeated call with same cursor produced different next_cursor: %q vs %q", second.NextCursor, third.NextCursor)
	}
	if len(second.Sequences) != len(third.Sequences) {
		t.Errorf("repeated call with same cursor produced different sequence counts: %d vs %d", len(second.Sequences), len(third.Sequences))
	}
}

func TestPaginatorNullTimestampPhaseTwo(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	if _, err := db.Exec(`INSERT INTO deployments (deployment_id, location_id, deployment_start, deployment_end, latitude, longitude)
		VALUES ('depD', 'depD', '1970-01-01T00:00:00Z', '2100-01-01T00:00:00Z', 0, 0)`); err != nil {
		t.Fatalf("insert deployment: %v", err)
	}
	for i := 0; i < 5; i++ {
		mediaID := fmt.Sprintf("depD-media-%d", i)
		if _, err := db.Exec(`INSERT INTO media (media_id, deployment_id, timestamp, file_path, file_name) VALUES (?, 'depD', NULL, ?, ?)`,
			mediaID, "/x/"+mediaID, mediaID); err != nil {
			t.Fatalf("insert media: %v", err)
		}
	}

	gap := 60
	page, err := Paginate(context.Background(), db, &gap, 10, "", query.MediaFilters{IncludeNullTimestamps: true})
	if err != nil {
		t.Fatalf("Paginate: %v", err)
	}
	if len(page.Sequences) != 5 {
		t.Fatalf("len(Sequences) = %d, want 5 (each null-timestamp media is its own sequence)", len(page.Sequences))
	}
	if page.HasMore {
		t.Error("HasMore = true, want false (all 5 items fit in one page)")
	}
}
