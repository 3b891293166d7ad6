package sequence

import (
	"testing"

	"biowatch/internal/query"
)

func row(mediaID, species string, count int, ts string, eventID string) query.MediaSpeciesRow {
	r := query.MediaSpeciesRow{MediaID: mediaID, DeploymentID: "d1", ScientificName: species, Count: count}
	if ts != "" {
		t := ts
		r.Timestamp = &t
	}
	if eventID != "" {
		e := eventID
		r.EventID = &e
	}
	return r
}

func TestReduceSpeciesCountsTakesMaxPerSequence(t *testing.T) {
	t.Parallel()
	rows := []query.MediaSpeciesRow{
		row("m1", "Vulpes vulpes", 2, "2024-01-01T00:00:00Z", ""),
		row("m2", "Vulpes vulpes", 5, "2024-01-01T00:00:10Z", ""), // same burst, higher count
		row("m3", "Vulpes vulpes", 1, "2024-01-01T00:10:00Z", ""), // separate burst
	}
	gap := 60
	counts := ReduceSpeciesCounts(rows, &gap)
	if len(counts) != 1 {
		t.Fatalf("len(counts) = %d, want 1", len(counts))
	}
	// First burst contributes max(2,5)=5, second burst contributes 1: total 6,
	// not the naive sum of all three rows (8).
	if counts[0].Count != 6 {
		t.Errorf("Count = %d, want 6 (sequence-aware, not naive sum)", counts[0].Count)
	}
}

func TestReduceSpeciesCountsEventIDMode(t *testing.T) {
	t.Parallel()
	rows := []query.MediaSpeciesRow{
		row("m1", "Sus scrofa", 3, "", "ev1"),
		row("m2", "Sus scrofa", 7, "", "ev1"),
		row("m3", "Sus scrofa", 4, "", ""), // no event id: its own sequence
	}
	counts := ReduceSpeciesCounts(rows, nil)
	if len(counts) != 1 {
		t.Fatalf("len(counts) = %d, want 1", len(counts))
	}
	if counts[0].Count != 11 { // max(3,7) + 4
		t.Errorf("Count = %d, want 11", counts[0].Count)
	}
}

func TestReduceTimeseriesOneRowPerSequenceSpecies(t *testing.T) {
	t.Parallel()
	rows := []query.MediaSpeciesRow{
		row("m1", "Cervus elaphus", 1, "2024-01-01T00:00:00Z", ""),
		row("m2", "Cervus elaphus", 2, "2024-01-01T00:00:05Z", ""),
	}
	gap := 60
	reduced := ReduceTimeseries(rows, &gap)
	if len(reduced) != 1 {
		t.Fatalf("len(reduced) = %d, want 1", len(reduced))
	}
	if reduced[0].Count != 2 {
		t.Errorf("Count = %d, want 2 (max within the burst)", reduced[0].Count)
	}
}
