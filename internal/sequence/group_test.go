package sequence

import "testing"

func ptr(s string) *string { return &s }

func TestGroupByGapSplitsOnThreshold(t *testing.T) {
	t.Parallel()
	items := []Item{
		{MediaID: "m1", DeploymentID: "d1", Timestamp: ptr("2024-01-01T00:00:00Z")},
		{MediaID: "m2", DeploymentID: "d1", Timestamp: ptr("2024-01-01T00:00:10Z")},
		{MediaID: "m3", DeploymentID: "d1", Timestamp: ptr("2024-01-01T00:00:25Z")},
		{MediaID: "m4", DeploymentID: "d1", Timestamp: ptr("2024-01-01T00:05:00Z")}, // gap > 60s
	}
	gap := 60
	seqs := Group(items, &gap)
	if len(seqs) != 2 {
		t.Fatalf("len(seqs) = %d, want 2", len(seqs))
	}
	if len(seqs[0].Items) != 3 {
		t.Errorf("first sequence size = %d, want 3", len(seqs[0].Items))
	}
	if len(seqs[1].Items) != 1 {
		t.Errorf("second sequence size = %d, want 1", len(seqs[1].Items))
	}
}

func TestGroupByGapSplitsOnDeploymentChange(t *testing.T) {
	t.Parallel()
	items := []Item{
		{MediaID: "m1", DeploymentID: "d1", Timestamp: ptr("2024-01-01T00:00:00Z")},
		{MediaID: "m2", DeploymentID: "d2", Timestamp: ptr("2024-01-01T00:00:05Z")},
	}
	gap := 60
	seqs := Group(items, &gap)
	if len(seqs) != 2 {
		t.Fatalf("len(seqs) = %d, want 2 (deployment change must split)", len(seqs))
	}
}

func TestGroupByGapSplitsOnMissingTimestamp(t *testing.T) {
	t.Parallel()
	items := []Item{
		{MediaID: "m1", DeploymentID: "d1", Timestamp: ptr("2024-01-01T00:00:00Z")},
		{MediaID: "m2", DeploymentID: "d1", Timestamp: nil},
		{MediaID: "m3", DeploymentID: "d1", Timestamp: ptr("2024-01-01T00:00:05Z")},
	}
	gap := 60
	seqs := Group(items, &gap)
	if len(seqs) != 3 {
		t.Fatalf("len(seqs) = %d, want 3 (a missing timestamp must break the chain both sides)", len(seqs))
	}
}

func TestGroupByEventSingletonsForMissingEventID(t *testing.T) {
	t.Parallel()
	items := []Item{
		{MediaID: "m1", DeploymentID: "d1", EventID: ptr("e1")},
		{MediaID: "m2", DeploymentID: "d1", EventID: nil},
		{MediaID: "m3", DeploymentID: "d1", EventID: ptr("e1")},
		{MediaID: "m4", DeploymentID: "d1", EventID: nil},
	}
	seqs := Group(items, nil)
	if len(seqs) != 3 {
		t.Fatalf("len(seqs) = %d, want 3 (one for e1, two singletons)", len(seqs))
	}
	var e1Count int
	for _, s := range seqs {
		if len(s.Items) == 2 {
			e1Count++
		}
	}
	if e1Count != 1 {
		t.Errorf("expected exactly one 2-item sequence for event e1, got %d", e1Count)
	}
}

func TestGroupByEventDistinguishesDeployments(t *testing.T) {
	t.Parallel()
	items := []Item{
		{MediaID: "m1", DeploymentID: "d1", EventID: ptr("e1")},
		{MediaID: "m2", DeploymentID: "d2", EventID: ptr("e1")},
	}
	seqs := Group(items, nil)
	if len(seqs) != 2 {
		t.Fatalf("len(seqs) = %d, want 2 (same event id, different deployment)", len(seqs))
	}
}

func TestGroupPartitionsEveryItemExactlyOnce(t *testing.T) {
	t.Parallel()
	var items []Item
	for i := 0; i < 50; i++ {
		items = append(items, Item{MediaID: string(rune('a' + i%26)), DeploymentID: "d1", Timestamp: ptr("2024-01-01T00:00:00Z")})
	}
	gap := 60
	seqs := Group(items, &gap)
	total := 0
	for _, s := range seqs {
		total += len(s.Items)
	}
	if total != len(items) {
		t.Errorf("total items across sequences = %d, want %d", total, len(items))
	}
}
