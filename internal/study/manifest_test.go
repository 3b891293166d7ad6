package study

import (
	"path/filepath"
	"testing"
)

func TestManifestPutAndGet(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m, err := OpenManifest(filepath.Join(dir, "model-download.manifest"))
	if err != nil {
		t.Fatalf("OpenManifest: %v", err)
	}

	rec := ManifestRecord{ID: "md-1", Version: "v1", State: StateDownload, Progress: 0}
	if err := m.Put(rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok := m.Get("md-1", "v1")
	if !ok {
		t.Fatalf("expected record to exist")
	}
	if got.State != StateDownload {
		t.Errorf("State = %v, want %v", got.State, StateDownload)
	}

	reopened, err := OpenManifest(filepath.Join(dir, "model-download.manifest"))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok = reopened.Get("md-1", "v1")
	if !ok || got.Progress != 0 {
		t.Fatalf("expected persisted record, got %+v, ok=%v", got, ok)
	}
}

func TestManifestProgressThrottling(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m, err := OpenManifest(filepath.Join(dir, "env-download.manifest"))
	if err != nil {
		t.Fatalf("OpenManifest: %v", err)
	}
	if err := m.Put(ManifestRecord{ID: "env-1", Version: "v1", State: StateDownload, Progress: 0}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	wrote, err := m.UpdateProgress("env-1", "v1", 0)
	if err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if wrote {
		t.Errorf("expected no write for unchanged progress")
	}

	wrote, err = m.UpdateProgress("env-1", "v1", 1)
	if err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if !wrote {
		t.Errorf("expected a write for a 1%% delta")
	}

	_, err = m.UpdateProgress("missing", "v1", 5)
	if err == nil {
		t.Errorf("expected error for unknown manifest key")
	}
}

func TestLayoutPaths(t *testing.T) {
	t.Parallel()

	l := NewLayout("/data")
	if got, want := l.DatabasePath("study-1"), "/data/biowatch-data/studies/study-1/study.db"; got != want {
		t.Errorf("DatabasePath = %q, want %q", got, want)
	}
	if got, want := l.ModelVersionDir("md1", "v2"), "/data/biowatch-data/ml-models/md1/v2"; got != want {
		t.Errorf("ModelVersionDir = %q, want %q", got, want)
	}
}
