package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gorilla/mux"

	"biowatch/internal/mlserver"
	"biowatch/internal/storedb"
	"biowatch/internal/study"
)

func newTestServer(t *testing.T) (*httptest.Server, *storedb.Manager, *study.Layout) {
	t.Helper()
	root := t.TempDir()
	layout := study.NewLayout(root)
	mgr := storedb.NewManager()
	t.Cleanup(func() { mgr.CloseAll() })

	modelManifest, err := study.OpenManifest(layout.ModelManifestPath())
	if err != nil {
		t.Fatalf("open model manifest: %v", err)
	}
	envManifest, err := study.OpenManifest(layout.EnvManifestPath())
	if err != nil {
		t.Fatalf("open env manifest: %v", err)
	}

	sup := mlserver.New(nil)
	h := New(mgr, layout, modelManifest, envManifest, sup)

	router := mux.NewRouter()
	h.Register(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, mgr, layout
}

// seedStudy opens (and migrates) a fresh study database and inserts its
// single study_metadata row directly, bypassing the ingestion pipeline.
func seedStudy(t *testing.T, mgr *storedb.Manager, layout *study.Layout, studyID string) {
	t.Helper()
	if err := os.MkdirAll(layout.StudyDir(studyID), 0o755); err != nil {
		t.Fatalf("mkdir study dir: %v", err)
	}
	handle, err := mgr.Open(context.Background(), studyID, layout.DatabasePath(studyID), storedb.Options{})
	if err != nil {
		t.Fatalf("open study db: %v", err)
	}
	_, err = handle.DB().Exec(`
		INSERT INTO study_metadata (id, name, created, importer_name, sequence_gap)
		VALUES (?, ?, datetime('now'), 'test', 60)`, studyID, "Test Study")
	if err != nil {
		t.Fatalf("seed study_metadata: %v", err)
	}
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestListStudiesReturnsSeededStudy(t *testing.T) {
	t.Parallel()
	srv, mgr, layout := newTestServer(t)
	seedStudy(t, mgr, layout, "study-a")

	resp, err := http.Get(srv.URL + "/api/studies")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	env := decodeEnvelope(t, resp)
	if env.Error != "" {
		t.Fatalf("unexpected error: %s", env.Error)
	}
	list, ok := env.Data.([]interface{})
	if !ok || len(list) != 1 {
		t.Fatalf("expected one study, got %#v", env.Data)
	}
}

func TestGetSequenceGapReturnsSeededValue(t *testing.T) {
	t.Parallel()
	srv, mgr, layout := newTestServer(t)
	seedStudy(t, mgr, layout, "study-b")

	resp, err := http.Get(srv.URL + "/api/studies/study-b/sequence-gap")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	env := decodeEnvelope(t, resp)
	data, ok := env.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected data shape: %#v", env.Data)
	}
	if data["sequenceGap"].(float64) != 60 {
		t.Errorf("sequenceGap = %v, want 60", data["sequenceGap"])
	}
}

func TestGetSequenceGapUnknownStudyReturnsNotFoundEnvelope(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/studies/does-not-exist/sequence-gap")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	if env.Error == "" {
		t.Errorf("expected a non-empty error message")
	}
	if env.Cancelled {
		t.Errorf("did not expect cancelled=true")
	}
}

func TestSetSequenceGapUpdatesStoredValue(t *testing.T) {
	t.Parallel()
	srv, mgr, layout := newTestServer(t)
	seedStudy(t, mgr, layout, "study-c")

	body, _ := json.Marshal(setSequenceGapRequest{SequenceGap: 120})
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/studies/study-c/sequence-gap", bytes.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/studies/study-c/sequence-gap")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	env := decodeEnvelope(t, resp)
	data := env.Data.(map[string]interface{})
	if data["sequenceGap"].(float64) != 120 {
		t.Errorf("sequenceGap = %v, want 120", data["sequenceGap"])
	}
}

func TestDeleteStudyRemovesDirectory(t *testing.T) {
	t.Parallel()
	srv, mgr, layout := newTestServer(t)
	seedStudy(t, mgr, layout, "study-d")

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/studies/study-d", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if _, err := os.Stat(layout.StudyDir("study-d")); !os.IsNotExist(err) {
		t.Errorf("expected study directory removed, stat err = %v", err)
	}
}

func TestSpeciesBlankCountOnEmptyStudy(t *testing.T) {
	t.Parallel()
	srv, mgr, layout := newTestServer(t)
	seedStudy(t, mgr, layout, "study-e")

	resp, err := http.Get(srv.URL + "/api/studies/study-e/species/blank-count")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	env := decodeEnvelope(t, resp)
	data := env.Data.(map[string]interface{})
	if data["count"].(float64) != 0 {
		t.Errorf("count = %v, want 0", data["count"])
	}
}

func TestModelStopHTTPServerUnknownPIDReturnsNotFound(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/models/servers/99999", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
