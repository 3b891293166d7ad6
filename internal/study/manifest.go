package study

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"biowatch/internal/apperr"
)

// ManifestState is the lifecycle state of one (id, version) download/extract
// entry.
type ManifestState string

const (
	StateDownload ManifestState = "download"
	StateExtract  ManifestState = "extract"
	StateClean    ManifestState = "clean"
	StateSuccess  ManifestState = "success"
	StateFailure  ManifestState = "failure"
)

// ManifestRecord is one entry of a manifest file, keyed by (ID, Version).
type ManifestRecord struct {
	ID       string                 `json:"id"`
	Version  string                 `json:"version"`
	State    ManifestState          `json:"state"`
	Progress int                    `json:"progress"`
	Opts     map[string]interface{} `json:"opts,omitempty"`
}

func (r ManifestRecord) key() string { return r.ID + "@" + r.Version }

// Manifest is an append-overwrite JSON file holding one ManifestRecord per
// (id, version). Writes are atomic (write-then-rename) and throttled to at
// most one disk write per ~1% progress delta for any given key, per spec
// §4.A and §5.
type Manifest struct {
	path string

	mu          sync.Mutex
	records     map[string]ManifestRecord
	lastWritten map[string]int
}

// OpenManifest loads an existing manifest file, or starts an empty one if it
// does not yet exist.
func OpenManifest(path string) (*Manifest, error) {
	m := &Manifest{
		path:        path,
		records:     make(map[string]ManifestRecord),
		lastWritten: make(map[string]int),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "read manifest %s", path)
	}

	var list []ManifestRecord
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, apperr.Wrap(apperr.KindParse, err, "parse manifest %s", path)
	}
	for _, rec := range list {
		m.records[rec.key()] = rec
		m.lastWritten[rec.key()] = rec.Progress
	}
	return m, nil
}

// Get returns the record for (id, version), or false if absent.
func (m *Manifest) Get(id, version string) (ManifestRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id+"@"+version]
	return rec, ok
}

// IsDownloaded reports whether (id, version) reached StateSuccess.
func (m *Manifest) IsDownloaded(id, version string) bool {
	rec, ok := m.Get(id, version)
	return ok && rec.State == StateSuccess
}

// All returns every record currently held, for a "global download status"
// style query.
func (m *Manifest) All() []ManifestRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ManifestRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out
}

// Put unconditionally persists rec, bypassing the progress-delta throttle.
// Used for state transitions (download -> extract -> success/failure), which
// must never be dropped.
func (m *Manifest) Put(rec ManifestRecord) error {
	m.mu.Lock()
	m.records[rec.key()] = rec
	m.lastWritten[rec.key()] = rec.Progress
	m.mu.Unlock()
	return m.flush()
}

// UpdateProgress persists a progress update only if it has moved at least
// one percentage point since the last write for this key, implementing the
// "fire-and-forget, ≤ one write per ≈1% delta" rule. Returns whether a write
// occurred.
func (m *Manifest) UpdateProgress(id, version string, progress int) (bool, error) {
	key := id + "@" + version

	m.mu.Lock()
	rec, ok := m.records[key]
	if !ok {
		m.mu.Unlock()
		return false, apperr.New(apperr.KindNotFound, "no manifest entry for %s", key)
	}
	last := m.lastWritten[key]
	if progress == last {
		m.mu.Unlock()
		return false, nil
	}
	delta := progress - last
	if delta < 0 {
		delta = -delta
	}
	if delta < 1 && progress != 100 {
		m.mu.Unlock()
		return false, nil
	}
	rec.Progress = progress
	m.records[key] = rec
	m.lastWritten[key] = progress
	m.mu.Unlock()

	return true, m.flush()
}

// flush serializes all records and writes them atomically via a temp file
// plus rename, so a crash mid-write never leaves a torn manifest on disk.
func (m *Manifest) flush() error {
	m.mu.Lock()
	list := make([]ManifestRecord, 0, len(m.records))
	for _, rec := range m.records {
		list = append(list, rec)
	}
	m.mu.Unlock()

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "marshal manifest")
	}

	dir := filepath.Dir(m.path)
	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return apperr.Wrap(apperr.KindIOFailure, err, "create manifest temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperr.Wrap(apperr.KindIOFailure, err, "write manifest temp file")
	}
	if err := tmp.Close(); err != nil {
		return apperr.Wrap(apperr.KindIOFailure, err, "close manifest temp file")
	}

	if err := os.Rename(tmpPath, m.path); err != nil {
		return apperr.Wrap(apperr.KindIOFailure, err, "rename manifest into place")
	}
	return nil
}
