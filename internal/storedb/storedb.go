// Package storedb implements the connection manager (spec component B): one
// pooled handle per study database, migrations applied on first open, and a
// toggle between "safe" and "bulk-import" pragma sets.
package storedb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"biowatch/internal/apperr"
	"biowatch/internal/logging"
	"biowatch/internal/metrics"
	"biowatch/internal/schema"

	_ "github.com/mattn/go-sqlite3"
)

// Options configures a single Open call.
type Options struct {
	// Readonly handles skip migration and are never admitted as the writer
	// for a study.
	Readonly bool
}

// Handle is a single study's database connection. It is exclusively owned
// by the Manager that created it; callers never touch *sql.DB directly
// outside this package and internal/schema/internal/query.
type Handle struct {
	StudyID  string
	Path     string
	Readonly bool

	db *sql.DB

	mu        sync.Mutex
	importing bool
}

// DB returns the underlying pooled connection, for use by the schema and
// query layers.
func (h *Handle) DB() *sql.DB { return h.db }

// Manager is the process-wide registry of open study handles. At most one
// handle exists per study id at a time.
type Manager struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

// NewManager returns an empty registry.
func NewManager() *Manager {
	return &Manager{handles: make(map[string]*Handle)}
}

// Open returns the existing handle for studyID if one is open, or creates
// one: the database file is created if missing and every embedded migration
// is applied strictly in order before the handle is returned. Readonly
// handles skip migration.
func (m *Manager) Open(ctx context.Context, studyID, path string, opts Options) (*Handle, error) {
	m.mu.Lock()
	if existing, ok := m.handles[studyID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "create study directory for %s", studyID)
	}

	dsn := buildDSN(path, opts.Readonly)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "open study database %s", studyID)
	}

	// A single physical connection per study keeps pragma state (including
	// the import-mode toggle) attached to one SQLite connection and
	// serializes writers the way spec §4.B requires ("at most one writable
	// handle per study per process").
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "ping study database %s", studyID)
	}

	h := &Handle{StudyID: studyID, Path: path, Readonly: opts.Readonly, db: db}

	if !opts.Readonly {
		if err := schema.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, apperr.Wrap(apperr.KindIOFailure, err, "migrate study database %s", studyID)
		}
	}

	m.mu.Lock()
	if existing, ok := m.handles[studyID]; ok {
		m.mu.Unlock()
		db.Close()
		return existing, nil
	}
	m.handles[studyID] = h
	m.mu.Unlock()

	metrics.DBOpenHandles.Inc()
	logging.Info("opened study database %s (readonly=%v)", studyID, opts.Readonly)
	return h, nil
}

// Close releases the handle for studyID, if open.
func (m *Manager) Close(studyID string) error {
	m.mu.Lock()
	h, ok := m.handles[studyID]
	if ok {
		delete(m.handles, studyID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	metrics.DBOpenHandles.Dec()
	return h.db.Close()
}

// CloseAll releases every open handle, aggregating any close errors.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.handles))
	for id, h := range m.handles {
		handles = append(handles, h)
		delete(m.handles, id)
	}
	m.mu.Unlock()

	var firstErr error
	for _, h := range handles {
		metrics.DBOpenHandles.Dec()
		if err := h.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Transaction executes fn inside a single atomic transaction, committing on
// success and rolling back on any error (including a panic, which is
// re-raised after rollback).
func (h *Handle) Transaction(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindIOFailure, err, "begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.KindIOFailure, err, "commit transaction")
	}
	return nil
}

// SetImportMode toggles pragmas for bulk-loading throughput: relaxed
// durability, no synchronous fsync, a large page cache, and in-memory temp
// storage. Mandatory around the streaming importer, recommended around the
// batch CSV importers.
func (h *Handle) SetImportMode(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.importing {
		return nil
	}
	for _, stmt := range []string{
		"PRAGMA synchronous = OFF",
		"PRAGMA journal_mode = WAL",
		"PRAGMA cache_size = -131072", // ~128MB page cache
		"PRAGMA temp_store = MEMORY",
	} {
		if _, err := h.db.ExecContext(ctx, stmt); err != nil {
			return apperr.Wrap(apperr.KindStateConflict, err, "set import mode (%s)", stmt)
		}
	}
	h.importing = true
	return nil
}

// ResetImportMode restores pragmas that are safe against a crash: normal
// synchronous durability while keeping WAL journaling (which is always
// crash-safe) and a conservative cache size.
func (h *Handle) ResetImportMode(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, stmt := range []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -16384", // ~16MB page cache
		"PRAGMA temp_store = DEFAULT",
	} {
		if _, err := h.db.ExecContext(ctx, stmt); err != nil {
			return apperr.Wrap(apperr.KindStateConflict, err, "reset import mode (%s)", stmt)
		}
	}
	h.importing = false
	return nil
}

func buildDSN(path string, readonly bool) string {
	mode := "rwc"
	if readonly {
		mode = "ro"
	}
	return fmt.Sprintf(
		"file:%s?mode=%s&_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on",
		path, mode,
	)
}
