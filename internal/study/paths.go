// Package study implements the path & manifest layer (spec component A):
// pure functions resolving on-disk locations for per-study databases and ML
// artifacts, plus the manifest-record read/write for ongoing downloads.
package study

import "path/filepath"

// Layout mirrors the fixed directory tree under a host-provided user-data
// root (spec §6).
type Layout struct {
	root string
}

// NewLayout returns a Layout rooted at userDataRoot.
func NewLayout(userDataRoot string) *Layout {
	return &Layout{root: userDataRoot}
}

func (l *Layout) dataRoot() string { return filepath.Join(l.root, "biowatch-data") }

// StudiesDir is the root directory under which every per-study directory
// lives.
func (l *Layout) StudiesDir() string { return filepath.Join(l.dataRoot(), "studies") }

// StudyDir returns the directory owned exclusively by one study.
func (l *Layout) StudyDir(studyID string) string {
	return filepath.Join(l.StudiesDir(), studyID)
}

// DatabasePath returns the per-study database file path.
func (l *Layout) DatabasePath(studyID string) string {
	return filepath.Join(l.StudyDir(studyID), "study.db")
}

// ScratchPath returns the streaming importer's scratch record file path. It
// lives alongside the database so cleanup can be scoped to one directory.
func (l *Layout) ScratchPath(studyID string) string {
	return filepath.Join(l.StudyDir(studyID), ".catalog-scratch.ndjson")
}

// ModelsDir is the root directory for downloaded ML model artifacts.
func (l *Layout) ModelsDir() string { return filepath.Join(l.dataRoot(), "ml-models") }

// ModelVersionDir returns the install directory for one model version.
func (l *Layout) ModelVersionDir(modelID, version string) string {
	return filepath.Join(l.ModelsDir(), modelID, version)
}

// EnvironmentsDir is the root directory for ML runtime environments.
func (l *Layout) EnvironmentsDir() string { return filepath.Join(l.dataRoot(), "ml-environments") }

// EnvironmentVersionDir returns the install directory for one runtime
// environment version.
func (l *Layout) EnvironmentVersionDir(envID, version string) string {
	return filepath.Join(l.EnvironmentsDir(), envID, version)
}

// ModelManifestPath is the single JSON-keyed manifest tracking model
// downloads.
func (l *Layout) ModelManifestPath() string {
	return filepath.Join(l.dataRoot(), "model-download.manifest")
}

// EnvManifestPath is the single JSON-keyed manifest tracking environment
// downloads.
func (l *Layout) EnvManifestPath() string {
	return filepath.Join(l.dataRoot(), "env-download.manifest")
}
