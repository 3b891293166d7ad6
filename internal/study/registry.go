package study

import (
	"os"

	"biowatch/internal/apperr"
)

// ListStudyIDs returns the id of every study directory under the layout's
// studies root (one subdirectory per study, named by its id), in directory
// read order. A missing studies root is treated as "no studies yet" rather
// than an error, since it is created lazily on first import.
func (l *Layout) ListStudyIDs() ([]string, error) {
	entries, err := os.ReadDir(l.StudiesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "list studies directory")
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// DeleteStudyDir removes a study's entire on-disk directory, including its
// database and scratch files. Callers must close any open connection
// manager handle for studyID first.
func (l *Layout) DeleteStudyDir(studyID string) error {
	if err := os.RemoveAll(l.StudyDir(studyID)); err != nil {
		return apperr.Wrap(apperr.KindIOFailure, err, "delete study directory %s", studyID)
	}
	return nil
}
