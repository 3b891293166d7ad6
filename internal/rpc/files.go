package rpc

import (
	"net/http"

	"biowatch/internal/query"
)

// FilesGetData implements files.get_data: per-folder media/processed counts
// and last-used model, for the import-folder browser view.
func (h *Handlers) FilesGetData(w http.ResponseWriter, r *http.Request) {
	instrument("files.get_data", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "files.get_data", err)
			return
		}
		stats, err := query.FilesData(r.Context(), db)
		if err != nil {
			writeErr(w, "files.get_data", err)
			return
		}
		writeData(w, stats)
	})
}
