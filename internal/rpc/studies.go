package rpc

import (
	"net/http"

	"github.com/gorilla/mux"

	"biowatch/internal/query"
	"biowatch/internal/storedb"
)

// ListStudies implements studies.list: every study directory's metadata
// row, opening each database read-only so a browse doesn't contend with an
// active writer.
func (h *Handlers) ListStudies(w http.ResponseWriter, r *http.Request) {
	instrument("studies.list", func() {
		ctx := r.Context()
		ids, err := h.layout.ListStudyIDs()
		if err != nil {
			writeErr(w, "studies.list", err)
			return
		}

		out := make([]query.StudyMetadata, 0, len(ids))
		for _, id := range ids {
			handle, err := h.db.Open(ctx, id, h.layout.DatabasePath(id), storedb.Options{Readonly: true})
			if err != nil {
				continue
			}
			meta, err := query.GetStudyMetadata(ctx, handle.DB())
			if err != nil {
				continue
			}
			out = append(out, meta)
		}
		writeData(w, out)
	})
}

type updateStudyRequest struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// UpdateStudy implements studies.update.
func (h *Handlers) UpdateStudy(w http.ResponseWriter, r *http.Request) {
	instrument("studies.update", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "studies.update", err)
			return
		}
		var req updateStudyRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, "studies.update", err)
			return
		}
		if err := query.UpdateStudyMetadata(r.Context(), db, req.Name, req.Title, req.Description); err != nil {
			writeErr(w, "studies.update", err)
			return
		}
		writeData(w, map[string]string{"status": "ok"})
	})
}

// DeleteStudy implements study.delete: closes the pooled connection before
// removing the study's directory, so no handle outlives its backing file.
func (h *Handlers) DeleteStudy(w http.ResponseWriter, r *http.Request) {
	instrument("study.delete", func() {
		studyID := mux.Vars(r)["studyId"]
		if err := h.db.Close(studyID); err != nil {
			writeErr(w, "study.delete", err)
			return
		}
		if err := h.layout.DeleteStudyDir(studyID); err != nil {
			writeErr(w, "study.delete", err)
			return
		}
		writeData(w, map[string]string{"status": "ok"})
	})
}

// GetSequenceGap implements study.get_sequence_gap.
func (h *Handlers) GetSequenceGap(w http.ResponseWriter, r *http.Request) {
	instrument("study.get_sequence_gap", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "study.get_sequence_gap", err)
			return
		}
		gap, err := query.GetSequenceGap(r.Context(), db)
		if err != nil {
			writeErr(w, "study.get_sequence_gap", err)
			return
		}
		writeData(w, map[string]*int{"sequenceGap": gap})
	})
}

type setSequenceGapRequest struct {
	SequenceGap int `json:"sequenceGap"`
}

// SetSequenceGap implements study.set_sequence_gap.
func (h *Handlers) SetSequenceGap(w http.ResponseWriter, r *http.Request) {
	instrument("study.set_sequence_gap", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "study.set_sequence_gap", err)
			return
		}
		var req setSequenceGapRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, "study.set_sequence_gap", err)
			return
		}
		if err := query.SetSequenceGap(r.Context(), db, req.SequenceGap); err != nil {
			writeErr(w, "study.set_sequence_gap", err)
			return
		}
		writeData(w, map[string]string{"status": "ok"})
	})
}
