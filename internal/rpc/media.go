package rpc

import (
	"net/http"

	"github.com/gorilla/mux"

	"biowatch/internal/bestmedia"
	"biowatch/internal/query"
)

// GetMedia implements media.get.
func (h *Handlers) GetMedia(w http.ResponseWriter, r *http.Request) {
	instrument("media.get", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "media.get", err)
			return
		}
		page := query.Pagination{
			Offset: intParam(r, "offset", 0),
			Limit:  intParam(r, "limit", 100),
		}
		result, err := query.GetMedia(r.Context(), db, parseMediaFilters(r), page)
		if err != nil {
			writeErr(w, "media.get", err)
			return
		}
		writeData(w, result)
	})
}

// GetBestMedia implements media.get_best.
func (h *Handlers) GetBestMedia(w http.ResponseWriter, r *http.Request) {
	instrument("media.get_best", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "media.get_best", err)
			return
		}
		items, err := bestmedia.Select(r.Context(), db, intParam(r, "limit", 24))
		if err != nil {
			writeErr(w, "media.get_best", err)
			return
		}
		writeData(w, items)
	})
}

// GetBBoxes implements media.get_bboxes.
func (h *Handlers) GetBBoxes(w http.ResponseWriter, r *http.Request) {
	instrument("media.get_bboxes", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "media.get_bboxes", err)
			return
		}
		mediaID := mux.Vars(r)["mediaId"]
		boxes, err := query.BBoxesForMedia(r.Context(), db, mediaID, boolParam(r, "includeWithoutBBox"))
		if err != nil {
			writeErr(w, "media.get_bboxes", err)
			return
		}
		writeData(w, boxes)
	})
}

type mediaIDsRequest struct {
	MediaIDs []string `json:"mediaIds"`
}

// GetBBoxesBatch implements media.get_bboxes_batch.
func (h *Handlers) GetBBoxesBatch(w http.ResponseWriter, r *http.Request) {
	instrument("media.get_bboxes_batch", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "media.get_bboxes_batch", err)
			return
		}
		var req mediaIDsRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, "media.get_bboxes_batch", err)
			return
		}
		boxes, err := query.BBoxesForBatch(r.Context(), db, req.MediaIDs)
		if err != nil {
			writeErr(w, "media.get_bboxes_batch", err)
			return
		}
		writeData(w, boxes)
	})
}

// HaveBBoxes implements media.have_bboxes.
func (h *Handlers) HaveBBoxes(w http.ResponseWriter, r *http.Request) {
	instrument("media.have_bboxes", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "media.have_bboxes", err)
			return
		}
		var req mediaIDsRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, "media.have_bboxes", err)
			return
		}
		have, err := query.HaveAnyBBox(r.Context(), db, req.MediaIDs)
		if err != nil {
			writeErr(w, "media.have_bboxes", err)
			return
		}
		writeData(w, have)
	})
}

type timestampRequest struct {
	Timestamp string `json:"timestamp"`
}

// SetMediaTimestamp implements media.set_timestamp.
func (h *Handlers) SetMediaTimestamp(w http.ResponseWriter, r *http.Request) {
	instrument("media.set_timestamp", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "media.set_timestamp", err)
			return
		}
		var req timestampRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, "media.set_timestamp", err)
			return
		}
		mediaID := mux.Vars(r)["mediaId"]
		if err := query.UpdateMediaTimestamp(r.Context(), db, mediaID, req.Timestamp); err != nil {
			writeErr(w, "media.set_timestamp", err)
			return
		}
		writeData(w, map[string]string{"status": "ok"})
	})
}

type favoriteRequest struct {
	Favorite bool `json:"favorite"`
}

// SetMediaFavorite implements media.set_favorite.
func (h *Handlers) SetMediaFavorite(w http.ResponseWriter, r *http.Request) {
	instrument("media.set_favorite", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "media.set_favorite", err)
			return
		}
		var req favoriteRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, "media.set_favorite", err)
			return
		}
		mediaID := mux.Vars(r)["mediaId"]
		if err := query.UpdateMediaFavorite(r.Context(), db, mediaID, req.Favorite); err != nil {
			writeErr(w, "media.set_favorite", err)
			return
		}
		writeData(w, map[string]string{"status": "ok"})
	})
}

// CountNullTimestamps implements media.count_null_timestamps.
func (h *Handlers) CountNullTimestamps(w http.ResponseWriter, r *http.Request) {
	instrument("media.count_null_timestamps", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "media.count_null_timestamps", err)
			return
		}
		count, err := query.CountMediaNullTimestamps(r.Context(), db)
		if err != nil {
			writeErr(w, "media.count_null_timestamps", err)
			return
		}
		writeData(w, map[string]int{"count": count})
	})
}
