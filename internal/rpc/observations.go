package rpc

import (
	"net/http"

	"github.com/gorilla/mux"

	"biowatch/internal/query"
	"biowatch/internal/schema"
)

type updateClassificationRequest struct {
	ScientificName *string `json:"scientificName"`
	CommonName     *string `json:"commonName"`
	Count          int     `json:"count"`
	LifeStage      *string `json:"lifeStage"`
	Sex            *string `json:"sex"`
	Behavior       *string `json:"behavior"`
	ClassifiedBy   string  `json:"classifiedBy"`
}

// UpdateObservationClassification implements observations.update_classification.
func (h *Handlers) UpdateObservationClassification(w http.ResponseWriter, r *http.Request) {
	instrument("observations.update_classification", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "observations.update_classification", err)
			return
		}
		var req updateClassificationRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, "observations.update_classification", err)
			return
		}
		observationID := mux.Vars(r)["observationId"]
		err = query.UpdateObservationClassification(r.Context(), db, observationID,
			req.ScientificName, req.CommonName, req.Count, req.LifeStage, req.Sex, req.Behavior, req.ClassifiedBy)
		if err != nil {
			writeErr(w, "observations.update_classification", err)
			return
		}
		writeData(w, map[string]string{"status": "ok"})
	})
}

type updateBBoxRequest struct {
	X, Y, Width, Height float64
}

// UpdateObservationBBox implements observations.update_bbox.
func (h *Handlers) UpdateObservationBBox(w http.ResponseWriter, r *http.Request) {
	instrument("observations.update_bbox", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "observations.update_bbox", err)
			return
		}
		var req updateBBoxRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, "observations.update_bbox", err)
			return
		}
		observationID := mux.Vars(r)["observationId"]
		box := schema.BBox{X: req.X, Y: req.Y, Width: req.Width, Height: req.Height}
		if err := query.UpdateObservationBBox(r.Context(), db, observationID, box); err != nil {
			writeErr(w, "observations.update_bbox", err)
			return
		}
		writeData(w, map[string]string{"status": "ok"})
	})
}

type createObservationRequest struct {
	MediaID string `json:"mediaId"`
	query.Observation
}

// CreateObservation implements observations.create.
func (h *Handlers) CreateObservation(w http.ResponseWriter, r *http.Request) {
	instrument("observations.create", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "observations.create", err)
			return
		}
		var req createObservationRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, "observations.create", err)
			return
		}
		id, err := query.CreateObservation(r.Context(), db, req.MediaID, req.Observation)
		if err != nil {
			writeErr(w, "observations.create", err)
			return
		}
		writeData(w, map[string]string{"observationId": id})
	})
}

// DeleteObservation implements observations.delete.
func (h *Handlers) DeleteObservation(w http.ResponseWriter, r *http.Request) {
	instrument("observations.delete", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "observations.delete", err)
			return
		}
		observationID := mux.Vars(r)["observationId"]
		if err := query.DeleteObservation(r.Context(), db, observationID); err != nil {
			writeErr(w, "observations.delete", err)
			return
		}
		writeData(w, map[string]string{"status": "ok"})
	})
}
