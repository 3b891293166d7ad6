package rpc

import (
	"net/http"

	"github.com/gorilla/mux"

	"biowatch/internal/query"
)

// GetDeployments implements deployments.get.
func (h *Handlers) GetDeployments(w http.ResponseWriter, r *http.Request) {
	instrument("deployments.get", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "deployments.get", err)
			return
		}
		deployments, err := query.ListDeployments(r.Context(), db)
		if err != nil {
			writeErr(w, "deployments.get", err)
			return
		}
		writeData(w, deployments)
	})
}

// DeploymentsActivity implements deployments.activity.
func (h *Handlers) DeploymentsActivity(w http.ResponseWriter, r *http.Request) {
	instrument("deployments.activity", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "deployments.activity", err)
			return
		}
		activity, err := query.DeploymentsActivity(r.Context(), db)
		if err != nil {
			writeErr(w, "deployments.activity", err)
			return
		}
		writeData(w, activity)
	})
}

type latitudeRequest struct {
	Latitude float64 `json:"latitude"`
}

// SetDeploymentLatitude implements deployments.set_latitude.
func (h *Handlers) SetDeploymentLatitude(w http.ResponseWriter, r *http.Request) {
	instrument("deployments.set_latitude", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "deployments.set_latitude", err)
			return
		}
		var req latitudeRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, "deployments.set_latitude", err)
			return
		}
		deploymentID := mux.Vars(r)["deploymentId"]
		if err := query.SetDeploymentLatitude(r.Context(), db, deploymentID, req.Latitude); err != nil {
			writeErr(w, "deployments.set_latitude", err)
			return
		}
		writeData(w, map[string]string{"status": "ok"})
	})
}

type longitudeRequest struct {
	Longitude float64 `json:"longitude"`
}

// SetDeploymentLongitude implements deployments.set_longitude.
func (h *Handlers) SetDeploymentLongitude(w http.ResponseWriter, r *http.Request) {
	instrument("deployments.set_longitude", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "deployments.set_longitude", err)
			return
		}
		var req longitudeRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, "deployments.set_longitude", err)
			return
		}
		deploymentID := mux.Vars(r)["deploymentId"]
		if err := query.SetDeploymentLongitude(r.Context(), db, deploymentID, req.Longitude); err != nil {
			writeErr(w, "deployments.set_longitude", err)
			return
		}
		writeData(w, map[string]string{"status": "ok"})
	})
}

type locationNameRequest struct {
	Name string `json:"name"`
}

// SetLocationName implements deployments.set_location_name.
func (h *Handlers) SetLocationName(w http.ResponseWriter, r *http.Request) {
	instrument("deployments.set_location_name", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "deployments.set_location_name", err)
			return
		}
		var req locationNameRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, "deployments.set_location_name", err)
			return
		}
		locationID := mux.Vars(r)["locationId"]
		if err := query.SetLocationName(r.Context(), db, locationID, req.Name); err != nil {
			writeErr(w, "deployments.set_location_name", err)
			return
		}
		writeData(w, map[string]string{"status": "ok"})
	})
}
