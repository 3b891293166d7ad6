// Package rpc implements the RPC façade (spec component J): a thin
// gorilla/mux HTTP layer, one handler per UI operation, wrapping every
// reply in the uniform {data}/{error}/{cancelled} envelope. Grounded on the
// teacher's internal/handlers package (a single Handlers struct aggregating
// subsystem dependencies, one file per resource area, route registration
// left to the caller's router setup).
package rpc

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"

	"biowatch/internal/apperr"
	"biowatch/internal/mlserver"
	"biowatch/internal/study"
	"biowatch/internal/storedb"
)

// Handlers aggregates every subsystem this façade dispatches into.
type Handlers struct {
	db     *storedb.Manager
	layout *study.Layout
	models *study.Manifest
	envs   *study.Manifest
	ml     *mlserver.Supervisor
}

// New builds a Handlers wired against the process's shared subsystems.
func New(db *storedb.Manager, layout *study.Layout, models, envs *study.Manifest, ml *mlserver.Supervisor) *Handlers {
	return &Handlers{db: db, layout: layout, models: models, envs: envs, ml: ml}
}

// Register mounts every route onto r under /api, following the teacher's
// PathPrefix-subrouter-per-area convention (main.go's api := r.PathPrefix("/api").Subrouter()).
func (h *Handlers) Register(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()

	studies := api.PathPrefix("/studies").Subrouter()
	studies.HandleFunc("", h.ListStudies).Methods("GET")
	studies.HandleFunc("/{studyId}", h.UpdateStudy).Methods("PUT")
	studies.HandleFunc("/{studyId}", h.DeleteStudy).Methods("DELETE")
	studies.HandleFunc("/{studyId}/sequence-gap", h.GetSequenceGap).Methods("GET")
	studies.HandleFunc("/{studyId}/sequence-gap", h.SetSequenceGap).Methods("PUT")

	studies.HandleFunc("/{studyId}/deployments", h.GetDeployments).Methods("GET")
	studies.HandleFunc("/{studyId}/deployments/activity", h.DeploymentsActivity).Methods("GET")
	studies.HandleFunc("/{studyId}/deployments/{deploymentId}/latitude", h.SetDeploymentLatitude).Methods("PUT")
	studies.HandleFunc("/{studyId}/deployments/{deploymentId}/longitude", h.SetDeploymentLongitude).Methods("PUT")
	studies.HandleFunc("/{studyId}/locations/{locationId}/name", h.SetLocationName).Methods("PUT")

	studies.HandleFunc("/{studyId}/media", h.GetMedia).Methods("GET")
	studies.HandleFunc("/{studyId}/media/best", h.GetBestMedia).Methods("GET")
	studies.HandleFunc("/{studyId}/media/null-timestamps/count", h.CountNullTimestamps).Methods("GET")
	studies.HandleFunc("/{studyId}/media/bboxes/batch", h.GetBBoxesBatch).Methods("POST")
	studies.HandleFunc("/{studyId}/media/bboxes/have", h.HaveBBoxes).Methods("POST")
	studies.HandleFunc("/{studyId}/media/{mediaId}/bboxes", h.GetBBoxes).Methods("GET")
	studies.HandleFunc("/{studyId}/media/{mediaId}/timestamp", h.SetMediaTimestamp).Methods("PUT")
	studies.HandleFunc("/{studyId}/media/{mediaId}/favorite", h.SetMediaFavorite).Methods("PUT")

	studies.HandleFunc("/{studyId}/observations", h.CreateObservation).Methods("POST")
	studies.HandleFunc("/{studyId}/observations/{observationId}", h.DeleteObservation).Methods("DELETE")
	studies.HandleFunc("/{studyId}/observations/{observationId}/classification", h.UpdateObservationClassification).Methods("PUT")
	studies.HandleFunc("/{studyId}/observations/{observationId}/bbox", h.UpdateObservationBBox).Methods("PUT")

	studies.HandleFunc("/{studyId}/species/distribution", h.SpeciesDistribution).Methods("GET")
	studies.HandleFunc("/{studyId}/species/blank-count", h.SpeciesBlankCount).Methods("GET")
	studies.HandleFunc("/{studyId}/species/distinct", h.SpeciesDistinct).Methods("GET")

	studies.HandleFunc("/{studyId}/sequences", h.SequencesGetPaginated).Methods("GET")
	studies.HandleFunc("/{studyId}/sequences/species-distribution", h.SequencesSpeciesDistribution).Methods("GET")
	studies.HandleFunc("/{studyId}/sequences/timeseries", h.SequencesTimeseries).Methods("GET")
	studies.HandleFunc("/{studyId}/sequences/heatmap", h.SequencesHeatmap).Methods("GET")
	studies.HandleFunc("/{studyId}/sequences/daily-activity", h.SequencesDailyActivity).Methods("GET")

	studies.HandleFunc("/{studyId}/files", h.FilesGetData).Methods("GET")

	models := api.PathPrefix("/models").Subrouter()
	models.HandleFunc("/servers", h.ModelStartHTTPServer).Methods("POST")
	models.HandleFunc("/servers/{pid}", h.ModelStopHTTPServer).Methods("DELETE")
	models.HandleFunc("/{modelId}/versions/{version}/downloaded", h.ModelIsDownloaded).Methods("GET")
	models.HandleFunc("/{modelId}/versions/{version}/download-status", h.ModelGetDownloadStatus).Methods("GET")
	models.HandleFunc("/download-status", h.ModelGetGlobalDownloadStatus).Methods("GET")
}

// studyDB resolves the request's {studyId} path variable to an open
// connection handle, opening and migrating it on first use (spec §4.B).
func (h *Handlers) studyDB(ctx context.Context, r *http.Request) (*sql.DB, string, error) {
	studyID := mux.Vars(r)["studyId"]
	if studyID == "" {
		return nil, "", apperr.New(apperr.KindInvalidInput, "missing studyId")
	}
	handle, err := h.db.Open(ctx, studyID, h.layout.DatabasePath(studyID), storedb.Options{})
	if err != nil {
		return nil, studyID, err
	}
	return handle.DB(), studyID, nil
}
