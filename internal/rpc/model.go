package rpc

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"biowatch/internal/apperr"
)

type startModelRequest struct {
	ModelID string                 `json:"modelId"`
	EnvID   string                 `json:"envId"`
	Options map[string]interface{} `json:"options"`
}

type startModelResponse struct {
	PID   int    `json:"pid"`
	Port  int    `json:"port"`
	Token string `json:"token"`
}

// ModelStartHTTPServer implements model.start_http_server.
func (h *Handlers) ModelStartHTTPServer(w http.ResponseWriter, r *http.Request) {
	instrument("model.start_http_server", func() {
		var req startModelRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, "model.start_http_server", err)
			return
		}
		proc, err := h.ml.Start(r.Context(), req.ModelID, req.EnvID, req.Options)
		if err != nil {
			writeErr(w, "model.start_http_server", err)
			return
		}
		writeData(w, startModelResponse{PID: proc.PID, Port: proc.Port, Token: proc.Token})
	})
}

// ModelStopHTTPServer implements model.stop_http_server.
func (h *Handlers) ModelStopHTTPServer(w http.ResponseWriter, r *http.Request) {
	instrument("model.stop_http_server", func() {
		pid, err := strconv.Atoi(mux.Vars(r)["pid"])
		if err != nil {
			writeErr(w, "model.stop_http_server", apperr.New(apperr.KindInvalidInput, "invalid pid"))
			return
		}
		if err := h.ml.Stop(r.Context(), pid); err != nil {
			writeErr(w, "model.stop_http_server", err)
			return
		}
		writeData(w, map[string]string{"status": "ok"})
	})
}

// ModelIsDownloaded implements model.is_downloaded.
func (h *Handlers) ModelIsDownloaded(w http.ResponseWriter, r *http.Request) {
	instrument("model.is_downloaded", func() {
		vars := mux.Vars(r)
		writeData(w, map[string]bool{"downloaded": h.models.IsDownloaded(vars["modelId"], vars["version"])})
	})
}

// ModelGetDownloadStatus implements model.get_download_status.
func (h *Handlers) ModelGetDownloadStatus(w http.ResponseWriter, r *http.Request) {
	instrument("model.get_download_status", func() {
		vars := mux.Vars(r)
		rec, ok := h.models.Get(vars["modelId"], vars["version"])
		if !ok {
			writeErr(w, "model.get_download_status", apperr.New(apperr.KindNotFound, "no download record for %s@%s", vars["modelId"], vars["version"]))
			return
		}
		writeData(w, rec)
	})
}

// ModelGetGlobalDownloadStatus implements model.get_global_download_status:
// every in-flight or completed model and environment download record.
func (h *Handlers) ModelGetGlobalDownloadStatus(w http.ResponseWriter, r *http.Request) {
	instrument("model.get_global_download_status", func() {
		writeData(w, map[string]interface{}{
			"models":       h.models.All(),
			"environments": h.envs.All(),
		})
	})
}
