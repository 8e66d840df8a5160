// Package httpapi exposes the service's HTTP surface: snapshot reads,
// compaction triggers, health and metrics, and the realtime endpoint.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/metrics"
	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/services/snapshot"
)

type handler struct {
	log       zerolog.Logger
	compactor *snapshot.Compactor
}

// NewRouter builds the service router. realtimeHandler serves the
// websocket endpoint and may be nil in tests that only exercise the
// REST surface.
func NewRouter(compactor *snapshot.Compactor, realtimeHandler http.Handler, log zerolog.Logger) http.Handler {
	h := &handler{
		log:       log.With().Str("component", "httpapi").Logger(),
		compactor: compactor,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/projects/{id}/snapshot", h.readSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/projects/{id}/snapshot", h.createSnapshot).Methods(http.MethodPost)
	r.HandleFunc("/workers/snapshot", h.runSweep).Methods(http.MethodPost)
	if realtimeHandler != nil {
		r.Handle("/realtime", realtimeHandler)
	}

	return metrics.InstrumentHandler(r)
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readSnapshot returns the latest snapshot plus the count of ops logged
// after it. Reading never creates a snapshot.
func (h *handler) readSnapshot(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["id"]

	result, err := h.compactor.Read(r.Context(), projectID)
	if err != nil {
		h.log.Error().Err(err).Str("project", projectID).Msg("snapshot read failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// createSnapshot compacts one project on explicit request.
func (h *handler) createSnapshot(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["id"]

	snap, err := h.compactor.CompactProject(r.Context(), projectID)
	if errors.Is(err, snapshot.ErrNoOps) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("project", projectID).Msg("manual compaction failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// runSweep triggers the background compaction policy across all
// projects.
func (h *handler) runSweep(w http.ResponseWriter, r *http.Request) {
	compacted, err := h.compactor.Sweep(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("compaction sweep failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"compacted": compacted})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
