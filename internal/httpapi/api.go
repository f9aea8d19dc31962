// Package httpapi is the HTTP transport over the session controller and
// media ingestor: JSON control/signaling endpoints plus the SSE event
// streams listeners consume.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fzcomet206/musicshare/internal/apperr"
	"github.com/fzcomet206/musicshare/internal/metadatastore"
	"github.com/fzcomet206/musicshare/internal/sessioncontroller"
)

// Pinger is implemented by backends /healthz probes for reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// API holds the handler dependencies and builds the route table.
type API struct {
	controller *sessioncontroller.Controller
	metadata   metadatastore.MetadataStore
	resolver   UserResolver
	logger     *zap.Logger

	// healthProbes is checked by /healthz; nil entries are skipped so a
	// memory-backed dev setup doesn't fail the probe.
	healthProbes map[string]Pinger
}

func New(controller *sessioncontroller.Controller, metadata metadatastore.MetadataStore, resolver UserResolver, healthProbes map[string]Pinger, logger *zap.Logger) *API {
	return &API{
		controller:   controller,
		metadata:     metadata,
		resolver:     resolver,
		healthProbes: healthProbes,
		logger:       logger,
	}
}

// Routes builds the full route table.
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/control/me", a.cors(a.requireUser(a.handleMe)))
	mux.HandleFunc("/control/create_session", a.cors(a.requireUser(a.handleCreateSession)))
	mux.HandleFunc("/control/delete_session", a.cors(a.requireUser(a.handleDeleteSession)))
	mux.HandleFunc("/control/get_metadata", a.cors(a.requireUser(a.handleGetMetadata)))
	mux.HandleFunc("/control/download", a.cors(a.requireUser(a.handleDownload)))
	mux.HandleFunc("/control/get_files", a.cors(a.requireUser(a.handleGetFiles)))
	mux.HandleFunc("/control/delete_file", a.cors(a.requireUser(a.handleDeleteFile)))
	mux.HandleFunc("/control/download_notify", a.cors(a.requireUser(a.handleDownloadNotify)))
	mux.HandleFunc("/control/add_to_queue", a.cors(a.requireUser(a.handleAddToQueue)))
	mux.HandleFunc("/control/remove_from_queue", a.cors(a.requireUser(a.handleRemoveFromQueue)))
	mux.HandleFunc("/control/reorder_queue", a.cors(a.requireUser(a.handleReorderQueue)))
	mux.HandleFunc("/control/next_in_queue", a.cors(a.requireUser(a.handleNextInQueue)))
	mux.HandleFunc("/control/prev_in_queue", a.cors(a.requireUser(a.handlePrevInQueue)))

	mux.HandleFunc("/session/get_offer", a.cors(a.optionalUser(a.handleGetOffer)))
	mux.HandleFunc("/session/set_answer", a.cors(a.optionalUser(a.handleSetAnswer)))
	mux.HandleFunc("/session/get_ice", a.cors(a.optionalUser(a.handleGetICE)))
	mux.HandleFunc("/session/set_ice", a.cors(a.optionalUser(a.handleSetICE)))
	mux.HandleFunc("/session/queue", a.cors(a.optionalUser(a.handleQueue)))
	mux.HandleFunc("/session/queue_position", a.cors(a.optionalUser(a.handleQueuePosition)))
	mux.HandleFunc("/session/queue_notify", a.cors(a.optionalUser(a.handleQueueNotify)))
	mux.HandleFunc("/session/session_stats", a.cors(a.optionalUser(a.handleSessionStats)))
	mux.HandleFunc("/session/session_listeners", a.cors(a.optionalUser(a.handleSessionListeners)))
	mux.HandleFunc("/session/browse", a.cors(a.optionalUser(a.handleBrowse)))
	mux.HandleFunc("/session/leave", a.cors(a.optionalUser(a.handleLeave)))

	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func (a *API) cors(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

func (a *API) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Debug("response encode failed", zap.Error(err))
	}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	kind, ok := apperr.KindOf(err)
	if !ok {
		kind = apperr.StdIoError
	}
	a.writeJSON(w, apperr.HTTPStatusForErr(err), map[string]string{"error": string(kind)})
}

func (a *API) writeOK(w http.ResponseWriter) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeBody(r *http.Request, out any) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return apperr.Wrap(apperr.InvalidURL, err)
	}
	return nil
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	for name, probe := range a.healthProbes {
		if probe == nil {
			continue
		}
		if err := probe.Ping(r.Context()); err != nil {
			a.logger.Warn("health probe failed", zap.String("probe", name), zap.Error(err))
			a.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "failing": name})
			return
		}
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
