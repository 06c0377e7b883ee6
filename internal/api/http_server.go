package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"checkinsync/internal/config"
	"checkinsync/internal/export"
	"checkinsync/internal/metrics"
	"checkinsync/internal/models"
	"checkinsync/internal/queue"
	"checkinsync/internal/service"
	"checkinsync/internal/worker"

	"github.com/rs/zerolog"
)

// HTTPServer exposes the check-in queue to operators and local UIs.
type HTTPServer struct {
	cfg     config.APIConfig
	svc     *service.CheckInService
	server  *http.Server
	limiter *rateLimiter
	logger  *zerolog.Logger
	now     func() time.Time
}

type intentView struct {
	*models.CheckInIntent
	State models.IntentState `json:"state"`
}

type enqueueRequest struct {
	TargetHash string `json:"target_hash"`
	EventID    string `json:"event_id,omitempty"`
}

func NewHTTPServer(cfg config.APIConfig, svc *service.CheckInService, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "http").Logger()

	mux := http.NewServeMux()
	srv := &HTTPServer{cfg: cfg, svc: svc, logger: &l, now: time.Now}
	srv.limiter = newRateLimiter(&srv.cfg)

	srv.route(mux, "/api/v1/checkins", "checkins", srv.handleCheckins)
	srv.route(mux, "/api/v1/checkins/count", "checkins_count", srv.handleCount)
	srv.route(mux, "/api/v1/checkins/purge", "checkins_purge", srv.handlePurge)
	srv.route(mux, "/api/v1/checkins/export", "checkins_export", srv.handleExport)
	srv.route(mux, "/api/v1/checkins/", "checkin", srv.handleCheckin)
	srv.route(mux, "/api/v1/sync", "sync", srv.handleSync)
	srv.route(mux, "/api/v1/sync/status", "sync_status", srv.handleSyncStatus)
	srv.route(mux, "/api/v1/network", "network", srv.handleNetwork)
	srv.route(mux, "/api/v1/diagnostics", "diagnostics", srv.handleDiagnostics)

	handler := srv.loggingMiddleware(srv.limiter.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	return srv
}

// Handler returns the root handler, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) route(mux *http.ServeMux, pattern, name string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(name)
		h(w, r)
	})
}

func (s *HTTPServer) view(intent *models.CheckInIntent) intentView {
	return intentView{CheckInIntent: intent, State: intent.State(s.svc.MaxAttempts())}
}

func (s *HTTPServer) views(intents []*models.CheckInIntent) []intentView {
	out := make([]intentView, 0, len(intents))
	for _, intent := range intents {
		out = append(out, s.view(intent))
	}
	return out
}

func (s *HTTPServer) handleCheckins(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listCheckins(w, r)
	case http.MethodPost:
		s.enqueueCheckin(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) listCheckins(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	eventID := strings.TrimSpace(query.Get("event_id"))
	unsyncedOnly := query.Get("unsynced") == "true" || query.Get("unsynced") == "1"

	var (
		intents []*models.CheckInIntent
		err     error
	)
	switch {
	case eventID != "":
		intents, err = s.svc.ListByEvent(r.Context(), eventID)
	case unsyncedOnly:
		intents, err = s.svc.ListUnsynced(r.Context())
	default:
		intents, err = s.svc.ListAll(r.Context())
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list check-ins")
		writeError(w, http.StatusInternalServerError, "failed to list check-ins")
		return
	}

	if eventID != "" && unsyncedOnly {
		filtered := intents[:0]
		for _, intent := range intents {
			if !intent.Synced {
				filtered = append(filtered, intent)
			}
		}
		intents = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"checkins": s.views(intents)})
}

func (s *HTTPServer) enqueueCheckin(w http.ResponseWriter, r *http.Request) {
	var body enqueueRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	intent, err := s.svc.Enqueue(r.Context(), body.TargetHash, body.EventID)
	if errors.Is(err, queue.ErrEmptyTargetHash) {
		writeError(w, http.StatusBadRequest, "target_hash is required")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enqueue check-in")
		return
	}

	writeJSON(w, http.StatusAccepted, s.view(intent))
}

func (s *HTTPServer) handleCount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	counts, err := s.svc.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count check-ins")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *HTTPServer) handlePurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	removed, err := s.svc.PurgeSynced(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to purge check-ins")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	intents, err := s.svc.ListAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list check-ins")
		return
	}

	now := s.now()
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=checkins_%s.xlsx", now.Format("20060102_150405")))
	if err := export.WriteQueueReport(w, intents, s.svc.MaxAttempts(), now); err != nil {
		s.logger.Error().Err(err).Msg("failed to write export")
	}
}

// handleCheckin serves /api/v1/checkins/{id} and /api/v1/checkins/{id}/resync.
func (s *HTTPServer) handleCheckin(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/checkins/"
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.getCheckin(w, r, parts[0])
	case len(parts) == 2 && parts[0] != "" && parts[1] == "resync":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.resyncCheckin(w, r, parts[0])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *HTTPServer) getCheckin(w http.ResponseWriter, r *http.Request, id string) {
	intent, err := s.svc.Get(r.Context(), id)
	if errors.Is(err, queue.ErrNotFound) {
		writeError(w, http.StatusNotFound, "check-in not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load check-in")
		return
	}
	writeJSON(w, http.StatusOK, s.view(intent))
}

func (s *HTTPServer) resyncCheckin(w http.ResponseWriter, r *http.Request, id string) {
	outcome, err := s.svc.ResyncIntent(r.Context(), id)
	switch {
	case errors.Is(err, queue.ErrNotFound):
		writeError(w, http.StatusNotFound, "check-in not found")
	case errors.Is(err, worker.ErrSyncInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.logger.Error().Err(err).Str("intent_id", id).Msg("resync failed")
		writeError(w, http.StatusInternalServerError, "resync failed")
	default:
		writeJSON(w, http.StatusOK, outcome)
	}
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ran := s.svc.TriggerSync(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"ran": ran, "status": s.svc.Status()})
}

func (s *HTTPServer) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Status())
}

func (s *HTTPServer) handleNetwork(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"online": s.svc.IsOnline()})
}

func (s *HTTPServer) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.svc.Diagnostics(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read sync log")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("dur", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
