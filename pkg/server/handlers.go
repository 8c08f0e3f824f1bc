package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/tinyfocus/pkg/analysis"
	"github.com/nicktill/tinyfocus/pkg/config"
	"github.com/nicktill/tinyfocus/pkg/export"
	"github.com/nicktill/tinyfocus/pkg/httpx"
	"github.com/nicktill/tinyfocus/pkg/monitor"
	"github.com/nicktill/tinyfocus/pkg/persistence"
	"github.com/nicktill/tinyfocus/pkg/pipeline"
	"github.com/nicktill/tinyfocus/pkg/results"
	"github.com/nicktill/tinyfocus/pkg/storage"
)

const (
	maxControlBody = 64 << 10
	maxEventsBody  = 10 << 20
)

var startTime = time.Now()

// ResultReader is the read side of the durable result store
type ResultReader interface {
	GetSession(ctx context.Context, id string) (*results.SessionRecord, error)
	ListResults(ctx context.Context, sessionID string) ([]analysis.Result, error)
}

// Handler serves the control API of one pipeline
type Handler struct {
	pipeline *pipeline.Pipeline
	guard    *persistence.Guard
	results  ResultReader
	disk     *monitor.DiskMonitor
	log      logrus.FieldLogger
}

// NewHandler creates a handler. guard, results and disk may be nil.
func NewHandler(p *pipeline.Pipeline, guard *persistence.Guard, rr ResultReader, disk *monitor.DiskMonitor, log logrus.FieldLogger) *Handler {
	return &Handler{
		pipeline: p,
		guard:    guard,
		results:  rr,
		disk:     disk,
		log:      log.WithField("component", "api"),
	}
}

// StartRequest opens a session
type StartRequest struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id"`
	DailyGoal string `json:"daily_goal,omitempty"`
}

// IntervalRequest changes the flush interval
type IntervalRequest struct {
	Minutes int `json:"minutes"`
}

// IngestResponse reports how many events of a batch were accepted
type IngestResponse struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Version  string                 `json:"version"`
	Uptime   string                 `json:"uptime"`
	Session  bool                   `json:"session_active"`
	Dispatch monitor.DispatchStatus `json:"dispatch"`
	Disk     *monitor.DiskStatus    `json:"disk,omitempty"`
}

// SessionResults is a stored session with its analysis results
type SessionResults struct {
	Session *results.SessionRecord `json:"session"`
	Results []analysis.Result      `json:"results"`
}

// HandleStart opens a new session
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := httpx.DecodeJSON(r, &req, maxControlBody); err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	s, err := h.pipeline.Start(r.Context(), req.SessionID, req.UserID, req.DailyGoal)
	if err != nil {
		h.respondPipelineError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, s)
}

// HandleStop ends the session and returns the final export
func (h *Handler) HandleStop(w http.ResponseWriter, r *http.Request) {
	final, err := h.pipeline.Stop(r.Context())
	if err != nil {
		h.respondPipelineError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, final)
}

// HandleDetach saves the session for a later resume and releases it
func (h *Handler) HandleDetach(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.Detach(r.Context()); err != nil {
		h.respondPipelineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleResume restores a session from its snapshot
func (h *Handler) HandleResume(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s, err := h.pipeline.Resume(r.Context(), id)
	if err != nil {
		h.respondPipelineError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, s)
}

// HandleRecoverable lists session ids that have a stored snapshot
func (h *Handler) HandleRecoverable(w http.ResponseWriter, r *http.Request) {
	if h.guard == nil {
		httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{"sessions": []string{}})
		return
	}
	ids, err := h.guard.Recoverable(r.Context())
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{"sessions": ids})
}

// HandleRecoverableSession reports whether one session can be resumed
func (h *Handler) HandleRecoverableSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ok := h.guard != nil && h.guard.HasRecoverableData(r.Context(), id)
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":  id,
		"recoverable": ok,
	})
}

// HandleEvents accepts a JSON array of raw events. Malformed entries are
// skipped and counted; the rest are buffered.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	var batch []json.RawMessage
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventsBody))
	if err := dec.Decode(&batch); err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Invalid JSON: expected an array of events")
		return
	}

	resp := IngestResponse{}
	for _, raw := range batch {
		err := h.pipeline.AddRawJSON(raw)
		switch {
		case err == nil:
			resp.Accepted++
		case errors.Is(err, pipeline.ErrNoActiveSession):
			httpx.RespondError(w, http.StatusConflict, err)
			return
		default:
			resp.Rejected++
			if len(resp.Errors) < 10 {
				resp.Errors = append(resp.Errors, err.Error())
			}
		}
	}

	status := http.StatusAccepted
	if resp.Accepted == 0 && resp.Rejected > 0 {
		status = http.StatusBadRequest
	}
	httpx.RespondJSON(w, status, resp)
}

// HandleStatus returns the pipeline status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, h.pipeline.GetStatus())
}

// HandleFlush triggers a manual flush
func (h *Handler) HandleFlush(w http.ResponseWriter, r *http.Request) {
	ran, err := h.pipeline.TriggerManualFlush(r.Context())
	if err != nil {
		h.respondPipelineError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusAccepted, map[string]bool{"ran": ran})
}

// HandleInterval changes the flush interval
func (h *Handler) HandleInterval(w http.ResponseWriter, r *http.Request) {
	var req IntervalRequest
	if err := httpx.DecodeJSON(r, &req, maxControlBody); err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if err := h.pipeline.SetIntervalDuration(req.Minutes); err != nil {
		h.respondPipelineError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]int{"interval_minutes": req.Minutes})
}

// HandleReset drops all pipeline state without flushing
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.FullReset(r.Context()); err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleResults returns a stored session and its analysis results
func (h *Handler) HandleResults(w http.ResponseWriter, r *http.Request) {
	if h.results == nil {
		httpx.RespondErrorString(w, http.StatusNotImplemented, "result store is not configured")
		return
	}
	id := mux.Vars(r)["id"]

	rec, err := h.results.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, results.ErrSessionNotFound) {
			httpx.RespondError(w, http.StatusNotFound, err)
			return
		}
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	list, err := h.results.ListResults(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		list = []analysis.Result{}
	}
	httpx.RespondJSON(w, http.StatusOK, SessionResults{Session: rec, Results: list})
}

// HandleHealth returns service health status.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	dispatch := h.pipeline.Monitor().Status()

	resp := HealthResponse{
		Status:   "healthy",
		Version:  "1.0.0",
		Uptime:   time.Since(startTime).Round(time.Second).String(),
		Session:  h.pipeline.GetStatus().Active,
		Dispatch: dispatch,
	}
	code := http.StatusOK

	if h.disk != nil {
		if disk, err := h.disk.Status(); err == nil {
			resp.Disk = &disk
			if disk.OverLimit {
				resp.Status = "degraded"
			}
		} else {
			h.log.WithError(err).Warn("Failed to measure data directory")
		}
	}
	if !dispatch.Healthy {
		resp.Status, code = "degraded", http.StatusServiceUnavailable
	}

	httpx.RespondJSON(w, code, resp)
}

// HandleStorage returns disk usage of the data directory
func (h *Handler) HandleStorage(w http.ResponseWriter, r *http.Request) {
	if h.disk == nil {
		httpx.RespondErrorString(w, http.StatusNotImplemented, "disk monitor is not configured")
		return
	}
	st, err := h.disk.Status()
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, st)
}

// HandleCapture reads raw events from a WebSocket, one JSON event per
// text message. Rejected events are logged and skipped.
func (h *Handler) HandleCapture(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("Capture upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go keepAlive(ctx, conn)

	conn.SetReadLimit(maxControlBody)
	conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		return nil
	})

	var accepted, rejected int
	defer func() {
		h.log.WithFields(logrus.Fields{
			"accepted": accepted,
			"rejected": rejected,
		}).Info("Capture stream closed")
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.WithError(err).Debug("Capture stream error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		if kind != websocket.TextMessage {
			continue
		}

		if err := h.pipeline.AddRawJSON(data); err != nil {
			rejected++
			h.log.WithError(err).Debug("Capture event rejected")
			continue
		}
		accepted++
	}
}

func (h *Handler) respondPipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrNoActiveSession),
		errors.Is(err, pipeline.ErrSessionActive),
		errors.Is(err, pipeline.ErrSessionEnded):
		httpx.RespondError(w, http.StatusConflict, err)
	case errors.Is(err, pipeline.ErrInvalidInterval):
		httpx.RespondError(w, http.StatusBadRequest, err)
	case errors.Is(err, storage.ErrNotFound):
		httpx.RespondError(w, http.StatusNotFound, err)
	case errors.Is(err, persistence.ErrStale):
		httpx.RespondError(w, http.StatusGone, err)
	default:
		h.log.WithError(err).Error("Pipeline operation failed")
		httpx.RespondError(w, http.StatusInternalServerError, err)
	}
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(router *mux.Router, h *Handler, hub *NotificationHub, port string, log logrus.FieldLogger) {
	router.Use(httpx.Middleware(log))
	router.Use(corsMiddleware(port))

	api := router.PathPrefix("/v1").Subrouter()

	// Session lifecycle
	api.HandleFunc("/session/start", h.HandleStart).Methods("POST")
	api.HandleFunc("/session/stop", h.HandleStop).Methods("POST")
	api.HandleFunc("/session/detach", h.HandleDetach).Methods("POST")
	api.HandleFunc("/session/resume/{id}", h.HandleResume).Methods("POST")
	api.HandleFunc("/session/recoverable", h.HandleRecoverable).Methods("GET")
	api.HandleFunc("/session/recoverable/{id}", h.HandleRecoverableSession).Methods("GET")

	// Ingestion and control
	api.HandleFunc("/events", h.HandleEvents).Methods("POST")
	api.HandleFunc("/status", h.HandleStatus).Methods("GET")
	api.HandleFunc("/flush", h.HandleFlush).Methods("POST")
	api.HandleFunc("/interval", h.HandleInterval).Methods("PUT")
	api.HandleFunc("/reset", h.HandleReset).Methods("POST")

	api.HandleFunc("/results/{id}", h.HandleResults).Methods("GET")
	if store, ok := h.results.(export.Store); ok {
		export.NewHandler(store, nil, log).RegisterRoutes(api)
	}
	api.HandleFunc("/health", h.HandleHealth).Methods("GET")
	api.HandleFunc("/storage", h.HandleStorage).Methods("GET")

	// WebSockets
	api.HandleFunc("/ws", hub.ServeWS).Methods("GET")
	api.HandleFunc("/capture", h.HandleCapture).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:" + port: true,
		"http://127.0.0.1:" + port: true,
		"http://localhost:3000":    true,
		"http://127.0.0.1:3000":    true,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowedOrigins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-Id")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
