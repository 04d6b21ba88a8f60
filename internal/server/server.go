package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raysh454/scanqueue/internal/app"
	"github.com/raysh454/scanqueue/internal/logging"
	"github.com/raysh454/scanqueue/internal/model"
)

// Server is the HTTP + WebSocket API surface for the scan queue.
type Server struct {
	cfg      Config
	app      *app.Application
	coord    *app.Coordinator
	router   chi.Router
	upgrader websocket.Upgrader
	logger   logging.Logger
	gatherer prometheus.Gatherer
}

// NewServer builds the routes over an assembled Application. gatherer backs
// /metrics; nil uses the default prometheus registry.
func NewServer(cfg Config, a *app.Application, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultConfig().HealthTimeout
	}
	if cfg.StreamRecheck <= 0 {
		cfg.StreamRecheck = DefaultConfig().StreamRecheck
	}

	r := chi.NewRouter()
	s := &Server{
		cfg:      cfg,
		app:      a,
		coord:    a.Coordinator,
		router:   r,
		logger:   logging.OrNop(a.Logger).With(logging.F("component", "server")),
		gatherer: gatherer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// TODO: restrict to configured origins once the UI has a fixed host
				return true
			},
		},
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(s.corsMiddleware)

	// CORS preflight
	r.Options("/scans", s.optionsHandler("POST"))
	r.Options("/crawls", s.optionsHandler("POST"))
	r.Options("/crawls/{taskID}/selective-scans", s.optionsHandler("POST"))
	r.Options("/tasks", s.optionsHandler("GET"))
	r.Options("/tasks/{taskID}", s.optionsHandler("GET"))
	r.Options("/tasks/{taskID}/results", s.optionsHandler("GET"))

	// Submission
	r.Post("/scans", s.handleSubmitScan)
	r.Post("/crawls", s.handleSubmitCrawl)
	r.Post("/crawls/{taskID}/selective-scans", s.handleSubmitSelectiveScan)

	// Queries
	r.Get("/tasks", s.handleListTasks)
	r.Get("/tasks/{taskID}", s.handleGetStatus)
	r.Get("/tasks/{taskID}/results", s.handleGetResults)
	r.Get("/pool", s.handlePoolStatus)

	// Operations
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	// WebSocket for task progress
	r.Get("/ws/tasks/{taskID}", s.handleTaskWS)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) optionsHandler(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields := []logging.Field{
		logging.F("method", r.Method),
		logging.F("path", r.URL.Path),
	}

	if q := r.URL.Query(); len(q) > 0 {
		fields = append(fields, logging.F("query", q))
	}

	if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) {
		if bodyBytes, err := io.ReadAll(r.Body); err == nil {
			fields = append(fields, logging.F("body", string(bodyBytes)))
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
	}

	s.logger.Debug("http_request", fields...)

	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: 0, // allow streaming
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeTaskError maps coordinator errors onto status codes.
func (s *Server) writeTaskError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrNotReady):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrNoPages):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Warn(op, logging.Err(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// --- HTTP handlers ---

// Submission

func (s *Server) handleSubmitScan(w http.ResponseWriter, r *http.Request) {
	var body ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if body.URL == "" {
		writeError(w, http.StatusBadRequest, "missing url")
		return
	}

	// Jobs outlive the request.
	id, err := s.coord.SubmitScan(context.WithoutCancel(r.Context()), body.URL, model.ParseScanMode(string(body.Mode)))
	if err != nil {
		s.writeTaskError(w, "submitting scan", err)
		return
	}
	s.logger.Info("submitted scan", logging.F("task_id", id), logging.F("url", body.URL))
	writeJSON(w, http.StatusAccepted, TaskAcceptedResponse{TaskID: id, Status: model.StatusPending})
}

func (s *Server) handleSubmitCrawl(w http.ResponseWriter, r *http.Request) {
	var body CrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if body.URL == "" {
		writeError(w, http.StatusBadRequest, "missing url")
		return
	}

	id, err := s.coord.SubmitCrawl(context.WithoutCancel(r.Context()), body.URL)
	if err != nil {
		s.writeTaskError(w, "submitting crawl", err)
		return
	}
	s.logger.Info("submitted crawl", logging.F("task_id", id), logging.F("url", body.URL))
	writeJSON(w, http.StatusAccepted, TaskAcceptedResponse{TaskID: id, Status: model.StatusPending})
}

func (s *Server) handleSubmitSelectiveScan(w http.ResponseWriter, r *http.Request) {
	crawlID := chi.URLParam(r, "taskID")

	var body SelectiveScanRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	id, err := s.coord.SubmitSelectiveScan(context.WithoutCancel(r.Context()), crawlID, body.Pages)
	if err != nil {
		s.writeTaskError(w, "submitting selective scan", err)
		return
	}
	s.logger.Info("submitted selective scan",
		logging.F("task_id", id),
		logging.F("crawl_task_id", crawlID),
		logging.F("pages", len(body.Pages)))
	writeJSON(w, http.StatusAccepted, TaskAcceptedResponse{TaskID: id, Status: model.StatusPending})
}

// Queries

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.coord.ListTasks(r.Context())
	if err != nil {
		s.writeTaskError(w, "listing tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.coord.GetStatus(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeTaskError(w, "getting task status", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	res, err := s.coord.GetResults(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeTaskError(w, "getting task results", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePoolStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.GetPoolStatus())
}

// Operations

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok"}
	version, err := s.app.Engine.Connect(ctx)
	if err != nil {
		resp.Status = "degraded"
		resp.EngineError = err.Error()
	} else {
		resp.EngineVersion = version
	}
	if err := s.app.Store.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.StoreError = err.Error()
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// WebSockets

const wsWriteWait = 10 * time.Second

// handleTaskWS sends the task's current state, then every event until the
// task is terminal or the client goes away.
func (s *Server) handleTaskWS(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	// Subscribe before reading the status so no transition falls between.
	events, unsubscribe := s.coord.Subscribe(taskID)
	defer unsubscribe()

	view, err := s.coord.GetStatus(r.Context(), taskID)
	if err != nil {
		s.writeTaskError(w, "getting task status", err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Err(err))
		return
	}
	defer conn.Close()

	current := statusEvent(view)
	if err := s.writeWS(conn, current); err != nil || current.Terminal() {
		return
	}

	// The read pump only notices the client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	recheck := time.NewTicker(s.cfg.StreamRecheck)
	defer recheck.Stop()

	for {
		var ev app.TaskEvent
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			ev = e
		case <-recheck.C:
			// the broker drops events for slow subscribers, terminal ones included
			view, err := s.coord.GetStatus(r.Context(), taskID)
			if err != nil || !view.Status.Terminal() {
				continue
			}
			ev = statusEvent(view)
		case <-gone:
			return
		}
		if err := s.writeWS(conn, ev); err != nil {
			s.logger.Debug("websocket client went away", logging.F("task_id", taskID), logging.Err(err))
			return
		}
		if ev.Terminal() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task finished"),
				time.Now().Add(wsWriteWait))
			return
		}
	}
}

func statusEvent(view *model.TaskView) app.TaskEvent {
	return app.TaskEvent{
		TaskID:   view.TaskID,
		Type:     app.TaskEventStatus,
		Time:     time.Now().UTC(),
		Status:   view.Status,
		Error:    view.Error,
		Progress: view.Progress,
		Message:  view.Message,
	}
}

func (s *Server) writeWS(conn *websocket.Conn, ev app.TaskEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(ev)
}
