// ABOUTME: HTTP API for the wordmill generation service behind a single chi router.
// ABOUTME: Exposes task create/poll/cancel/list, cost estimation, and rendered content.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/2389-research/wordmill/engine"
	"github.com/2389-research/wordmill/pipeline"
	"github.com/2389-research/wordmill/render"
	"github.com/2389-research/wordmill/router"
	"github.com/2389-research/wordmill/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the wordmill HTTP server. All task lifecycle operations go
// through the engine; the server itself holds no task state.
type Server struct {
	engine *engine.Engine
	cache  *render.Cache
	router chi.Router
	addr   string
}

// ServerConfig holds the configuration for the web server.
type ServerConfig struct {
	Addr   string // listen address (default: "127.0.0.1:2390")
	Engine *engine.Engine
	Cache  *render.Cache // optional; rebuilt HTML for tasks persisted without it
}

// NewServer creates the web server and builds its routes.
func NewServer(cfg ServerConfig) *Server {
	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:2390"
	}
	cache := cfg.Cache
	if cache == nil {
		cache = render.NewCache(render.New(), time.Hour)
	}
	s := &Server{
		engine: cfg.Engine,
		cache:  cache,
		addr:   addr,
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP implements http.Handler by delegating to the chi router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start runs the HTTP server until it fails or the process exits.
func (s *Server) Start() error {
	log.Printf("component=web action=listen addr=%s", s.addr)
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Write timeout is generous because /events holds the response
		// open for the life of the task.
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}
	return srv.ListenAndServe()
}

// buildRouter constructs the chi router with all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)
	r.Get("/presets", s.handlePresets)
	r.Post("/estimate", s.handleEstimate)

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", s.handleTaskList)
		r.Post("/", s.handleTaskCreate)

		r.Route("/{taskID}", func(r chi.Router) {
			r.Get("/", s.handleTaskGet)
			r.Post("/cancel", s.handleTaskCancel)
			r.Get("/content", s.handleTaskContent)
			r.Get("/events", s.handleTaskEvents)
			r.Get("/ws", s.handleTaskSocket)
		})
	})

	return r
}

// taskResponse is the poll-facing view of a task record. Result fields are
// populated only once the task has completed.
type taskResponse struct {
	ID              string         `json:"id"`
	Status          store.Status   `json:"status"`
	Phase           pipeline.Phase `json:"phase,omitempty"`
	Topic           string         `json:"topic"`
	Progress        float64        `json:"progress"`
	QualityScore    *float64       `json:"quality_score,omitempty"`
	RefinementCount int            `json:"refinement_count"`
	NeedsReview     bool           `json:"needs_review,omitempty"`
	CostUSD         float64        `json:"cost_usd"`
	BudgetWarning   bool           `json:"budget_warning,omitempty"`
	Error           string         `json:"error,omitempty"`
	Content         string         `json:"content,omitempty"`
	WordCount       int            `json:"word_count,omitempty"`
	ReadingTime     int            `json:"reading_time_minutes,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func taskView(rec *store.TaskRecord) taskResponse {
	resp := taskResponse{
		ID:              rec.ID,
		Status:          rec.Status,
		Phase:           rec.State.Phase,
		Topic:           rec.State.Topic,
		Progress:        pipeline.Progress(rec.State),
		QualityScore:    rec.State.QualityScore(),
		RefinementCount: rec.State.Refinements,
		CostUSD:         rec.State.CostSoFar,
		BudgetWarning:   rec.BudgetWarning,
		Error:           rec.Error,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
	if rec.Status == store.StatusCompleted {
		resp.NeedsReview = rec.State.NeedsReview
		resp.Content = rec.State.Content
		resp.WordCount = rec.State.WordCount
		resp.ReadingTime = rec.State.ReadingTime
	}
	return resp
}

// createResponse pairs the freshly created task with its cost estimate.
type createResponse struct {
	Task     taskResponse     `json:"task"`
	Estimate *router.Estimate `json:"estimate,omitempty"`
}

// handleHealth returns a JSON health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePresets lists the provider presets a request may name.
func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"presets": s.engine.Presets()})
}

// handleTaskCreate accepts a generation request, starts it in the
// background, and responds 202 with the pending record plus estimate.
func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	est, err := s.engine.Estimate(req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	rec, err := s.engine.Submit(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, createResponse{Task: taskView(rec), Estimate: est})
}

// handleTaskList returns all tasks, or only non-terminal ones with ?active=true.
func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	onlyActive := r.URL.Query().Get("active") == "true"
	recs, err := s.engine.List(r.Context(), onlyActive)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]taskResponse, 0, len(recs))
	for _, rec := range recs {
		views = append(views, taskView(rec))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.Get(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, taskView(rec))
}

// handleTaskCancel requests cooperative cancellation. Cancelling an already
// terminal task is a conflict, not an error in the server.
func (s *Server) handleTaskCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	if err := s.engine.Cancel(r.Context(), id); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError && strings.Contains(err.Error(), "already") {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
}

// handleTaskContent serves the finished article as HTML. Tasks persisted
// before HTML rendering existed are re-rendered through the cache.
func (s *Server) handleTaskContent(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.Get(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if rec.Status != store.StatusCompleted {
		writeError(w, http.StatusConflict, fmt.Errorf("task %s is %s, not completed", rec.ID, rec.Status))
		return
	}
	html := rec.State.HTML
	if html == "" {
		html, err = s.cache.Render(rec.State.Content)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Errorf("render content: %w", err))
			return
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, html)
}

// handleEstimate prices a request without creating a task.
func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	est, err := s.engine.Estimate(req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

// statusFor maps engine errors onto HTTP statuses: validation failures are
// the client's fault, unknown tasks are 404, everything else is 500.
func statusFor(err error) int {
	var verr *pipeline.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("component=web action=encode_response error=%v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := map[string]string{"error": err.Error()}
	var verr *pipeline.ValidationError
	if errors.As(err, &verr) {
		body["field"] = verr.Field
	}
	writeJSON(w, status, body)
}
