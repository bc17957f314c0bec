// Package statusapi serves a small read-only HTTP view of the running
// engine: its current state, the processed-contest ledger and recent runs.
package statusapi

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"

	"github.com/papapumpkin/contestguard/internal/archive"
	"github.com/papapumpkin/contestguard/internal/ledger"
	"github.com/papapumpkin/contestguard/internal/scheduler"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

// Engine exposes the scheduler's activity.
type Engine interface {
	State() scheduler.State
	DryRun() bool
}

// Ledger exposes processed-state snapshots.
type Ledger interface {
	Snapshot() ledger.State
}

// RunLister lists archived runs.
type RunLister interface {
	Runs(ctx context.Context, limit int) ([]archive.RunSummary, error)
}

// Options configures the server.
type Options struct {
	Addr           string
	AllowedOrigins []string
}

// Server is the status HTTP server.
type Server struct {
	opts   Options
	router *chi.Mux
	logger *httplog.Logger
	engine Engine
	ledger Ledger
	runs   RunLister
}

// New creates a Server. runs may be nil when no archive is configured.
func New(opts Options, logger *httplog.Logger, engine Engine, led Ledger, runs RunLister) *Server {
	s := &Server{
		opts:   opts,
		router: chi.NewRouter(),
		logger: logger,
		engine: engine,
		ledger: led,
		runs:   runs,
	}

	s.router.Use(httplog.RequestLogger(logger, []string{"/healthz"}))
	if len(opts.AllowedOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept"},
			MaxAge:         300,
		}))
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/healthz", s.health)
	s.router.Get("/status", s.status)
	s.router.Get("/runs", s.listRuns)
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("status api listening", "addr", s.opts.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ProcessedContest is one ledger entry in the status response.
type ProcessedContest struct {
	Slug          string `json:"slug"`
	ProcessedAt   int64  `json:"processed_at"`
	ProcessedTime string `json:"processed_time"`
}

// Status is the body of GET /status.
type Status struct {
	State           string             `json:"state"`
	DryRun          bool               `json:"dry_run"`
	LastStatsUpdate string             `json:"last_stats_update,omitempty"`
	Processed       []ProcessedContest `json:"processed"`
}

// Run is one archived run in GET /runs.
type Run struct {
	RunID       string    `json:"run_id"`
	ContestSlug string    `json:"contest_slug"`
	ProcessedAt time.Time `json:"processed_at"`
	Results     int       `json:"results"`
	Fallbacks   int       `json:"fallbacks"`
}

type response struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "success", Data: map[string]string{"health": "ok"}})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	snap := s.ledger.Snapshot()
	st := Status{
		State:           s.engine.State().String(),
		DryRun:          s.engine.DryRun(),
		LastStatsUpdate: snap.LastStatsUpdate,
		Processed:       make([]ProcessedContest, 0, len(snap.ProcessedContests)),
	}
	for slug, e := range snap.ProcessedContests {
		st.Processed = append(st.Processed, ProcessedContest{Slug: slug, ProcessedAt: e.ProcessedAt, ProcessedTime: e.ProcessedTime})
	}
	// Newest first.
	slices.SortFunc(st.Processed, func(a, b ProcessedContest) int {
		if c := cmp.Compare(b.ProcessedAt, a.ProcessedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Slug, b.Slug)
	})
	writeJSON(w, http.StatusOK, response{Status: "success", Data: st})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeJSON(w, http.StatusNotFound, response{Status: "error", Message: "no archive configured"})
		return
	}

	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, response{Status: "error", Message: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunLimit)
	}

	summaries, err := s.runs.Runs(r.Context(), limit)
	if err != nil {
		httplog.LogEntry(r.Context()).Error("listing runs", "error", err)
		writeJSON(w, http.StatusInternalServerError, response{Status: "error", Message: http.StatusText(http.StatusInternalServerError)})
		return
	}
	out := make([]Run, 0, len(summaries))
	for _, rs := range summaries {
		out = append(out, Run(rs))
	}
	writeJSON(w, http.StatusOK, response{Status: "success", Data: out})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
