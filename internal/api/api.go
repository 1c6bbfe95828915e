// Package api serves the read-only HTTP query surface over the snapshot
// store. Handlers never touch the refresh cycle; they read whatever the
// store has committed at the moment of the request.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/relvacode/iso8601"

	"github.com/rewired-gh/robotd/internal/logger"
	"github.com/rewired-gh/robotd/internal/models"
	"github.com/rewired-gh/robotd/internal/refresh"
	"github.com/rewired-gh/robotd/internal/storage"
)

// StateReporter is implemented by *refresh.Scheduler.
type StateReporter interface {
	State() refresh.State
}

// Info describes the service on the root endpoint.
type Info struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Endpoints []string `json:"endpoints"`
	Scheduler string   `json:"scheduler"`
	Records   int      `json:"records"`
}

// placeholder is served by /api/data before the first committed cycle.
type placeholder struct {
	Motors      []models.Motor      `json:"motors"`
	Pallets     []models.Pallet     `json:"pallets"`
	Orientation *models.Orientation `json:"orientation"`
	Status      string              `json:"status"`
}

// Server holds the handler dependencies.
type Server struct {
	store       *storage.Store
	scheduler   StateReporter
	version     string
	metricsPath string
	metrics     http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics mounts h at path.
func WithMetrics(path string, h http.Handler) Option {
	return func(s *Server) {
		s.metricsPath = path
		s.metrics = h
	}
}

// WithVersion sets the version reported at /.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// New creates a Server reading from store.
func New(store *storage.Store, scheduler StateReporter, opts ...Option) *Server {
	s := &Server{store: store, scheduler: scheduler, version: "dev"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/data", s.handleCurrent)
	mux.HandleFunc("GET /api/hist_data", s.handleHistory)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleInfo)
	if s.metrics != nil {
		mux.Handle("GET "+s.metricsPath, s.metrics)
	}
	return mux
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Current()
	if errors.Is(err, models.ErrNotYetInitialized) {
		writeJSON(w, http.StatusOK, placeholder{
			Motors:  []models.Motor{},
			Pallets: []models.Pallet{},
			Status:  "no data yet",
		})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleHistory serves the whole history, or with ?since=<ISO-8601> only the
// records collected at or after that instant.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	var records []models.HistoryRecord
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := iso8601.ParseString(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since: "+err.Error())
			return
		}
		records = s.store.HistorySince(since)
	} else {
		records = s.store.History()
	}
	if records == nil {
		records = []models.HistoryRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"scheduler": s.schedulerState(),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	endpoints := []string{"/api/data", "/api/hist_data", "/healthz"}
	if s.metrics != nil {
		endpoints = append(endpoints, s.metricsPath)
	}
	writeJSON(w, http.StatusOK, Info{
		Name:      "robotd",
		Version:   s.version,
		Endpoints: endpoints,
		Scheduler: s.schedulerState(),
		Records:   s.store.Len(),
	})
}

func (s *Server) schedulerState() string {
	if s.scheduler == nil {
		return refresh.StateStopped.String()
	}
	return s.scheduler.State().String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("api: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// NewHTTPServer wraps h with the configured timeouts.
func NewHTTPServer(addr string, h http.Handler, readHeaderTimeout time.Duration) *http.Server {
	if readHeaderTimeout <= 0 {
		readHeaderTimeout = 5 * time.Second
	}
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}
