// Package api serves the match engine and its results over HTTP.
package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/pointmatch/internal/config"
	"github.com/banshee-data/pointmatch/internal/cycle"
	"github.com/banshee-data/pointmatch/internal/db"
	"github.com/banshee-data/pointmatch/internal/match"
	"github.com/banshee-data/pointmatch/internal/monitoring"
	"github.com/banshee-data/pointmatch/internal/transformio"
)

// ANSI escape codes for the request log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server holds the most recent match result and the cycler over it.
type Server struct {
	cfg    *config.MatchConfig
	store  *db.RunStore // nil when persistence is off
	cycler *cycle.Cycler

	mu        sync.RWMutex
	last      *match.Result
	lastRunID string
}

// NewServer returns a Server whose requests fall back to cfg for any
// parameter they omit. store may be nil.
func NewServer(cfg *config.MatchConfig, store *db.RunStore) *Server {
	if cfg == nil {
		cfg = config.DefaultMatchConfig()
	}
	return &Server{
		cfg:    cfg,
		store:  store,
		cycler: cycle.New(nil),
	}
}

// Cycler returns the cycler that follows the latest result.
func (s *Server) Cycler() *cycle.Cycler { return s.cycler }

// SetResult replaces the latest result and rewinds the cycler.
func (s *Server) SetResult(res *match.Result, runID string) {
	s.mu.Lock()
	s.last = res
	s.lastRunID = runID
	s.mu.Unlock()
	s.cycler.Reset(res.Matches)
}

func (s *Server) latest() (*match.Result, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.lastRunID
}

func (s *Server) outputFormat() transformio.Format {
	return s.cfg.GetOutputFormat()
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/match", s.runMatch)
	mux.HandleFunc("/api/matches", s.showMatches)
	mux.HandleFunc("/api/cycle/next", s.cycleNext)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/runs/{id}", s.showRun)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}
