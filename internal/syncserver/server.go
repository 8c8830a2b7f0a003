package syncserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Config holds the sync server's runtime settings, mirroring the
// teacher's api.Config shape (listen address + rate limit tiers) pared
// down to what a single-tenant sync daemon needs.
type Config struct {
	ListenAddr     string
	DataDir        string
	APIKeys        map[string]bool // valid bearer tokens; empty map disables auth (local/dev use)
	RateLimitPush  int
	RateLimitPull  int
	RateLimitOther int
	// MaxMemoryMb bounds the bulk-pull columnar batch sizer's target
	// in-memory footprint per batch (spec §4.9).
	MaxMemoryMb int
}

// DefaultConfig returns the teacher's rate-limit defaults.
func DefaultConfig() Config {
	return Config{
		RateLimitPush:  60,
		RateLimitPull:  120,
		RateLimitOther: 300,
		MaxMemoryMb:    50,
	}
}

// Server is the HTTP sync server.
type Server struct {
	config      Config
	http        *http.Server
	pool        *DBPool
	metrics     *Metrics
	rateLimiter *RateLimiter
}

// NewServer creates a Server ready to Start.
func NewServer(cfg Config) *Server {
	s := &Server{
		config:      cfg,
		pool:        NewDBPool(cfg.DataDir),
		metrics:     NewMetrics(),
		rateLimiter: NewRateLimiter(),
	}
	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("syncserver: listen: %w", err)
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server and closes every open database.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.pool.CloseAll()
	return err
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metricz", s.handleMetrics)

	mux.HandleFunc("POST /v1/dbs/{db}/sync/push", s.requireAuth(s.withRateLimit(s.handlePush, s.config.RateLimitPush)))
	mux.HandleFunc("GET /v1/dbs/{db}/sync/pull", s.requireAuth(s.withRateLimit(s.handlePull, s.config.RateLimitPull)))
	mux.HandleFunc("GET /v1/dbs/{db}/sync/status", s.requireAuth(s.withRateLimit(s.handleStatus, s.config.RateLimitOther)))
	mux.HandleFunc("GET /v1/dbs/{db}/sync/snapshot", s.requireAuth(s.withRateLimit(s.handleSnapshot, s.config.RateLimitOther)))
	mux.HandleFunc("POST /v1/dbs/{db}/sync/bulkpull", s.requireAuth(s.withRateLimit(s.handleBulkPull, s.config.RateLimitOther)))

	return chain(mux, recoveryMiddleware, requestIDMiddleware, loggerMiddleware, metricsMiddleware(s.metrics), loggingMiddleware, maxBytesMiddleware(10<<20))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}
