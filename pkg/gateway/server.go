// Package gateway serves completion and chat requests over server-sent
// events, answering from the semantic cache when it can and relaying a
// generation backend otherwise.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/pario-ai/semcache/pkg/config"
	"github.com/pario-ai/semcache/pkg/ctxbuild"
	"github.com/pario-ai/semcache/pkg/generation"
	"github.com/pario-ai/semcache/pkg/logging"
	"github.com/pario-ai/semcache/pkg/models"
	"github.com/pario-ai/semcache/pkg/router"
	"github.com/pario-ai/semcache/pkg/tracker"
)

// Cache is the semantic cache as seen by the gateway.
type Cache interface {
	Lookup(ctx context.Context, c ctxbuild.Context) (string, bool)
	Store(ctx context.Context, c ctxbuild.Context, suggestion string) error
	Stats(ctx context.Context) (models.CacheStats, error)
}

// Server is the semcache HTTP gateway.
type Server struct {
	cfg     *config.Config
	cache   Cache
	router  *router.Router
	clients map[string]*generation.Client
	tracker tracker.Tracker
	mux     *chi.Mux
	now     func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithTracker records every request to t.
func WithTracker(t tracker.Tracker) Option {
	return func(s *Server) { s.tracker = t }
}

// WithClock overrides the time source used for response times.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a Server wired with all dependencies.
func New(cfg *config.Config, cache Cache, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		cache:   cache,
		router:  router.New(cfg),
		clients: make(map[string]*generation.Client, len(cfg.Providers)),
		mux:     chi.NewRouter(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, p := range cfg.Providers {
		s.clients[p.Name] = generation.NewClient(p)
	}

	s.mux.Use(requestID)
	s.mux.Use(accessLogger)
	s.mux.Use(middleware.Recoverer)

	s.mux.Get("/healthz", s.handleHealth)
	s.mux.Route("/api", func(r chi.Router) {
		r.Post("/completions", s.handleCompletion)
		r.Post("/chat", s.handleChat)
		r.Get("/cache/stats", s.handleCacheStats)
	})
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the gateway with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.From(ctx).Info("semcache gateway listening", slog.String("addr", s.cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

const requestIDHeader = "X-Request-ID"

// requestID reuses the caller's request id or assigns one, echoes it, and
// attaches it to the request logger.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		logger := logging.From(r.Context()).With(slog.String("request_id", id))
		next.ServeHTTP(w, r.WithContext(logging.With(r.Context(), logger)))
	})
}

func accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			logging.From(r.Context()).Info("access",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cache.Stats(r.Context())
	if err != nil {
		logging.From(r.Context()).Error("cache stats failed", logging.ErrorAttr(err))
		writeJSONError(w, http.StatusInternalServerError, "cache stats unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"semcache_error","code":%d}}`, message, code)
}
