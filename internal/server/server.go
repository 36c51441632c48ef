// Package server provides a web dashboard over the warehouse: latest
// prices, features, per-symbol history, and pipeline run history.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/quantstack-labs/marketpipe/internal/state"
	"github.com/quantstack-labs/marketpipe/internal/warehouse"
)

// Config holds configuration for the dashboard server.
type Config struct {
	DB      warehouse.Adapter
	Store   state.Store
	Addr    string
	Watch   bool
	DataDir string
	Logger  *slog.Logger
}

// Server is the dashboard server.
type Server struct {
	db      warehouse.Adapter
	store   state.Store
	addr    string
	watch   bool
	dataDir string
	logger  *slog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	value   any
	expires time.Time
}

// cacheTTL bounds staleness even without watcher events, e.g. when the
// warehouse is rebuilt by a process on another machine.
const cacheTTL = 30 * time.Second

// NewServer creates a dashboard server instance.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		db:      cfg.DB,
		store:   cfg.Store,
		addr:    cfg.Addr,
		watch:   cfg.Watch,
		dataDir: cfg.DataDir,
		logger:  logger,
		cache:   make(map[string]cacheEntry),
	}
}

// Serve starts the server and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting dashboard server", "addr", s.addr)

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Router(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.watch {
		eg.Go(func() error {
			return s.watchData(egctx)
		})
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down dashboard server...")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// Router builds the HTTP routes. Exposed for handler tests.
func (s *Server) Router() chi.Router {
	r := chi.NewMux()
	r.Use(
		s.requestLogger,
		middleware.Recoverer,
		middleware.Compress(5),
	)

	r.Get("/", s.handleIndex)
	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/latest", s.handleLatest)
		r.Get("/features", s.handleFeatures)
		r.Get("/history/{symbol}", s.handleHistory)
		r.Get("/runs", s.handleRuns)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}

// watchData invalidates the query cache when snapshot files change.
func (s *Server) watchData(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(s.dataDir); err != nil {
		s.logger.Error("failed to watch data directory", "dir", s.dataDir, "error", err)
		// Keep serving; the TTL still bounds staleness.
		<-ctx.Done()
		return nil
	}
	s.logger.Info("watching data directory", "dir", s.dataDir)

	var debounceTimer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return nil

		case event := <-watcher.Events:
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !strings.EqualFold(filepath.Ext(event.Name), ".csv") {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(100*time.Millisecond, func() {
				s.logger.Debug("snapshot changed, invalidating cache", "file", event.Name)
				s.invalidateCache()
			})

		case err := <-watcher.Errors:
			s.logger.Error("watcher error", "error", err)
		}
	}
}

func (s *Server) invalidateCache() {
	s.mu.Lock()
	s.cache = make(map[string]cacheEntry)
	s.mu.Unlock()
}

// cached returns the cached value for key or computes and stores it.
func (s *Server) cached(key string, compute func() (any, error)) (any, error) {
	s.mu.RLock()
	entry, ok := s.cache[key]
	s.mu.RUnlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.value, nil
	}

	value, err := compute()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[key] = cacheEntry{value: value, expires: time.Now().Add(cacheTTL)}
	s.mu.Unlock()
	return value, nil
}
