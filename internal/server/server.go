// Package server is the development server: it serves the latest in-memory
// build, rebuilds on file changes and tells connected pages to reload.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"

	"github.com/conneroisu/bundlekit/internal/build"
	"github.com/conneroisu/bundlekit/internal/config"
	"github.com/conneroisu/bundlekit/internal/errors"
	"github.com/conneroisu/bundlekit/internal/logging"
	"github.com/conneroisu/bundlekit/internal/metrics"
	"github.com/conneroisu/bundlekit/internal/watcher"
)

const (
	debounceDelay   = 100 * time.Millisecond
	shutdownTimeout = 5 * time.Second
)

// Server serves a bundler's output with live reload.
type Server struct {
	plan     *config.Plan
	bundler  *build.Bundler
	reporter metrics.Reporter
	logger   logging.Logger
	hub      *Hub

	// opener opens a URL in the browser. Replaced in tests.
	opener func(url string) error

	mu           sync.RWMutex
	httpServer   *http.Server
	listener     net.Listener
	watcher      *watcher.FileWatcher
	shutdownOnce sync.Once
}

// New creates a dev server for the bundler's plan. A nil reporter disables
// the /metrics endpoint.
func New(bundler *build.Bundler, reporter metrics.Reporter, logger logging.Logger) *Server {
	plan := bundler.Plan()

	var origins []string
	if plan.DevServer.CORS {
		origins = []string{"*"}
	}

	return &Server{
		plan:     plan,
		bundler:  bundler,
		reporter: reporter,
		logger:   logger.WithComponent("server"),
		hub:      NewHub(logger, reporter, origins...),
		opener:   openBrowser,
	}
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/__bundlekit/health", s.handleHealth)
	api.HandleFunc("/__bundlekit/stats", s.handleStats)
	if s.reporter != nil {
		api.Handle("/metrics", s.reporter.HTTPHandler())
	}

	var assets http.Handler = http.HandlerFunc(s.handleAssets)
	if s.plan.DevServer.Compress {
		assets = gzhttp.GzipHandler(assets)
	}
	api.Handle("/", assets)

	var corsMiddleware Middleware
	if s.plan.DevServer.CORS {
		corsMiddleware = cors.New(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		}).Handler
	}
	h := chain(api,
		recoverPanics(s.logger),
		logRequests(s.logger),
		func(next http.Handler) http.Handler { return metrics.Measure(s.reporter, next) },
		corsMiddleware,
	)

	// The websocket route bypasses the wrappers above, which do not pass
	// through connection hijacking.
	root := http.NewServeMux()
	root.Handle("/__bundlekit/ws", s.hub)
	root.Handle("/", h)
	return root
}

// Addr returns the address the server listens on once started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return net.JoinHostPort(s.plan.DevServer.Host, strconv.Itoa(s.plan.DevServer.Port))
	}
	return s.listener.Addr().String()
}

// URL returns the base URL of the server.
func (s *Server) URL() string {
	return "http://" + s.Addr()
}

// Start builds once, starts watching the project and serves until ctx is
// canceled or Shutdown is called. A failing initial build does not stop the
// server; pages show the error overlay until a rebuild succeeds.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Rebuild(ctx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	if err := s.watch(ctx); err != nil {
		return err
	}

	addr := net.JoinHostPort(s.plan.DevServer.Host, strconv.Itoa(s.plan.DevServer.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(context.Background(), err, "Shutdown failed")
		}
	}()

	if s.plan.DevServer.Open {
		go s.openWhenReady(ctx)
	}

	s.logger.Info(ctx, "Dev server listening", "url", s.URL())
	if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (s *Server) watch(ctx context.Context) error {
	fw, err := watcher.NewFileWatcher(debounceDelay, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	for _, f := range watcher.ProjectFilters(s.plan.Root, s.plan.OutputDir) {
		fw.AddFilter(f)
	}
	fw.AddHandler(func(events []watcher.ChangeEvent) error {
		for _, e := range events {
			rel, _ := filepath.Rel(s.plan.Root, e.Path)
			s.logger.Debug(ctx, "File changed", "path", rel, "type", e.Type)
		}
		err := s.Rebuild(ctx)
		if err != nil && ctx.Err() == nil {
			// Already reported to the browser.
			return nil
		}
		return err
	})
	if err := fw.AddRecursive(s.plan.Root); err != nil {
		fw.Stop()
		return err
	}
	if err := fw.Start(ctx); err != nil {
		fw.Stop()
		return err
	}

	s.mu.Lock()
	s.watcher = fw
	s.mu.Unlock()
	return nil
}

// Rebuild runs a build and notifies live reload clients: reload on success,
// the error overlay on failure.
func (s *Server) Rebuild(ctx context.Context) error {
	res, err := s.bundler.Build(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		s.reportFailure(ctx, err)
		s.hub.Broadcast(Message{Type: MessageBuildError, Overlay: s.overlay(err)})
		return err
	}

	for _, w := range res.Warnings {
		s.logger.Warn(ctx, nil, w.Message, "file", w.File)
	}
	s.hub.Broadcast(Message{Type: MessageReload, BuildID: res.ID})
	return nil
}

// reportFailure logs a failed rebuild. Source errors are fixed by the next
// edit; anything else needs attention outside the editor.
func (s *Server) reportFailure(ctx context.Context, err error) {
	if errors.IsRecoverable(err) {
		s.logger.Warn(ctx, err, "Rebuild failed")
		return
	}
	s.logger.Error(ctx, err, "Rebuild failed")
}

// overlay renders the diagnostics of the last failed build.
func (s *Server) overlay(err error) string {
	if diag := s.bundler.Diagnostics(); diag != nil && diag.HasErrors() {
		return diag.ErrorOverlay()
	}
	return `<div id="bundlekit-error-overlay" style="position:fixed;inset:0;background:rgba(0,0,0,.85);color:#ff6b6b;font:14px Menlo,Monaco,monospace;z-index:9999;padding:20px">` +
		html.EscapeString(err.Error()) + `</div>`
}

// Shutdown stops watching, disconnects live reload clients and shuts the
// HTTP server down.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down dev server")

		s.mu.RLock()
		fw, srv := s.watcher, s.httpServer
		s.mu.RUnlock()

		if fw != nil {
			if err := fw.Stop(); err != nil {
				s.logger.Warn(ctx, err, "Failed to stop file watcher")
			}
		}
		s.hub.Close()
		if srv != nil {
			shutdownErr = srv.Shutdown(ctx)
		}
	})
	return shutdownErr
}
