package server

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/conneroisu/bundlekit/internal/build"
	"github.com/conneroisu/bundlekit/internal/emit"
	"github.com/conneroisu/bundlekit/internal/errors"
	"github.com/conneroisu/bundlekit/internal/metrics"
	"github.com/conneroisu/bundlekit/internal/transform"
	"github.com/conneroisu/bundlekit/internal/version"
)

// handleAssets serves, in order: artifacts of the last build, files of the
// static directory, and the HTML shell for history API navigations.
func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	res := s.bundler.Last()
	if res == nil {
		s.serveNoBuild(w, r)
		return
	}

	if name, ok := s.artifactName(r.URL.Path, res.Bundle); ok {
		if a, found := res.Bundle.Get(name); found {
			s.serveArtifact(w, r, res, a)
			return
		}
	}

	if s.serveStatic(w, r) {
		return
	}

	if s.plan.DevServer.HistoryAPIFallback && r.Method == http.MethodGet &&
		path.Ext(r.URL.Path) == "" && acceptsHTML(r) && res.Bundle.HTML != "" {
		if a, found := res.Bundle.Get(res.Bundle.HTML); found {
			s.serveArtifact(w, r, res, a)
			return
		}
	}

	http.NotFound(w, r)
}

// artifactName maps a request path below the public path to an artifact
// filename. The public path itself maps to the HTML shell.
func (s *Server) artifactName(urlPath string, bundle *emit.Bundle) (string, bool) {
	public := s.plan.PublicPath
	if !strings.HasPrefix(public, "/") {
		public = "/" + public
	}

	var name string
	switch {
	case urlPath == "/" || urlPath == public:
		name = ""
	case strings.HasPrefix(urlPath, public):
		name = strings.TrimPrefix(urlPath, public)
	case urlPath == "/"+bundle.HTML:
		name = bundle.HTML
	default:
		return "", false
	}
	if name == "" {
		name = bundle.HTML
	}
	return name, name != ""
}

func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, res *build.Result, a *emit.Artifact) {
	content := a.Content
	if a.Kind == emit.KindHTML && s.plan.DevServer.Hot {
		if page, err := emit.InjectScript(content, clientScript); err == nil {
			content = page
		} else {
			s.logger.Warn(r.Context(), err, "Failed to inject live reload client")
		}
	}

	if ct := mime.TypeByExtension(path.Ext(a.Filename)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("ETag", `"`+a.Integrity+`"`)
	http.ServeContent(w, r, a.Filename, res.Time, bytes.NewReader(content))
}

// serveStatic serves a regular file from the static directory and reports
// whether it did.
func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) bool {
	dir := s.plan.DevServer.Static
	if dir == "" {
		return false
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(s.plan.Root, dir)
	}

	clean := path.Clean("/" + r.URL.Path)
	full := filepath.Join(dir, filepath.FromSlash(clean))
	info, err := os.Stat(full)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	http.ServeFile(w, r, full)
	return true
}

// serveNoBuild answers while no build has succeeded yet. Pages get the error
// overlay and the live reload client so they recover on the next good build.
func (s *Server) serveNoBuild(w http.ResponseWriter, r *http.Request) {
	if !acceptsHTML(r) {
		http.Error(w, "No successful build yet", http.StatusServiceUnavailable)
		return
	}

	overlay := ""
	if diag := s.bundler.Diagnostics(); diag != nil {
		overlay = diag.ErrorOverlay()
	}
	page := "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>Build failed</title></head><body>" +
		overlay + "<script>" + clientScript + "</script></body></html>\n"

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte(page))
}

func acceptsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// handleHealth returns the server health status for health checks
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := "healthy"
	buildID := "none"
	if res := s.bundler.Last(); res != nil {
		buildID = res.ID
	}
	if diag := s.bundler.Diagnostics(); diag != nil {
		status = "degraded"
	}

	writeJSON(w, r, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"version":   version.Get().Short(),
		"build":     buildID,
		"clients":   s.hub.Count(),
	})
}

// Stats is the document served by /__bundlekit/stats.
type Stats struct {
	Build   *build.Result         `json:"build,omitempty"`
	Errors  []errors.BuildError   `json:"errors,omitempty"`
	Metrics *metrics.BuildMetrics `json:"metrics,omitempty"`
	Cache   transform.CacheStats  `json:"cache"`
	Clients int                   `json:"clients"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := Stats{
		Build:   s.bundler.Last(),
		Cache:   s.bundler.CacheStats(),
		Clients: s.hub.Count(),
	}
	if diag := s.bundler.Diagnostics(); diag != nil {
		stats.Errors = diag.GetErrors()
	}
	if s.reporter != nil {
		snap := s.reporter.Snapshot()
		stats.Metrics = &snap
	}
	writeJSON(w, r, stats)
}

func writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if r.Method == http.MethodHead {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}
