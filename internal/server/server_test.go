package server

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/bundlekit/internal/build"
	"github.com/conneroisu/bundlekit/internal/config"
	"github.com/conneroisu/bundlekit/internal/errors"
	"github.com/conneroisu/bundlekit/internal/logging"
	"github.com/conneroisu/bundlekit/internal/metrics"
)

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func defaultProject(t *testing.T) string {
	return writeProject(t, map[string]string{
		"src/index.js":      "import './style.css';\nimport { msg } from './msg.js';\ndocument.title = msg;\n" + strings.Repeat("// padding\n", 200),
		"src/msg.js":        "export const msg = 'hello';\n",
		"src/style.css":     "body { margin: 0; }\n",
		"public/robots.txt": "User-agent: *\n",
	})
}

type fixture struct {
	root     string
	server   *Server
	reporter metrics.Reporter
}

func newFixture(t *testing.T, root string, mutate ...func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Root = root
	cfg.Mode = config.ModeDevelopment
	cfg.DevServer.Port = 0
	cfg.DevServer.Host = "127.0.0.1"
	cfg.DevServer.Open = false
	for _, fn := range mutate {
		fn(cfg)
	}
	plan, err := config.Resolve(cfg)
	require.NoError(t, err)

	reporter := metrics.NewReporter()
	bundler := build.NewBundler(plan, logging.Discard(), reporter)
	t.Cleanup(bundler.Close)

	return &fixture{root: root, server: New(bundler, reporter, logging.Discard()), reporter: reporter}
}

func get(t *testing.T, h http.Handler, target string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServeBuild(t *testing.T) {
	f := newFixture(t, defaultProject(t))
	require.NoError(t, f.server.Rebuild(context.Background()))
	h := f.server.Handler()

	rec := get(t, h, "/", "Accept", "text/html")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, `src="/assets/js/main.bundle.js"`)
	assert.Contains(t, body, "/__bundlekit/ws", "live reload client is injected")

	rec = get(t, h, "/assets/js/main.bundle.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "javascript")
	assert.Contains(t, rec.Body.String(), "registry.m[")
	assert.NotEmpty(t, rec.Header().Get("ETag"))

	rec = get(t, h, "/assets/js/main.bundle.js", "If-None-Match", rec.Header().Get("ETag"))
	assert.Equal(t, http.StatusNotModified, rec.Code)

	rec = get(t, h, "/robots.txt")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "User-agent: *\n", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, get(t, h, "/missing.js").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/../../etc/passwd").Code)
}

func TestHistoryAPIFallback(t *testing.T) {
	f := newFixture(t, defaultProject(t))
	require.NoError(t, f.server.Rebuild(context.Background()))
	h := f.server.Handler()

	rec := get(t, h, "/dashboard/settings", "Accept", "text/html,application/xhtml+xml")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `src="/assets/js/main.bundle.js"`)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/dashboard/settings", "Accept", "application/json").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/dashboard/app.js", "Accept", "text/html").Code)

	off := newFixture(t, defaultProject(t), func(c *config.Config) { c.DevServer.HistoryAPIFallback = false })
	require.NoError(t, off.server.Rebuild(context.Background()))
	assert.Equal(t, http.StatusNotFound, get(t, off.server.Handler(), "/dashboard", "Accept", "text/html").Code)
}

func TestCompression(t *testing.T) {
	f := newFixture(t, defaultProject(t))
	require.NoError(t, f.server.Rebuild(context.Background()))

	rec := get(t, f.server.Handler(), "/assets/js/main.bundle.js", "Accept-Encoding", "gzip")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Contains(t, string(plain), "registry.m[")

	off := newFixture(t, defaultProject(t), func(c *config.Config) { c.DevServer.Compress = false })
	require.NoError(t, off.server.Rebuild(context.Background()))
	rec = get(t, off.server.Handler(), "/assets/js/main.bundle.js", "Accept-Encoding", "gzip")
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
}

func TestCORS(t *testing.T) {
	f := newFixture(t, defaultProject(t), func(c *config.Config) { c.DevServer.CORS = true })
	require.NoError(t, f.server.Rebuild(context.Background()))

	rec := get(t, f.server.Handler(), "/assets/js/main.bundle.js", "Origin", "http://example.test")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	plain := newFixture(t, defaultProject(t))
	require.NoError(t, plain.server.Rebuild(context.Background()))
	rec = get(t, plain.server.Handler(), "/assets/js/main.bundle.js", "Origin", "http://example.test")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestNoSuccessfulBuild(t *testing.T) {
	root := writeProject(t, map[string]string{"src/index.js": "import './nope.js';\n"})
	f := newFixture(t, root)
	require.Error(t, f.server.Rebuild(context.Background()))
	h := f.server.Handler()

	rec := get(t, h, "/", "Accept", "text/html")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "bundlekit-error-overlay")
	assert.Contains(t, rec.Body.String(), "nope.js")

	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/assets/js/main.bundle.js").Code)

	rec = get(t, h, "/__bundlekit/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "degraded", health["status"])
	assert.Equal(t, "none", health["build"])
}

func TestRebuildFailureLogging(t *testing.T) {
	root := writeProject(t, map[string]string{"src/index.js": "import './nope.js';\n"})
	cfg := config.Default()
	cfg.Root = root
	cfg.Mode = config.ModeDevelopment
	plan, err := config.Resolve(cfg)
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LevelWarn, Format: "text", Output: &buf})
	bundler := build.NewBundler(plan, logging.Discard(), nil)
	t.Cleanup(bundler.Close)
	srv := New(bundler, metrics.NewReporter(), logger)

	require.Error(t, srv.Rebuild(context.Background()))
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "Rebuild failed")
	assert.NotContains(t, buf.String(), "level=ERROR")

	buf.Reset()
	srv.reportFailure(context.Background(), errors.NewIOError(errors.ErrCodeFileNotFound, "reading module src/index.js", os.ErrPermission))
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "Rebuild failed")
}

func TestHealthAndStats(t *testing.T) {
	f := newFixture(t, defaultProject(t))
	require.NoError(t, f.server.Rebuild(context.Background()))
	h := f.server.Handler()

	rec := get(t, h, "/__bundlekit/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.NotEqual(t, "none", health["build"])

	rec = get(t, h, "/__bundlekit/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		Build struct {
			ID    string      `json:"id"`
			Stats build.Stats `json:"stats"`
		} `json:"build"`
		Metrics metrics.BuildMetrics `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.NotEmpty(t, stats.Build.ID)
	assert.Equal(t, 3, stats.Build.Stats.Modules)
	assert.Equal(t, int64(1), stats.Metrics.SuccessfulBuilds)

	rec = get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `bundlekit_builds_total{outcome="success"} 1`)

	req := httptest.NewRequest(http.MethodPost, "/__bundlekit/stats", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestLiveReload(t *testing.T) {
	root := defaultProject(t)
	f := newFixture(t, root)
	ctx := context.Background()
	require.NoError(t, f.server.Rebuild(ctx))

	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/__bundlekit/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	assert.Equal(t, MessageConnected, readMessage(t, conn).Type)
	require.Eventually(t, func() bool { return f.server.hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "src/msg.js"), []byte("export const msg = ;\n"), 0o644))
	require.Error(t, f.server.Rebuild(ctx))
	msg := readMessage(t, conn)
	assert.Equal(t, MessageBuildError, msg.Type)
	assert.Contains(t, msg.Overlay, "src/msg.js")

	// The last good build keeps being served.
	assert.Equal(t, http.StatusOK, get(t, f.server.Handler(), "/assets/js/main.bundle.js").Code)

	require.NoError(t, os.WriteFile(filepath.Join(root, "src/msg.js"), []byte("export const msg = 'fixed';\n"), 0o644))
	require.NoError(t, f.server.Rebuild(ctx))
	msg = readMessage(t, conn)
	assert.Equal(t, MessageReload, msg.Type)
	assert.Equal(t, f.server.bundler.Last().ID, msg.BuildID)

	f.server.hub.Close()
	assert.Zero(t, f.server.hub.Count())
}

func TestStartAndShutdown(t *testing.T) {
	root := defaultProject(t)
	f := newFixture(t, root, func(c *config.Config) { c.DevServer.Open = true })

	opened := make(chan string, 1)
	f.server.opener = func(url string) error {
		opened <- url
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Start(ctx) }()

	var url string
	select {
	case url = <-opened:
	case <-time.After(10 * time.Second):
		t.Fatal("browser was not opened")
	}
	assert.True(t, strings.HasPrefix(url, "http://127.0.0.1:"))

	resp, err := http.Get(f.server.URL() + "/assets/js/main.bundle.js")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// A file change triggers a rebuild through the watcher.
	first := f.server.bundler.Last().ID
	require.NoError(t, os.WriteFile(filepath.Join(root, "src/msg.js"), []byte("export const msg = 'changed';\n"), 0o644))
	require.Eventually(t, func() bool {
		last := f.server.bundler.Last()
		return last != nil && last.ID != first
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestWaitReady(t *testing.T) {
	ready := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/__bundlekit/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer ready.Close()
	assert.NoError(t, WaitReady(context.Background(), ready.URL, time.Second))

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()
	assert.Error(t, WaitReady(context.Background(), failing.URL, 200*time.Millisecond))
}

func TestOpenBrowserRejectsNonHTTP(t *testing.T) {
	assert.Error(t, openBrowser("file:///etc/passwd"))
	assert.Error(t, openBrowser("javascript:alert(1)"))
}
