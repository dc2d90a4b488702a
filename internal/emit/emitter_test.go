package emit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/bundlekit/internal/chunk"
	"github.com/conneroisu/bundlekit/internal/classify"
	"github.com/conneroisu/bundlekit/internal/config"
	"github.com/conneroisu/bundlekit/internal/errors"
	"github.com/conneroisu/bundlekit/internal/graph"
	"github.com/conneroisu/bundlekit/internal/logging"
	"github.com/conneroisu/bundlekit/internal/naming"
	"github.com/conneroisu/bundlekit/internal/transform"
)

const react = "node_modules/react/index.js"

func module(id string, kind classify.Kind, src string, size int64, imports ...graph.Edge) *graph.Module {
	if size == 0 {
		size = int64(len(src))
	}
	return &graph.Module{
		ID:      id,
		Kind:    kind,
		Source:  []byte(src),
		Size:    size,
		Hash:    naming.Hash([]byte(src)),
		Imports: imports,
	}
}

func edge(to string, kind graph.EdgeKind) graph.Edge {
	return graph.Edge{To: to, Specifier: "./" + filepath.Base(to), Kind: kind}
}

// appGraph is an entry importing a large vendor package, a stylesheet and a
// lazily loaded module.
func appGraph() *graph.Graph {
	g := graph.New("/project")
	g.Add(module("src/index.js", classify.KindScript,
		"import React from 'react';\nimport './style.css';\nexport const load = () => import('./lazy.js');\nconsole.log(React);\n", 0,
		graph.Edge{To: react, Specifier: "react", Kind: graph.EdgeStatic},
		edge("src/style.css", graph.EdgeStatic),
		edge("src/lazy.js", graph.EdgeDynamic)))
	g.Add(module(react, classify.KindScript, "module.exports = { createElement: function () {} };\n", 30000))
	g.Add(module("src/style.css", classify.KindStyle, "body { color: red; }\n", 0))
	g.Add(module("src/lazy.js", classify.KindScript, "export const lazy = true;\n", 0))
	g.SetEntry("main", "src/index.js")
	return g
}

func testPlan(t *testing.T, mode config.Mode, mutate ...func(*config.Config)) *config.Plan {
	t.Helper()
	cfg := config.Default()
	cfg.Mode = mode
	for _, fn := range mutate {
		fn(cfg)
	}
	plan, err := config.Resolve(cfg)
	require.NoError(t, err)
	return plan
}

func emitGraph(t *testing.T, plan *config.Plan, g *graph.Graph) *Bundle {
	t.Helper()
	ctx := context.Background()

	outputs, err := transform.NewPipeline(plan, nil, logging.Discard()).Run(ctx, g, errors.NewErrorCollector())
	require.NoError(t, err)
	chunks, err := chunk.Split(g, plan.SplitChunks)
	require.NoError(t, err)

	b, err := NewEmitter(plan, logging.Discard()).Emit(ctx, chunks, outputs)
	require.NoError(t, err)
	return b
}

func artifact(t *testing.T, b *Bundle, chunkName string, kind ArtifactKind) *Artifact {
	t.Helper()
	for _, a := range b.Artifacts {
		if a.Chunk == chunkName && a.Kind == kind {
			return a
		}
	}
	t.Fatalf("no %s artifact for chunk %s", kind, chunkName)
	return nil
}

func TestEmitProduction(t *testing.T) {
	b := emitGraph(t, testPlan(t, config.ModeProduction), appGraph())

	main := artifact(t, b, "main", KindScript)
	assert.Regexp(t, `^assets/js/main\.[0-9a-f]{8}\.bundle\.js$`, main.Filename)
	assert.Contains(t, string(main.Content), `registry.s("src/index.js")`)
	assert.NotContains(t, string(main.Content), "registry.s = load")

	vendor := artifact(t, b, "vendors.react", KindScript)
	assert.Regexp(t, `^assets/js/vendors\.react\.[0-9a-f]{8}\.bundle\.js$`, vendor.Filename)
	assert.NotContains(t, string(vendor.Content), "registry.s(")

	css := artifact(t, b, "main", KindStyle)
	assert.Regexp(t, `^assets/css/main\.[0-9a-f]{8}\.css$`, css.Filename)
	assert.Contains(t, string(css.Content), "color")

	lazy := artifact(t, b, chunk.AsyncName("src/lazy.js"), KindScript)
	assert.Regexp(t, `^assets/js/src_lazy_js\.[0-9a-f]{8}\.bundle\.js$`, lazy.Filename)

	// The runtime file defines the loader and maps the dynamic import target
	// to its chunk file.
	rt := artifact(t, b, "runtime", KindScript)
	assert.Regexp(t, `^assets/js/runtime\.[0-9a-f]{8}\.bundle\.js$`, rt.Filename)
	assert.Contains(t, string(rt.Content), "registry.s = load")
	assert.Contains(t, string(rt.Content), `"src/lazy.js":["`+lazy.Filename+`"]`)
	assert.NotContains(t, string(rt.Content), "registry.s(")

	for _, a := range b.Artifacts {
		assert.NotContains(t, string(a.Content), "sourceURL=", a.Filename)
	}
}

func TestEmitHashesFollowContent(t *testing.T) {
	plan := testPlan(t, config.ModeProduction)
	first := emitGraph(t, plan, appGraph())
	again := emitGraph(t, plan, appGraph())
	assert.Equal(t, first.Manifest, again.Manifest)

	g := appGraph()
	g.Add(module("src/lazy.js", classify.KindScript, "export const lazy = false;\n", 0))
	changed := emitGraph(t, plan, g)

	assert.NotEqual(t, first.Manifest["src_lazy_js.js"].File, changed.Manifest["src_lazy_js.js"].File)
	assert.Equal(t, first.Manifest["vendors.react.js"].File, changed.Manifest["vendors.react.js"].File)
	// Only the runtime embeds the lazy chunk's filename.
	assert.NotEqual(t, first.Manifest["runtime.js"].File, changed.Manifest["runtime.js"].File)
	assert.Equal(t, first.Manifest["main.js"].File, changed.Manifest["main.js"].File)
}

func TestEmitInlineRuntime(t *testing.T) {
	plan := testPlan(t, config.ModeProduction, func(c *config.Config) {
		c.Optimization.RuntimeChunk = "inline"
	})
	b := emitGraph(t, plan, appGraph())

	for _, a := range b.Artifacts {
		assert.NotEqual(t, "runtime", a.Chunk, a.Filename)
	}
	main := artifact(t, b, "main", KindScript)
	lazy := artifact(t, b, chunk.AsyncName("src/lazy.js"), KindScript)
	content := string(main.Content)
	assert.Contains(t, content, "registry.s = load")
	assert.Contains(t, content, `"src/lazy.js":["`+lazy.Filename+`"]`)
	assert.Less(t, strings.Index(content, "registry.s = load"), strings.Index(content, `registry.s("src/index.js")`))
}

func TestEmitRuntimeNameTaken(t *testing.T) {
	g := appGraph()
	g.SetEntry("runtime", "src/lazy.js")
	b := emitGraph(t, testPlan(t, config.ModeDevelopment), g)

	rt := artifact(t, b, "runtime~1", KindScript)
	assert.Equal(t, "assets/js/runtime~1.bundle.js", rt.Filename)
	assert.Contains(t, string(rt.Content), "registry.s = load")
	entry := artifact(t, b, "runtime", KindScript)
	assert.Contains(t, string(entry.Content), `registry.s("src/lazy.js")`)
}

func TestEmitMarksInitialFilesLoaded(t *testing.T) {
	// shared.js moves to a split chunk loaded by the main page and by the
	// async group of lazy.js.
	g := graph.New("/project")
	g.Add(module("src/index.js", classify.KindScript,
		"import './shared.js';\nexport const load = () => import('./lazy.js');\n", 0,
		edge("src/shared.js", graph.EdgeStatic),
		edge("src/lazy.js", graph.EdgeDynamic)))
	g.Add(module("src/other.js", classify.KindScript, "import './shared.js';\n", 0,
		edge("src/shared.js", graph.EdgeStatic)))
	g.Add(module("src/admin.js", classify.KindScript, "export const load = () => import('./lazy.js');\n", 0,
		edge("src/lazy.js", graph.EdgeDynamic)))
	g.Add(module("src/shared.js", classify.KindScript, "export const shared = 1;\n", 0))
	g.Add(module("src/lazy.js", classify.KindScript, "import './shared.js';\nexport const lazy = true;\n", 0,
		edge("src/shared.js", graph.EdgeStatic)))
	g.SetEntry("main", "src/index.js")
	g.SetEntry("other", "src/other.js")
	g.SetEntry("admin", "src/admin.js")

	b := emitGraph(t, testPlan(t, config.ModeProduction), g)

	var shared *Artifact
	for _, a := range b.Artifacts {
		if strings.HasPrefix(a.Chunk, "common~") && a.Kind == KindScript {
			shared = a
		}
	}
	require.NotNil(t, shared)
	assert.Contains(t, string(shared.Content), `"src/shared.js"`)

	rt := artifact(t, b, "runtime", KindScript)
	lazy := artifact(t, b, chunk.AsyncName("src/lazy.js"), KindScript)
	assert.Contains(t, string(rt.Content), `"src/lazy.js":["`+shared.Filename+`","`+lazy.Filename+`"]`)

	main := string(artifact(t, b, "main", KindScript).Content)
	assert.Contains(t, main, `["`+shared.Filename+`"].forEach(`)
	assert.Less(t, strings.Index(main, ".forEach("), strings.Index(main, "registry.s("))

	admin := string(artifact(t, b, "admin", KindScript).Content)
	assert.Contains(t, admin, "[].forEach(")
}

func TestEmitDevelopment(t *testing.T) {
	b := emitGraph(t, testPlan(t, config.ModeDevelopment), appGraph())

	main := artifact(t, b, "main", KindScript)
	assert.Equal(t, "assets/js/main.bundle.js", main.Filename)
	content := string(main.Content)
	assert.Contains(t, content, "eval(")
	assert.Contains(t, content, "sourceURL=bundlekit:///src/index.js")
	// Styles are injected by script.
	assert.Contains(t, content, "document.createElement")

	for _, a := range b.Artifacts {
		assert.NotEqual(t, KindStyle, a.Kind, a.Filename)
	}
	_, ok := b.Get("assets/js/vendors.react.bundle.js")
	assert.True(t, ok)
	_, ok = b.Get("assets/js/runtime.bundle.js")
	assert.True(t, ok)
}

func TestEmitHTML(t *testing.T) {
	b := emitGraph(t, testPlan(t, config.ModeProduction), appGraph())
	require.Equal(t, "index.html", b.HTML)

	page, ok := b.Get("index.html")
	require.True(t, ok)
	html := string(page.Content)

	rt := artifact(t, b, "runtime", KindScript)
	vendor := artifact(t, b, "vendors.react", KindScript)
	main := artifact(t, b, "main", KindScript)
	css := artifact(t, b, "main", KindStyle)
	lazy := artifact(t, b, chunk.AsyncName("src/lazy.js"), KindScript)

	assert.Contains(t, html, `<link rel="stylesheet" href="/`+css.Filename+`">`)
	ri := strings.Index(html, `src="/`+rt.Filename+`"`)
	vi := strings.Index(html, `src="/`+vendor.Filename+`"`)
	mi := strings.Index(html, `src="/`+main.Filename+`"`)
	require.True(t, ri >= 0 && vi >= 0 && mi >= 0)
	assert.Less(t, ri, vi, "the runtime loads first")
	assert.Less(t, vi, mi, "split chunks load before the entry chunk")
	assert.NotContains(t, html, lazy.Filename)
	assert.Contains(t, html, "<title>")
}

func TestEmitHTMLNoInject(t *testing.T) {
	plan := testPlan(t, config.ModeProduction, func(c *config.Config) {
		c.HTML.Inject = false
		c.HTML.Title = "Quiet"
	})
	b := emitGraph(t, plan, appGraph())

	page, ok := b.Get("index.html")
	require.True(t, ok)
	assert.NotContains(t, string(page.Content), "<script")
	assert.Contains(t, string(page.Content), "<title>Quiet</title>")
}

func TestEmitHTMLTemplate(t *testing.T) {
	root := t.TempDir()
	tmpl := `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Old</title></head>
<body><div id="app"></div></body>
</html>
`
	require.NoError(t, os.WriteFile(filepath.Join(root, "page.html"), []byte(tmpl), 0o644))

	plan := testPlan(t, config.ModeProduction, func(c *config.Config) {
		c.Root = root
		c.HTML.Template = "page.html"
		c.HTML.Title = "Shop & Co"
	})
	b := emitGraph(t, plan, appGraph())

	page, ok := b.Get("index.html")
	require.True(t, ok)
	html := string(page.Content)

	assert.Contains(t, html, `<div id="app"></div>`)
	assert.Contains(t, html, "<title>Shop &amp; Co</title>")
	assert.NotContains(t, html, "Old")

	main := artifact(t, b, "main", KindScript)
	assert.Regexp(t, regexp.MustCompile(`<script defer="" src="/`+regexp.QuoteMeta(main.Filename)+`"></script>\s*</body>`), html)
	assert.Less(t, strings.Index(html, `rel="stylesheet"`), strings.Index(html, "</head>"))
}

func TestEmitHTMLDefaultTemplate(t *testing.T) {
	root := t.TempDir()
	plan := testPlan(t, config.ModeProduction, func(c *config.Config) { c.Root = root })

	// no public/index.html: the built-in shell is used
	b := emitGraph(t, plan, appGraph())
	page, _ := b.Get("index.html")
	assert.Contains(t, string(page.Content), `<div id="root"></div>`)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "public"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "public", "index.html"),
		[]byte(`<html><head><title>Mine</title></head><body><main id="mount"></main></body></html>`), 0o644))

	b = emitGraph(t, plan, appGraph())
	page, _ = b.Get("index.html")
	assert.Contains(t, string(page.Content), `<main id="mount"></main>`)
	assert.Contains(t, string(page.Content), "<title>Mine</title>")
}

func TestEmitHTMLTemplateMissing(t *testing.T) {
	plan := testPlan(t, config.ModeProduction, func(c *config.Config) {
		c.Root = t.TempDir()
		c.HTML.Template = "missing.html"
	})
	g := appGraph()
	ctx := context.Background()
	outputs, err := transform.NewPipeline(plan, nil, logging.Discard()).Run(ctx, g, errors.NewErrorCollector())
	require.NoError(t, err)
	chunks, err := chunk.Split(g, plan.SplitChunks)
	require.NoError(t, err)

	_, err = NewEmitter(plan, logging.Discard()).Emit(ctx, chunks, outputs)
	require.Error(t, err)
	assert.True(t, errors.IsBuildError(err))
	assert.Contains(t, err.Error(), "html template")
}

func TestManifest(t *testing.T) {
	b := emitGraph(t, testPlan(t, config.ModeProduction), appGraph())

	raw, ok := b.Get("manifest.json")
	require.True(t, ok)

	var manifest map[string]ManifestEntry
	require.NoError(t, json.Unmarshal(raw.Content, &manifest))
	assert.Equal(t, b.Manifest, manifest)

	for name, entry := range manifest {
		a, ok := b.Get(entry.File)
		require.True(t, ok, name)
		assert.Equal(t, Integrity(a.Content), entry.Integrity, name)
		assert.True(t, strings.HasPrefix(entry.Integrity, "sha256-"))
	}
	assert.Contains(t, manifest, "main.js")
	assert.Contains(t, manifest, "main.css")
	assert.Contains(t, manifest, "index.html")
}

func TestBundleWrite(t *testing.T) {
	b := emitGraph(t, testPlan(t, config.ModeDevelopment), appGraph())

	dir := filepath.Join(t.TempDir(), "dist")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	stale := filepath.Join(dir, "stale.js")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	require.NoError(t, b.Write(dir, true))
	assert.NoFileExists(t, stale)

	for _, a := range b.Artifacts {
		got, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(a.Filename)))
		require.NoError(t, err)
		assert.Equal(t, a.Content, got)
	}
	assert.Greater(t, b.TotalSize(), int64(0))

	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))
	require.NoError(t, b.Write(dir, false))
	assert.FileExists(t, stale)
}

func TestDefaultTitle(t *testing.T) {
	tests := []struct {
		root string
		want string
	}{
		{"/home/me/my-app", "My App"},
		{"/srv/shop_front", "Shop Front"},
		{"/", "App"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DefaultTitle(tt.root), tt.root)
	}
}

func TestInjectScript(t *testing.T) {
	page := []byte("<html><head></head><body><p>hi</p></body></html>")
	out, err := InjectScript(page, "console.log(1)")
	require.NoError(t, err)
	assert.Contains(t, string(out), "<p>hi</p><script>console.log(1)</script></body>")
}
