package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/bundlekit/internal/classify"
	"github.com/conneroisu/bundlekit/internal/config"
	"github.com/conneroisu/bundlekit/internal/graph"
)

type mod struct {
	id      string
	size    int64
	imports []graph.Edge
}

func static(to string) graph.Edge  { return graph.Edge{To: to, Specifier: to, Kind: graph.EdgeStatic} }
func dynamic(to string) graph.Edge { return graph.Edge{To: to, Specifier: to, Kind: graph.EdgeDynamic} }

func buildGraph(entries map[string]string, mods ...mod) *graph.Graph {
	g := graph.New("/project")
	for _, m := range mods {
		g.Add(&graph.Module{ID: m.id, Kind: classify.KindScript, Size: m.size, Imports: m.imports})
	}
	for name, id := range entries {
		g.SetEntry(name, id)
	}
	return g
}

func options(perPackage bool) config.SplitChunksConfig {
	return config.SplitChunksConfig{
		MinSize:            20000,
		MaxInitialRequests: 30,
		MaxAsyncRequests:   30,
		VendorPerPackage:   perPackage,
		CacheGroups:        config.DefaultCacheGroups(perPackage),
	}
}

const (
	react = "node_modules/react/index.js"
	babel = "node_modules/@babel/runtime/helpers.js"
)

func vendorGraph() *graph.Graph {
	return buildGraph(map[string]string{"app": "src/app.js", "admin": "src/admin.js"},
		mod{"src/app.js", 500, []graph.Edge{static(react), static(babel), static("src/util.js")}},
		mod{"src/admin.js", 400, []graph.Edge{static(react), static("src/util.js")}},
		mod{"src/util.js", 100, nil},
		mod{react, 30000, nil},
		mod{babel, 25000, nil},
	)
}

func TestSplitVendorPerPackage(t *testing.T) {
	res, err := Split(vendorGraph(), options(true))
	require.NoError(t, err)

	reactChunk := res.Chunk("vendors.react")
	require.NotNil(t, reactChunk)
	assert.Equal(t, KindSplit, reactChunk.Kind)
	assert.Equal(t, "vendors", reactChunk.CacheGroup)
	assert.Equal(t, []string{react}, reactChunk.Modules)

	babelChunk := res.Chunk("vendors.babel.runtime")
	require.NotNil(t, babelChunk)
	assert.Equal(t, []string{babel}, babelChunk.Modules)

	app := res.Chunk("app")
	assert.Equal(t, []string{"src/util.js", "src/app.js"}, app.Modules)
	assert.Equal(t, []string{"vendors.react", "vendors.babel.runtime"}, app.Siblings)

	groups := res.InitialGroups()
	require.Len(t, groups, 2)
	assert.Equal(t, "admin", groups[0].Name)
	assert.Equal(t, []string{"vendors.react", "admin"}, groups[0].Chunks)
	assert.Equal(t, []string{"vendors.react", "vendors.babel.runtime", "app"}, groups[1].Chunks)

	// util.js is shared but below the minimum size, so both entries keep it
	assert.Equal(t, []string{"admin", "app"}, res.ChunkOf("src/util.js"))
}

func TestSplitVendorSingleChunk(t *testing.T) {
	res, err := Split(vendorGraph(), options(false))
	require.NoError(t, err)

	vendors := res.Chunk("vendors")
	require.NotNil(t, vendors)
	assert.ElementsMatch(t, []string{react, babel}, vendors.Modules)
	assert.Equal(t, int64(55000), vendors.Size)
	assert.Nil(t, res.Chunk("vendors.react"))
}

func TestSplitRequestLimit(t *testing.T) {
	opts := options(true)
	opts.MaxInitialRequests = 2

	res, err := Split(vendorGraph(), opts)
	require.NoError(t, err)

	for _, grp := range res.InitialGroups() {
		assert.LessOrEqual(t, grp.Requests(), 2, grp.Name)
	}
	assert.NotNil(t, res.Chunk("vendors.react"))
	assert.Nil(t, res.Chunk("vendors.babel.runtime"))
	assert.Contains(t, res.Chunk("app").Modules, babel)
}

func TestSplitMinSize(t *testing.T) {
	opts := options(true)
	opts.MinSize = 40000

	res, err := Split(vendorGraph(), opts)
	require.NoError(t, err)

	assert.Len(t, res.Chunks, 2)
	assert.Contains(t, res.Chunk("app").Modules, react)
	assert.Contains(t, res.Chunk("admin").Modules, react)
}

func TestSplitDefaultGroup(t *testing.T) {
	g := buildGraph(map[string]string{"app": "src/app.js", "admin": "src/admin.js"},
		mod{"src/app.js", 10, []graph.Edge{static("src/shared.js")}},
		mod{"src/admin.js", 10, []graph.Edge{static("src/shared.js")}},
		mod{"src/shared.js", 25000, nil},
	)

	res, err := Split(g, options(true))
	require.NoError(t, err)

	shared := res.Chunk("common~admin~app")
	require.NotNil(t, shared)
	assert.Equal(t, "common", shared.CacheGroup)
	assert.Equal(t, []string{"src/shared.js"}, shared.Modules)
	assert.Equal(t, []string{"src/app.js"}, res.Chunk("app").Modules)
}

func TestSplitAsync(t *testing.T) {
	g := buildGraph(map[string]string{"app": "src/app.js"},
		mod{"src/app.js", 10, []graph.Edge{static("src/util.js"), dynamic("src/lazy.js"), dynamic("src/eager.js"), static("src/eager.js")}},
		mod{"src/util.js", 10, nil},
		mod{"src/eager.js", 10, nil},
		mod{"src/lazy.js", 10, []graph.Edge{static("src/util.js"), static("src/heavy.js")}},
		mod{"src/heavy.js", 10, nil},
	)

	res, err := Split(g, options(true))
	require.NoError(t, err)

	grp, ok := res.AsyncGroup("src/lazy.js")
	require.True(t, ok)
	assert.Equal(t, KindAsync, grp.Kind)
	assert.Equal(t, []string{"src_lazy_js"}, grp.Chunks)
	assert.Equal(t, []string{"src/heavy.js", "src/lazy.js"}, res.Chunk("src_lazy_js").Modules)

	// statically imported as well, so already loaded by the entry
	_, ok = res.AsyncGroup("src/eager.js")
	assert.False(t, ok)
}

func TestSplitAsyncNameCollisions(t *testing.T) {
	g := buildGraph(map[string]string{"app": "src/app.js", "src_c_js": "src/other.js"},
		mod{"src/app.js", 10, []graph.Edge{dynamic("src/a.b.js"), dynamic("src/a_b.js"), dynamic("src/c.js")}},
		mod{"src/other.js", 10, nil},
		mod{"src/a.b.js", 10, nil},
		mod{"src/a_b.js", 10, nil},
		mod{"src/c.js", 10, nil},
	)

	res, err := Split(g, options(true))
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, target := range []string{"src/a.b.js", "src/a_b.js", "src/c.js"} {
		grp, ok := res.AsyncGroup(target)
		require.True(t, ok, target)
		require.Len(t, grp.Chunks, 1)
		assert.False(t, names[grp.Name], "duplicate chunk name %s", grp.Name)
		names[grp.Name] = true
		assert.Equal(t, []string{grp.Name}, res.ChunkOf(target))
	}

	assert.Equal(t, []string{"src/a.b.js"}, res.Chunk("src_a_b_js").Modules)
	assert.Equal(t, []string{"src/a_b.js"}, res.Chunk("src_a_b_js~1").Modules)
	assert.Equal(t, []string{"src/c.js"}, res.Chunk("src_c_js~1").Modules)
	assert.Equal(t, []string{"src/other.js"}, res.Chunk("src_c_js").Modules)
}

func TestSplitDeterministic(t *testing.T) {
	a, err := Split(vendorGraph(), options(true))
	require.NoError(t, err)
	b, err := Split(vendorGraph(), options(true))
	require.NoError(t, err)
	assert.Equal(t, a.Chunks, b.Chunks)
	assert.Equal(t, a.Groups, b.Groups)
}

func TestSplitBadTest(t *testing.T) {
	opts := options(true)
	opts.CacheGroups = []config.CacheGroup{{Key: "bad", Test: "(", MinChunks: 1}}
	_, err := Split(vendorGraph(), opts)
	assert.Error(t, err)
}

func TestVendorName(t *testing.T) {
	assert.Equal(t, "vendors.react", VendorName("vendors", react))
	assert.Equal(t, "vendors.babel.runtime", VendorName("vendors", babel))
	assert.Equal(t, "lib.react", VendorName("lib", react))
	assert.Equal(t, "", VendorName("vendors", "src/app.js"))
}

func TestAsyncName(t *testing.T) {
	assert.Equal(t, "src_pages_about-us_tsx", AsyncName("src/pages/about-us.tsx"))
}
