// Package transform runs each module of the graph through the transform
// chain its classifier rule names.
//
// Scripts and JSON are compiled to CommonJS module bodies by esbuild,
// stylesheets are compiled and then either kept for extraction or turned
// into injecting script modules, and assets are inlined as data URIs or
// emitted as files. Transforms run on a bounded worker pool; outputs are
// cached across builds by module content and plan fingerprint.
package transform

import (
	"context"
	"runtime"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sourcegraph/conc/pool"

	"github.com/conneroisu/bundlekit/internal/classify"
	"github.com/conneroisu/bundlekit/internal/config"
	"github.com/conneroisu/bundlekit/internal/errors"
	"github.com/conneroisu/bundlekit/internal/graph"
	"github.com/conneroisu/bundlekit/internal/logging"
)

// Asset is a file emitted verbatim next to the bundles.
type Asset struct {
	// Module is the ID of the module the asset was produced from.
	Module string
	// Filename is relative to the output directory.
	Filename string
	Content  []byte
}

// Output is the transformed form of one module.
type Output struct {
	ModuleID string
	Kind     classify.Kind
	// JS is the CommonJS body of the module. It may reference module,
	// exports and require.
	JS []byte
	// CSS holds extracted stylesheet text.
	CSS   []byte
	Asset *Asset
	// Deps maps the specifiers the body passes to require to module IDs.
	Deps map[string]string
}

// Size returns the number of bytes held by the output.
func (o *Output) Size() int64 {
	n := int64(len(o.JS) + len(o.CSS))
	if o.Asset != nil {
		n += int64(len(o.Asset.Content))
	}
	return n
}

// Result holds the outputs of one pipeline run.
type Result struct {
	outputs *xsync.MapOf[string, *Output]
	order   []string

	Hits     int64
	Misses   int64
	Duration time.Duration
}

// Get returns the output for a module.
func (r *Result) Get(id string) (*Output, bool) {
	return r.outputs.Load(id)
}

// Len returns the number of outputs.
func (r *Result) Len() int {
	return r.outputs.Size()
}

// Order returns the module IDs in the order they were scheduled.
func (r *Result) Order() []string {
	return r.order
}

// Assets returns every emitted asset file, sorted by filename.
func (r *Result) Assets() []*Asset {
	var assets []*Asset
	r.outputs.Range(func(_ string, out *Output) bool {
		if out.Asset != nil {
			assets = append(assets, out.Asset)
		}
		return true
	})
	sort.Slice(assets, func(i, j int) bool { return assets[i].Filename < assets[j].Filename })
	return assets
}

// Pipeline transforms the modules of a graph.
type Pipeline struct {
	plan    *config.Plan
	cache   *Cache
	logger  logging.Logger
	workers int
}

// NewPipeline creates a pipeline. A nil cache disables caching.
func NewPipeline(plan *config.Plan, cache *Cache, logger logging.Logger) *Pipeline {
	return &Pipeline{
		plan:    plan,
		cache:   cache,
		logger:  logger.WithComponent("transform"),
		workers: runtime.GOMAXPROCS(0),
	}
}

// Run transforms every module reachable from the graph's entries. Transform
// diagnostics go to collector; the returned error is a build error when any
// module failed.
func (p *Pipeline) Run(ctx context.Context, g *graph.Graph, collector *errors.ErrorCollector) (*Result, error) {
	start := time.Now()
	res := &Result{
		outputs: xsync.NewMapOf[string, *Output](),
		order:   g.Order(),
	}
	fingerprint := p.plan.Fingerprint()

	var hits, misses atomic.Int64
	wp := pool.New().WithMaxGoroutines(p.workers).WithContext(ctx)
	for _, id := range res.order {
		m := g.Module(id)
		wp.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}

			key := p.cacheKey(g, m, fingerprint)
			if p.cache != nil {
				if out, ok := p.cache.Get(key); ok {
					hits.Add(1)
					res.outputs.Store(m.ID, withDeps(out, m))
					return nil
				}
			}
			misses.Add(1)

			out, ok := p.transform(g, m, collector)
			if !ok {
				return nil
			}
			if p.cache != nil {
				p.cache.Set(key, out)
			}
			res.outputs.Store(m.ID, withDeps(out, m))
			return nil
		})
	}
	if err := wp.Wait(); err != nil {
		return nil, err
	}

	if err := collector.Err(errors.ErrCodeTransformFailed, "transform"); err != nil {
		return nil, err
	}

	res.Hits = hits.Load()
	res.Misses = misses.Load()
	res.Duration = time.Since(start)
	p.logger.Debug(ctx, "Transformed modules",
		"modules", res.Len(),
		"cache_hits", res.Hits,
		"duration_ms", res.Duration.Milliseconds())
	return res, nil
}

func (p *Pipeline) transform(g *graph.Graph, m *graph.Module, collector *errors.ErrorCollector) (*Output, bool) {
	switch m.Kind {
	case classify.KindScript:
		return p.script(m, collector)
	case classify.KindStyle:
		return p.style(g, m, collector)
	case classify.KindData:
		return p.data(m, collector)
	case classify.KindImage, classify.KindVector, classify.KindFont:
		return p.asset(m), true
	default:
		collector.Add(errors.BuildError{
			Module:   m.ID,
			File:     m.ID,
			Message:  "no transform for module kind " + string(m.Kind),
			Severity: errors.ErrorSeverityError,
		})
		return nil, false
	}
}

// cacheKey identifies a transform result. Stylesheets also depend on the
// content of the assets they reference through url().
func (p *Pipeline) cacheKey(g *graph.Graph, m *graph.Module, fingerprint string) string {
	var b strings.Builder
	b.WriteString(m.ID)
	b.WriteByte('|')
	b.WriteString(m.Hash)
	b.WriteByte('|')
	b.WriteString(fingerprint)
	if m.Kind == classify.KindStyle {
		for _, e := range m.Imports {
			if t := g.Module(e.To); e.Kind == graph.EdgeURL && t != nil {
				b.WriteByte('|')
				b.WriteString(t.ID)
				b.WriteByte('@')
				b.WriteString(t.Hash)
			}
		}
	}
	return b.String()
}

// withDeps returns a copy of out whose dependency map reflects the current
// edges of m. Cached outputs are shared across builds and never mutated.
func withDeps(out *Output, m *graph.Module) *Output {
	cp := *out
	cp.Deps = dependencies(m)
	return &cp
}

func dependencies(m *graph.Module) map[string]string {
	deps := make(map[string]string, len(m.Imports))
	for _, e := range m.Imports {
		if e.Kind == graph.EdgeURL || e.Specifier == "" {
			continue
		}
		deps[e.Specifier] = e.To
	}
	return deps
}

// report adds engine diagnostics for a module to collector and reports
// whether the transform succeeded.
func report(id string, result api.TransformResult, collector *errors.ErrorCollector) bool {
	add := func(msgs []api.Message, severity errors.ErrorSeverity) {
		for _, msg := range msgs {
			be := errors.BuildError{
				Module:   id,
				File:     id,
				Message:  msg.Text,
				Severity: severity,
			}
			if msg.Location != nil {
				be.Line = msg.Location.Line
				be.Column = msg.Location.Column + 1
			}
			collector.Add(be)
		}
	}
	add(result.Warnings, errors.ErrorSeverityWarning)
	add(result.Errors, errors.ErrorSeverityError)
	return len(result.Errors) == 0
}
