// Package build runs the bundling pipeline: graph resolution, transforms,
// chunk splitting and emission.
package build

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/conneroisu/bundlekit/internal/chunk"
	"github.com/conneroisu/bundlekit/internal/config"
	"github.com/conneroisu/bundlekit/internal/emit"
	"github.com/conneroisu/bundlekit/internal/errors"
	"github.com/conneroisu/bundlekit/internal/graph"
	"github.com/conneroisu/bundlekit/internal/logging"
	"github.com/conneroisu/bundlekit/internal/metrics"
	"github.com/conneroisu/bundlekit/internal/transform"
)

// Transform cache limits. The cache lives as long as the Bundler, so watch
// rebuilds only transform changed modules.
const (
	cacheMaxSize = 256 << 20
	cacheTTL     = time.Hour
)

// Stats summarizes one build.
type Stats struct {
	Modules     int           `json:"modules"`
	Chunks      int           `json:"chunks"`
	Artifacts   int           `json:"artifacts"`
	TotalSize   int64         `json:"total_size"`
	GzipSize    int64         `json:"gzip_size"`
	Duration    time.Duration `json:"duration"`
	CacheHits   int64         `json:"cache_hits"`
	CacheMisses int64         `json:"cache_misses"`
}

// Result is the outcome of a successful build.
type Result struct {
	ID       string              `json:"id"`
	Mode     config.Mode         `json:"mode"`
	Time     time.Time           `json:"time"`
	Stats    Stats               `json:"stats"`
	Warnings []errors.BuildError `json:"warnings,omitempty"`
	Cycles   [][]string          `json:"cycles,omitempty"`

	Bundle *emit.Bundle  `json:"-"`
	Chunks *chunk.Result `json:"-"`
	Graph  *graph.Graph  `json:"-"`
}

// Bundler builds a plan. It is safe for concurrent use; builds are
// serialized.
type Bundler struct {
	plan     *config.Plan
	logger   logging.Logger
	reporter metrics.Reporter

	graph    *graph.Builder
	pipeline *transform.Pipeline
	emitter  *emit.Emitter
	cache    *transform.Cache

	mu        sync.Mutex
	last      *Result
	lastError *errors.ErrorCollector
}

// NewBundler creates a bundler for plan. A nil reporter disables metrics.
func NewBundler(plan *config.Plan, logger logging.Logger, reporter metrics.Reporter) *Bundler {
	cache := transform.NewCache(cacheMaxSize, cacheTTL)
	return &Bundler{
		plan:     plan,
		logger:   logger.WithComponent("bundler"),
		reporter: reporter,
		graph:    graph.NewBuilder(plan, logger),
		pipeline: transform.NewPipeline(plan, cache, logger),
		emitter:  emit.NewEmitter(plan, logger),
		cache:    cache,
	}
}

// Plan returns the plan the bundler builds.
func (b *Bundler) Plan() *config.Plan {
	return b.plan
}

// Build runs the pipeline once. Diagnostics of a failed build are kept and
// available from Diagnostics until the next build.
func (b *Bundler) Build(ctx context.Context) (*Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	perf := logging.StartOperation(b.logger, "build")
	collector := errors.NewErrorCollector()

	res, err := b.run(ctx, collector)
	duration := perf.End(ctx, "mode", b.plan.Mode)

	if err != nil {
		outcome := metrics.OutcomeFailure
		if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			outcome = metrics.OutcomeCanceled
		}
		b.record(outcome, duration, 0)
		b.lastError = collector
		b.logger.Warn(ctx, err, "Build failed", "duration_ms", duration.Milliseconds())
		return nil, err
	}

	res.Stats.Duration = duration
	b.record(metrics.OutcomeSuccess, duration, res.Stats.TotalSize)
	if b.reporter != nil {
		b.reporter.RecordCache(res.Stats.CacheHits, res.Stats.CacheMisses)
	}
	b.last = res
	b.lastError = nil
	b.logger.Info(ctx, "Build completed",
		"id", res.ID,
		"modules", res.Stats.Modules,
		"chunks", res.Stats.Chunks,
		"bytes", res.Stats.TotalSize,
		"duration_ms", duration.Milliseconds())
	return res, nil
}

func (b *Bundler) run(ctx context.Context, collector *errors.ErrorCollector) (*Result, error) {
	g, err := b.graph.Build(ctx, collector)
	if err != nil {
		return nil, err
	}

	cycles := g.Cycles()
	for _, cycle := range cycles {
		collector.Add(errors.BuildError{
			Module:   cycle[0],
			File:     cycle[0],
			Message:  "import cycle: " + joinCycle(cycle),
			Severity: errors.ErrorSeverityWarning,
		})
	}

	outputs, err := b.pipeline.Run(ctx, g, collector)
	if err != nil {
		return nil, err
	}

	chunks, err := chunk.Split(g, b.plan.SplitChunks)
	if err != nil {
		return nil, errors.ErrBuildFailed("chunk splitting", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bundle, err := b.emitter.Emit(ctx, chunks, outputs)
	if err != nil {
		return nil, err
	}

	gz, err := gzipSize(bundle)
	if err != nil {
		return nil, errors.NewInternalError(errors.ErrCodeInternalError, "measuring compressed size", err)
	}

	return &Result{
		ID:       uuid.NewString(),
		Mode:     b.plan.Mode,
		Time:     time.Now(),
		Warnings: collector.Warnings(),
		Cycles:   cycles,
		Bundle:   bundle,
		Chunks:   chunks,
		Graph:    g,
		Stats: Stats{
			Modules:     g.Len(),
			Chunks:      len(chunks.Chunks),
			Artifacts:   len(bundle.Artifacts),
			TotalSize:   bundle.TotalSize(),
			GzipSize:    gz,
			CacheHits:   outputs.Hits,
			CacheMisses: outputs.Misses,
		},
	}, nil
}

func (b *Bundler) record(outcome string, d time.Duration, bytes int64) {
	if b.reporter != nil {
		b.reporter.RecordBuild(outcome, d, bytes)
	}
}

// Last returns the most recent successful build, or nil.
func (b *Bundler) Last() *Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

// Diagnostics returns the diagnostics of the last build if it failed.
func (b *Bundler) Diagnostics() *errors.ErrorCollector {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastError
}

// CacheStats returns the transform cache statistics.
func (b *Bundler) CacheStats() transform.CacheStats {
	return b.cache.Stats()
}

// Close releases the resolution engine and drops cached transforms.
func (b *Bundler) Close() {
	b.graph.Close()
	b.cache.Clear()
}

func joinCycle(cycle []string) string {
	return strings.Join(cycle, " -> ") + " -> " + cycle[0]
}

// gzipSize returns the gzip-compressed size of the bundle's scripts,
// stylesheets and HTML.
func gzipSize(bundle *emit.Bundle) (int64, error) {
	cw := &countingWriter{}
	zw, err := gzip.NewWriterLevel(cw, gzip.BestCompression)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, a := range bundle.Artifacts {
		if a.Kind == emit.KindAsset {
			continue
		}
		cw.n = 0
		zw.Reset(cw)
		if _, err := zw.Write(a.Content); err != nil {
			return 0, err
		}
		if err := zw.Close(); err != nil {
			return 0, err
		}
		total += cw.n
	}
	return total, nil
}

type countingWriter struct{ n int64 }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}
