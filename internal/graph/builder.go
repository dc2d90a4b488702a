package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/conneroisu/bundlekit/internal/classify"
	"github.com/conneroisu/bundlekit/internal/config"
	"github.com/conneroisu/bundlekit/internal/errors"
	"github.com/conneroisu/bundlekit/internal/logging"
	"github.com/conneroisu/bundlekit/internal/naming"
)

// scratchDir is handed to the engine as output directory. Nothing is
// written there; the engine only needs it to name entry outputs.
const scratchDir = ".bundlekit-graph"

// Builder resolves the entries of a plan into a Graph. It keeps the engine's
// incremental build context alive between calls so watch-mode rebuilds only
// re-read changed files.
type Builder struct {
	plan   *config.Plan
	logger logging.Logger

	mu     sync.Mutex
	engine api.BuildContext
}

// NewBuilder creates a graph builder for plan.
func NewBuilder(plan *config.Plan, logger logging.Logger) *Builder {
	return &Builder{
		plan:   plan,
		logger: logger.WithComponent("graph"),
	}
}

// Build resolves the entries and returns the module graph. Engine
// diagnostics are added to collector; when any of them is an error the
// returned error is a located build error.
func (b *Builder) Build(ctx context.Context, collector *errors.ErrorCollector) (*Graph, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if b.engine == nil {
		engine, cerr := api.Context(b.options())
		if cerr != nil {
			addMessages(collector, cerr.Errors, errors.ErrorSeverityError)
			if err := collector.Err(errors.ErrCodeResolveFailed, "resolve"); err != nil {
				return nil, err
			}
			return nil, errors.NewInternalError(errors.ErrCodeInternalError, "creating build context", nil)
		}
		b.engine = engine
	}

	done := make(chan api.BuildResult, 1)
	go func() { done <- b.engine.Rebuild() }()

	var result api.BuildResult
	select {
	case <-ctx.Done():
		b.engine.Cancel()
		<-done
		return nil, ctx.Err()
	case result = <-done:
	}

	addMessages(collector, result.Warnings, errors.ErrorSeverityWarning)
	if len(result.Errors) > 0 {
		addMessages(collector, result.Errors, errors.ErrorSeverityError)
		return nil, collector.Err(errors.ErrCodeResolveFailed, "resolve")
	}

	g, err := b.fromMetafile(result.Metafile, collector)
	if err != nil {
		return nil, err
	}

	b.logger.Debug(ctx, "Resolved module graph", "modules", g.Len(), "entries", len(g.entries))
	return g, nil
}

// Close releases the engine's build context.
func (b *Builder) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.engine != nil {
		b.engine.Dispose()
		b.engine = nil
	}
}

func (b *Builder) options() api.BuildOptions {
	entries := make([]api.EntryPoint, 0, len(b.plan.Entries))
	for _, e := range b.plan.Entries {
		entries = append(entries, api.EntryPoint{
			InputPath:  "./" + e.Path,
			OutputPath: e.Name,
		})
	}

	loaders := make(map[string]api.Loader)
	for _, rule := range b.plan.Rules {
		for _, ext := range rule.Extensions {
			loaders[ext] = Loader(rule.Kind, ext)
		}
	}

	return api.BuildOptions{
		EntryPointsAdvanced: entries,
		AbsWorkingDir:       b.plan.Root,
		Outdir:              filepath.Join(b.plan.Root, scratchDir),
		Bundle:              true,
		Write:               false,
		Metafile:            true,
		Format:              api.FormatESModule,
		Platform:            api.PlatformBrowser,
		Target:              api.ES2020,
		JSX:                 api.JSXAutomatic,
		Loader:              loaders,
		ResolveExtensions:   b.plan.Resolve.Extensions,
		Alias:               b.plan.Resolve.Alias,
		Define:              b.plan.Define,
		LogLevel:            api.LogLevelSilent,
	}
}

// Loader returns the engine loader for a module of the given kind.
func Loader(kind classify.Kind, ext string) api.Loader {
	switch kind {
	case classify.KindStyle:
		return api.LoaderCSS
	case classify.KindData:
		return api.LoaderJSON
	case classify.KindImage, classify.KindVector, classify.KindFont:
		return api.LoaderFile
	}
	switch strings.ToLower(ext) {
	case ".ts", ".mts", ".cts":
		return api.LoaderTS
	case ".tsx":
		return api.LoaderTSX
	case ".jsx":
		return api.LoaderJSX
	default:
		return api.LoaderJS
	}
}

type metafile struct {
	Inputs  map[string]metaInput  `json:"inputs"`
	Outputs map[string]metaOutput `json:"outputs"`
}

type metaInput struct {
	Bytes   int64        `json:"bytes"`
	Imports []metaImport `json:"imports"`
}

type metaImport struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	Original string `json:"original"`
	External bool   `json:"external"`
}

type metaOutput struct {
	EntryPoint string `json:"entryPoint"`
}

var edgeKinds = map[string]EdgeKind{
	"import-statement": EdgeStatic,
	"require-call":     EdgeStatic,
	"require-resolve":  EdgeStatic,
	"dynamic-import":   EdgeDynamic,
	"import-rule":      EdgeStyle,
	"composes-from":    EdgeStyle,
	"url-token":        EdgeURL,
}

// engineNamespaces prefix metafile paths that live outside the file
// namespace.
var engineNamespaces = []string{"(disabled):", "dataurl:"}

// virtual reports whether a metafile input is generated by the engine rather
// than read from disk, e.g. "<runtime>", "<define:process.env.NODE_ENV>" or
// "(disabled):fs".
func virtual(p string) bool {
	if strings.HasPrefix(p, "<") && strings.HasSuffix(p, ">") {
		return true
	}
	for _, ns := range engineNamespaces {
		if strings.HasPrefix(p, ns) {
			return true
		}
	}
	return false
}

func (b *Builder) fromMetafile(raw string, collector *errors.ErrorCollector) (*Graph, error) {
	var meta metafile
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, errors.NewInternalError(errors.ErrCodeInternalError, "decoding metafile", err)
	}

	g := New(b.plan.Root)
	var unclassified []string

	for id, in := range meta.Inputs {
		if virtual(id) {
			continue
		}

		rule, ok := b.plan.Rules.Classify(id)
		if !ok {
			unclassified = append(unclassified, id)
			continue
		}

		abs := filepath.Join(b.plan.Root, filepath.FromSlash(id))
		source, err := os.ReadFile(abs)
		if err != nil {
			return nil, errors.NewIOError(errors.ErrCodeFileNotFound, "reading module "+id, err).WithModule(id)
		}

		m := &Module{
			ID:     id,
			Path:   abs,
			Kind:   rule.Kind,
			Size:   int64(len(source)),
			Source: source,
			Hash:   naming.Hash(source),
		}
		for _, imp := range in.Imports {
			if imp.External || virtual(imp.Path) {
				continue
			}
			kind, ok := edgeKinds[imp.Kind]
			if !ok {
				continue
			}
			m.Imports = append(m.Imports, Edge{To: imp.Path, Specifier: imp.Original, Kind: kind})
		}
		g.Add(m)
	}

	if len(unclassified) > 0 {
		sort.Strings(unclassified)
		for _, id := range unclassified {
			collector.Add(errors.BuildError{
				Module:   id,
				File:     id,
				Message:  "no rule matches module " + id,
				Severity: errors.ErrorSeverityError,
			})
		}
		return nil, collector.Err(errors.ErrCodeUnclassified, "classify")
	}

	for out, info := range meta.Outputs {
		if info.EntryPoint == "" {
			continue
		}
		ext := path.Ext(out)
		if ext != ".js" && ext != ".css" {
			continue
		}
		g.SetEntry(strings.TrimSuffix(path.Base(out), ext), info.EntryPoint)
	}

	for _, e := range b.plan.Entries {
		if id, ok := g.Entry(e.Name); !ok || g.Module(id) == nil {
			return nil, errors.NewBuildError(errors.ErrCodeResolveFailed,
				fmt.Sprintf("entry %q did not resolve to a module", e.Name), nil).WithModule(e.Path)
		}
	}

	return g, nil
}

func addMessages(collector *errors.ErrorCollector, msgs []api.Message, severity errors.ErrorSeverity) {
	for _, msg := range msgs {
		be := errors.BuildError{
			Message:  msg.Text,
			Severity: severity,
		}
		if msg.Location != nil {
			be.File = msg.Location.File
			be.Module = msg.Location.File
			be.Line = msg.Location.Line
			be.Column = msg.Location.Column + 1
		}
		collector.Add(be)
	}
}
