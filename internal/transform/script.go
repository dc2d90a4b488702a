package transform

import (
	"path"
	"regexp"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/conneroisu/bundlekit/internal/config"
	"github.com/conneroisu/bundlekit/internal/errors"
	"github.com/conneroisu/bundlekit/internal/graph"
)

// dynamicImport matches import("literal") as printed by esbuild. Calls with
// non-literal specifiers are left alone and resolved by the browser.
var dynamicImport = regexp.MustCompile(`(?m)(^|[^.\w$])import\(\s*("(?:[^"\\\n]|\\.)*")\s*\)`)

func (p *Pipeline) script(m *graph.Module, collector *errors.ErrorCollector) (*Output, bool) {
	result := api.Transform(string(m.Source), api.TransformOptions{
		Loader:     graph.Loader(m.Kind, path.Ext(m.ID)),
		Format:     api.FormatCommonJS,
		Target:     api.ES2020,
		Platform:   api.PlatformBrowser,
		JSX:        api.JSXAutomatic,
		Define:     p.plan.Define,
		Sourcefile: m.ID,
		Sourcemap:  p.sourceMap(),
		LogLevel:   api.LogLevelSilent,
	})
	if !report(m.ID, result, collector) {
		return nil, false
	}

	code := rewriteDynamicImports(result.Code)

	if p.plan.Minimize {
		var ok bool
		if code, ok = p.minify(m.ID, code, collector); !ok {
			return nil, false
		}
	}

	return &Output{ModuleID: m.ID, Kind: m.Kind, JS: code}, true
}

// rewriteDynamicImports routes literal dynamic imports through the runtime's
// chunk loader.
func rewriteDynamicImports(code []byte) []byte {
	return dynamicImport.ReplaceAll(code, []byte("${1}require.e(${2})"))
}

// minify runs a separate minification pass. It runs after the dynamic import
// rewrite, so the rewrite only ever sees unminified engine output.
func (p *Pipeline) minify(id string, code []byte, collector *errors.ErrorCollector) ([]byte, bool) {
	result := api.Transform(string(code), api.TransformOptions{
		Loader:            api.LoaderJS,
		Format:            api.FormatCommonJS,
		Target:            api.ES2020,
		MinifyWhitespace:  true,
		MinifyIdentifiers: true,
		MinifySyntax:      true,
		Sourcefile:        id,
		Sourcemap:         p.sourceMap(),
		LogLevel:          api.LogLevelSilent,
	})
	if !report(id, result, collector) {
		return nil, false
	}
	return result.Code, true
}

func (p *Pipeline) sourceMap() api.SourceMap {
	if p.plan.DevTool == config.DevToolEvalSourceMap {
		return api.SourceMapInline
	}
	return api.SourceMapNone
}

func (p *Pipeline) data(m *graph.Module, collector *errors.ErrorCollector) (*Output, bool) {
	result := api.Transform(string(m.Source), api.TransformOptions{
		Loader:            api.LoaderJSON,
		Format:            api.FormatCommonJS,
		MinifyWhitespace:  p.plan.Minimize,
		MinifyIdentifiers: p.plan.Minimize,
		MinifySyntax:      p.plan.Minimize,
		Sourcefile:        m.ID,
		LogLevel:          api.LogLevelSilent,
	})
	if !report(m.ID, result, collector) {
		return nil, false
	}
	return &Output{ModuleID: m.ID, Kind: m.Kind, JS: result.Code}, true
}
