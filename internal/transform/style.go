package transform

import (
	"bytes"
	"encoding/json"
	"regexp"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/conneroisu/bundlekit/internal/config"
	"github.com/conneroisu/bundlekit/internal/errors"
	"github.com/conneroisu/bundlekit/internal/graph"
)

var (
	cssImport = regexp.MustCompile(`@import\s*(?:url\(\s*)?"((?:[^"\\]|\\.)*)"\s*\)?[^;]*;\s*`)
	cssURL    = regexp.MustCompile(`url\(\s*(?:"((?:[^"\\]|\\.)*)"|'((?:[^'\\]|\\.)*)'|([^)"'\s]+))\s*\)`)
)

func (p *Pipeline) style(g *graph.Graph, m *graph.Module, collector *errors.ErrorCollector) (*Output, bool) {
	result := api.Transform(string(m.Source), api.TransformOptions{
		Loader:            api.LoaderCSS,
		MinifyWhitespace:  p.plan.Minimize,
		MinifyIdentifiers: p.plan.Minimize,
		MinifySyntax:      p.plan.Minimize,
		Sourcefile:        m.ID,
		LogLevel:          api.LogLevelSilent,
	})
	if !report(m.ID, result, collector) {
		return nil, false
	}

	imports := make(map[string]bool)
	urls := make(map[string]string)
	for _, e := range m.Imports {
		switch e.Kind {
		case graph.EdgeStyle:
			imports[e.Specifier] = true
		case graph.EdgeURL:
			urls[e.Specifier] = e.To
		}
	}

	// Local @import rules are dropped; the imported stylesheet is its own
	// module and is ordered before this one.
	var dropped []string
	css := cssImport.ReplaceAllFunc(result.Code, func(rule []byte) []byte {
		spec := string(cssImport.FindSubmatch(rule)[1])
		if !imports[spec] {
			return rule
		}
		dropped = append(dropped, spec)
		return nil
	})

	css = cssURL.ReplaceAllFunc(css, func(ref []byte) []byte {
		sub := cssURL.FindSubmatch(ref)
		spec := string(bytes.Join(sub[1:], nil))
		t := g.Module(urls[spec])
		if t == nil {
			return ref
		}
		url, _ := p.assetURL(t)
		return []byte(`url("` + url + `")`)
	})

	out := &Output{ModuleID: m.ID, Kind: m.Kind}
	if p.plan.StyleStrategy == config.StyleExtract {
		out.CSS = css
		return out, true
	}

	out.JS = injectStyle(m.ID, dropped, css)
	return out, true
}

// injectStyle returns a module body that appends css to the document head
// after loading the stylesheets it imported.
func injectStyle(id string, imports []string, css []byte) []byte {
	var b bytes.Buffer
	for _, spec := range imports {
		b.WriteString("require(")
		b.Write(jsString(spec))
		b.WriteString(");\n")
	}
	b.WriteString("var style = document.createElement(\"style\");\n")
	b.WriteString("style.setAttribute(\"data-module\", ")
	b.Write(jsString(id))
	b.WriteString(");\n")
	b.WriteString("style.textContent = ")
	b.Write(jsString(string(css)))
	b.WriteString(";\n")
	b.WriteString("document.head.appendChild(style);\n")
	return b.Bytes()
}

// jsString encodes s as a JavaScript string literal. JSON escapes the
// characters that may not appear raw in script source.
func jsString(s string) []byte {
	out, _ := json.Marshal(s)
	return out
}
