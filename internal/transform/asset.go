package transform

import (
	"encoding/base64"
	"mime"
	"path"
	"strings"

	"github.com/conneroisu/bundlekit/internal/classify"
	"github.com/conneroisu/bundlekit/internal/graph"
	"github.com/conneroisu/bundlekit/internal/naming"
)

var fallbackTypes = map[string]string{
	".ico":   "image/x-icon",
	".avif":  "image/avif",
	".webp":  "image/webp",
	".svg":   "image/svg+xml",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
	".otf":   "font/otf",
	".eot":   "application/vnd.ms-fontobject",
}

func (p *Pipeline) asset(m *graph.Module) *Output {
	url, file := p.assetURL(m)
	return &Output{
		ModuleID: m.ID,
		Kind:     m.Kind,
		JS:       []byte("module.exports = " + string(jsString(url)) + ";\n"),
		Asset:    file,
	}
}

// assetURL returns the URL a module is referenced by. Images up to the
// inline limit become data URIs; everything else is emitted as a file named
// by the font or asset filename template.
func (p *Pipeline) assetURL(m *graph.Module) (string, *Asset) {
	ext := path.Ext(m.ID)
	if m.Kind != classify.KindFont && m.Size <= p.plan.InlineLimit {
		return DataURI(ext, m.Source), nil
	}

	tmpl := p.plan.Filenames.Asset
	if m.Kind == classify.KindFont {
		tmpl = p.plan.Filenames.Font
	}
	name := strings.TrimSuffix(path.Base(m.ID), ext)
	id := m.Hash
	if len(id) > 8 {
		id = id[:8]
	}
	filename := naming.Render(tmpl, naming.Fields{
		Name: name,
		ID:   id,
		Ext:  strings.ToLower(strings.TrimPrefix(ext, ".")),
		Hash: m.Hash,
	})
	return p.plan.PublicPath + filename, &Asset{Module: m.ID, Filename: filename, Content: m.Source}
}

// DataURI encodes content as a base64 data URI typed by ext.
func DataURI(ext string, content []byte) string {
	ext = strings.ToLower(ext)
	typ := fallbackTypes[ext]
	if typ == "" {
		typ = mime.TypeByExtension(ext)
	}
	if typ == "" {
		typ = "application/octet-stream"
	}
	if i := strings.IndexByte(typ, ';'); i >= 0 {
		typ = typ[:i]
	}
	return "data:" + typ + ";base64," + base64.StdEncoding.EncodeToString(content)
}
