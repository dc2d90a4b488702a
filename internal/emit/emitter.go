// Package emit renders chunks into output artifacts.
//
// Each chunk becomes a JavaScript file registering its modules with the
// page-global registry; entry chunks additionally start their entry module.
// The loader runtime is either its own file loaded before every entry chunk
// or embedded in each entry chunk. Extracted stylesheets become one CSS file
// per chunk. Filenames come from the plan's templates, with content hashes
// computed over the rendered bytes. The HTML shell and manifest.json are
// emitted last since they reference everything else.
package emit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/conneroisu/bundlekit/internal/chunk"
	"github.com/conneroisu/bundlekit/internal/config"
	"github.com/conneroisu/bundlekit/internal/errors"
	"github.com/conneroisu/bundlekit/internal/logging"
	"github.com/conneroisu/bundlekit/internal/naming"
	"github.com/conneroisu/bundlekit/internal/transform"
)

// ArtifactKind is the type of an emitted file.
type ArtifactKind string

const (
	KindScript   ArtifactKind = "script"
	KindStyle    ArtifactKind = "style"
	KindAsset    ArtifactKind = "asset"
	KindHTML     ArtifactKind = "html"
	KindManifest ArtifactKind = "manifest"
)

// Artifact is a single output file.
type Artifact struct {
	// Name is the logical, unhashed name used in the manifest.
	Name string `json:"name"`
	// Filename is relative to the output directory.
	Filename  string       `json:"filename"`
	Kind      ArtifactKind `json:"kind"`
	Chunk     string       `json:"chunk,omitempty"`
	Size      int64        `json:"size"`
	Integrity string       `json:"integrity"`
	Content   []byte       `json:"-"`
}

// ManifestEntry describes one artifact in manifest.json.
type ManifestEntry struct {
	File      string `json:"file"`
	Integrity string `json:"integrity"`
}

// Bundle is the set of artifacts of one build.
type Bundle struct {
	Artifacts []*Artifact
	// HTML is the shell's filename, or empty when none was emitted.
	HTML     string
	Manifest map[string]ManifestEntry

	files map[string]*Artifact
}

// Get returns the artifact with the given filename.
func (b *Bundle) Get(filename string) (*Artifact, bool) {
	a, ok := b.files[filename]
	return a, ok
}

// TotalSize returns the size of all artifacts.
func (b *Bundle) TotalSize() int64 {
	var n int64
	for _, a := range b.Artifacts {
		n += a.Size
	}
	return n
}

// Write writes every artifact below dir. With clean set, dir is emptied
// first.
func (b *Bundle) Write(dir string, clean bool) error {
	if clean {
		if err := os.RemoveAll(dir); err != nil {
			return errors.NewIOError(errors.ErrCodeBuildFailed, "cleaning output directory", err)
		}
	}
	for _, a := range b.Artifacts {
		dest := filepath.Join(dir, filepath.FromSlash(a.Filename))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return errors.NewIOError(errors.ErrCodeBuildFailed, "creating output directory", err)
		}
		if err := os.WriteFile(dest, a.Content, 0o644); err != nil {
			return errors.NewIOError(errors.ErrCodeBuildFailed, "writing "+a.Filename, err)
		}
	}
	return nil
}

func (b *Bundle) add(a *Artifact) {
	a.Size = int64(len(a.Content))
	a.Integrity = Integrity(a.Content)
	b.Artifacts = append(b.Artifacts, a)
	b.files[a.Filename] = a
}

// Emitter renders chunks for a plan.
type Emitter struct {
	plan   *config.Plan
	logger logging.Logger
}

// NewEmitter creates an emitter.
func NewEmitter(plan *config.Plan, logger logging.Logger) *Emitter {
	return &Emitter{plan: plan, logger: logger.WithComponent("emit")}
}

type renderedChunk struct {
	js, css         *Artifact
	jsFile, cssFile string
}

// Emit renders chunks from the transform outputs.
func (e *Emitter) Emit(ctx context.Context, chunks *chunk.Result, outputs *transform.Result) (*Bundle, error) {
	b := &Bundle{
		Manifest: make(map[string]ManifestEntry),
		files:    make(map[string]*Artifact),
	}

	ids := make(map[string]int, len(chunks.Chunks))
	for i, c := range chunks.Chunks {
		ids[c.Name] = i
	}

	rendered := make(map[string]*renderedChunk, len(chunks.Chunks))

	// The runtime embeds the filenames of the other chunks, so those are
	// named first.
	for _, c := range chunks.Chunks {
		if c.Kind == chunk.KindInitial {
			continue
		}
		rc, err := e.renderChunk(c, ids[c.Name], outputs, "")
		if err != nil {
			return nil, err
		}
		rendered[c.Name] = rc
	}

	loader := e.loader(chunks, rendered)

	var rt *renderedChunk
	if e.plan.RuntimeChunk != config.RuntimeInline {
		rt = e.renderRuntime(runtimeName(ids), len(ids), loader)
	}

	for _, c := range chunks.Chunks {
		if c.Kind != chunk.KindInitial {
			continue
		}
		start := e.startFor(c, chunks, rendered)
		if rt == nil {
			start = loader + start
		}
		rc, err := e.renderChunk(c, ids[c.Name], outputs, start)
		if err != nil {
			return nil, err
		}
		rendered[c.Name] = rc
	}

	if rt != nil {
		b.add(rt.js)
	}
	for _, c := range chunks.Chunks {
		rc := rendered[c.Name]
		b.add(rc.js)
		if rc.css != nil {
			b.add(rc.css)
		}
	}

	for _, asset := range outputs.Assets() {
		if _, dup := b.files[asset.Filename]; dup {
			continue
		}
		b.add(&Artifact{
			Name:     asset.Module,
			Filename: asset.Filename,
			Kind:     KindAsset,
			Content:  asset.Content,
		})
	}

	if e.plan.HTML.Filename != "" {
		page, err := e.renderHTML(chunks, rendered, rt)
		if err != nil {
			return nil, err
		}
		b.add(&Artifact{
			Name:     e.plan.HTML.Filename,
			Filename: e.plan.HTML.Filename,
			Kind:     KindHTML,
			Content:  page,
		})
		b.HTML = e.plan.HTML.Filename
	}

	for _, a := range b.Artifacts {
		b.Manifest[a.Name] = ManifestEntry{File: a.Filename, Integrity: a.Integrity}
	}
	manifest, err := json.MarshalIndent(b.Manifest, "", "  ")
	if err != nil {
		return nil, errors.NewInternalError(errors.ErrCodeInternalError, "encoding manifest", err)
	}
	b.add(&Artifact{
		Name:     "manifest.json",
		Filename: "manifest.json",
		Kind:     KindManifest,
		Content:  append(manifest, '\n'),
	})

	sort.Slice(b.Artifacts, func(i, j int) bool { return b.Artifacts[i].Filename < b.Artifacts[j].Filename })

	e.logger.Debug(ctx, "Emitted artifacts", "artifacts", len(b.Artifacts), "bytes", b.TotalSize())
	return b, nil
}

func (e *Emitter) renderChunk(c *chunk.Chunk, id int, outputs *transform.Result, start string) (*renderedChunk, error) {
	var js, css bytes.Buffer
	js.WriteString(chunkPrelude)

	for _, mid := range c.Modules {
		out, ok := outputs.Get(mid)
		if !ok {
			return nil, errors.NewInternalError(errors.ErrCodeInternalError,
				fmt.Sprintf("module %s of chunk %s has no transform output", mid, c.Name), nil)
		}
		e.writeModule(&js, out)
		if len(out.CSS) > 0 {
			css.Write(out.CSS)
			if !bytes.HasSuffix(out.CSS, []byte("\n")) {
				css.WriteByte('\n')
			}
		}
	}

	js.WriteString(start)
	js.WriteString(chunkEpilogue)

	tmpl, cssTmpl := e.plan.Filenames.Chunk, e.plan.Filenames.CSSChunk
	if c.Kind == chunk.KindInitial {
		tmpl, cssTmpl = e.plan.Filenames.Entry, e.plan.Filenames.CSS
	}
	fields := naming.Fields{Name: c.Name, ID: strconv.Itoa(id), Ext: "js", Hash: naming.Hash(js.Bytes())}

	rc := &renderedChunk{}
	rc.jsFile = naming.Render(tmpl, fields)
	rc.js = &Artifact{
		Name:     c.Name + ".js",
		Filename: rc.jsFile,
		Kind:     KindScript,
		Chunk:    c.Name,
		Content:  js.Bytes(),
	}

	if css.Len() > 0 {
		fields.Ext = "css"
		fields.Hash = naming.Hash(css.Bytes())
		rc.cssFile = naming.Render(cssTmpl, fields)
		rc.css = &Artifact{
			Name:     c.Name + ".css",
			Filename: rc.cssFile,
			Kind:     KindStyle,
			Chunk:    c.Name,
			Content:  css.Bytes(),
		}
	}
	return rc, nil
}

// writeModule writes one registry entry. In eval modes the body is passed
// to eval with a sourceURL so devtools list every module as its own file.
func (e *Emitter) writeModule(w *bytes.Buffer, out *transform.Output) {
	w.WriteString("registry.m[")
	w.Write(jsString(out.ModuleID))
	w.WriteString("] = [function(module, exports, require) {\n")

	switch e.plan.DevTool {
	case config.DevToolEval, config.DevToolEvalSourceMap:
		body := string(out.JS)
		if len(body) > 0 && body[len(body)-1] != '\n' {
			body += "\n"
		}
		body += "//# sourceURL=bundlekit:///" + out.ModuleID
		w.WriteString("eval(")
		w.Write(jsString(body))
		w.WriteString(");\n")
	default:
		w.Write(out.JS)
		if len(out.JS) > 0 && out.JS[len(out.JS)-1] != '\n' {
			w.WriteByte('\n')
		}
	}

	w.WriteString("}, ")
	deps := out.Deps
	if deps == nil {
		deps = map[string]string{}
	}
	// json.Marshal sorts map keys, keeping chunk bytes stable.
	enc, _ := json.Marshal(deps)
	w.Write(enc)
	w.WriteString("];\n")
}

// asyncMap lists, per dynamic import target, the files its chunk group
// loads.
func (e *Emitter) asyncMap(chunks *chunk.Result, rendered map[string]*renderedChunk) map[string][]string {
	m := make(map[string][]string)
	for _, grp := range chunks.Groups {
		if grp.Kind != chunk.KindAsync {
			continue
		}
		var files []string
		for _, name := range grp.Chunks {
			rc := rendered[name]
			if rc == nil {
				continue
			}
			if rc.cssFile != "" {
				files = append(files, rc.cssFile)
			}
			files = append(files, rc.jsFile)
		}
		m[grp.Root] = files
	}
	return m
}

// loader returns the runtime definition together with the async chunk map.
func (e *Emitter) loader(chunks *chunk.Result, rendered map[string]*renderedChunk) string {
	enc, _ := json.Marshal(e.asyncMap(chunks, rendered))
	return fmt.Sprintf(runtime, jsString(e.plan.PublicPath)) + fmt.Sprintf(asyncFiles, enc)
}

// renderRuntime renders the shared runtime file.
func (e *Emitter) renderRuntime(name string, id int, loader string) *renderedChunk {
	var js bytes.Buffer
	js.WriteString(chunkPrelude)
	js.WriteString(loader)
	js.WriteString(chunkEpilogue)

	file := naming.Render(e.plan.Filenames.Entry, naming.Fields{
		Name: name,
		ID:   strconv.Itoa(id),
		Ext:  "js",
		Hash: naming.Hash(js.Bytes()),
	})
	return &renderedChunk{
		jsFile: file,
		js: &Artifact{
			Name:     name + ".js",
			Filename: file,
			Kind:     KindScript,
			Chunk:    name,
			Content:  js.Bytes(),
		},
	}
}

// startFor marks the files the page loads alongside entry chunk c as loaded,
// so async groups sharing them do not fetch them again, then starts the
// entry module.
func (e *Emitter) startFor(c *chunk.Chunk, chunks *chunk.Result, rendered map[string]*renderedChunk) string {
	files := []string{}
	for _, grp := range chunks.InitialGroups() {
		if grp.Name != c.Name {
			continue
		}
		for _, name := range grp.Chunks {
			rc := rendered[name]
			if name == c.Name || rc == nil {
				continue
			}
			if rc.cssFile != "" {
				files = append(files, rc.cssFile)
			}
			files = append(files, rc.jsFile)
		}
	}
	enc, _ := json.Marshal(files)
	return fmt.Sprintf(markLoaded, enc) + fmt.Sprintf(startEntry, jsString(c.Root))
}

// runtimeName returns "runtime", suffixed when a chunk already has that name.
func runtimeName(ids map[string]int) string {
	name := "runtime"
	for i := 1; ; i++ {
		if _, taken := ids[name]; !taken {
			return name
		}
		name = fmt.Sprintf("runtime~%d", i)
	}
}

// Integrity returns the subresource integrity value for content.
func Integrity(content []byte) string {
	sum := sha256.Sum256(content)
	return "sha256-" + base64.StdEncoding.EncodeToString(sum[:])
}

func jsString(s string) []byte {
	out, _ := json.Marshal(s)
	return out
}
