package config

import (
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/conneroisu/bundlekit/internal/classify"
)

// DevTool selects how source maps are produced.
type DevTool string

const (
	DevToolNone          DevTool = "none"
	DevToolEval          DevTool = "eval"
	DevToolEvalSourceMap DevTool = "eval-source-map"
)

// StyleStrategy selects what happens to compiled stylesheets.
type StyleStrategy string

const (
	// StyleExtract writes stylesheets to CSS files linked from the HTML shell.
	StyleExtract StyleStrategy = "extract"
	// StyleInject turns stylesheets into script modules that append a
	// <style> element at runtime.
	StyleInject StyleStrategy = "inject"
)

// RuntimeChunk selects where the module loader runtime is emitted.
type RuntimeChunk string

const (
	// RuntimeSingle emits the runtime as its own file loaded before every
	// entry chunk.
	RuntimeSingle RuntimeChunk = "single"
	// RuntimeInline embeds the runtime in every entry chunk.
	RuntimeInline RuntimeChunk = "inline"
)

// DefaultHTMLTemplate is the HTML template looked up when none is configured.
const DefaultHTMLTemplate = "public/index.html"

// Entry is a named entry point.
type Entry struct {
	Name string `json:"name" yaml:"name"`
	Path string `json:"path" yaml:"path"`
}

// Filenames holds the output filename templates.
type Filenames struct {
	Entry    string `json:"entry" yaml:"entry"`
	Chunk    string `json:"chunk" yaml:"chunk"`
	CSS      string `json:"css" yaml:"css"`
	CSSChunk string `json:"css_chunk" yaml:"css_chunk"`
	// Asset names emitted images; Font names emitted fonts.
	Asset string `json:"asset" yaml:"asset"`
	Font  string `json:"font" yaml:"font"`
}

// Plan is the resolved, mode-specific configuration consumed by the build
// pipeline and the dev server.
type Plan struct {
	Mode          Mode              `json:"mode" yaml:"mode"`
	Root          string            `json:"root" yaml:"root"`
	Entries       []Entry           `json:"entries" yaml:"entries"`
	OutputDir     string            `json:"output_dir" yaml:"output_dir"`
	PublicPath    string            `json:"public_path" yaml:"public_path"`
	Clean         bool              `json:"clean" yaml:"clean"`
	Filenames     Filenames         `json:"filenames" yaml:"filenames"`
	Minimize      bool              `json:"minimize" yaml:"minimize"`
	RuntimeChunk  RuntimeChunk      `json:"runtime_chunk" yaml:"runtime_chunk"`
	DevTool       DevTool           `json:"devtool" yaml:"devtool"`
	StyleStrategy StyleStrategy     `json:"style_strategy" yaml:"style_strategy"`
	Define        map[string]string `json:"define" yaml:"define"`
	Rules         classify.Table    `json:"rules" yaml:"rules"`
	InlineLimit   int64             `json:"inline_limit" yaml:"inline_limit"`
	SplitChunks   SplitChunksConfig `json:"split_chunks" yaml:"split_chunks"`
	Resolve       ResolveConfig     `json:"resolve" yaml:"resolve"`
	HTML          HTMLConfig        `json:"html" yaml:"html"`
	DevServer     DevServerConfig   `json:"dev_server" yaml:"dev_server"`
}

// defaultFilenames returns the filename templates for a mode. Production
// names carry content hashes for cache busting; development names stay
// stable across rebuilds.
func defaultFilenames(mode Mode) Filenames {
	if mode == ModeProduction {
		return Filenames{
			Entry:    "assets/js/[name].[contenthash:8].bundle.js",
			Chunk:    "assets/js/[name].[contenthash:8].bundle.js",
			CSS:      "assets/css/[name].[contenthash:8].css",
			CSSChunk: "assets/css/[name].[contenthash:8].chunk.css",
			Asset:    "static/media/img/[name].[hash:8].[ext]",
			Font:     "static/media/fonts/[name].[hash:8].[ext]",
		}
	}
	return Filenames{
		Entry:    "assets/js/[name].bundle.js",
		Chunk:    "assets/js/[name].bundle.js",
		CSS:      "assets/css/[name].css",
		CSSChunk: "assets/css/[name].chunk.css",
		Asset:    "static/media/img/[name].[ext]",
		Font:     "static/media/fonts/[name].[ext]",
	}
}

// DefaultCacheGroups returns the vendors and common cache groups.
func DefaultCacheGroups(vendorPerPackage bool) []CacheGroup {
	return []CacheGroup{
		{
			Key:        "vendors",
			Test:       `[\\/]node_modules[\\/]`,
			MinChunks:  1,
			Name:       "vendors",
			PerPackage: vendorPerPackage,
		},
		{
			Key:       "common",
			Priority:  -10,
			MinChunks: 2,
		},
	}
}

// Resolve turns a validated Config into a Plan.
func Resolve(cfg *Config) (*Plan, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	mode, _ := ParseMode(string(cfg.Mode))

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}

	plan := &Plan{
		Mode:        mode,
		Root:        root,
		OutputDir:   filepath.Join(root, filepath.FromSlash(cfg.Output.Path)),
		PublicPath:  cfg.Output.PublicPath,
		Clean:       cfg.Output.Clean,
		Filenames:   defaultFilenames(mode),
		Rules:       classify.DefaultTable(),
		InlineLimit: cfg.Assets.InlineLimit,
		SplitChunks: cfg.Optimization.SplitChunks,
		Resolve:     cfg.Resolve,
		HTML:        cfg.HTML,
		DevServer:   cfg.DevServer,
	}
	if plan.PublicPath == "" {
		plan.PublicPath = "/"
	}

	for name, path := range cfg.Entry {
		plan.Entries = append(plan.Entries, Entry{Name: name, Path: filepath.ToSlash(filepath.Clean(path))})
	}
	sort.Slice(plan.Entries, func(i, j int) bool { return plan.Entries[i].Name < plan.Entries[j].Name })

	switch mode {
	case ModeProduction:
		plan.Minimize = true
		plan.DevTool = DevToolNone
		plan.StyleStrategy = StyleExtract
	default:
		plan.Minimize = false
		plan.DevTool = DevToolEvalSourceMap
		plan.StyleStrategy = StyleInject
	}

	plan.RuntimeChunk = RuntimeChunk(cfg.Optimization.RuntimeChunk)
	if plan.RuntimeChunk == "" {
		plan.RuntimeChunk = RuntimeSingle
	}

	if cfg.Optimization.Minimize != nil {
		plan.Minimize = *cfg.Optimization.Minimize
	}
	if cfg.DevTool != "" {
		plan.DevTool = DevTool(cfg.DevTool)
	}

	if cfg.Output.Filename != "" {
		plan.Filenames.Entry = cfg.Output.Filename
	}
	if cfg.Output.ChunkFilename != "" {
		plan.Filenames.Chunk = cfg.Output.ChunkFilename
	}
	if cfg.Output.CSSFilename != "" {
		plan.Filenames.CSS = cfg.Output.CSSFilename
	}
	if cfg.Output.CSSChunkFilename != "" {
		plan.Filenames.CSSChunk = cfg.Output.CSSChunkFilename
	}
	if cfg.Output.AssetFilename != "" {
		plan.Filenames.Asset = cfg.Output.AssetFilename
	}
	if cfg.Output.FontFilename != "" {
		plan.Filenames.Font = cfg.Output.FontFilename
	}

	if len(plan.SplitChunks.CacheGroups) == 0 {
		plan.SplitChunks.CacheGroups = DefaultCacheGroups(plan.SplitChunks.VendorPerPackage)
	}

	plan.Define = make(map[string]string, len(cfg.Define)+1)
	for k, v := range cfg.Define {
		plan.Define[k] = v
	}
	plan.Define["process.env.NODE_ENV"] = strconv.Quote(string(mode))

	if plan.HTML.Filename == "" {
		plan.HTML.Filename = "index.html"
	}

	if err := plan.Rules.Validate(); err != nil {
		return nil, fmt.Errorf("routing table: %w", err)
	}

	return plan, nil
}

// Fingerprint hashes every plan setting that changes transform output, so
// cached transform results are only reused under the same settings.
func (p *Plan) Fingerprint() string {
	h := xxhash.New()
	fmt.Fprintf(h, "%s|%t|%s|%s|%d|%s|", p.Mode, p.Minimize, p.DevTool, p.StyleStrategy, p.InlineLimit, p.PublicPath)
	fmt.Fprintf(h, "%s|%s|", p.Filenames.Asset, p.Filenames.Font)

	keys := make([]string, 0, len(p.Define))
	for k := range p.Define {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s;", k, p.Define[k])
	}

	return hex.EncodeToString(h.Sum(nil))
}

// EntryNames returns the entry names in order.
func (p *Plan) EntryNames() []string {
	names := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		names[i] = e.Name
	}
	return names
}
