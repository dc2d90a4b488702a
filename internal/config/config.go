// Package config provides configuration management for bundlekit using Viper
// for loading from files, environment variables and command-line flags.
//
// The configuration system supports a YAML file (.bundlekit.yml), environment
// variable overrides with the BUNDLEKIT_ prefix and flag bindings. Load returns
// the raw Config; Resolve turns it into the mode-specific Plan consumed by the
// build pipeline and the dev server.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Mode selects between the production and development build shapes.
type Mode string

const (
	ModeProduction  Mode = "production"
	ModeDevelopment Mode = "development"
)

// ParseMode validates s as a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeProduction:
		return ModeProduction, nil
	case ModeDevelopment:
		return ModeDevelopment, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want production or development)", s)
	}
}

// Config is the raw, user-facing configuration.
type Config struct {
	Mode         Mode               `mapstructure:"mode" yaml:"mode"`
	Root         string             `mapstructure:"root" yaml:"root"`
	Entry        map[string]string  `mapstructure:"entry" yaml:"entry"`
	Output       OutputConfig       `mapstructure:"output" yaml:"output"`
	DevTool      string             `mapstructure:"devtool" yaml:"devtool,omitempty"`
	Optimization OptimizationConfig `mapstructure:"optimization" yaml:"optimization"`
	Assets       AssetsConfig       `mapstructure:"assets" yaml:"assets"`
	Resolve      ResolveConfig      `mapstructure:"resolve" yaml:"resolve"`
	Define       map[string]string  `mapstructure:"define" yaml:"define,omitempty"`
	HTML         HTMLConfig         `mapstructure:"html" yaml:"html"`
	DevServer    DevServerConfig    `mapstructure:"dev_server" yaml:"dev_server"`
	Log          LogConfig          `mapstructure:"log" yaml:"log"`
}

// OutputConfig controls where and under which names artifacts are written.
// Empty filename templates fall back to the mode defaults.
type OutputConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	PublicPath    string `mapstructure:"public_path" yaml:"public_path"`
	Filename         string `mapstructure:"filename" yaml:"filename,omitempty"`
	ChunkFilename    string `mapstructure:"chunk_filename" yaml:"chunk_filename,omitempty"`
	CSSFilename      string `mapstructure:"css_filename" yaml:"css_filename,omitempty"`
	CSSChunkFilename string `mapstructure:"css_chunk_filename" yaml:"css_chunk_filename,omitempty"`
	AssetFilename    string `mapstructure:"asset_filename" yaml:"asset_filename,omitempty"`
	FontFilename     string `mapstructure:"font_filename" yaml:"font_filename,omitempty"`
	Clean            bool   `mapstructure:"clean" yaml:"clean"`
}

// OptimizationConfig holds minification and chunk splitting settings.
type OptimizationConfig struct {
	Minimize    *bool             `mapstructure:"minimize" yaml:"minimize,omitempty"`
	SplitChunks SplitChunksConfig `mapstructure:"split_chunks" yaml:"split_chunks"`
	// RuntimeChunk is "single" for one shared runtime file or "inline" to
	// embed the runtime in every entry chunk.
	RuntimeChunk string `mapstructure:"runtime_chunk" yaml:"runtime_chunk"`
}

// SplitChunksConfig holds the chunk splitter thresholds.
type SplitChunksConfig struct {
	MinSize            int64        `mapstructure:"min_size" yaml:"min_size"`
	MaxInitialRequests int          `mapstructure:"max_initial_requests" yaml:"max_initial_requests"`
	MaxAsyncRequests   int          `mapstructure:"max_async_requests" yaml:"max_async_requests"`
	VendorPerPackage   bool         `mapstructure:"vendor_per_package" yaml:"vendor_per_package"`
	CacheGroups        []CacheGroup `mapstructure:"cache_groups" yaml:"cache_groups,omitempty"`
}

// CacheGroup decides which modules may be pulled out into a split chunk.
type CacheGroup struct {
	Key       string `mapstructure:"key" yaml:"key"`
	Test      string `mapstructure:"test" yaml:"test,omitempty"`
	Priority  int    `mapstructure:"priority" yaml:"priority"`
	MinChunks int    `mapstructure:"min_chunks" yaml:"min_chunks"`
	// Name fixes the chunk name. Groups with PerPackage name chunks
	// <key>.<package> instead; groups with neither join the parent chunk
	// names.
	Name       string `mapstructure:"name" yaml:"name,omitempty"`
	PerPackage bool   `mapstructure:"per_package" yaml:"per_package,omitempty"`
}

// AssetsConfig controls asset inlining.
type AssetsConfig struct {
	InlineLimit int64 `mapstructure:"inline_limit" yaml:"inline_limit"`
}

// ResolveConfig is passed through to the resolution engine.
type ResolveConfig struct {
	Extensions []string          `mapstructure:"extensions" yaml:"extensions"`
	Alias      map[string]string `mapstructure:"alias" yaml:"alias,omitempty"`
}

// HTMLConfig controls the generated HTML shell.
type HTMLConfig struct {
	// Template is an HTML file the tags are injected into. When it is
	// DefaultHTMLTemplate and the file does not exist, the built-in shell is
	// used.
	Template string `mapstructure:"template" yaml:"template,omitempty"`
	Title    string `mapstructure:"title" yaml:"title,omitempty"`
	Filename string `mapstructure:"filename" yaml:"filename"`
	Inject   bool   `mapstructure:"inject" yaml:"inject"`
}

// DevServerConfig holds the development server options.
type DevServerConfig struct {
	Host               string `mapstructure:"host" yaml:"host"`
	Port               int    `mapstructure:"port" yaml:"port"`
	Compress           bool   `mapstructure:"compress" yaml:"compress"`
	HistoryAPIFallback bool   `mapstructure:"history_api_fallback" yaml:"history_api_fallback"`
	Open               bool   `mapstructure:"open" yaml:"open"`
	Hot                bool   `mapstructure:"hot" yaml:"hot"`
	Static             string `mapstructure:"static" yaml:"static"`
	CORS               bool   `mapstructure:"cors" yaml:"cors"`
}

// LogConfig selects the log level and handler format.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default values. They are registered with viper so environment variables
// for every key are picked up by AutomaticEnv.
var defaults = map[string]interface{}{
	"mode":                               string(ModeProduction),
	"root":                               ".",
	"output.path":                        "dist",
	"output.public_path":                 "/",
	"output.filename":                    "",
	"output.chunk_filename":              "",
	"output.css_filename":                "",
	"output.css_chunk_filename":          "",
	"output.asset_filename":              "",
	"output.font_filename":               "",
	"output.clean":                       false,
	"devtool":                            "",
	"optimization.runtime_chunk":         string(RuntimeSingle),
	"optimization.split_chunks.min_size": 0,
	"optimization.split_chunks.max_initial_requests": 10,
	"optimization.split_chunks.max_async_requests":   10,
	"optimization.split_chunks.vendor_per_package":   true,
	"assets.inline_limit":                            8192,
	"resolve.extensions":                             []string{".tsx", ".ts", ".jsx", ".js", ".mjs", ".json", ".css"},
	"html.template":                                  DefaultHTMLTemplate,
	"html.title":                                     "",
	"html.filename":                                  "index.html",
	"html.inject":                                    true,
	"dev_server.host":                                "localhost",
	"dev_server.port":                                3000,
	"dev_server.compress":                            true,
	"dev_server.history_api_fallback":                true,
	"dev_server.open":                                true,
	"dev_server.hot":                                 true,
	"dev_server.static":                              "public",
	"dev_server.cors":                                false,
	"log.level":                                      "info",
	"log.format":                                     "text",
}

// SetDefaults registers the default values on the global viper instance.
func SetDefaults() {
	for k, v := range defaults {
		viper.SetDefault(k, v)
	}
}

// Load reads the configuration from the global viper instance, applies
// defaults and validates it.
func Load() (*Config, error) {
	SetDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Entry maps are not registered as viper defaults: viper merges nested
	// defaults into user maps, which would add the default entry to every
	// configured entry set
	if len(config.Entry) == 0 {
		config.Entry = defaultEntry()
	}

	// Handle minimize set via env or flag (viper leaves the pointer nil for
	// string values coming from the environment)
	if viper.IsSet("optimization.minimize") && config.Optimization.Minimize == nil {
		v := viper.GetBool("optimization.minimize")
		config.Optimization.Minimize = &v
	}

	if mode, err := ParseMode(string(config.Mode)); err == nil {
		config.Mode = mode
	}

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns the configuration Load produces with nothing set.
func Default() *Config {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	var config Config
	// Unmarshalling plain defaults cannot fail.
	_ = v.Unmarshal(&config)
	config.Entry = defaultEntry()
	return &config
}

func defaultEntry() map[string]string {
	return map[string]string{"main": "./src/index.js"}
}

// EnvPrefix prefixes every environment variable bundlekit reads.
const EnvPrefix = "BUNDLEKIT"

// BindEnv enables BUNDLEKIT_<SECTION>_<OPTION> overrides on the global viper
// instance, e.g. BUNDLEKIT_DEV_SERVER_PORT.
func BindEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}
