package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/conneroisu/bundlekit/internal/errors"
	"github.com/conneroisu/bundlekit/internal/naming"
	"github.com/conneroisu/bundlekit/internal/validation"
)

var devToolValues = map[string]bool{
	"":                true,
	"none":            true,
	"eval":            true,
	"eval-source-map": true,
}

// Validate checks configuration values for correctness. All problems are
// reported together as a config error.
func Validate(config *Config) error {
	var vec errors.ValidationErrorCollection

	if _, err := ParseMode(string(config.Mode)); err != nil {
		vec.AddField("mode", config.Mode, err.Error())
	}

	validateEntries(config.Entry, &vec)
	validateOutput(&config.Output, &vec)

	if !devToolValues[config.DevTool] {
		vec.AddField("devtool", config.DevTool, "must be one of none, eval, eval-source-map")
	}

	validateSplitChunks(&config.Optimization.SplitChunks, &vec)

	switch RuntimeChunk(config.Optimization.RuntimeChunk) {
	case "", RuntimeSingle, RuntimeInline:
	default:
		vec.AddField("optimization.runtime_chunk", config.Optimization.RuntimeChunk, "must be single or inline")
	}

	if config.Assets.InlineLimit < 0 {
		vec.AddField("assets.inline_limit", config.Assets.InlineLimit, "must not be negative")
	}

	for _, ext := range config.Resolve.Extensions {
		if err := validation.ValidateFileExtension(ext); err != nil {
			vec.AddField("resolve.extensions", ext, err.Error())
		}
	}

	if config.HTML.Filename != "" && !isSafeRelative(config.HTML.Filename) {
		vec.AddField("html.filename", config.HTML.Filename, "must be a relative path inside the output directory")
	}

	validateDevServer(&config.DevServer, &vec)

	if config.Log.Format != "" && config.Log.Format != "text" && config.Log.Format != "json" {
		vec.AddField("log.format", config.Log.Format, "must be text or json")
	}

	if be := vec.ToConfigError(); be != nil {
		return be
	}
	return nil
}

func validateEntries(entries map[string]string, vec *errors.ValidationErrorCollection) {
	if len(entries) == 0 {
		vec.AddField("entry", entries, "at least one entry point is required")
		return
	}
	for name, path := range entries {
		if name == "" || strings.ContainsAny(name, `/\`) {
			vec.AddField("entry", name, "entry names must be non-empty and contain no path separators")
		}
		if path == "" {
			vec.AddField("entry."+name, path, "entry path is empty")
		} else if !isSafeRelative(path) {
			vec.AddField("entry."+name, path, "entry path must be relative to the project root")
		}
	}
}

func validateOutput(output *OutputConfig, vec *errors.ValidationErrorCollection) {
	if output.Path == "" {
		vec.AddField("output.path", output.Path, "output path is required")
	} else if !isSafeRelative(output.Path) {
		vec.AddField("output.path", output.Path, "output path must be relative and must not traverse upwards")
	} else if filepath.Clean(output.Path) == "." {
		vec.AddField("output.path", output.Path, "output path must not be the project root")
	}

	if output.PublicPath != "" && !strings.HasSuffix(output.PublicPath, "/") {
		vec.AddField("output.public_path", output.PublicPath, "public path must end with /")
	}

	for field, tmpl := range map[string]string{
		"output.filename":           output.Filename,
		"output.chunk_filename":     output.ChunkFilename,
		"output.css_filename":       output.CSSFilename,
		"output.css_chunk_filename": output.CSSChunkFilename,
		"output.asset_filename":     output.AssetFilename,
		"output.font_filename":      output.FontFilename,
	} {
		if tmpl == "" {
			continue
		}
		if err := naming.Validate(tmpl); err != nil {
			vec.AddField(field, tmpl, err.Error())
		}
		if !strings.Contains(tmpl, "[name]") && !strings.Contains(tmpl, "[id]") &&
			!strings.Contains(tmpl, "[contenthash") && !strings.Contains(tmpl, "[hash") {
			vec.AddField(field, tmpl, "template must contain [name], [id] or [contenthash] to keep filenames unique")
		}
		if !isSafeRelative(tmpl) {
			vec.AddField(field, tmpl, "template must be a relative path")
		}
	}
}

func validateSplitChunks(sc *SplitChunksConfig, vec *errors.ValidationErrorCollection) {
	if sc.MinSize < 0 {
		vec.AddField("optimization.split_chunks.min_size", sc.MinSize, "must not be negative")
	}
	if sc.MaxInitialRequests < 1 {
		vec.AddField("optimization.split_chunks.max_initial_requests", sc.MaxInitialRequests, "must be at least 1")
	}
	if sc.MaxAsyncRequests < 1 {
		vec.AddField("optimization.split_chunks.max_async_requests", sc.MaxAsyncRequests, "must be at least 1")
	}

	keys := make(map[string]bool)
	for _, g := range sc.CacheGroups {
		if g.Key == "" {
			vec.AddField("optimization.split_chunks.cache_groups", g, "cache group key is required")
			continue
		}
		if keys[g.Key] {
			vec.AddField("optimization.split_chunks.cache_groups", g.Key, "duplicate cache group key")
		}
		keys[g.Key] = true
		if g.Test != "" {
			if _, err := regexp.Compile(g.Test); err != nil {
				vec.AddField("optimization.split_chunks.cache_groups."+g.Key+".test", g.Test, err.Error())
			}
		}
		if g.MinChunks < 1 {
			vec.AddField("optimization.split_chunks.cache_groups."+g.Key+".min_chunks", g.MinChunks, "must be at least 1")
		}
	}
}

func validateDevServer(ds *DevServerConfig, vec *errors.ValidationErrorCollection) {
	// 0 lets the system pick a port.
	if ds.Port < 0 || ds.Port > 65535 {
		vec.AddField("dev_server.port", ds.Port, fmt.Sprintf("port %d is not in valid range 0-65535", ds.Port))
	}

	if err := validation.ValidateHost(ds.Host); err != nil {
		vec.AddField("dev_server.host", ds.Host, err.Error())
	}

	if ds.Static != "" && strings.Contains(filepath.ToSlash(filepath.Clean(ds.Static)), "../") {
		vec.AddField("dev_server.static", ds.Static, "static directory must not traverse upwards")
	}
}

func isSafeRelative(p string) bool {
	return validation.ValidatePath(p) == nil
}
