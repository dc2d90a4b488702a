// Package classify routes input files to transform chains by extension.
//
// A Table is an ordered list of rules. Each rule owns a set of extensions and
// names the chain of transforms its modules go through. Tables are validated
// to be mutually exclusive: no extension may appear in two rules, so every
// classified file matches exactly one rule.
package classify

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/conneroisu/bundlekit/internal/validation"
)

// Kind is the category of a module as far as the pipeline is concerned.
type Kind string

const (
	KindScript Kind = "script"
	KindStyle  Kind = "style"
	KindImage  Kind = "image"
	KindVector Kind = "vector"
	KindFont   Kind = "font"
	KindData   Kind = "data"
)

// Transform chain step names.
const (
	StepCompile      = "compile"
	StepMinify       = "minify"
	StepCSS          = "css"
	StepStyleOutput  = "style-output"
	StepInlineOrFile = "inline-or-file"
	StepFile         = "file"
	StepJSON         = "json"
)

// Rule maps a set of extensions to a transform chain.
type Rule struct {
	Kind       Kind     `json:"kind" yaml:"kind"`
	Extensions []string `json:"extensions" yaml:"extensions"`
	Chain      []string `json:"chain" yaml:"chain"`
}

// Matches reports whether ext (with leading dot, any case) belongs to the rule.
func (r Rule) Matches(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range r.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Table is the routing table.
type Table []Rule

// DefaultTable returns the routing table used when the config does not
// override it.
func DefaultTable() Table {
	return Table{
		{
			Kind:       KindScript,
			Extensions: []string{".js", ".mjs", ".cjs", ".jsx", ".ts", ".tsx"},
			Chain:      []string{StepCompile, StepMinify},
		},
		{
			Kind:       KindStyle,
			Extensions: []string{".css"},
			Chain:      []string{StepCSS, StepStyleOutput},
		},
		{
			Kind:       KindImage,
			Extensions: []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".avif", ".ico"},
			Chain:      []string{StepInlineOrFile},
		},
		{
			Kind:       KindVector,
			Extensions: []string{".svg"},
			Chain:      []string{StepInlineOrFile},
		},
		{
			Kind:       KindFont,
			Extensions: []string{".woff", ".woff2", ".ttf", ".otf", ".eot"},
			Chain:      []string{StepFile},
		},
		{
			Kind:       KindData,
			Extensions: []string{".json"},
			Chain:      []string{StepJSON},
		},
	}
}

// Classify returns the rule for path. The second result is false when no
// rule matches.
func (t Table) Classify(path string) (Rule, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return Rule{}, false
	}
	for _, r := range t {
		if r.Matches(ext) {
			return r, true
		}
	}
	return Rule{}, false
}

// Rule returns the rule for the given kind.
func (t Table) Rule(kind Kind) (Rule, bool) {
	for _, r := range t {
		if r.Kind == kind {
			return r, true
		}
	}
	return Rule{}, false
}

// Extensions returns every extension in the table, sorted.
func (t Table) Extensions() []string {
	var exts []string
	for _, r := range t {
		exts = append(exts, r.Extensions...)
	}
	sort.Strings(exts)
	return exts
}

// Validate checks that the table is well-formed and mutually exclusive.
func (t Table) Validate() error {
	owner := make(map[string]Kind)
	kinds := make(map[Kind]bool)

	for i, r := range t {
		if r.Kind == "" {
			return fmt.Errorf("rule %d: missing kind", i)
		}
		if kinds[r.Kind] {
			return fmt.Errorf("rule %d: kind %q declared twice", i, r.Kind)
		}
		kinds[r.Kind] = true

		if len(r.Extensions) == 0 {
			return fmt.Errorf("rule %q: no extensions", r.Kind)
		}
		if len(r.Chain) == 0 {
			return fmt.Errorf("rule %q: empty transform chain", r.Kind)
		}

		for _, ext := range r.Extensions {
			if err := validation.ValidateFileExtension(ext); err != nil {
				return fmt.Errorf("rule %q: %w", r.Kind, err)
			}
			if prev, ok := owner[ext]; ok {
				return fmt.Errorf("extension %q matches both %q and %q", ext, prev, r.Kind)
			}
			owner[ext] = r.Kind
		}
	}

	return nil
}
