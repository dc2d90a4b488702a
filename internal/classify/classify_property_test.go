//go:build property

package classify

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestRoutingProperties checks that routing is exclusive and stable for
// arbitrary file names.
func TestRoutingProperties(t *testing.T) {
	table := DefaultTable()
	properties := gopter.NewProperties(nil)

	properties.Property("a classified path matches exactly one rule", prop.ForAll(
		func(base string, ext string, upper bool) bool {
			if upper {
				ext = strings.ToUpper(ext)
			}
			rule, ok := table.Classify("src/" + base + ext)
			if !ok {
				return false
			}
			matches := 0
			for _, r := range table {
				if r.Matches(ext) {
					matches++
				}
			}
			return matches == 1 && rule.Matches(ext)
		},
		gen.Identifier(),
		gen.OneConstOf(toInterfaces(table.Extensions())...),
		gen.Bool(),
	))

	properties.Property("unknown extensions never classify", prop.ForAll(
		func(base string) bool {
			_, ok := table.Classify(base + ".unknownext")
			return !ok
		},
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

func toInterfaces(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
