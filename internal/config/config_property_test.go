//go:build property
// +build property

package config

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestPlanProperties checks the mode switch for arbitrary override sets.
func TestPlanProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	modes := gen.OneConstOf(ModeProduction, ModeDevelopment)

	properties.Property("production always hashes and extracts", prop.ForAll(
		func(port int, inlineLimit int64, perPackage bool) bool {
			cfg := Default()
			cfg.Mode = ModeProduction
			cfg.DevServer.Port = port
			cfg.Assets.InlineLimit = inlineLimit
			cfg.Optimization.SplitChunks.VendorPerPackage = perPackage

			plan, err := Resolve(cfg)
			if err != nil {
				return false
			}
			for _, tmpl := range templates(plan.Filenames) {
				if !hashed(tmpl) {
					return false
				}
			}
			return plan.Minimize && plan.StyleStrategy == StyleExtract && plan.DevTool == DevToolNone
		},
		gen.IntRange(0, 65535),
		gen.Int64Range(0, 1<<20),
		gen.Bool(),
	))

	properties.Property("development always maps sources and injects styles", prop.ForAll(
		func(port int, compress bool) bool {
			cfg := Default()
			cfg.Mode = ModeDevelopment
			cfg.DevServer.Port = port
			cfg.DevServer.Compress = compress

			plan, err := Resolve(cfg)
			if err != nil {
				return false
			}
			return plan.DevTool != "" && plan.DevTool != DevToolNone &&
				plan.StyleStrategy == StyleInject && !plan.Minimize &&
				!strings.Contains(plan.Filenames.Entry, "[contenthash")
		},
		gen.IntRange(0, 65535),
		gen.Bool(),
	))

	properties.Property("out-of-range ports are rejected", prop.ForAll(
		func(mode Mode, port int) bool {
			cfg := Default()
			cfg.Mode = mode
			cfg.DevServer.Port = port
			_, err := Resolve(cfg)
			return err != nil
		},
		modes,
		gen.OneGenOf(gen.IntRange(-100000, -1), gen.IntRange(65536, 200000)),
	))

	properties.Property("fingerprint depends only on transform settings", prop.ForAll(
		func(mode Mode, port int) bool {
			a := Default()
			a.Mode = mode
			b := Default()
			b.Mode = mode
			b.DevServer.Port = port

			pa, errA := Resolve(a)
			pb, errB := Resolve(b)
			if errA != nil || errB != nil {
				return false
			}
			return pa.Fingerprint() == pb.Fingerprint()
		},
		modes,
		gen.IntRange(0, 65535),
	))

	properties.TestingRun(t)
}
