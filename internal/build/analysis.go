package build

import (
	"encoding/json"
	"os"

	"github.com/conneroisu/bundlekit/internal/chunk"
	"github.com/conneroisu/bundlekit/internal/emit"
	"github.com/conneroisu/bundlekit/internal/errors"
	"github.com/conneroisu/bundlekit/internal/graph"
)

// Analysis is the stats.json document written by build --analyze.
type Analysis struct {
	*Result
	Chunks    []*chunk.Chunk   `json:"chunks"`
	Groups    []*chunk.Group   `json:"groups"`
	Artifacts []*emit.Artifact `json:"artifacts"`
	Modules   []ModuleStats    `json:"modules"`
}

// ModuleStats is a module row of the analysis with its reverse edges and the
// chunks it was placed in.
type ModuleStats struct {
	*graph.Module
	Importers []string `json:"importers,omitempty"`
	Chunks    []string `json:"chunks"`
}

// Analyze collects the chunk, group, artifact and module tables of a build.
func (r *Result) Analyze() *Analysis {
	return &Analysis{
		Result:    r,
		Chunks:    r.Chunks.Chunks,
		Groups:    r.Chunks.Groups,
		Artifacts: r.Bundle.Artifacts,
		Modules:   r.moduleStats(),
	}
}

func (r *Result) moduleStats() []ModuleStats {
	mods := r.Graph.Modules()
	out := make([]ModuleStats, 0, len(mods))
	for _, m := range mods {
		out = append(out, ModuleStats{
			Module:    m,
			Importers: r.Graph.Importers(m.ID),
			Chunks:    r.Chunks.ChunkOf(m.ID),
		})
	}
	return out
}

// WriteFile writes the analysis as indented JSON.
func (a *Analysis) WriteFile(path string) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return errors.NewInternalError(errors.ErrCodeInternalError, "encoding analysis", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return errors.NewIOError(errors.ErrCodeBuildFailed, "writing "+path, err)
	}
	return nil
}
