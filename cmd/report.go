package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	units "github.com/docker/go-units"

	"github.com/conneroisu/bundlekit/internal/build"
	"github.com/conneroisu/bundlekit/internal/config"
	"github.com/conneroisu/bundlekit/internal/errors"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// printReport writes the artifact table and build summary.
func printReport(w io.Writer, plan *config.Plan, res *build.Result, stats string) {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n\n",
		titleStyle.Render("bundlekit"),
		mutedStyle.Render(fmt.Sprintf("%s build %s", res.Mode, shortID(res.ID))))

	nameWidth := 0
	for _, a := range res.Bundle.Artifacts {
		nameWidth = max(nameWidth, lipgloss.Width(a.Filename))
	}
	nameCol := lipgloss.NewStyle().Width(nameWidth + 2)
	sizeCol := lipgloss.NewStyle().Width(10).Align(lipgloss.Right)

	for _, a := range res.Bundle.Artifacts {
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			nameCol.Render(a.Filename),
			sizeCol.Render(units.HumanSize(float64(a.Size))),
			"  ",
			mutedStyle.Render(string(a.Kind)),
		))
		b.WriteByte('\n')
	}

	s := res.Stats
	fmt.Fprintf(&b, "\n%s modules, %d chunks, %s (%s gzip) in %s\n",
		successStyle.Render(fmt.Sprint(s.Modules)),
		s.Chunks,
		units.HumanSize(float64(s.TotalSize)),
		units.HumanSize(float64(s.GzipSize)),
		s.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "cache: %d hits, %d misses\n", s.CacheHits, s.CacheMisses)
	fmt.Fprintf(&b, "output: %s\n", relative(plan.Root, plan.OutputDir))
	if stats != "" {
		fmt.Fprintf(&b, "stats: %s\n", relative(plan.Root, stats))
	}

	for _, warn := range res.Warnings {
		b.WriteString(warningStyle.Render("warning: "+warn.Message) + "\n")
	}

	fmt.Fprintln(w, boxStyle.Render(strings.TrimRight(b.String(), "\n")))
}

// printDiagnostics writes the diagnostics of a failed build, one per line.
func printDiagnostics(w io.Writer, diags []errors.BuildError) {
	for i := range diags {
		d := &diags[i]
		style := errorStyle
		if d.Severity < errors.ErrorSeverityError {
			style = warningStyle
		}
		fmt.Fprintln(w, style.Render(d.Error()))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func relative(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}
