// Package graph holds the module dependency graph of a build.
//
// The graph is built from the resolution engine's metafile: every input the
// engine touched becomes a Module and every import record becomes an Edge.
// Traversals are deterministic: entries are visited in name order and edges
// in source order.
package graph

import (
	"sort"
	"strings"

	"github.com/conneroisu/bundlekit/internal/classify"
)

// EdgeKind classifies an import edge.
type EdgeKind string

const (
	// EdgeStatic is an import statement or require call.
	EdgeStatic EdgeKind = "static"
	// EdgeDynamic is an import() expression; its target starts an async chunk.
	EdgeDynamic EdgeKind = "dynamic"
	// EdgeStyle is a CSS @import or composes reference.
	EdgeStyle EdgeKind = "style"
	// EdgeURL is a url() reference from a stylesheet.
	EdgeURL EdgeKind = "url"
)

// Edge is a resolved import from one module to another.
type Edge struct {
	To        string   `json:"to"`
	Specifier string   `json:"specifier,omitempty"`
	Kind      EdgeKind `json:"kind"`
}

// Module is a single input file.
type Module struct {
	// ID is the root-relative slash path.
	ID      string        `json:"id"`
	Path    string        `json:"-"`
	Kind    classify.Kind `json:"kind"`
	Size    int64         `json:"size"`
	Source  []byte        `json:"-"`
	Hash    string        `json:"hash"`
	Package string        `json:"package,omitempty"`
	Imports []Edge        `json:"imports,omitempty"`
}

// Vendor reports whether the module lives under node_modules.
func (m *Module) Vendor() bool {
	return IsVendorPath(m.ID)
}

// Graph is the set of modules reachable from the entry points.
type Graph struct {
	Root    string
	entries map[string]string
	modules map[string]*Module
}

// New returns an empty graph.
func New(root string) *Graph {
	return &Graph{
		Root:    root,
		entries: make(map[string]string),
		modules: make(map[string]*Module),
	}
}

// Add inserts or replaces a module.
func (g *Graph) Add(m *Module) {
	if m.Package == "" {
		m.Package = PackageName(m.ID)
	}
	g.modules[m.ID] = m
}

// SetEntry names the module that starts an entry.
func (g *Graph) SetEntry(name, id string) {
	g.entries[name] = id
}

// Module returns the module with the given ID, or nil.
func (g *Graph) Module(id string) *Module {
	return g.modules[id]
}

// Len returns the number of modules.
func (g *Graph) Len() int {
	return len(g.modules)
}

// Entry returns the module ID for an entry name.
func (g *Graph) Entry(name string) (string, bool) {
	id, ok := g.entries[name]
	return id, ok
}

// EntryNames returns the entry names in sorted order.
func (g *Graph) EntryNames() []string {
	names := make([]string, 0, len(g.entries))
	for name := range g.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Modules returns all modules sorted by ID.
func (g *Graph) Modules() []*Module {
	mods := make([]*Module, 0, len(g.modules))
	for _, m := range g.modules {
		mods = append(mods, m)
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i].ID < mods[j].ID })
	return mods
}

// Order returns every module reachable from the entries, dependencies before
// their importers. Modules in a cycle are emitted once, at the point the
// traversal first closes the cycle.
func (g *Graph) Order() []string {
	visited := make(map[string]bool, len(g.modules))
	order := make([]string, 0, len(g.modules))
	for _, name := range g.EntryNames() {
		order = g.postorder(g.entries[name], true, visited, order)
	}
	return order
}

// Reachable returns the modules reachable from id in dependency-first order,
// id included. Dynamic edges are only followed when followDynamic is set.
func (g *Graph) Reachable(id string, followDynamic bool) []string {
	return g.postorder(id, followDynamic, make(map[string]bool), nil)
}

func (g *Graph) postorder(start string, followDynamic bool, visited map[string]bool, order []string) []string {
	if visited[start] || g.modules[start] == nil {
		return order
	}

	type frame struct {
		id   string
		next int
	}
	visited[start] = true
	stack := []frame{{id: start}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		m := g.modules[top.id]

		pushed := false
		for top.next < len(m.Imports) {
			e := m.Imports[top.next]
			top.next++
			if e.Kind == EdgeDynamic && !followDynamic {
				continue
			}
			if visited[e.To] || g.modules[e.To] == nil {
				continue
			}
			visited[e.To] = true
			stack = append(stack, frame{id: e.To})
			pushed = true
			break
		}
		if pushed {
			continue
		}

		order = append(order, top.id)
		stack = stack[:len(stack)-1]
	}
	return order
}

// DynamicTargets returns the targets of dynamic imports, sorted.
func (g *Graph) DynamicTargets() []string {
	seen := make(map[string]bool)
	for _, m := range g.modules {
		for _, e := range m.Imports {
			if e.Kind == EdgeDynamic && g.modules[e.To] != nil {
				seen[e.To] = true
			}
		}
	}
	targets := make([]string, 0, len(seen))
	for id := range seen {
		targets = append(targets, id)
	}
	sort.Strings(targets)
	return targets
}

// Importers returns the IDs of modules importing id, sorted.
func (g *Graph) Importers(id string) []string {
	var importers []string
	for _, m := range g.modules {
		for _, e := range m.Imports {
			if e.To == id {
				importers = append(importers, m.ID)
				break
			}
		}
	}
	sort.Strings(importers)
	return importers
}

// Cycles returns the import cycles of the graph: every strongly connected
// component with more than one module, and every module importing itself.
// Each cycle is sorted and the result is sorted by first member.
func (g *Graph) Cycles() [][]string {
	t := tarjan{
		g:       g,
		index:   make(map[string]int),
		lowlink: make(map[string]int),
		onStack: make(map[string]bool),
	}
	for _, m := range g.Modules() {
		if _, seen := t.index[m.ID]; !seen {
			t.strongConnect(m.ID)
		}
	}

	var cycles [][]string
	for _, scc := range t.components {
		if len(scc) == 1 && !g.importsSelf(scc[0]) {
			continue
		}
		sort.Strings(scc)
		cycles = append(cycles, scc)
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })
	return cycles
}

func (g *Graph) importsSelf(id string) bool {
	for _, e := range g.modules[id].Imports {
		if e.To == id {
			return true
		}
	}
	return false
}

type tarjan struct {
	g          *Graph
	counter    int
	index      map[string]int
	lowlink    map[string]int
	onStack    map[string]bool
	stack      []string
	components [][]string
}

func (t *tarjan) strongConnect(id string) {
	t.index[id] = t.counter
	t.lowlink[id] = t.counter
	t.counter++
	t.stack = append(t.stack, id)
	t.onStack[id] = true

	for _, e := range t.g.modules[id].Imports {
		if t.g.modules[e.To] == nil {
			continue
		}
		if _, seen := t.index[e.To]; !seen {
			t.strongConnect(e.To)
			t.lowlink[id] = min(t.lowlink[id], t.lowlink[e.To])
		} else if t.onStack[e.To] {
			t.lowlink[id] = min(t.lowlink[id], t.index[e.To])
		}
	}

	if t.lowlink[id] != t.index[id] {
		return
	}
	var scc []string
	for {
		top := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.onStack[top] = false
		scc = append(scc, top)
		if top == id {
			break
		}
	}
	t.components = append(t.components, scc)
}

const nodeModules = "node_modules/"

// IsVendorPath reports whether a module path lies inside node_modules.
func IsVendorPath(id string) bool {
	return strings.HasPrefix(id, nodeModules) || strings.Contains(id, "/"+nodeModules)
}

// PackageName returns the npm package owning a module path, e.g. "react" for
// node_modules/react/index.js or "@babel/runtime" for a scoped package.
// Nested installs resolve to the innermost package. Paths outside
// node_modules return "".
func PackageName(id string) string {
	i := strings.LastIndex(id, nodeModules)
	if i < 0 || (i > 0 && id[i-1] != '/') {
		return ""
	}
	parts := strings.Split(id[i+len(nodeModules):], "/")
	if len(parts) == 0 || parts[0] == "" {
		return ""
	}
	if strings.HasPrefix(parts[0], "@") {
		if len(parts) < 2 || parts[1] == "" {
			return ""
		}
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}
