// Package chunk partitions a module graph into output chunks.
//
// Every entry gets an initial chunk and every dynamic import target an async
// chunk. Cache groups then move vendor and shared modules out of those chunks
// into split chunks, subject to a minimum size and to a cap on the number of
// requests each chunk group may need.
package chunk

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/conneroisu/bundlekit/internal/config"
	"github.com/conneroisu/bundlekit/internal/graph"
)

// Kind is the role of a chunk.
type Kind string

const (
	KindInitial Kind = "initial"
	KindAsync   Kind = "async"
	KindSplit   Kind = "split"
)

// Chunk is a set of modules emitted as one file.
type Chunk struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
	// Modules are in dependency-first order.
	Modules []string `json:"modules"`
	Size    int64    `json:"size"`
	// Root is the entry module of initial chunks and the import target of
	// async chunks.
	Root string `json:"root,omitempty"`
	// CacheGroup names the cache group that created a split chunk.
	CacheGroup string `json:"cache_group,omitempty"`
	// Siblings are split chunks that must load before this chunk.
	Siblings []string `json:"siblings,omitempty"`
}

// Group is the ordered set of chunks one entry or dynamic import loads.
type Group struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
	Root string `json:"root"`
	// Chunks are in load order: split chunks first, the group's own chunk
	// last.
	Chunks []string `json:"chunks"`
}

// Requests returns the number of files the group loads.
func (g *Group) Requests() int {
	return len(g.Chunks)
}

// Result is the outcome of splitting a graph.
type Result struct {
	Chunks []*Chunk `json:"chunks"`
	Groups []*Group `json:"groups"`

	chunks map[string]*Chunk
	async  map[string]*Group
}

// Chunk returns the chunk with the given name, or nil.
func (r *Result) Chunk(name string) *Chunk {
	return r.chunks[name]
}

// AsyncGroup returns the group loaded by a dynamic import of target. There
// is none when the target is already loaded by every importer.
func (r *Result) AsyncGroup(target string) (*Group, bool) {
	g, ok := r.async[target]
	return g, ok
}

// InitialGroups returns the entry groups in name order.
func (r *Result) InitialGroups() []*Group {
	var groups []*Group
	for _, g := range r.Groups {
		if g.Kind == KindInitial {
			groups = append(groups, g)
		}
	}
	return groups
}

// ChunkOf returns the names of the chunks holding module id.
func (r *Result) ChunkOf(id string) []string {
	var names []string
	for _, c := range r.Chunks {
		for _, m := range c.Modules {
			if m == id {
				names = append(names, c.Name)
				break
			}
		}
	}
	return names
}

type splitter struct {
	g    *graph.Graph
	opts config.SplitChunksConfig

	order  map[string]int
	chunks map[string]*Chunk
	groups map[string]*Group
	// owner maps a main chunk to the group it belongs to.
	owner map[string]*Group
	// members tracks module membership per main chunk.
	members map[string]map[string]bool
	moved   map[string]bool
}

// Split partitions g. The cache groups in opts are applied in descending
// priority; with no cache groups only initial and async chunks are built.
func Split(g *graph.Graph, opts config.SplitChunksConfig) (*Result, error) {
	s := &splitter{
		g:       g,
		opts:    opts,
		order:   make(map[string]int),
		chunks:  make(map[string]*Chunk),
		groups:  make(map[string]*Group),
		owner:   make(map[string]*Group),
		members: make(map[string]map[string]bool),
		moved:   make(map[string]bool),
	}
	for i, id := range g.Order() {
		s.order[id] = i
	}

	s.initialChunks()
	s.asyncChunks()
	if err := s.cacheGroups(); err != nil {
		return nil, err
	}

	return s.result(), nil
}

func (s *splitter) initialChunks() {
	for _, name := range s.g.EntryNames() {
		root, _ := s.g.Entry(name)
		s.addMain(name, KindInitial, root, s.g.Reachable(root, false))
	}
}

func (s *splitter) asyncChunks() {
	entries := s.g.EntryNames()
	reach := make(map[string]map[string]bool, len(entries))
	for _, name := range entries {
		root, _ := s.g.Entry(name)
		reach[name] = toSet(s.g.Reachable(root, true))
	}

	for _, target := range s.g.DynamicTargets() {
		// Modules every entry importing target already loads need not be
		// fetched again.
		var available map[string]bool
		for _, name := range entries {
			if !reach[name][target] {
				continue
			}
			if available == nil {
				available = copySet(s.members[name])
				continue
			}
			for id := range available {
				if !s.members[name][id] {
					delete(available, id)
				}
			}
		}

		var mods []string
		for _, id := range s.g.Reachable(target, false) {
			if !available[id] {
				mods = append(mods, id)
			}
		}
		if len(mods) == 0 {
			continue
		}
		s.addMain(s.uniqueName(AsyncName(target)), KindAsync, target, mods)
	}
}

func (s *splitter) addMain(name string, kind Kind, root string, mods []string) {
	c := &Chunk{Name: name, Kind: kind, Root: root, Modules: mods}
	grp := &Group{Name: name, Kind: kind, Root: root, Chunks: []string{name}}
	s.chunks[name] = c
	s.groups[name] = grp
	s.owner[name] = grp
	s.members[name] = toSet(mods)
}

type candidate struct {
	name     string
	group    config.CacheGroup
	modules  map[string]bool
	priority int
}

func (s *splitter) cacheGroups() error {
	groups := append([]config.CacheGroup(nil), s.opts.CacheGroups...)
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Priority != groups[j].Priority {
			return groups[i].Priority > groups[j].Priority
		}
		return groups[i].Key < groups[j].Key
	})

	mains := s.mainChunks()
	var candidates []*candidate
	index := make(map[string]*candidate)

	for _, cg := range groups {
		var test *regexp.Regexp
		if cg.Test != "" {
			re, err := regexp.Compile(cg.Test)
			if err != nil {
				return fmt.Errorf("cache group %s: %w", cg.Key, err)
			}
			test = re
		}

		for _, m := range s.g.Modules() {
			if test != nil && !test.MatchString(m.ID) {
				continue
			}
			holders := s.holders(m.ID, mains)
			if len(holders) == 0 || len(holders) < max(cg.MinChunks, 1) {
				continue
			}

			name := candidateName(cg, m, holders)
			key := cg.Key + "\x00" + name
			c, ok := index[key]
			if !ok {
				c = &candidate{name: name, group: cg, modules: make(map[string]bool), priority: cg.Priority}
				index[key] = c
				candidates = append(candidates, c)
			}
			c.modules[m.ID] = true
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		sa, sb := s.size(a.modules), s.size(b.modules)
		if sa != sb {
			return sa > sb
		}
		return a.name < b.name
	})

	for _, c := range candidates {
		s.apply(c, mains)
	}
	return nil
}

// apply turns a candidate into a split chunk when it is still large enough
// after dropping modules already moved and parents at their request limit.
func (s *splitter) apply(c *candidate, mains []string) {
	mods := make(map[string]bool)
	for id := range c.modules {
		if !s.moved[id] {
			mods[id] = true
		}
	}
	if s.size(mods) < s.opts.MinSize || len(mods) == 0 {
		return
	}

	var parents []string
	for _, name := range mains {
		if !overlaps(s.members[name], mods) {
			continue
		}
		if s.atLimit(s.owner[name]) {
			continue
		}
		parents = append(parents, name)
	}

	// Keep only modules that still meet min chunks among allowed parents.
	for id := range mods {
		n := 0
		for _, p := range parents {
			if s.members[p][id] {
				n++
			}
		}
		if n == 0 || n < max(c.group.MinChunks, 1) {
			delete(mods, id)
		}
	}
	if len(mods) == 0 || s.size(mods) < s.opts.MinSize {
		return
	}

	name := s.uniqueName(c.name)
	split := &Chunk{
		Name:       name,
		Kind:       KindSplit,
		CacheGroup: c.group.Key,
		Modules:    s.ordered(mods),
	}
	s.chunks[name] = split

	for _, p := range parents {
		if !overlaps(s.members[p], mods) {
			continue
		}
		parent := s.chunks[p]
		kept := parent.Modules[:0:0]
		for _, id := range parent.Modules {
			if mods[id] {
				delete(s.members[p], id)
				continue
			}
			kept = append(kept, id)
		}
		parent.Modules = kept
		parent.Siblings = append(parent.Siblings, name)

		grp := s.owner[p]
		grp.Chunks = append(grp.Chunks[:len(grp.Chunks)-1:len(grp.Chunks)-1], name, p)
	}

	for id := range mods {
		s.moved[id] = true
	}
}

func (s *splitter) atLimit(grp *Group) bool {
	limit := s.opts.MaxAsyncRequests
	if grp.Kind == KindInitial {
		limit = s.opts.MaxInitialRequests
	}
	return grp.Requests()+1 > limit
}

func (s *splitter) uniqueName(name string) string {
	if _, taken := s.chunks[name]; !taken {
		return name
	}
	for i := 1; ; i++ {
		n := fmt.Sprintf("%s~%d", name, i)
		if _, taken := s.chunks[n]; !taken {
			return n
		}
	}
}

func (s *splitter) mainChunks() []string {
	names := make([]string, 0, len(s.members))
	for name := range s.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *splitter) holders(id string, mains []string) []string {
	var holders []string
	for _, name := range mains {
		if s.members[name][id] {
			holders = append(holders, name)
		}
	}
	return holders
}

func (s *splitter) size(mods map[string]bool) int64 {
	var n int64
	for id := range mods {
		if m := s.g.Module(id); m != nil {
			n += m.Size
		}
	}
	return n
}

func (s *splitter) ordered(mods map[string]bool) []string {
	ids := make([]string, 0, len(mods))
	for id := range mods {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return s.order[ids[i]] < s.order[ids[j]] })
	return ids
}

func (s *splitter) result() *Result {
	r := &Result{
		chunks: s.chunks,
		async:  make(map[string]*Group),
	}

	rank := map[Kind]int{KindInitial: 0, KindAsync: 1, KindSplit: 2}
	for _, c := range s.chunks {
		c.Size = 0
		for _, id := range c.Modules {
			if m := s.g.Module(id); m != nil {
				c.Size += m.Size
			}
		}
		r.Chunks = append(r.Chunks, c)
	}
	sort.Slice(r.Chunks, func(i, j int) bool {
		a, b := r.Chunks[i], r.Chunks[j]
		if rank[a.Kind] != rank[b.Kind] {
			return rank[a.Kind] < rank[b.Kind]
		}
		return a.Name < b.Name
	})

	for _, grp := range s.groups {
		r.Groups = append(r.Groups, grp)
		if grp.Kind == KindAsync {
			r.async[grp.Root] = grp
		}
	}
	sort.Slice(r.Groups, func(i, j int) bool {
		a, b := r.Groups[i], r.Groups[j]
		if a.Kind != b.Kind {
			return a.Kind == KindInitial
		}
		return a.Name < b.Name
	})
	return r
}

// candidateName names the split chunk a module goes to. Groups with
// PerPackage name one chunk per npm package; groups without a fixed name
// join the names of the chunks sharing the module.
func candidateName(cg config.CacheGroup, m *graph.Module, holders []string) string {
	if cg.PerPackage {
		if name := VendorName(cg.Key, m.ID); name != "" {
			return name
		}
	}
	if cg.Name != "" {
		return cg.Name
	}
	return cg.Key + "~" + strings.Join(holders, "~")
}

// VendorName returns <group>.<package> for a module under node_modules, with
// the scope marker removed and the scope separator replaced by a dot:
// node_modules/@babel/runtime/x.js in group vendors becomes
// vendors.babel.runtime. Modules outside node_modules return "".
func VendorName(group, id string) string {
	pkg := graph.PackageName(id)
	if pkg == "" {
		return ""
	}
	pkg = strings.TrimPrefix(pkg, "@")
	return group + "." + strings.ReplaceAll(pkg, "/", ".")
}

// AsyncName derives an async chunk name from its root module path. Distinct
// paths may map to the same name; the splitter suffixes later ones.
func AsyncName(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func copySet(set map[string]bool) map[string]bool {
	out := make(map[string]bool, len(set))
	for k := range set {
		out[k] = true
	}
	return out
}

func overlaps(a, b map[string]bool) bool {
	for id := range b {
		if a[id] {
			return true
		}
	}
	return false
}
