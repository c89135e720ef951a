package graph

import (
	"slices"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	shrinkerrors "github.com/standardbeagle/shrinker/internal/errors"
	"github.com/standardbeagle/shrinker/internal/types"
)

// shardCount must be a power of two
const shardCount = 64

func shardFor(class string) int {
	return int(xxhash.Sum64String(class) & (shardCount - 1))
}

type classEntry struct {
	info     ClassInfo
	declared bool                   // false while only members of the class were added
	members  map[string]*MemberInfo // keyed by Node.Signature
}

type graphShard struct {
	mu      sync.RWMutex
	classes map[string]*classEntry
	edges   map[types.Node]map[types.Dependency]struct{}
}

// MemoryGraph is the in-memory Graph. Classes, members and outgoing edges are
// sharded by owning class name; counters live in per-counter-set tables.
type MemoryGraph struct {
	shards [shardCount]graphShard

	countersMu sync.RWMutex
	counters   map[types.CounterSet]*counterTable

	rootsMu       sync.RWMutex
	roots         map[types.CounterSet]map[types.Node]types.DependencyType
	implicitRoots map[types.Node]types.DependencyType
}

var _ Graph = (*MemoryGraph)(nil)

// NewMemoryGraph creates an empty graph
func NewMemoryGraph() *MemoryGraph {
	g := &MemoryGraph{
		counters:      make(map[types.CounterSet]*counterTable),
		roots:         make(map[types.CounterSet]map[types.Node]types.DependencyType),
		implicitRoots: make(map[types.Node]types.DependencyType),
	}
	for i := range g.shards {
		g.shards[i].classes = make(map[string]*classEntry)
		g.shards[i].edges = make(map[types.Node]map[types.Dependency]struct{})
	}
	return g
}

func (g *MemoryGraph) shard(class string) *graphShard {
	return &g.shards[shardFor(class)]
}

// AddClass registers a class
func (g *MemoryGraph) AddClass(info ClassInfo) {
	info.Interfaces = slices.Clone(info.Interfaces)
	info.Annotations = slices.Clone(info.Annotations)

	s := g.shard(info.Name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.classes[info.Name]; ok {
		e.info = info
		e.declared = true
		return
	}
	s.classes[info.Name] = &classEntry{info: info, declared: true, members: make(map[string]*MemberInfo)}
}

// AddMember registers a member. Members of unknown classes are still recorded
// so that incremental rescans never lose them; CheckDependencies reports them.
func (g *MemoryGraph) AddMember(info MemberInfo) types.Node {
	info.Annotations = slices.Clone(info.Annotations)

	s := g.shard(info.Node.Class)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.classes[info.Node.Class]
	if !ok {
		e = &classEntry{info: ClassInfo{Name: info.Node.Class}, members: make(map[string]*MemberInfo)}
		s.classes[info.Node.Class] = e
	}
	e.members[info.Node.Signature()] = &info
	return info.Node
}

// ClassInfo returns the class record for name
func (g *MemoryGraph) ClassInfo(name string) (ClassInfo, bool) {
	s := g.shard(name)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.classes[name]
	if !ok || !e.declared {
		return ClassInfo{}, false
	}
	return e.info, true
}

// HasClass reports whether name was added
func (g *MemoryGraph) HasClass(name string) bool {
	_, ok := g.ClassInfo(name)
	return ok
}

// IsProgramClass reports whether name was added from a program input
func (g *MemoryGraph) IsProgramClass(name string) bool {
	info, ok := g.ClassInfo(name)
	return ok && info.IsProgram()
}

// Superclass returns the superclass of name
func (g *MemoryGraph) Superclass(name string) (string, error) {
	info, ok := g.ClassInfo(name)
	if !ok {
		return "", shrinkerrors.NewClassLookupError("superclass", name)
	}
	if info.Superclass == "" {
		return "", nil
	}
	if !g.HasClass(info.Superclass) {
		return info.Superclass, shrinkerrors.NewClassLookupError("superclass", info.Superclass)
	}
	return info.Superclass, nil
}

// Interfaces returns the declared interfaces of name
func (g *MemoryGraph) Interfaces(name string) ([]string, error) {
	info, ok := g.ClassInfo(name)
	if !ok {
		return nil, shrinkerrors.NewClassLookupError("interfaces", name)
	}
	var errs []error
	for _, itf := range info.Interfaces {
		if !g.HasClass(itf) {
			errs = append(errs, shrinkerrors.NewClassLookupError("interfaces", itf))
		}
	}
	return slices.Clone(info.Interfaces), shrinkerrors.NewMultiError(errs).ErrorOrNil()
}

// Members returns the declared members of class, sorted
func (g *MemoryGraph) Members(class string) []MemberInfo {
	s := g.shard(class)
	s.mu.RLock()
	e, ok := s.classes[class]
	if !ok {
		s.mu.RUnlock()
		return nil
	}
	out := make([]MemberInfo, 0, len(e.members))
	for _, m := range e.members {
		out = append(out, *m)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Node.Less(out[j].Node) })
	return out
}

// MemberInfo returns the record of a member node
func (g *MemoryGraph) MemberInfo(node types.Node) (MemberInfo, bool) {
	if node.IsClass() {
		return MemberInfo{}, false
	}
	s := g.shard(node.Class)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.classes[node.Class]
	if !ok {
		return MemberInfo{}, false
	}
	m, ok := e.members[node.Signature()]
	if !ok {
		return MemberInfo{}, false
	}
	return *m, true
}

// FindMember looks up a member declared directly in class
func (g *MemoryGraph) FindMember(class, name, desc string) (types.Node, bool) {
	node := types.MemberNode(class, name, desc)
	_, ok := g.MemberInfo(node)
	return node, ok
}

// HasNode reports whether the class or member was added
func (g *MemoryGraph) HasNode(node types.Node) bool {
	if node.IsClass() {
		return g.HasClass(node.Class)
	}
	_, ok := g.MemberInfo(node)
	return ok
}

// Classes returns every class name, sorted
func (g *MemoryGraph) Classes() []string {
	var out []string
	for i := range g.shards {
		s := &g.shards[i]
		s.mu.RLock()
		for name, e := range s.classes {
			if e.declared {
				out = append(out, name)
			}
		}
		s.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}

// AddDependency adds src -> dst; adding the same edge twice is a no-op
func (g *MemoryGraph) AddDependency(src, dst types.Node, t types.DependencyType) {
	s := g.shard(src.Class)
	s.mu.Lock()
	defer s.mu.Unlock()
	deps, ok := s.edges[src]
	if !ok {
		deps = make(map[types.Dependency]struct{})
		s.edges[src] = deps
	}
	deps[types.Dependency{Target: dst, Type: t}] = struct{}{}
}

// RemoveDependency drops a single edge
func (g *MemoryGraph) RemoveDependency(src types.Node, dep types.Dependency) {
	s := g.shard(src.Class)
	s.mu.Lock()
	defer s.mu.Unlock()
	deps, ok := s.edges[src]
	if !ok {
		return
	}
	delete(deps, dep)
	if len(deps) == 0 {
		delete(s.edges, src)
	}
}

// RemoveCodeDependencies drops the RequiredCodeReference edges of node and
// returns how many were removed
func (g *MemoryGraph) RemoveCodeDependencies(node types.Node) int {
	s := g.shard(node.Class)
	s.mu.Lock()
	defer s.mu.Unlock()
	deps, ok := s.edges[node]
	if !ok {
		return 0
	}
	removed := 0
	for dep := range deps {
		if dep.Type == types.RequiredCodeReference {
			delete(deps, dep)
			removed++
		}
	}
	if len(deps) == 0 {
		delete(s.edges, node)
	}
	return removed
}

// Dependencies returns the outgoing edges of node ordered by target then type
func (g *MemoryGraph) Dependencies(node types.Node) []types.Dependency {
	s := g.shard(node.Class)
	s.mu.RLock()
	deps := s.edges[node]
	out := make([]types.Dependency, 0, len(deps))
	for dep := range deps {
		out = append(out, dep)
	}
	s.mu.RUnlock()

	sortDependencies(out)
	return out
}

func sortDependencies(deps []types.Dependency) {
	sort.Slice(deps, func(i, j int) bool {
		if deps[i].Target != deps[j].Target {
			return deps[i].Target.Less(deps[j].Target)
		}
		return deps[i].Type < deps[j].Type
	})
}

// edgeSources returns every node with at least one outgoing edge
func (g *MemoryGraph) edgeSources() []types.Node {
	var out []types.Node
	for i := range g.shards {
		s := &g.shards[i]
		s.mu.RLock()
		for src := range s.edges {
			out = append(out, src)
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (g *MemoryGraph) table(cs types.CounterSet, create bool) *counterTable {
	g.countersMu.RLock()
	t, ok := g.counters[cs]
	g.countersMu.RUnlock()
	if ok || !create {
		return t
	}

	g.countersMu.Lock()
	defer g.countersMu.Unlock()
	if t, ok = g.counters[cs]; !ok {
		t = newCounterTable()
		g.counters[cs] = t
	}
	return t
}

// IncrementAndCheck increments the tally for t and reports the unreachable to reachable flip
func (g *MemoryGraph) IncrementAndCheck(node types.Node, t types.DependencyType, cs types.CounterSet) bool {
	return g.table(cs, true).getOrCreate(node).incrementAndCheck(t)
}

// Counter returns a copy of the tallies for node in cs
func (g *MemoryGraph) Counter(node types.Node, cs types.CounterSet) Counter {
	t := g.table(cs, false)
	if t == nil {
		return Counter{}
	}
	c, ok := t.get(node)
	if !ok {
		return Counter{}
	}
	return c.load()
}

// IsReachable reports the reachability predicate for node in cs
func (g *MemoryGraph) IsReachable(node types.Node, cs types.CounterSet) bool {
	return g.Counter(node, cs).Reachable()
}

// ClearCounters resets every tally of cs
func (g *MemoryGraph) ClearCounters(cs types.CounterSet) {
	g.countersMu.Lock()
	defer g.countersMu.Unlock()
	g.counters[cs] = newCounterTable()
}

// setCounter is used when restoring persisted state
func (g *MemoryGraph) setCounter(node types.Node, cs types.CounterSet, c Counter) {
	a := g.table(cs, true).getOrCreate(node)
	a.mu.Lock()
	a.c = c
	a.mu.Unlock()
}

// SetRoots replaces the root set of cs
func (g *MemoryGraph) SetRoots(cs types.CounterSet, roots map[types.Node]types.DependencyType) {
	cp := make(map[types.Node]types.DependencyType, len(roots))
	for n, t := range roots {
		cp[n] = t
	}
	g.rootsMu.Lock()
	defer g.rootsMu.Unlock()
	g.roots[cs] = cp
}

// AddRoot adds or replaces a single root of cs
func (g *MemoryGraph) AddRoot(cs types.CounterSet, node types.Node, t types.DependencyType) {
	g.rootsMu.Lock()
	defer g.rootsMu.Unlock()
	roots, ok := g.roots[cs]
	if !ok {
		roots = make(map[types.Node]types.DependencyType)
		g.roots[cs] = roots
	}
	roots[node] = t
}

// Roots returns a copy of the root set of cs
func (g *MemoryGraph) Roots(cs types.CounterSet) map[types.Node]types.DependencyType {
	g.rootsMu.RLock()
	defer g.rootsMu.RUnlock()
	out := make(map[types.Node]types.DependencyType, len(g.roots[cs]))
	for n, t := range g.roots[cs] {
		out[n] = t
	}
	return out
}

// AddImplicitRoot adds a root applied to every counter set
func (g *MemoryGraph) AddImplicitRoot(node types.Node, t types.DependencyType) {
	g.rootsMu.Lock()
	defer g.rootsMu.Unlock()
	g.implicitRoots[node] = t
}

// ImplicitRoots returns a copy of the implicit roots
func (g *MemoryGraph) ImplicitRoots() map[types.Node]types.DependencyType {
	g.rootsMu.RLock()
	defer g.rootsMu.RUnlock()
	out := make(map[types.Node]types.DependencyType, len(g.implicitRoots))
	for n, t := range g.implicitRoots {
		out[n] = t
	}
	return out
}

// CounterSets lists counter sets that have roots or counters, sorted
func (g *MemoryGraph) CounterSets() []types.CounterSet {
	seen := make(map[types.CounterSet]struct{})
	g.rootsMu.RLock()
	for cs := range g.roots {
		seen[cs] = struct{}{}
	}
	g.rootsMu.RUnlock()
	g.countersMu.RLock()
	for cs := range g.counters {
		seen[cs] = struct{}{}
	}
	g.countersMu.RUnlock()

	out := make([]types.CounterSet, 0, len(seen))
	for cs := range seen {
		out = append(out, cs)
	}
	slices.Sort(out)
	return out
}

// ReachableClasses returns the reachable class names in cs, sorted
func (g *MemoryGraph) ReachableClasses(cs types.CounterSet) []string {
	t := g.table(cs, false)
	if t == nil {
		return nil
	}
	var out []string
	t.each(func(n types.Node, c Counter) {
		if n.IsClass() && c.Reachable() {
			out = append(out, n.Class)
		}
	})
	sort.Strings(out)
	return out
}

// ReachableMembers returns the reachable members of class in cs, sorted
func (g *MemoryGraph) ReachableMembers(class string, cs types.CounterSet) []types.Node {
	t := g.table(cs, false)
	if t == nil {
		return nil
	}
	var out []types.Node
	for _, m := range g.Members(class) {
		if c, ok := t.get(m.Node); ok && c.load().Reachable() {
			out = append(out, m.Node)
		}
	}
	return out
}

// Stats summarises the graph size
func (g *MemoryGraph) Stats() Stats {
	var st Stats
	for i := range g.shards {
		s := &g.shards[i]
		s.mu.RLock()
		for _, e := range s.classes {
			if e.declared {
				st.Classes++
			}
			if e.info.IsProgram() {
				st.ProgramClasses++
			}
			st.Members += len(e.members)
		}
		for _, deps := range s.edges {
			st.Edges += len(deps)
		}
		s.mu.RUnlock()
	}
	return st
}
