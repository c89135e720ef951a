package shrink

import (
	"fmt"
	"sync/atomic"

	"github.com/hashicorp/golang-lru/v2"
	"github.com/hbollon/go-edlib"

	"github.com/standardbeagle/shrinker/internal/collector"
	"github.com/standardbeagle/shrinker/internal/debug"
	"github.com/standardbeagle/shrinker/internal/diagnostics"
	"github.com/standardbeagle/shrinker/internal/graph"
	"github.com/standardbeagle/shrinker/internal/types"
)

// hintThreshold is the minimum Jaro-Winkler similarity for a "did you mean" hint
const hintThreshold = 0.85

type resolveKey struct {
	start string
	name  string
	desc  string
}

type resolution struct {
	member  types.Node
	found   bool
	program bool
}

// Resolver binds symbolic member references to the declaring member by
// searching the type hierarchy. Lookups are memoized; the hierarchy must not
// change while a Resolver is in use.
type Resolver struct {
	g        graph.Graph
	sink     *diagnostics.Sink
	memo     *lru.Cache[resolveKey, resolution]
	resolved atomic.Int64
	dropped  atomic.Int64
}

// NewResolver creates a resolver writing edges into g
func NewResolver(g graph.Graph, sink *diagnostics.Sink, cacheSize int) *Resolver {
	if cacheSize <= 0 {
		cacheSize = DefaultResolverCacheSize
	}
	memo, err := lru.New[resolveKey, resolution](cacheSize)
	if err != nil {
		panic(fmt.Sprintf("resolver cache: %v", err))
	}
	return &Resolver{g: g, sink: sink, memo: memo}
}

// Resolve adds code edges from ref.Source to the declaring class and member
// when the declaration lives in a program class. Library declarations need no
// edge. Unknown classes and members are reported and the reference dropped.
func (r *Resolver) Resolve(ref collector.UnresolvedReference) {
	start := ref.Target.Class
	if ref.Special {
		super, err := r.g.Superclass(ref.Source.Class)
		if err != nil {
			r.drop(ref, diagnostics.KindUnknownClass, err.Error(), "")
			return
		}
		start = super
	}
	if !r.g.HasClass(start) {
		r.drop(ref, diagnostics.KindUnknownClass, "class "+start+" not found", "")
		return
	}

	key := resolveKey{start: start, name: ref.Target.Name, desc: ref.Target.Desc}
	res, ok := r.memo.Get(key)
	if !ok {
		res = r.lookup(key)
		r.memo.Add(key, res)
	}
	if !res.found {
		r.drop(ref, diagnostics.KindUnresolvedMember, "member not found in "+start+" or its ancestors", r.hint(key))
		return
	}
	r.resolved.Add(1)
	if res.program {
		r.g.AddDependency(ref.Source, types.ClassNode(res.member.Class), types.RequiredCodeReference)
		r.g.AddDependency(ref.Source, res.member, types.RequiredCodeReference)
	}
}

// ResolveAll resolves refs in order
func (r *Resolver) ResolveAll(refs []collector.UnresolvedReference) {
	for _, ref := range refs {
		r.Resolve(ref)
	}
}

func (r *Resolver) lookup(key resolveKey) resolution {
	for cls := range graph.Walk(r.g, key.start, graph.WalkAll, r.sink) {
		if n, ok := r.g.FindMember(cls, key.name, key.desc); ok {
			return resolution{member: n, found: true, program: r.g.IsProgramClass(cls)}
		}
	}
	return resolution{}
}

func (r *Resolver) drop(ref collector.UnresolvedReference, kind diagnostics.Kind, msg, hint string) {
	r.dropped.Add(1)
	if r.sink == nil {
		return
	}
	r.sink.Warn(diagnostics.Warning{
		Kind:    kind,
		Source:  ref.Source.String(),
		Target:  ref.Target.String(),
		Message: msg,
		Hint:    hint,
	})
}

// hint suggests the most similar member name declared along the hierarchy
func (r *Resolver) hint(key resolveKey) string {
	best, bestScore := "", float32(0)
	for cls := range graph.Walk(r.g, key.start, graph.WalkAll, nil) {
		for _, m := range r.g.Members(cls) {
			if types.IsFakeMember(m.Node) {
				continue
			}
			score, err := edlib.StringsSimilarity(key.name, m.Node.Name, edlib.JaroWinkler)
			if err != nil || score <= bestScore {
				continue
			}
			best, bestScore = m.Node.String(), score
		}
	}
	if bestScore < hintThreshold {
		return ""
	}
	return "did you mean " + best + "?"
}

// Counts returns the number of resolved and dropped references
func (r *Resolver) Counts() (resolved, dropped int64) {
	resolved, dropped = r.resolved.Load(), r.dropped.Load()
	debug.Log(debug.ComponentResolver, "resolved %d references, dropped %d", resolved, dropped)
	return resolved, dropped
}
