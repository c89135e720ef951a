package graph

import (
	"iter"

	"github.com/standardbeagle/shrinker/internal/diagnostics"
	"github.com/standardbeagle/shrinker/internal/types"
)

// WalkMode selects which ancestor edges a hierarchy walk follows
type WalkMode int

const (
	// WalkAll follows superclasses and interfaces
	WalkAll WalkMode = iota
	// WalkSuperclasses follows only superclass links
	WalkSuperclasses
	// WalkInterfaces follows only interface links
	WalkInterfaces
)

// Walk yields start and its ancestors in preorder: each class, then its
// superclass chain, then its declared interfaces in declaration order.
// Every class is yielded at most once. Ancestors the graph does not know are
// skipped and reported to sink; java/lang/Object is yielded only when known
// and its absence is never reported. An unknown start yields nothing.
func Walk(g Reader, start string, mode WalkMode, sink *diagnostics.Sink) iter.Seq[string] {
	return func(yield func(string) bool) {
		if !g.HasClass(start) {
			return
		}
		visited := make(map[string]struct{})
		var visit func(name, from string) bool
		visit = func(name, from string) bool {
			if _, seen := visited[name]; seen {
				return true
			}
			visited[name] = struct{}{}

			info, ok := g.ClassInfo(name)
			if !ok {
				if name != types.ObjectClass && sink != nil {
					sink.Warn(diagnostics.Warning{
						Kind:    diagnostics.KindHierarchy,
						Source:  from,
						Target:  name,
						Message: "ancestor class not found; hierarchy is incomplete",
					})
				}
				return true
			}
			if !yield(name) {
				return false
			}
			if name == types.ObjectClass {
				return true
			}
			if mode != WalkInterfaces && info.Superclass != "" {
				if !visit(info.Superclass, name) {
					return false
				}
			}
			if mode != WalkSuperclasses {
				for _, itf := range info.Interfaces {
					if !visit(itf, name) {
						return false
					}
				}
			}
			return true
		}
		visit(start, start)
	}
}

// Ancestors collects Walk without the start class itself
func Ancestors(g Reader, start string, mode WalkMode, sink *diagnostics.Sink) []string {
	var out []string
	for name := range Walk(g, start, mode, sink) {
		if name != start {
			out = append(out, name)
		}
	}
	return out
}

// SuperInterfaces returns every interface start transitively implements,
// including those inherited through superclasses
func SuperInterfaces(g Reader, start string, sink *diagnostics.Sink) []string {
	var out []string
	for name := range Walk(g, start, WalkAll, sink) {
		if name == start {
			continue
		}
		if info, ok := g.ClassInfo(name); ok && info.Access.IsInterface() {
			out = append(out, name)
		}
	}
	return out
}
