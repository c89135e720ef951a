package graph

import (
	"github.com/standardbeagle/shrinker/internal/debug"
	"github.com/standardbeagle/shrinker/internal/diagnostics"
	shrinkerrors "github.com/standardbeagle/shrinker/internal/errors"
	"github.com/standardbeagle/shrinker/internal/types"
)

// CheckDependencies removes every edge whose source or target is not a known
// node, reporting each one to sink. It returns the number of edges removed.
func (g *MemoryGraph) CheckDependencies(sink *diagnostics.Sink) int {
	removed := 0
	for _, src := range g.edgeSources() {
		srcOK := g.HasNode(src)
		for _, dep := range g.Dependencies(src) {
			var reason string
			switch {
			case !srcOK:
				reason = "source node unknown"
			case !g.HasNode(dep.Target):
				reason = "target node unknown"
			default:
				continue
			}
			g.RemoveDependency(src, dep)
			removed++
			if sink != nil {
				err := shrinkerrors.NewInvalidReferenceError(src, dep.Target, reason)
				sink.Warn(diagnostics.Warning{
					Kind:    diagnostics.KindInvalidEdge,
					Source:  src.String(),
					Target:  dep.Target.String(),
					Message: err.Error(),
				})
			}
		}
	}
	if removed > 0 {
		debug.Log(debug.ComponentGraph, "removed %d invalid edges", removed)
	}
	return removed
}

// ValidateNode reports an InvalidReferenceError when node is unknown
func ValidateNode(g Reader, from, node types.Node) error {
	if g.HasNode(node) {
		return nil
	}
	return shrinkerrors.NewInvalidReferenceError(from, node, "node unknown")
}
