package shrink

import (
	"context"
	"slices"

	"github.com/standardbeagle/shrinker/internal/debug"
	"github.com/standardbeagle/shrinker/internal/graph"
	"github.com/standardbeagle/shrinker/internal/types"
)

// cancelCheckInterval is how many worklist steps run between context checks
const cancelCheckInterval = 4096

type increment struct {
	node types.Node
	typ  types.DependencyType
}

// rootIncrements lists the roots of cs followed by the implicit roots, sorted
func rootIncrements(g graph.Reader, cs types.CounterSet) []increment {
	var out []increment
	for _, roots := range []map[types.Node]types.DependencyType{g.Roots(cs), g.ImplicitRoots()} {
		start := len(out)
		for n, t := range roots {
			out = append(out, increment{node: n, typ: t})
		}
		slices.SortFunc(out[start:], func(a, b increment) int {
			if a.node.Less(b.node) {
				return -1
			}
			if b.node.Less(a.node) {
				return 1
			}
			return int(a.typ) - int(b.typ)
		})
	}
	return out
}

// SetCounters clears the counters of cs and propagates reachability from its
// roots and the implicit roots. Each root runs its own worklist on the pool;
// a node's edges are followed only by the increment that made it reachable.
func SetCounters(ctx context.Context, g graph.Graph, cs types.CounterSet, workers int) error {
	g.ClearCounters(cs)
	roots := rootIncrements(g, cs)
	err := each(ctx, workers, roots, func(ctx context.Context, root increment) error {
		return propagate(ctx, g, cs, root)
	})
	if err != nil {
		return err
	}
	debug.Log(debug.ComponentEngine, "%s: %d roots, %d reachable classes", cs, len(roots), len(g.ReachableClasses(cs)))
	return nil
}

func propagate(ctx context.Context, g graph.Graph, cs types.CounterSet, root increment) error {
	stack := []increment{root}
	for steps := 1; len(stack) > 0; steps++ {
		if steps%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !g.IncrementAndCheck(top.node, top.typ, cs) {
			continue
		}
		for _, dep := range g.Dependencies(top.node) {
			stack = append(stack, increment{node: dep.Target, typ: dep.Type})
		}
	}
	return nil
}
