package shrink

import (
	"fmt"
	"strings"

	"github.com/standardbeagle/shrinker/internal/graph"
	"github.com/standardbeagle/shrinker/internal/types"
)

// Step is one edge of a reachability explanation. The first step of a path
// names the root and the type it was rooted with.
type Step struct {
	Node types.Node
	Type types.DependencyType
	Root bool
}

func (s Step) String() string {
	if s.Root {
		return fmt.Sprintf("%s (root, %s)", s.Node, s.Type)
	}
	return fmt.Sprintf("-> %s (%s)", s.Node, s.Type)
}

// Explain returns a shortest path of edges through reachable nodes from a
// root of cs to node. Paired edge types only contribute half of a node's
// reachability, so the path is a witness, not the complete justification.
func Explain(g graph.Reader, node types.Node, cs types.CounterSet) ([]Step, error) {
	if !g.HasNode(node) {
		return nil, fmt.Errorf("%s is not in the graph", node)
	}
	if !g.IsReachable(node, cs) {
		return nil, fmt.Errorf("%s is not reachable in %s", node, cs)
	}

	parent := make(map[types.Node]Step)
	var queue []types.Node
	for _, root := range rootIncrements(g, cs) {
		if _, seen := parent[root.node]; seen || !g.IsReachable(root.node, cs) {
			continue
		}
		parent[root.node] = Step{Node: root.node, Type: root.typ, Root: true}
		queue = append(queue, root.node)
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == node {
			return path(parent, node), nil
		}
		for _, dep := range g.Dependencies(cur) {
			if _, seen := parent[dep.Target]; seen || !g.IsReachable(dep.Target, cs) {
				continue
			}
			parent[dep.Target] = Step{Node: cur, Type: dep.Type}
			queue = append(queue, dep.Target)
		}
	}
	return nil, fmt.Errorf("no path from a root of %s to %s", cs, node)
}

// path unwinds the parent map; parent[n] holds the predecessor of n and the
// type of the edge into n
func path(parent map[types.Node]Step, node types.Node) []Step {
	var rev []Step
	cur := node
	for {
		p := parent[cur]
		if p.Root {
			rev = append(rev, Step{Node: cur, Type: p.Type, Root: true})
			break
		}
		rev = append(rev, Step{Node: cur, Type: p.Type})
		cur = p.Node
	}
	out := make([]Step, len(rev))
	for i, s := range rev {
		out[len(rev)-1-i] = s
	}
	return out
}

// FormatPath renders an explanation one step per line
func FormatPath(steps []Step) string {
	var b strings.Builder
	for i, s := range steps {
		if i > 0 {
			b.WriteString("  ")
		}
		b.WriteString(s.String())
		b.WriteByte('\n')
	}
	return b.String()
}
