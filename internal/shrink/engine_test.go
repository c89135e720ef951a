package shrink

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/shrinker/internal/graph"
	"github.com/standardbeagle/shrinker/internal/types"
)

func reachableSet(g graph.Reader, nodes []types.Node, cs types.CounterSet) map[types.Node]bool {
	out := make(map[types.Node]bool)
	for _, n := range nodes {
		if g.IsReachable(n, cs) {
			out[n] = true
		}
	}
	return out
}

// randomGraph builds n class nodes with random typed edges
func randomGraph(seed int64, n, edges int) (*graph.MemoryGraph, []types.Node) {
	rng := rand.New(rand.NewSource(seed))
	g := graph.NewMemoryGraph()
	nodes := make([]types.Node, n)
	for i := range nodes {
		nodes[i] = types.ClassNode(fmt.Sprintf("p/N%03d", i))
		g.AddClass(graph.ClassInfo{Name: nodes[i].Class, Superclass: types.ObjectClass, Source: "test"})
	}
	all := types.AllDependencyTypes()
	for i := 0; i < edges; i++ {
		g.AddDependency(nodes[rng.Intn(n)], nodes[rng.Intn(n)], all[rng.Intn(len(all))])
	}
	return g, nodes
}

// TestSetCounters_Cycle tests that propagation over a cycle terminates.
func TestSetCounters_Cycle(t *testing.T) {
	g := graph.NewMemoryGraph()
	a, b, c := cls("p/A"), cls("p/B"), cls("p/C")
	g.AddDependency(a, b, types.RequiredClassStructure)
	g.AddDependency(b, a, types.RequiredCodeReference)
	g.AddDependency(b, c, types.IfClassKept)
	g.SetRoots(types.Shrink, map[types.Node]types.DependencyType{a: types.RequiredClassStructure})

	require.NoError(t, SetCounters(context.Background(), g, types.Shrink, 2))
	assert.True(t, g.IsReachable(a, types.Shrink))
	assert.True(t, g.IsReachable(b, types.Shrink))
	assert.False(t, g.IsReachable(c, types.Shrink), "half of a pair is not enough")
	assert.Equal(t, int32(2), g.Counter(a, types.Shrink).Required, "root increment plus the cycle edge")
}

// TestSetCounters_Monotonic tests that adding roots never removes reachable nodes.
func TestSetCounters_Monotonic(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		g, nodes := randomGraph(seed, 60, 150)
		roots := map[types.Node]types.DependencyType{}
		var previous map[types.Node]bool
		for i := 0; i < 6; i++ {
			roots[nodes[i*7]] = types.AllDependencyTypes()[i%6]
			g.SetRoots(types.Shrink, roots)
			require.NoError(t, SetCounters(context.Background(), g, types.Shrink, 4))
			current := reachableSet(g, nodes, types.Shrink)
			for n := range previous {
				assert.True(t, current[n], "seed %d: %s became unreachable after adding a root", seed, n)
			}
			previous = current
		}
	}
}

// TestSetCounters_Deterministic tests that worker count and repetition never change the result.
func TestSetCounters_Deterministic(t *testing.T) {
	g, nodes := randomGraph(42, 200, 600)
	roots := map[types.Node]types.DependencyType{}
	for i := 0; i < 20; i++ {
		roots[nodes[i*10]] = types.RequiredClassStructure
	}
	roots[nodes[5]] = types.IfClassKept
	g.SetRoots(types.Shrink, roots)
	g.AddImplicitRoot(nodes[7], types.SuperinterfaceKept)

	require.NoError(t, SetCounters(context.Background(), g, types.Shrink, 1))
	want := reachableSet(g, nodes, types.Shrink)
	for _, workers := range []int{2, 8, 32} {
		require.NoError(t, SetCounters(context.Background(), g, types.Shrink, workers))
		assert.Equal(t, want, reachableSet(g, nodes, types.Shrink), "workers=%d", workers)
	}
}

// TestSetCounters_Cancelled tests that a cancelled context aborts propagation.
func TestSetCounters_Cancelled(t *testing.T) {
	g, nodes := randomGraph(7, 10, 20)
	g.SetRoots(types.Shrink, map[types.Node]types.DependencyType{nodes[0]: types.RequiredClassStructure})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SetCounters(ctx, g, types.Shrink, 2), context.Canceled)
}

// TestExplain tests the witness path from a root.
func TestExplain(t *testing.T) {
	g := graph.NewMemoryGraph()
	for _, name := range []string{"p/Main", "p/Service", "p/Helper"} {
		g.AddClass(graph.ClassInfo{Name: name, Superclass: types.ObjectClass, Source: "test"})
	}
	main := g.AddMember(graph.MemberInfo{Node: method("p/Main", "main", "([Ljava/lang/String;)V"), Access: pub | types.AccStatic})
	run := g.AddMember(graph.MemberInfo{Node: method("p/Service", "run", "()V"), Access: pub})
	help := g.AddMember(graph.MemberInfo{Node: method("p/Helper", "help", "()V"), Access: pub})
	g.AddDependency(main, run, types.RequiredCodeReference)
	g.AddDependency(run, help, types.RequiredCodeReference)
	g.AddDependency(help, cls("p/Helper"), types.RequiredClassStructure)
	g.SetRoots(types.Shrink, map[types.Node]types.DependencyType{main: types.RequiredClassStructure})
	require.NoError(t, SetCounters(context.Background(), g, types.Shrink, 2))

	steps, err := Explain(g, cls("p/Helper"), types.Shrink)
	require.NoError(t, err)
	assert.Equal(t, []Step{
		{Node: main, Type: types.RequiredClassStructure, Root: true},
		{Node: run, Type: types.RequiredCodeReference},
		{Node: help, Type: types.RequiredCodeReference},
		{Node: cls("p/Helper"), Type: types.RequiredClassStructure},
	}, steps)
	assert.Contains(t, FormatPath(steps), "(root, REQUIRED_CLASS_STRUCTURE)")

	_, err = Explain(g, cls("p/Service"), types.Shrink)
	assert.ErrorContains(t, err, "not reachable")
	_, err = Explain(g, cls("p/Nope"), types.Shrink)
	assert.ErrorContains(t, err, "not in the graph")
}
