package graph

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/shrinker/internal/diagnostics"
	"github.com/standardbeagle/shrinker/internal/types"
)

func hierarchyGraph() *MemoryGraph {
	g := NewMemoryGraph()
	g.AddClass(ClassInfo{Name: types.ObjectClass})
	g.AddClass(ClassInfo{Name: "p/I", Superclass: types.ObjectClass, Access: types.AccInterface | types.AccAbstract, Source: "program"})
	g.AddClass(ClassInfo{Name: "p/J", Superclass: types.ObjectClass, Interfaces: []string{"p/I"}, Access: types.AccInterface | types.AccAbstract, Source: "program"})
	g.AddClass(programClass("p/Base", types.ObjectClass, "p/I"))
	g.AddClass(programClass("p/Impl", "p/Base", "p/J", "p/Unknown"))
	return g
}

// TestWalk_Preorder tests that ancestors are yielded class first, superclasses before interfaces.
func TestWalk_Preorder(t *testing.T) {
	g := hierarchyGraph()
	sink := diagnostics.NewSink(nil)

	got := slices.Collect(Walk(g, "p/Impl", WalkAll, sink))
	assert.Equal(t, []string{"p/Impl", "p/Base", types.ObjectClass, "p/I", "p/J"}, got)

	warnings := sink.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, "p/Unknown", warnings[0].Target)
	assert.Equal(t, diagnostics.KindHierarchy, warnings[0].Kind)
}

// TestWalk_Modes tests superclass-only and interface-only walks.
func TestWalk_Modes(t *testing.T) {
	g := hierarchyGraph()

	supers := slices.Collect(Walk(g, "p/Impl", WalkSuperclasses, nil))
	assert.Equal(t, []string{"p/Impl", "p/Base", types.ObjectClass}, supers)

	itfs := slices.Collect(Walk(g, "p/Impl", WalkInterfaces, nil))
	assert.Equal(t, []string{"p/Impl", "p/J", "p/I"}, itfs)
}

// TestWalk_ObjectAbsentIsSilent tests that a missing java/lang/Object is not reported.
func TestWalk_ObjectAbsentIsSilent(t *testing.T) {
	g := NewMemoryGraph()
	g.AddClass(programClass("p/A", types.ObjectClass))
	sink := diagnostics.NewSink(nil)

	got := slices.Collect(Walk(g, "p/A", WalkAll, sink))
	assert.Equal(t, []string{"p/A"}, got)
	assert.Zero(t, sink.Count())
}

// TestWalk_EarlyStop tests that breaking out of the iteration stops the walk.
func TestWalk_EarlyStop(t *testing.T) {
	g := hierarchyGraph()
	var got []string
	for name := range Walk(g, "p/Impl", WalkAll, nil) {
		got = append(got, name)
		if name == "p/Base" {
			break
		}
	}
	assert.Equal(t, []string{"p/Impl", "p/Base"}, got)
}

// TestWalk_UnknownStart tests that an unknown start class yields nothing.
func TestWalk_UnknownStart(t *testing.T) {
	g := hierarchyGraph()
	assert.Empty(t, slices.Collect(Walk(g, "p/Nope", WalkAll, nil)))
}

// TestSuperInterfaces tests collection of inherited interfaces.
func TestSuperInterfaces(t *testing.T) {
	g := hierarchyGraph()
	assert.Equal(t, []string{"p/I", "p/J"}, SuperInterfaces(g, "p/Impl", nil))
	assert.Equal(t, []string{"p/Base", types.ObjectClass}, Ancestors(g, "p/Impl", WalkSuperclasses, nil))
}
