package shrink

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/shrinker/internal/classfile/classfiletest"
	"github.com/standardbeagle/shrinker/internal/collector"
	"github.com/standardbeagle/shrinker/internal/diagnostics"
	"github.com/standardbeagle/shrinker/internal/graph"
	"github.com/standardbeagle/shrinker/internal/types"
)

const (
	pub      = types.AccPublic
	abstract = types.AccPublic | types.AccAbstract
	iface    = types.AccPublic | types.AccInterface | types.AccAbstract
)

func object() *classfiletest.Builder {
	b := classfiletest.NewBuilder(types.ObjectClass, "")
	b.Method(pub, "<init>", "()V").Return()
	b.Method(pub|types.AccNative, "hashCode", "()I")
	b.Method(pub, "equals", "(Ljava/lang/Object;)Z").Return()
	b.Method(pub, "toString", "()Ljava/lang/String;").Return()
	return b
}

func runnable() *classfiletest.Builder {
	b := classfiletest.NewBuilder("java/lang/Runnable", types.ObjectClass).Access(iface)
	b.Method(abstract, "run", "()V")
	return b
}

// build collects library and program classes and runs every pass
func build(t *testing.T, library []*classfiletest.Builder, program ...*classfiletest.Builder) (*graph.MemoryGraph, *diagnostics.Sink) {
	t.Helper()
	g := graph.NewMemoryGraph()
	sink := diagnostics.NewSink(nil)
	for _, b := range library {
		_, err := collector.Collect(g, b.Bytes(), collector.Options{Mode: collector.ModeLibrary})
		require.NoError(t, err)
	}
	var work []*collector.Result
	for _, b := range program {
		res, err := collector.Collect(g, b.Bytes(), collector.Options{Mode: collector.ModeProgram, Source: "test.jar!class"})
		require.NoError(t, err)
		work = append(work, res)
	}
	passes := NewPasses(g, sink, NewResolver(g, sink, 0))
	require.NoError(t, each(context.Background(), 4, work, func(_ context.Context, w *collector.Result) error {
		passes.Run(w)
		return nil
	}))
	g.CheckDependencies(sink)
	return g, sink
}

func propagateRoots(t *testing.T, g *graph.MemoryGraph, roots ...types.Node) {
	t.Helper()
	m := make(map[types.Node]types.DependencyType, len(roots))
	for _, r := range roots {
		m[r] = types.RequiredClassStructure
	}
	g.SetRoots(types.Shrink, m)
	require.NoError(t, SetCounters(context.Background(), g, types.Shrink, 4))
}

func reachable(g graph.Reader, n types.Node) bool {
	return g.IsReachable(n, types.Shrink)
}

func cls(name string) types.Node { return types.ClassNode(name) }

func method(class, name, desc string) types.Node { return types.MemberNode(class, name, desc) }

// TestOverridePairingLaw tests that a program override needs both its class and the overridden method.
func TestOverridePairingLaw(t *testing.T) {
	a := classfiletest.NewBuilder("p/A", types.ObjectClass)
	a.Method(pub, "m", "()V").Return()
	c := classfiletest.NewBuilder("p/C", "p/A")
	c.Method(pub, "m", "()V").Return()
	c.Method(pub, "hashCode", "()I").Return()
	library := []*classfiletest.Builder{object()}

	tests := []struct {
		name  string
		roots []types.Node
		want  bool
	}{
		{"overridden method only", []types.Node{method("p/A", "m", "()V")}, false},
		{"overriding class only", []types.Node{cls("p/C")}, false},
		{"both halves", []types.Node{method("p/A", "m", "()V"), cls("p/C")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := build(t, library, a, c)
			propagateRoots(t, g, tt.roots...)
			assert.Equal(t, tt.want, reachable(g, method("p/C", "m", "()V")))
		})
	}

	g, _ := build(t, library, a, c)
	assert.Contains(t, g.Dependencies(cls("p/C")), types.Dependency{Target: method("p/C", "m", "()V"), Type: types.ClassIsKept})
	assert.Contains(t, g.Dependencies(method("p/A", "m", "()V")), types.Dependency{Target: method("p/C", "m", "()V"), Type: types.IfClassKept})
	propagateRoots(t, g, cls("p/C"))
	assert.True(t, reachable(g, method("p/C", "hashCode", "()I")), "Object contract overrides stay with their class")
}

// TestOverride_LibraryAncestor tests that overriding a library method is unconditional.
func TestOverride_LibraryAncestor(t *testing.T) {
	task := classfiletest.NewBuilder("p/Task", types.ObjectClass).Interfaces("java/lang/Runnable")
	task.Method(pub, "run", "()V").Return()
	task.Method(pub, "helper", "()V").Return()
	hidden := classfiletest.NewBuilder("p/Hidden", "p/Task")
	hidden.Method(types.AccPrivate, "run", "()V").Return()

	g, _ := build(t, []*classfiletest.Builder{object(), runnable()}, task, hidden)
	assert.Contains(t, g.Dependencies(cls("p/Task")), types.Dependency{Target: method("p/Task", "run", "()V"), Type: types.RequiredClassStructure})
	for _, dep := range g.Dependencies(cls("p/Hidden")) {
		assert.NotEqual(t, method("p/Hidden", "run", "()V"), dep.Target, "private methods never override")
	}

	propagateRoots(t, g, cls("p/Task"))
	assert.True(t, reachable(g, method("p/Task", "run", "()V")))
	assert.False(t, reachable(g, method("p/Task", "helper", "()V")))
}

// TestInterfacePairingLaw tests that interfaces and their overrides need an implementing class.
func TestInterfacePairingLaw(t *testing.T) {
	i := classfiletest.NewBuilder("p/I", types.ObjectClass).Access(iface).Interfaces("java/lang/Runnable")
	i.Method(abstract, "foo", "()V")
	j := classfiletest.NewBuilder("p/J", types.ObjectClass).Access(iface).Interfaces("p/I")
	d := classfiletest.NewBuilder("p/D", types.ObjectClass).Interfaces("p/I")
	d.Method(pub, "foo", "()V").Return()
	d.Method(pub, "run", "()V").Return()
	e := classfiletest.NewBuilder("p/E", types.ObjectClass).Interfaces("p/J")
	e.Method(pub, "foo", "()V").Return()
	e.Method(pub, "run", "()V").Return()
	library := []*classfiletest.Builder{object(), runnable()}
	foo := method("p/I", "foo", "()V")

	t.Run("interface method alone keeps no implementation", func(t *testing.T) {
		g, _ := build(t, library, i, j, d, e)
		propagateRoots(t, g, foo)
		assert.True(t, reachable(g, cls("p/I")))
		assert.False(t, reachable(g, method("p/D", "foo", "()V")))
		assert.False(t, reachable(g, cls("p/J")), "no class implementing J is kept")
	})
	t.Run("implementing class completes both pairs", func(t *testing.T) {
		g, _ := build(t, library, i, j, d, e)
		propagateRoots(t, g, foo, cls("p/E"))
		assert.True(t, reachable(g, cls("p/J")))
		assert.True(t, reachable(g, method("p/E", "foo", "()V")))
		assert.False(t, reachable(g, method("p/D", "foo", "()V")))
	})
	t.Run("library superinterface supplies the kept half", func(t *testing.T) {
		g, _ := build(t, library, i, j, d, e)
		assert.Equal(t, types.SuperinterfaceKept, g.ImplicitRoots()[cls("p/I")])
		propagateRoots(t, g, cls("p/D"))
		assert.True(t, reachable(g, cls("p/I")))
		assert.False(t, reachable(g, method("p/D", "foo", "()V")))
	})
}

// TestMultiInheritance tests fake members for interface methods inherited from a superclass.
func TestMultiInheritance(t *testing.T) {
	i := classfiletest.NewBuilder("p/I", types.ObjectClass).Access(iface)
	i.Method(abstract, "run", "()V")
	s := classfiletest.NewBuilder("p/S", types.ObjectClass)
	s.Method(pub, "run", "()V").Return()
	c := classfiletest.NewBuilder("p/C", "p/S").Interfaces("p/I")
	l := classfiletest.NewBuilder("p/L", types.ObjectClass)
	l.Method(pub, "run", "()V").Return()
	lib := classfiletest.NewBuilder("p/Lib", "p/L").Interfaces("p/I")
	library := []*classfiletest.Builder{object(), l}
	fake := method("p/C", types.FakeMemberName("run"), "()V")
	run := method("p/I", "run", "()V")

	tests := []struct {
		name  string
		roots []types.Node
		want  bool
	}{
		{"interface call and class", []types.Node{run, cls("p/C")}, true},
		{"interface call only", []types.Node{run}, false},
		{"class only", []types.Node{cls("p/C")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := build(t, library, i, s, c, lib)
			require.True(t, g.HasNode(fake))
			propagateRoots(t, g, tt.roots...)
			assert.Equal(t, tt.want, reachable(g, method("p/S", "run", "()V")))
			assert.Equal(t, tt.want, reachable(g, fake))
		})
	}

	g, _ := build(t, library, i, s, c, lib)
	assert.False(t, g.HasNode(method("p/Lib", types.FakeMemberName("run"), "()V")))
	propagateRoots(t, g, run, cls("p/C"))
	assert.NotContains(t, keepSet(g, "p/C"), types.FakeMemberName("run")+":()V", "fake members are never written")
}

// TestResolver tests hierarchy search, super calls, library targets and diagnostics.
func TestResolver(t *testing.T) {
	a := classfiletest.NewBuilder("p/A", types.ObjectClass)
	a.Method(pub, "compute", "()V").Return()
	b := classfiletest.NewBuilder("p/B", "p/A")
	b.Method(pub, "compute", "()V").Return()
	b.Method(pub, "callSuper", "()V").InvokeSpecial("p/A", "compute", "()V").Return()
	b.Method(pub, "callInherited", "()V").InvokeVirtual("p/C", "compute", "()V").Return()
	b.Method(pub, "callLibrary", "()V").InvokeVirtual("p/B", "hashCode", "()I").Return()
	b.Method(pub, "typo", "()V").InvokeVirtual("p/A", "comptue", "()V").Return()
	b.Method(pub, "missing", "()V").InvokeStatic("p/Missing", "run", "()V").Return()
	c := classfiletest.NewBuilder("p/C", "p/A")

	g, sink := build(t, []*classfiletest.Builder{object()}, a, b, c)

	assert.Contains(t, g.Dependencies(method("p/B", "callSuper", "()V")),
		types.Dependency{Target: method("p/A", "compute", "()V"), Type: types.RequiredCodeReference})
	assert.NotContains(t, g.Dependencies(method("p/B", "callSuper", "()V")),
		types.Dependency{Target: method("p/B", "compute", "()V"), Type: types.RequiredCodeReference})
	assert.Contains(t, g.Dependencies(method("p/B", "callInherited", "()V")),
		types.Dependency{Target: method("p/A", "compute", "()V"), Type: types.RequiredCodeReference})
	assert.Contains(t, g.Dependencies(method("p/B", "callInherited", "()V")),
		types.Dependency{Target: cls("p/A"), Type: types.RequiredCodeReference})
	for _, dep := range g.Dependencies(method("p/B", "callLibrary", "()V")) {
		assert.False(t, dep.Target.IsMethod(), "library declarations get no member edge")
	}
	assert.Equal(t, []types.Dependency{{Target: cls("p/B"), Type: types.RequiredClassStructure}},
		g.Dependencies(method("p/B", "missing", "()V")), "the edge to the unknown class is dropped")

	var kinds []diagnostics.Kind
	var hint string
	for _, w := range sink.Warnings() {
		kinds = append(kinds, w.Kind)
		if w.Kind == diagnostics.KindUnresolvedMember {
			hint = w.Hint
		}
	}
	assert.Contains(t, kinds, diagnostics.KindUnknownClass)
	assert.Contains(t, kinds, diagnostics.KindUnresolvedMember)
	assert.Contains(t, kinds, diagnostics.KindInvalidEdge)
	assert.Contains(t, hint, "compute")
}

// TestResolver_SuperCallToInheritedMethod tests that invokespecial resolves
// through an intermediate class that does not declare the method.
func TestResolver_SuperCallToInheritedMethod(t *testing.T) {
	a := classfiletest.NewBuilder("p/A", types.ObjectClass)
	a.Method(pub, "compute", "()V").Return()
	b := classfiletest.NewBuilder("p/B", "p/A")
	c := classfiletest.NewBuilder("p/C", "p/B")
	c.Method(pub, "compute", "()V").Return()
	c.Method(pub, "callSuper", "()V").InvokeSpecial("p/B", "compute", "()V").Return()

	g, sink := build(t, []*classfiletest.Builder{object()}, a, b, c)

	deps := g.Dependencies(method("p/C", "callSuper", "()V"))
	assert.Contains(t, deps, types.Dependency{Target: method("p/A", "compute", "()V"), Type: types.RequiredCodeReference})
	assert.Contains(t, deps, types.Dependency{Target: cls("p/A"), Type: types.RequiredCodeReference})
	assert.NotContains(t, deps, types.Dependency{Target: method("p/C", "compute", "()V"), Type: types.RequiredCodeReference})
	for _, w := range sink.Warnings() {
		assert.NotEqual(t, diagnostics.KindUnresolvedMember, w.Kind, w.Message)
	}
}

// TestResolver_Memo tests that repeated references reuse the cached lookup.
func TestResolver_Memo(t *testing.T) {
	a := classfiletest.NewBuilder("p/A", types.ObjectClass)
	a.Method(pub, "m", "()V").Return()
	g, _ := build(t, []*classfiletest.Builder{object()}, a)

	r := NewResolver(g, nil, 2)
	ref := collector.UnresolvedReference{Source: method("p/X", "x", "()V"), Target: method("p/A", "m", "()V")}
	r.Resolve(ref)
	r.Resolve(ref)
	assert.Equal(t, 1, r.memo.Len())
	resolved, dropped := r.Counts()
	assert.Equal(t, int64(2), resolved)
	assert.Zero(t, dropped)
}
