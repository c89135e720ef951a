package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/shrinker/internal/classfile"
	"github.com/standardbeagle/shrinker/internal/classfile/classfiletest"
	shrinkerrors "github.com/standardbeagle/shrinker/internal/errors"
	"github.com/standardbeagle/shrinker/internal/graph"
	"github.com/standardbeagle/shrinker/internal/types"
)

func edge(target types.Node, t types.DependencyType) types.Dependency {
	return types.Dependency{Target: target, Type: t}
}

func program(t *testing.T, g graph.Graph, b *classfiletest.Builder) *Result {
	t.Helper()
	res, err := Collect(g, b.Bytes(), Options{Mode: ModeProgram, Source: "app"})
	require.NoError(t, err)
	return res
}

// serviceClass builds a class touching every kind of reference the collector records.
func serviceClass() *classfiletest.Builder {
	b := classfiletest.NewBuilder("p/Service", "p/Base").
		Interfaces("p/Runner").
		Signature("Lp/Base;Lp/Runner;Ljava/lang/Comparable<Lp/Key;>;")
	b.Annotate(classfile.Annotation{Type: "Lp/Component;", Visible: true})
	b.Field(types.AccPrivate, "repo", "Lp/Repo;").
		Annotate(classfile.Annotation{Type: "Lp/Inject;", Visible: true})
	b.Method(types.AccPublic, "<init>", "()V").
		InvokeSpecial("p/Base", "<init>", "()V").
		Return()
	b.Method(types.AccPublic, "run", "(Lp/Request;)Lp/Response;").
		Throws("p/ServiceException").
		GetField("p/Service", "repo", "Lp/Repo;").
		InvokeVirtual("p/Repo", "find", "()Lp/Entity;").
		InvokeSpecial("p/Service", "helper", "()V").
		InvokeSpecial("p/Base", "run", "(Lp/Request;)Lp/Response;").
		New("p/Response").
		CheckCast("[Lp/Entity;").
		LdcClass("p/Marker").
		InvokeVirtual("[Lp/Entity;", "clone", "()Ljava/lang/Object;").
		Catch("p/RetryException").
		Return()
	b.Method(types.AccPrivate, "helper", "()V").Return()
	b.Method(types.AccStatic, "<clinit>", "()V").
		InvokeStatic("p/Registry", "register", "()V").
		Return()
	b.Method(types.AccPublic|types.AccStatic, "create", "()Lp/Service;").Return()
	return b
}

// TestCollect_ProgramClass tests nodes, edge types and follow-up work for a program class.
func TestCollect_ProgramClass(t *testing.T) {
	g := graph.NewMemoryGraph()
	res := program(t, g, serviceClass())

	info, ok := g.ClassInfo("p/Service")
	require.True(t, ok)
	assert.Equal(t, "app", info.Source)
	assert.Equal(t, "p/Base", info.Superclass)
	assert.Equal(t, []string{"p/Runner"}, info.Interfaces)
	assert.Equal(t, []string{"Lp/Component;"}, info.Annotations)
	assert.NotZero(t, info.Fingerprint)

	class := types.ClassNode("p/Service")
	classDeps := g.Dependencies(class)
	assert.Contains(t, classDeps, edge(types.ClassNode("p/Base"), types.RequiredClassStructure))
	assert.Contains(t, classDeps, edge(types.ClassNode("p/Component"), types.RequiredClassStructure))
	assert.Contains(t, classDeps, edge(types.ClassNode("p/Key"), types.RequiredClassStructure))
	assert.Contains(t, classDeps, edge(types.MemberNode("p/Service", "<clinit>", "()V"), types.RequiredClassStructure))
	assert.NotContains(t, classDeps, edge(types.ClassNode("p/Runner"), types.RequiredClassStructure))
	for _, d := range classDeps {
		assert.NotEqual(t, types.ObjectClass, d.Target.Class, "edges to java/lang/Object are skipped")
	}

	repo := types.MemberNode("p/Service", "repo", "Lp/Repo;")
	assert.ElementsMatch(t, []types.Dependency{
		edge(class, types.RequiredClassStructure),
		edge(types.ClassNode("p/Inject"), types.RequiredClassStructure),
		edge(types.ClassNode("p/Repo"), types.RequiredClassStructure),
	}, g.Dependencies(repo))

	run := types.MemberNode("p/Service", "run", "(Lp/Request;)Lp/Response;")
	runDeps := g.Dependencies(run)
	for _, want := range []types.Dependency{
		edge(class, types.RequiredClassStructure),
		edge(types.ClassNode("p/Request"), types.RequiredClassStructure),
		edge(types.ClassNode("p/Response"), types.RequiredClassStructure),
		edge(types.ClassNode("p/ServiceException"), types.RequiredClassStructure),
		edge(types.ClassNode("p/Repo"), types.RequiredCodeReference),
		edge(types.ClassNode("p/Response"), types.RequiredCodeReference),
		edge(types.ClassNode("p/Entity"), types.RequiredCodeReference),
		edge(types.ClassNode("p/Marker"), types.RequiredCodeReference),
		edge(types.ClassNode("p/RetryException"), types.RequiredCodeReference),
		edge(types.MemberNode("p/Service", "helper", "()V"), types.RequiredCodeReference),
	} {
		assert.Contains(t, runDeps, want)
	}
	assert.NotContains(t, runDeps, edge(types.MemberNode("p/Repo", "find", "()Lp/Entity;"), types.RequiredCodeReference),
		"virtual calls are resolved later")

	assert.True(t, res.MultiInheritance)
	assert.ElementsMatch(t, []types.Node{run, types.MemberNode("p/Service", "helper", "()V")}, res.VirtualMethods)

	var unresolved []string
	for _, u := range res.Unresolved {
		unresolved = append(unresolved, u.Target.String())
	}
	assert.ElementsMatch(t, []string{
		"p/Service.repo:Lp/Repo;",
		"p/Repo.find:()Lp/Entity;",
		"p/Base.run:(Lp/Request;)Lp/Response;",
		"p/Registry.register:()V",
	}, unresolved)
	for _, u := range res.Unresolved {
		assert.Equal(t, u.Target.Class == "p/Base", u.Special, u.Target.String())
	}

	init := types.MemberNode("p/Service", "<init>", "()V")
	assert.Contains(t, g.Dependencies(init), edge(types.MemberNode("p/Base", "<init>", "()V"), types.RequiredCodeReference))
}

// TestCollect_LibraryClass tests that library classes get nodes but no edges.
func TestCollect_LibraryClass(t *testing.T) {
	g := graph.NewMemoryGraph()
	res, err := Collect(g, serviceClass().Bytes(), Options{Mode: ModeLibrary, Source: "ignored"})
	require.NoError(t, err)

	info, ok := g.ClassInfo("p/Service")
	require.True(t, ok)
	assert.False(t, info.IsProgram())
	assert.Len(t, g.Members("p/Service"), 6)
	assert.Zero(t, g.Stats().Edges)
	assert.Empty(t, res.Unresolved)
	assert.Empty(t, res.VirtualMethods)
}

// TestCollect_AnnotationType tests that annotation members are always retained.
func TestCollect_AnnotationType(t *testing.T) {
	g := graph.NewMemoryGraph()
	b := classfiletest.NewBuilder("p/Level", types.ObjectClass).
		Access(types.AccPublic | types.AccInterface | types.AccAbstract | types.AccAnnotation).
		Interfaces("java/lang/annotation/Annotation")
	b.Method(types.AccPublic|types.AccAbstract, "value", "()Lp/Kind;").
		Default(classfile.ElementValue{Tag: 'e', EnumType: "Lp/Kind;", EnumName: "FAST"})
	b.Method(types.AccPublic|types.AccAbstract, "other", "()Ljava/lang/Class;").
		Default(classfile.ElementValue{Tag: 'c', ClassDesc: "Lp/Default;"})
	program(t, g, b)

	class := types.ClassNode("p/Level")
	value := types.MemberNode("p/Level", "value", "()Lp/Kind;")
	other := types.MemberNode("p/Level", "other", "()Ljava/lang/Class;")
	deps := g.Dependencies(class)
	assert.Contains(t, deps, edge(value, types.RequiredClassStructure))
	assert.Contains(t, deps, edge(other, types.RequiredClassStructure))
	assert.Contains(t, g.Dependencies(other), edge(types.ClassNode("p/Default"), types.RequiredClassStructure))
}

// TestCollect_InnerClass tests the inner-to-outer structure edge.
func TestCollect_InnerClass(t *testing.T) {
	g := graph.NewMemoryGraph()
	b := classfiletest.NewBuilder("p/Outer$Inner", types.ObjectClass)
	b.InnerClass(classfile.InnerClass{Inner: "p/Outer$Inner", Outer: "p/Outer", Name: "Inner"})
	b.InnerClass(classfile.InnerClass{Inner: "p/Outer$Inner$Deeper", Outer: "p/Outer$Inner", Name: "Deeper"})
	program(t, g, b)

	assert.Equal(t, []types.Dependency{edge(types.ClassNode("p/Outer"), types.RequiredClassStructure)},
		g.Dependencies(types.ClassNode("p/Outer$Inner")))
}

// TestCollect_InvokeDynamic tests bootstrap handle and argument references.
func TestCollect_InvokeDynamic(t *testing.T) {
	g := graph.NewMemoryGraph()
	bsm := classfile.Handle{Kind: classfile.RefInvokeStatic, MemberRef: classfile.MemberRef{
		Owner: "java/lang/invoke/LambdaMetafactory", Name: "metafactory", Desc: "()Ljava/lang/invoke/CallSite;",
	}}
	impl := classfile.Handle{Kind: classfile.RefInvokeStatic, MemberRef: classfile.MemberRef{
		Owner: "p/Lambdas", Name: "lambda$run$0", Desc: "(Lp/Event;)V",
	}}
	ctor := classfile.Handle{Kind: classfile.RefNewInvokeSpecial, MemberRef: classfile.MemberRef{
		Owner: "p/Event", Name: "<init>", Desc: "()V",
	}}

	b := classfiletest.NewBuilder("p/Lambdas", types.ObjectClass)
	b.Method(types.AccPublic, "run", "()V").
		InvokeDynamic("accept", "()Lp/Listener;", bsm,
			classfile.Constant{Tag: classfile.TagMethodType, Desc: "(Ljava/lang/Object;)V"},
			classfile.Constant{Tag: classfile.TagMethodHandle, Handle: &impl},
			classfile.Constant{Tag: classfile.TagMethodHandle, Handle: &ctor}).
		Return()
	b.Method(types.AccPrivate|types.AccStatic|types.AccSynthetic, "lambda$run$0", "(Lp/Event;)V").Return()
	res := program(t, g, b)

	run := types.MemberNode("p/Lambdas", "run", "()V")
	deps := g.Dependencies(run)
	assert.Contains(t, deps, edge(types.ClassNode("p/Listener"), types.RequiredCodeReference))
	assert.Contains(t, deps, edge(types.ClassNode("java/lang/invoke/LambdaMetafactory"), types.RequiredCodeReference))
	assert.Contains(t, deps, edge(types.ClassNode("p/Event"), types.RequiredCodeReference))
	assert.Contains(t, deps, edge(types.MemberNode("p/Event", "<init>", "()V"), types.RequiredCodeReference))

	var targets []string
	for _, u := range res.Unresolved {
		targets = append(targets, u.Target.String())
	}
	assert.ElementsMatch(t, []string{
		"java/lang/invoke/LambdaMetafactory.metafactory:()Ljava/lang/invoke/CallSite;",
		"p/Lambdas.lambda$run$0:(Lp/Event;)V",
	}, targets)
}

// TestCollect_CodeOnly tests the incremental re-scan of a changed method body.
func TestCollect_CodeOnly(t *testing.T) {
	g := graph.NewMemoryGraph()
	program(t, g, serviceClass())
	stats := g.Stats()

	b := classfiletest.NewBuilder("p/Service", "p/Base").
		Interfaces("p/Runner").
		Signature("Lp/Base;Lp/Runner;Ljava/lang/Comparable<Lp/Key;>;")
	b.Annotate(classfile.Annotation{Type: "Lp/Component;", Visible: true})
	b.Field(types.AccPrivate, "repo", "Lp/Repo;").
		Annotate(classfile.Annotation{Type: "Lp/Inject;", Visible: true})
	b.Method(types.AccPublic, "<init>", "()V").
		InvokeSpecial("p/Base", "<init>", "()V").
		Return()
	b.Method(types.AccPublic, "run", "(Lp/Request;)Lp/Response;").
		Throws("p/ServiceException").
		InvokeStatic("p/Audit", "log", "()V").
		Return()
	b.Method(types.AccPrivate, "helper", "()V").Return()
	b.Method(types.AccStatic, "<clinit>", "()V").
		InvokeStatic("p/Registry", "register", "()V").
		Return()
	b.Method(types.AccPublic|types.AccStatic, "create", "()Lp/Service;").Return()

	run := types.MemberNode("p/Service", "run", "(Lp/Request;)Lp/Response;")
	g.RemoveCodeDependencies(run)

	res, err := Collect(g, b.Bytes(), Options{Mode: ModeCodeOnly})
	require.NoError(t, err)

	deps := g.Dependencies(run)
	assert.Contains(t, deps, edge(types.ClassNode("p/Audit"), types.RequiredCodeReference))
	assert.NotContains(t, deps, edge(types.ClassNode("p/Repo"), types.RequiredCodeReference))
	assert.Contains(t, deps, edge(types.ClassNode("p/ServiceException"), types.RequiredClassStructure))
	assert.Equal(t, stats.Members, g.Stats().Members)
	assert.Empty(t, res.VirtualMethods)
	assert.False(t, res.MultiInheritance)

	info, _ := g.ClassInfo("p/Service")
	assert.Equal(t, "app", info.Source, "code-only rescans keep the class record")
}

// TestCollect_CodeOnlyRejectsStructuralChanges tests the per-member second line of defense.
func TestCollect_CodeOnlyRejectsStructuralChanges(t *testing.T) {
	base := func() *classfiletest.Builder {
		b := classfiletest.NewBuilder("p/A", types.ObjectClass)
		b.Field(types.AccPrivate, "x", "I")
		b.Method(types.AccPublic, "run", "()V").Signature("()V").Return()
		return b
	}

	tests := []struct {
		name   string
		change func() *classfiletest.Builder
	}{
		{"added field", func() *classfiletest.Builder {
			b := base()
			b.Field(types.AccPrivate, "y", "I")
			return b
		}},
		{"changed modifiers", func() *classfiletest.Builder {
			b := classfiletest.NewBuilder("p/A", types.ObjectClass)
			b.Field(types.AccPublic, "x", "I")
			b.Method(types.AccPublic, "run", "()V").Signature("()V").Return()
			return b
		}},
		{"changed superclass", func() *classfiletest.Builder {
			b := classfiletest.NewBuilder("p/A", "p/Base")
			b.Field(types.AccPrivate, "x", "I")
			b.Method(types.AccPublic, "run", "()V").Signature("()V").Return()
			return b
		}},
		{"added annotation", func() *classfiletest.Builder {
			b := base()
			b.Annotate(classfile.Annotation{Type: "Lp/Keep;"})
			return b
		}},
		{"changed throws clause", func() *classfiletest.Builder {
			b := classfiletest.NewBuilder("p/A", types.ObjectClass)
			b.Field(types.AccPrivate, "x", "I")
			b.Method(types.AccPublic, "run", "()V").Signature("()V").Throws("p/Oops").Return()
			return b
		}},
		{"changed generic signature", func() *classfiletest.Builder {
			b := classfiletest.NewBuilder("p/A", types.ObjectClass).Signature("<T:Lp/Bound;>Ljava/lang/Object;")
			b.Field(types.AccPrivate, "x", "I")
			b.Method(types.AccPublic, "run", "()V").Signature("()V").Return()
			return b
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := graph.NewMemoryGraph()
			program(t, g, base())

			_, err := Collect(g, tt.change().Bytes(), Options{Mode: ModeCodeOnly})
			require.Error(t, err)
			assert.True(t, shrinkerrors.IsIncrementalImpossible(err), err.Error())
		})
	}
}

// TestCheckUnchanged tests the class-level incremental preconditions.
func TestCheckUnchanged(t *testing.T) {
	g := graph.NewMemoryGraph()
	b := classfiletest.NewBuilder("p/A", types.ObjectClass)
	b.Field(types.AccPrivate, "x", "I")
	b.Method(types.AccPublic, "run", "()V").Return()
	program(t, g, b)
	g.AddMember(graph.MemberInfo{Node: types.MemberNode("p/A", types.FakeMemberName("call"), "()V")})

	same := classfiletest.NewBuilder("p/A", types.ObjectClass)
	same.Field(types.AccPrivate, "x", "I")
	same.Method(types.AccPublic, "run", "()V").InvokeStatic("p/Other", "go", "()V").Return()
	c, err := classfile.Parse(same.Bytes())
	require.NoError(t, err)
	assert.NoError(t, CheckUnchanged(g, c), "body changes and fake members are allowed")

	removed := classfiletest.NewBuilder("p/A", types.ObjectClass)
	removed.Method(types.AccPublic, "run", "()V").Return()
	c, err = classfile.Parse(removed.Bytes())
	require.NoError(t, err)
	err = CheckUnchanged(g, c)
	require.Error(t, err)
	assert.True(t, shrinkerrors.IsIncrementalImpossible(err))
	assert.Contains(t, err.Error(), "member was removed")

	unknown, err := classfile.Parse(classfiletest.NewBuilder("p/New", types.ObjectClass).Bytes())
	require.NoError(t, err)
	assert.True(t, shrinkerrors.IsIncrementalImpossible(CheckUnchanged(g, unknown)))
}
