package shrink

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/shrinker/internal/classfile/classfiletest"
	"github.com/standardbeagle/shrinker/internal/diagnostics"
	shrinkerrors "github.com/standardbeagle/shrinker/internal/errors"
	"github.com/standardbeagle/shrinker/internal/graph"
	"github.com/standardbeagle/shrinker/internal/inputs"
	"github.com/standardbeagle/shrinker/internal/storage"
	"github.com/standardbeagle/shrinker/internal/types"
)

func openDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func readOutputs(t *testing.T, dir string) map[string][]byte {
	t.Helper()
	out := make(map[string][]byte)
	require.NoError(t, filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		out[path] = data
		return err
	}))
	return out
}

func warningKinds(sink *diagnostics.Sink) []diagnostics.Kind {
	var kinds []diagnostics.Kind
	for _, w := range sink.Warnings() {
		kinds = append(kinds, w.Kind)
	}
	return kinds
}

// TestFull_KeepsReachableMembers tests the basic shrink of a small program.
func TestFull_KeepsReachableMembers(t *testing.T) {
	p := newProject(t)
	app(p, callsHelp)

	res, err := Full(context.Background(), p.options(nil, shrinkRules(mainRule)))
	require.NoError(t, err)

	assert.Equal(t, map[string][]string{
		"p/Main":    {"main:([Ljava/lang/String;)V"},
		"p/Service": {"<init>:()V", "run:()V"},
		"p/Helper":  {"help:()V"},
	}, p.outputs())
	assert.Equal(t, "full", res.Stats.Mode)
	assert.Equal(t, 3, res.Stats.Written)
	assert.Len(t, res.Written, 3)
	assert.Equal(t, 4, res.Stats.ProgramClasses)
	assert.False(t, res.Graph.IsReachable(cls("p/Unused"), types.Shrink))
	assert.NotEmpty(t, res.Stats.RunID)
}

// TestFull_Idempotent tests that two runs over unchanged input write identical bytes.
func TestFull_Idempotent(t *testing.T) {
	p := newProject(t)
	app(p, callsHelp)

	first, err := Full(context.Background(), p.options(nil, shrinkRules(mainRule)))
	require.NoError(t, err)
	before := readOutputs(t, p.out)

	second, err := Full(context.Background(), p.options(nil, shrinkRules(mainRule)))
	require.NoError(t, err)
	assert.Equal(t, before, readOutputs(t, p.out))
	assert.Equal(t, kept(first.Graph), kept(second.Graph))
}

// TestFull_UnknownReference tests that references to absent classes only warn.
func TestFull_UnknownReference(t *testing.T) {
	p := newProject(t)
	app(p, func(m *classfiletest.MethodBuilder) {
		m.New("p/Missing").InvokeVirtual("p/Missing", "foo", "()V")
		callsHelp(m)
	})
	opts := p.options(nil, shrinkRules(mainRule))

	res, err := Full(context.Background(), opts)
	require.NoError(t, err)
	assert.Contains(t, p.outputs(), "p/Helper", "the rest of the graph still propagates")
	assert.Positive(t, res.Stats.Warnings)

	kinds := warningKinds(opts.Sink)
	assert.Contains(t, kinds, diagnostics.KindUnknownClass)
	assert.Contains(t, kinds, diagnostics.KindInvalidEdge)
	assert.False(t, res.Graph.HasNode(cls("p/Missing")))
}

// TestFull_LibrarySuperclass tests a program class extending a library class.
func TestFull_LibrarySuperclass(t *testing.T) {
	p := newProject(t)
	a := classfiletest.NewBuilder("p/A", types.ObjectClass)
	a.Method(pub, "foo", "()V").Return()
	p.library(a)
	p.program(classfiletest.NewBuilder("p/B", "p/A"))

	res, err := Full(context.Background(), p.options(nil, shrinkRules("-keep class p.B")))
	require.NoError(t, err)

	assert.True(t, res.Graph.IsReachable(cls("p/B"), types.Shrink))
	assert.False(t, res.Graph.IsProgramClass("p/A"))
	outputs := p.outputs()
	assert.Contains(t, outputs, "p/B")
	assert.NotContains(t, outputs, "p/A", "library classes are never rewritten")
}

// TestFull_ExternalPackages tests that external patterns demote program classes to library.
func TestFull_ExternalPackages(t *testing.T) {
	p := newProject(t)
	app(p, callsHelp)
	opts := p.options(nil, shrinkRules(mainRule))
	opts.External = []string{"p/Helper"}

	res, err := Full(context.Background(), opts)
	require.NoError(t, err)
	assert.False(t, res.Graph.IsProgramClass("p/Helper"))
	assert.NotContains(t, p.outputs(), "p/Helper")
	assert.Contains(t, p.outputs(), "p/Service")
}

// TestFull_DuplicateClass tests that a program copy of a library class is ignored.
func TestFull_DuplicateClass(t *testing.T) {
	p := newProject(t)
	app(p, callsHelp)
	helper := classfiletest.NewBuilder("p/Helper", types.ObjectClass)
	helper.Method(pub|types.AccStatic, "help", "()V").Return()
	p.library(helper)
	opts := p.options(nil, shrinkRules(mainRule))

	res, err := Full(context.Background(), opts)
	require.NoError(t, err)
	assert.False(t, res.Graph.IsProgramClass("p/Helper"))
	assert.Equal(t, []diagnostics.Kind{diagnostics.KindDuplicateClass}, warningKinds(opts.Sink))
}

// TestFull_ForeignClasses tests that program inputs without an output are skipped.
func TestFull_ForeignClasses(t *testing.T) {
	p := newProject(t)
	app(p, callsHelp)
	opts := p.options(nil, shrinkRules(mainRule))
	provider, err := inputs.NewProvider([]inputs.Input{
		{Path: p.lib, Kind: inputs.Library},
		{Path: p.classes, Kind: inputs.Program},
	}, nil, nil)
	require.NoError(t, err)
	opts.Inputs = provider

	res, err := Full(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Stats.Skipped)
	assert.Zero(t, res.Stats.Written)
	assert.Empty(t, p.outputs())
}

// TestFull_DiscardsPreviousOutputs tests that a full run removes files of the last run.
func TestFull_DiscardsPreviousOutputs(t *testing.T) {
	p := newProject(t)
	db := openDB(t)
	app(p, callsHelp)
	_, err := Full(context.Background(), p.options(db, shrinkRules(mainRule)))
	require.NoError(t, err)
	require.Contains(t, p.outputs(), "p/Helper")

	app(p, callsNothing)
	_, err = Full(context.Background(), p.options(db, shrinkRules(mainRule)))
	require.NoError(t, err)
	assert.NotContains(t, p.outputs(), "p/Helper")
}

// TestFull_FailedRunInvalidatesState tests that a run failing after the
// previous outputs were discarded cannot leave a state that still lists them.
func TestFull_FailedRunInvalidatesState(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	db := openDB(t)
	app(p, callsHelp)
	_, err := Full(ctx, p.options(db, shrinkRules(mainRule)))
	require.NoError(t, err)

	bad := filepath.Join(p.classes, "p", "Bad.class")
	require.NoError(t, os.WriteFile(bad, []byte{0xCA, 0xFE, 0xBA, 0xBE, 0x00}, 0o644))
	_, err = Run(ctx, p.options(db, shrinkRules(mainRule)))
	require.Error(t, err)

	ok, err := graph.HasState(ctx, db)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, os.Remove(bad))
	res, err := Run(ctx, p.options(db, shrinkRules(mainRule)))
	require.NoError(t, err)
	assert.Equal(t, "full", res.Stats.Mode)
	assert.Equal(t, map[string][]string{
		"p/Main":    {"main:([Ljava/lang/String;)V"},
		"p/Service": {"<init>:()V", "run:()V"},
		"p/Helper":  {"help:()V"},
	}, p.outputs())
}

// TestFull_ClearsOutputsWithoutState tests that without a state database the
// class files already in the output directory are discarded.
func TestFull_ClearsOutputsWithoutState(t *testing.T) {
	p := newProject(t)
	app(p, callsHelp)
	stale := classfiletest.NewBuilder("p/Stale", types.ObjectClass)
	stale.Method(pub, "old", "()V").Return()
	p.write(p.out, stale, "p/Stale")

	_, err := Full(context.Background(), p.options(nil, shrinkRules(mainRule)))
	require.NoError(t, err)
	assert.NotContains(t, p.outputs(), "p/Stale")
	assert.Contains(t, p.outputs(), "p/Main")
}

// TestFull_PersistRoundTrip tests that the saved graph reloads with the same reachable state.
func TestFull_PersistRoundTrip(t *testing.T) {
	p := newProject(t)
	db := openDB(t)
	app(p, callsHelp)
	res, err := Full(context.Background(), p.options(db, shrinkRules(mainRule)))
	require.NoError(t, err)

	loaded, meta, err := graph.LoadState(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, res.Stats.RunID, meta.RunID)
	assert.Equal(t, res.Graph.Stats(), loaded.Stats())
	assert.Equal(t, res.Graph.Roots(types.Shrink), loaded.Roots(types.Shrink))
	assert.Equal(t, kept(res.Graph), kept(loaded))
	assert.Len(t, meta.Outputs, 3)
	assert.Contains(t, meta.Fingerprints, ConfigFingerprintKey)
}

// TestMainDexList tests the legacy multidex counter set.
func TestMainDexList(t *testing.T) {
	p := newProject(t)
	app(p, callsHelp)
	rules := map[types.CounterSet]string{
		types.Shrink:         mainRule,
		types.LegacyMultidex: "-keep class p.Main { *; }",
	}
	res, err := Full(context.Background(), p.options(nil, rules))
	require.NoError(t, err)

	assert.Equal(t, []string{"p/Helper", "p/Main", "p/Service"}, MainDexList(res.Graph))
	assert.Contains(t, res.Stats.ReachableClasses, string(types.LegacyMultidex))
}

// TestFull_RequiresShrinkRules tests configuration validation.
func TestFull_RequiresShrinkRules(t *testing.T) {
	p := newProject(t)
	opts := p.options(nil, nil)
	_, err := Full(context.Background(), opts)
	var cfgErr *shrinkerrors.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}
