package shrink

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/shrinker/internal/classfile"
	"github.com/standardbeagle/shrinker/internal/classfile/classfiletest"
	"github.com/standardbeagle/shrinker/internal/diagnostics"
	"github.com/standardbeagle/shrinker/internal/graph"
	"github.com/standardbeagle/shrinker/internal/inputs"
	"github.com/standardbeagle/shrinker/internal/keeprules"
	"github.com/standardbeagle/shrinker/internal/storage"
	"github.com/standardbeagle/shrinker/internal/types"
)

const mainRule = "-keep class p.Main { public static void main(java.lang.String[]); }"

// project is an on-disk program with a library directory and an output directory
type project struct {
	t       *testing.T
	lib     string
	classes string
	out     string
}

func newProject(t *testing.T) *project {
	t.Helper()
	root := t.TempDir()
	p := &project{
		t:       t,
		lib:     filepath.Join(root, "lib"),
		classes: filepath.Join(root, "classes"),
		out:     filepath.Join(root, "out"),
	}
	for _, dir := range []string{p.lib, p.classes} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}
	p.library(object())
	return p
}

func (p *project) write(dir string, b *classfiletest.Builder, name string) {
	p.t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name)+".class")
	require.NoError(p.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(p.t, os.WriteFile(path, b.Bytes(), 0o644))
}

func (p *project) library(b *classfiletest.Builder) {
	p.write(p.lib, b, b.Name())
}

func (p *project) program(b *classfiletest.Builder) {
	p.write(p.classes, b, b.Name())
}

func (p *project) remove(name string) {
	require.NoError(p.t, os.Remove(filepath.Join(p.classes, filepath.FromSlash(name)+".class")))
}

func (p *project) options(db *storage.DB, rules map[types.CounterSet]string) Options {
	p.t.Helper()
	provider, err := inputs.NewProvider([]inputs.Input{
		{Path: p.lib, Kind: inputs.Library},
		{Path: p.classes, Output: p.out, Kind: inputs.Program},
	}, nil, nil)
	require.NoError(p.t, err)

	opts := Options{
		Inputs:  provider,
		Rules:   make(map[types.CounterSet]KeepRules),
		Workers: 4,
		DB:      db,
		Sink:    diagnostics.NewSink(nil),
	}
	fingerprint := ""
	for cs, src := range rules {
		r, err := keeprules.Parse(string(cs)+".pro", src)
		require.NoError(p.t, err)
		opts.Rules[cs] = r
		fingerprint += string(cs) + "=" + r.Fingerprint() + ";"
	}
	opts.ConfigFingerprint = fingerprint
	return opts
}

func shrinkRules(src string) map[types.CounterSet]string {
	return map[types.CounterSet]string{types.Shrink: src}
}

// outputs maps each written class to its member signatures
func (p *project) outputs() map[string][]string {
	p.t.Helper()
	out := make(map[string][]string)
	if _, err := os.Stat(p.out); os.IsNotExist(err) {
		return out
	}
	require.NoError(p.t, filepath.WalkDir(p.out, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		c, err := classfile.Parse(data)
		if err != nil {
			return err
		}
		out[c.Header.Name] = c.MemberSignatures()
		return nil
	}))
	return out
}

// kept maps each reachable program class to its sorted reachable member signatures
func kept(g graph.Reader) map[string][]string {
	out := make(map[string][]string)
	for _, c := range g.ReachableClasses(types.Shrink) {
		if !g.IsProgramClass(c) {
			continue
		}
		sigs := []string{}
		for sig := range keepSet(g, c) {
			sigs = append(sigs, sig)
		}
		sort.Strings(sigs)
		out[c] = sigs
	}
	return out
}

// app builds a small program: Main calls Service.run, which calls Helper.help
func app(p *project, serviceBody func(*classfiletest.MethodBuilder)) {
	main := classfiletest.NewBuilder("p/Main", types.ObjectClass)
	main.Method(pub, "<init>", "()V").InvokeSpecial(types.ObjectClass, "<init>", "()V").Return()
	main.Method(pub|types.AccStatic, "main", "([Ljava/lang/String;)V").
		New("p/Service").
		InvokeSpecial("p/Service", "<init>", "()V").
		InvokeVirtual("p/Service", "run", "()V").
		Return()
	p.program(main)

	service := classfiletest.NewBuilder("p/Service", types.ObjectClass)
	service.Method(pub, "<init>", "()V").InvokeSpecial(types.ObjectClass, "<init>", "()V").Return()
	run := service.Method(pub, "run", "()V")
	serviceBody(run)
	run.Return()
	service.Method(pub, "unused", "()V").Return()
	p.program(service)

	helper := classfiletest.NewBuilder("p/Helper", types.ObjectClass)
	helper.Field(types.AccPrivate|types.AccStatic, "counter", "I")
	helper.Method(pub|types.AccStatic, "help", "()V").Return()
	helper.Method(pub|types.AccStatic, "dead", "()V").Return()
	p.program(helper)

	unused := classfiletest.NewBuilder("p/Unused", types.ObjectClass)
	unused.Method(pub, "never", "()V").Return()
	p.program(unused)
}

func callsHelp(m *classfiletest.MethodBuilder) {
	m.InvokeStatic("p/Helper", "help", "()V")
}

func callsDead(m *classfiletest.MethodBuilder) {
	m.InvokeStatic("p/Helper", "dead", "()V")
}

func callsNothing(*classfiletest.MethodBuilder) {}
