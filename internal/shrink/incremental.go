package shrink

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/standardbeagle/shrinker/internal/classfile"
	"github.com/standardbeagle/shrinker/internal/collector"
	"github.com/standardbeagle/shrinker/internal/debug"
	shrinkerrors "github.com/standardbeagle/shrinker/internal/errors"
	"github.com/standardbeagle/shrinker/internal/graph"
	"github.com/standardbeagle/shrinker/internal/inputs"
	"github.com/standardbeagle/shrinker/internal/metrics"
	"github.com/standardbeagle/shrinker/internal/types"
)

// changedClass is a program class whose method bodies changed
type changedClass struct {
	key   string
	file  inputs.ClassFile
	class *classfile.Class
}

// Incremental patches the persisted graph for classes whose method bodies
// changed, re-propagates every counter set and rewrites only the outputs
// whose kept form changed. Any other kind of change returns an
// IncrementalImpossibleError before the graph is touched.
func Incremental(ctx context.Context, opts Options) (*Result, error) {
	if opts.DB == nil {
		return nil, shrinkerrors.NewIncrementalImpossibleError("state", "no state database configured")
	}
	if opts.Inputs == nil {
		return nil, shrinkerrors.NewConfigError("inputs", "", fmt.Errorf("no input provider"))
	}
	ok, err := graph.HasState(ctx, opts.DB)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, shrinkerrors.NewIncrementalImpossibleError("state", "no saved graph")
	}

	g, meta, err := graph.LoadState(ctx, opts.DB)
	if err != nil {
		return nil, err
	}
	r := newRun(&opts, g, "incremental", debug.ComponentIncremental)
	r.outputs = maps.Clone(meta.Outputs)
	if r.outputs == nil {
		r.outputs = make(map[string]string)
	}

	current, changed, err := r.preconditions(ctx, meta)
	if err != nil {
		return nil, err
	}
	r.log.Info("starting incremental run", "changed_classes", len(changed), "previous_run", meta.RunID)

	old := snapshot(g)
	var refs []collector.UnresolvedReference
	err = r.phase(metrics.PhaseScan, func() error {
		refs, err = r.rescan(changed)
		return err
	})
	if err != nil {
		return nil, err
	}
	err = r.phase(metrics.PhasePasses, func() error {
		resolver := NewResolver(g, r.sink, opts.ResolverCacheSize)
		resolver.ResolveAll(refs)
		resolver.Counts()
		g.CheckDependencies(r.sink)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := r.phase(metrics.PhasePropagate, func() error { return r.propagateAll(ctx) }); err != nil {
		return nil, err
	}
	if err := graph.InvalidateState(ctx, opts.DB, slices.Collect(maps.Values(r.outputs))); err != nil {
		return nil, err
	}
	if err := r.phase(metrics.PhaseRewrite, func() error { return r.applyDiff(ctx, old, changed) }); err != nil {
		r.abandon(ctx)
		return nil, err
	}
	if err := r.phase(metrics.PhasePersist, func() error { return r.persist(ctx, current) }); err != nil {
		r.abandon(ctx)
		return nil, err
	}
	return r.finish(), nil
}

// preconditions checks that only program class files changed and that each
// changed class differs only inside method bodies
func (r *run) preconditions(ctx context.Context, meta graph.Meta) (inputs.Fingerprints, []changedClass, error) {
	if meta.Fingerprints[ConfigFingerprintKey] != r.opts.ConfigFingerprint {
		return nil, nil, shrinkerrors.NewIncrementalImpossibleError("config", "keep rules or settings changed")
	}
	previous := maps.Clone(meta.Fingerprints)
	delete(previous, ConfigFingerprintKey)

	current, err := r.opts.Inputs.Fingerprints(ctx)
	if err != nil {
		return nil, nil, err
	}

	var changed []changedClass
	for _, ch := range inputs.Compare(previous, current) {
		if ch.IsArchive() {
			return nil, nil, shrinkerrors.NewIncrementalImpossibleError(ch.Key, "archive %s", ch.Status)
		}
		if ch.Status != inputs.Changed {
			return nil, nil, shrinkerrors.NewIncrementalImpossibleError(ch.Key, "class file %s", ch.Status)
		}
		cf, err := r.opts.Inputs.Read(ctx, ch.Key)
		if err != nil {
			return nil, nil, err
		}
		if cf.Input.Kind != inputs.Program {
			return nil, nil, shrinkerrors.NewIncrementalImpossibleError(ch.Key, "library class changed")
		}
		c, err := classfile.Parse(cf.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", ch.Key, err)
		}
		info, ok := r.g.ClassInfo(c.Header.Name)
		if !ok || info.Source != ch.Key {
			return nil, nil, shrinkerrors.NewIncrementalImpossibleError(ch.Key, "class %s is not a program class of this input", c.Header.Name)
		}
		if err := collector.CheckUnchanged(r.g, c); err != nil {
			return nil, nil, err
		}
		changed = append(changed, changedClass{key: ch.Key, file: cf, class: c})
	}
	return current, changed, nil
}

// rescan replaces the code edges of every changed class
func (r *run) rescan(changed []changedClass) ([]collector.UnresolvedReference, error) {
	var refs []collector.UnresolvedReference
	for _, ch := range changed {
		name := ch.class.Header.Name
		removed := r.g.RemoveCodeDependencies(types.ClassNode(name))
		for _, m := range r.g.Members(name) {
			removed += r.g.RemoveCodeDependencies(m.Node)
		}
		res, err := collector.CollectClass(r.g, ch.class, collector.Options{Mode: collector.ModeCodeOnly, Source: ch.key})
		if err != nil {
			return nil, err
		}
		refs = append(refs, res.Unresolved...)
		r.log.Debug("rescanned class", "class", name, "removed_edges", removed, "references", len(res.Unresolved))
	}
	return refs, nil
}

// propagateAll re-propagates every persisted counter set from its roots
func (r *run) propagateAll(ctx context.Context) error {
	r.sets = r.g.CounterSets()
	if !slices.Contains(r.sets, types.Shrink) {
		r.sets = append(r.sets, types.Shrink)
	}
	for _, cs := range r.sets {
		if err := SetCounters(ctx, r.g, cs, r.opts.workers()); err != nil {
			return err
		}
	}
	return nil
}

// snapshot renders the kept form of every reachable program class: its
// reachable members and the interfaces that stay in its header
func snapshot(g graph.Reader) map[string]string {
	out := make(map[string]string)
	for _, class := range g.ReachableClasses(types.Shrink) {
		info, ok := g.ClassInfo(class)
		if !ok || !info.IsProgram() {
			continue
		}
		var b strings.Builder
		for _, m := range g.ReachableMembers(class, types.Shrink) {
			if !types.IsFakeMember(m) {
				b.WriteString(m.Signature())
				b.WriteByte('\n')
			}
		}
		for _, itf := range info.Interfaces {
			if !g.IsProgramClass(itf) || g.IsReachable(types.ClassNode(itf), types.Shrink) {
				b.WriteString("implements " + itf + "\n")
			}
		}
		out[class] = b.String()
	}
	return out
}

// applyDiff rewrites classes whose kept form or bytes changed and deletes the
// outputs of classes that are no longer reachable
func (r *run) applyDiff(ctx context.Context, old map[string]string, changed []changedClass) error {
	current := snapshot(r.g)
	bodyChanged := make(map[string]bool, len(changed))
	for _, ch := range changed {
		bodyChanged[ch.class.Header.Name] = true
	}

	for _, class := range slices.Sorted(maps.Keys(old)) {
		if _, still := current[class]; still {
			continue
		}
		path, ok := r.outputs[class]
		if !ok {
			continue
		}
		if err := inputs.RemoveFile(path); err != nil {
			return err
		}
		delete(r.outputs, class)
		r.deleted = append(r.deleted, path)
	}

	var rewrite []string
	for _, class := range slices.Sorted(maps.Keys(current)) {
		if prev, ok := old[class]; !ok || prev != current[class] || bodyChanged[class] {
			rewrite = append(rewrite, class)
		}
	}
	return each(ctx, r.opts.workers(), rewrite, func(ctx context.Context, class string) error {
		info, _ := r.g.ClassInfo(class)
		cf, err := r.opts.Inputs.Read(ctx, info.Source)
		if err != nil {
			return err
		}
		return r.rewrite(cf)
	})
}
