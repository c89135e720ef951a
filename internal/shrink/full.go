package shrink

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/standardbeagle/shrinker/internal/classfile"
	"github.com/standardbeagle/shrinker/internal/collector"
	"github.com/standardbeagle/shrinker/internal/debug"
	"github.com/standardbeagle/shrinker/internal/diagnostics"
	shrinkerrors "github.com/standardbeagle/shrinker/internal/errors"
	"github.com/standardbeagle/shrinker/internal/graph"
	"github.com/standardbeagle/shrinker/internal/inputs"
	"github.com/standardbeagle/shrinker/internal/metrics"
	"github.com/standardbeagle/shrinker/internal/types"
)

// run holds the state shared by the phases of one shrink run
type run struct {
	opts  *Options
	g     *graph.MemoryGraph
	sink  *diagnostics.Sink
	log   *slog.Logger
	stats *metrics.RunStats
	start time.Time
	sets  []types.CounterSet

	mu      sync.Mutex
	work    []*collector.Result
	outputs map[string]string // class -> output path
	written []string
	deleted []string
}

func newRun(opts *Options, g *graph.MemoryGraph, mode, component string) *run {
	stats := metrics.NewRunStats(mode)
	stats.RunID = graph.NewRunID()
	return &run{
		opts:    opts,
		g:       g,
		sink:    opts.sink(),
		log:     debug.Logger(component).With("run_id", stats.RunID),
		stats:   stats,
		start:   time.Now(),
		outputs: make(map[string]string),
	}
}

// phase runs fn and records its duration
func (r *run) phase(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	r.opts.Metrics.ObservePhase(name, start)
	if err != nil {
		return fmt.Errorf("%s phase: %w", name, err)
	}
	r.log.Debug("phase done", "phase", name, "elapsed", time.Since(start))
	return nil
}

// Full rebuilds the graph from every input, propagates all counter sets,
// rewrites the reachable program classes and persists the graph
func Full(ctx context.Context, opts Options) (*Result, error) {
	if opts.Inputs == nil {
		return nil, shrinkerrors.NewConfigError("inputs", "", fmt.Errorf("no input provider"))
	}
	if opts.Rules[types.Shrink] == nil {
		return nil, shrinkerrors.NewConfigError("keep_rules", string(types.Shrink), fmt.Errorf("no keep rules for the shrink counter set"))
	}
	r := newRun(&opts, graph.NewMemoryGraph(), "full", debug.ComponentFull)
	r.log.Info("starting full run", "workers", opts.workers())

	var fingerprints inputs.Fingerprints
	if opts.DB != nil {
		var err error
		if fingerprints, err = opts.Inputs.Fingerprints(ctx); err != nil {
			return nil, err
		}
	}
	if err := r.discardPreviousOutputs(ctx); err != nil {
		return nil, err
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{metrics.PhaseScan, func() error { return r.scan(ctx) }},
		{metrics.PhasePasses, func() error { return r.passes(ctx) }},
		{metrics.PhaseRoots, func() error { return r.roots(ctx) }},
		{metrics.PhasePropagate, func() error { return r.propagate(ctx) }},
		{metrics.PhaseRewrite, func() error { return r.rewriteAll(ctx) }},
	}
	for _, s := range steps {
		if err := r.phase(s.name, s.fn); err != nil {
			r.abandon(ctx)
			return nil, err
		}
	}
	if err := r.phase(metrics.PhasePersist, func() error { return r.persist(ctx, fingerprints) }); err != nil {
		r.abandon(ctx)
		return nil, err
	}
	return r.finish(), nil
}

// discardPreviousOutputs removes every file the last persisted run wrote.
// The saved state is invalidated first, so a run that fails from here on
// leaves no state claiming outputs that are gone. Without a state database
// the class files under every output directory are removed instead.
func (r *run) discardPreviousOutputs(ctx context.Context) error {
	if r.opts.DB == nil {
		n, err := r.opts.Inputs.ClearOutputs(ctx)
		if err != nil {
			return err
		}
		r.log.Debug("cleared output directories", "count", n)
		return nil
	}

	ok, err := graph.HasState(ctx, r.opts.DB)
	if err != nil {
		return err
	}
	var previous []string
	if ok {
		meta, err := graph.LoadMeta(ctx, r.opts.DB)
		if err != nil {
			return err
		}
		previous = slices.Collect(maps.Values(meta.Outputs))
	}
	if err := graph.InvalidateState(ctx, r.opts.DB, previous); err != nil {
		return err
	}
	pending, err := graph.PendingOutputs(ctx, r.opts.DB)
	if err != nil {
		return err
	}
	for _, path := range pending {
		if err := inputs.RemoveFile(path); err != nil {
			return err
		}
	}
	r.log.Debug("discarded previous outputs", "count", len(pending))
	return nil
}

// abandon records the outputs a failed run already wrote, so the next full
// run removes them even when the failure was a cancellation
func (r *run) abandon(ctx context.Context) {
	if r.opts.DB == nil {
		return
	}
	r.mu.Lock()
	written := slices.Collect(maps.Values(r.outputs))
	r.mu.Unlock()
	if err := graph.InvalidateState(context.WithoutCancel(ctx), r.opts.DB, written); err != nil {
		r.log.Warn("failed to record outputs of the failed run", "error", err)
	}
}

// scan collects library classes, then program classes, behind a barrier
func (r *run) scan(ctx context.Context) error {
	seen := make(map[string]string)
	for _, kind := range []inputs.Kind{inputs.Library, inputs.Program} {
		p := NewPool(ctx, r.opts.workers())
		scanned := 0
		for _, in := range r.opts.Inputs.Inputs(kind) {
			err := r.opts.Inputs.Walk(ctx, in, func(cf inputs.ClassFile) error {
				if prev, dup := seen[cf.Name]; dup {
					r.sink.Warn(diagnostics.Warning{
						Kind:    diagnostics.KindDuplicateClass,
						Source:  cf.Key(),
						Target:  cf.Name,
						Message: "duplicate class ignored; first definition in " + prev,
					})
					return nil
				}
				seen[cf.Name] = cf.Key()
				scanned++
				p.Submit(func(context.Context) error {
					return r.collect(cf, kind)
				})
				return nil
			})
			if err != nil {
				_ = p.Wait()
				return err
			}
		}
		if err := p.Wait(); err != nil {
			return err
		}
		r.opts.Metrics.AddScanned(kind.String(), scanned)
		r.log.Debug("scanned inputs", "kind", kind, "classes", scanned)
	}
	return nil
}

func (r *run) collect(cf inputs.ClassFile, kind inputs.Kind) error {
	mode := collector.ModeProgram
	if kind == inputs.Library || r.opts.isExternal(cf.Name) {
		mode = collector.ModeLibrary
	}
	res, err := collector.Collect(r.g, cf.Data, collector.Options{Mode: mode, Source: cf.Key()})
	if err != nil {
		return fmt.Errorf("%s: %w", cf.Key(), err)
	}
	if mode == collector.ModeProgram {
		r.mu.Lock()
		r.work = append(r.work, res)
		r.mu.Unlock()
	}
	return nil
}

// passes runs the hierarchy passes and reference resolution, then drops
// edges with unknown endpoints
func (r *run) passes(ctx context.Context) error {
	resolver := NewResolver(r.g, r.sink, r.opts.ResolverCacheSize)
	passes := NewPasses(r.g, r.sink, resolver)
	err := each(ctx, r.opts.workers(), r.work, func(_ context.Context, w *collector.Result) error {
		passes.Run(w)
		return nil
	})
	if err != nil {
		return err
	}
	resolver.Counts()
	if removed := r.g.CheckDependencies(r.sink); removed > 0 {
		r.log.Info("dropped edges to unknown nodes", "count", removed)
	}
	return nil
}

// roots asks the keep rules of every counter set about every program class
func (r *run) roots(ctx context.Context) error {
	var program []string
	for _, c := range r.g.Classes() {
		if r.g.IsProgramClass(c) {
			program = append(program, c)
		}
	}
	for _, cs := range r.opts.counterSets() {
		rules := r.opts.Rules[cs]
		if rules == nil {
			continue
		}
		roots := make(map[types.Node]types.DependencyType)
		var mu sync.Mutex
		err := each(ctx, r.opts.workers(), program, func(_ context.Context, class string) error {
			keep := rules.SymbolsToKeep(class, r.g)
			mu.Lock()
			defer mu.Unlock()
			for n, t := range keep {
				if prev, ok := roots[n]; ok && prev.IsRequired() {
					continue
				}
				roots[n] = t
			}
			return nil
		})
		if err != nil {
			return err
		}
		for n, t := range roots {
			if t == types.IfClassKept && !n.IsClass() {
				r.g.AddDependency(n.Owner(), n, types.ClassIsKept)
			}
		}
		r.g.SetRoots(cs, roots)
		r.log.Debug("computed roots", "counter_set", cs, "roots", len(roots))
	}
	return nil
}

func (r *run) propagate(ctx context.Context) error {
	for _, cs := range r.opts.counterSets() {
		if r.opts.Rules[cs] == nil {
			continue
		}
		r.sets = append(r.sets, cs)
		if err := SetCounters(ctx, r.g, cs, r.opts.workers()); err != nil {
			return err
		}
	}
	return nil
}

// rewriteAll walks the program inputs again and rewrites every reachable
// class that has an output location
func (r *run) rewriteAll(ctx context.Context) error {
	p := NewPool(ctx, r.opts.workers())
	for _, in := range r.opts.Inputs.Inputs(inputs.Program) {
		err := r.opts.Inputs.Walk(ctx, in, func(cf inputs.ClassFile) error {
			info, ok := r.g.ClassInfo(cf.Name)
			if !ok || info.Source != cf.Key() || !r.g.IsReachable(info.Node(), types.Shrink) {
				return nil
			}
			p.Submit(func(context.Context) error {
				return r.rewrite(cf)
			})
			return nil
		})
		if err != nil {
			_ = p.Wait()
			return err
		}
	}
	return p.Wait()
}

// keepSet returns the reachable local member signatures of class
func keepSet(g graph.Reader, class string) map[string]bool {
	keep := make(map[string]bool)
	for _, m := range g.ReachableMembers(class, types.Shrink) {
		if !types.IsFakeMember(m) {
			keep[m.Signature()] = true
		}
	}
	return keep
}

func (r *run) interfacePresent(name string) bool {
	return !r.g.IsProgramClass(name) || r.g.IsReachable(types.ClassNode(name), types.Shrink)
}

// rewrite writes the shrunk form of one reachable program class
func (r *run) rewrite(cf inputs.ClassFile) error {
	out, ok := r.opts.Inputs.OutputPath(cf)
	if !ok {
		r.mu.Lock()
		r.stats.Skipped++
		r.mu.Unlock()
		return nil
	}
	data, err := classfile.Rewrite(cf.Data, keepSet(r.g, cf.Name), r.interfacePresent)
	if err != nil {
		return fmt.Errorf("rewrite %s: %w", cf.Key(), err)
	}
	if err := inputs.WriteFile(out, data); err != nil {
		return err
	}
	r.mu.Lock()
	r.outputs[cf.Name] = out
	r.written = append(r.written, out)
	r.mu.Unlock()
	return nil
}

// persist saves the graph once every output was written
func (r *run) persist(ctx context.Context, fingerprints inputs.Fingerprints) error {
	if r.opts.DB == nil {
		return nil
	}
	fp := make(map[string]string, len(fingerprints)+1)
	for k, v := range fingerprints {
		fp[k] = v
	}
	fp[ConfigFingerprintKey] = r.opts.ConfigFingerprint
	return r.g.SaveState(ctx, r.opts.DB, graph.Meta{
		RunID:        r.stats.RunID,
		Fingerprints: fp,
		Outputs:      r.outputs,
	})
}

func (r *run) finish() *Result {
	s := r.g.Stats()
	r.stats.Classes, r.stats.ProgramClasses, r.stats.Members, r.stats.Edges = s.Classes, s.ProgramClasses, s.Members, s.Edges
	for _, cs := range r.sets {
		classes := r.g.ReachableClasses(cs)
		members := 0
		for _, c := range classes {
			members += len(r.g.ReachableMembers(c, cs))
		}
		r.stats.ReachableClasses[string(cs)] = len(classes)
		r.stats.ReachableMembers[string(cs)] = members
	}
	slices.Sort(r.written)
	slices.Sort(r.deleted)
	r.stats.Written = len(r.written)
	r.stats.Deleted = len(r.deleted)
	r.stats.Warnings = r.sink.Count()
	r.stats.Duration = time.Since(r.start)
	r.opts.Metrics.Record(*r.stats)
	r.log.Info("run finished", "mode", r.stats.Mode, "written", r.stats.Written,
		"deleted", r.stats.Deleted, "warnings", r.stats.Warnings, "elapsed", r.stats.Duration)
	return &Result{Graph: r.g, Stats: r.stats, Written: r.written, Deleted: r.deleted}
}

// MainDexList returns the program classes reachable in the legacy multidex
// counter set, sorted
func MainDexList(g graph.Reader) []string {
	var out []string
	for _, c := range g.ReachableClasses(types.LegacyMultidex) {
		if g.IsProgramClass(c) {
			out = append(out, c)
		}
	}
	return out
}
