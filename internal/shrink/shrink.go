// Package shrink builds the dependency graph of a JVM program, propagates
// reachability from keep-rule roots and rewrites program classes to the
// reachable member set.
//
// A run moves through hard phase barriers: scan, passes, roots, propagate,
// rewrite, persist. Work inside a phase runs on a bounded worker pool and
// every graph mutation is commutative, so task interleaving never changes the
// result. Full runs rebuild the graph; incremental runs patch the code edges
// of classes whose method bodies changed and re-propagate from scratch.
package shrink

import (
	"runtime"
	"slices"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/standardbeagle/shrinker/internal/diagnostics"
	"github.com/standardbeagle/shrinker/internal/graph"
	"github.com/standardbeagle/shrinker/internal/inputs"
	"github.com/standardbeagle/shrinker/internal/metrics"
	"github.com/standardbeagle/shrinker/internal/storage"
	"github.com/standardbeagle/shrinker/internal/types"
)

// KeepRules supplies roots: for a class, the nodes to root and the dependency
// type to root them with
type KeepRules interface {
	SymbolsToKeep(class string, g graph.Reader) map[types.Node]types.DependencyType
}

// ConfigFingerprintKey is the Meta.Fingerprints entry holding Options.ConfigFingerprint
const ConfigFingerprintKey = "config"

// DefaultResolverCacheSize bounds the reference resolution memo
const DefaultResolverCacheSize = 64 * 1024

// Options configures a shrink run
type Options struct {
	Inputs *inputs.Provider
	// Rules maps each counter set to its root supplier; SHRINK drives rewriting
	Rules map[types.CounterSet]KeepRules
	// External lists doublestar patterns over internal class names. Program
	// classes matching one are scanned as library classes.
	External []string
	Workers  int
	// DB holds the persisted graph; nil disables persistence and incremental runs
	DB *storage.DB
	// ConfigFingerprint identifies rules and settings; a change forces a full run
	ConfigFingerprint string
	Sink              *diagnostics.Sink
	Metrics           *metrics.Metrics
	ResolverCacheSize int
}

func (o *Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (o *Options) sink() *diagnostics.Sink {
	if o.Sink == nil {
		o.Sink = diagnostics.NewSink(nil)
	}
	return o.Sink
}

func (o *Options) isExternal(class string) bool {
	for _, p := range o.External {
		if ok, _ := doublestar.Match(p, class); ok {
			return true
		}
	}
	return false
}

// counterSets returns the configured counter sets, SHRINK first
func (o *Options) counterSets() []types.CounterSet {
	out := []types.CounterSet{types.Shrink}
	for cs := range o.Rules {
		if cs != types.Shrink {
			out = append(out, cs)
		}
	}
	slices.Sort(out[1:])
	return out
}

// Result reports what a run did
type Result struct {
	Graph   *graph.MemoryGraph
	Stats   *metrics.RunStats
	Written []string // output paths rewritten
	Deleted []string // output paths removed
}
