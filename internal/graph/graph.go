// Package graph is the shrinker's dependency graph: classes, members, typed
// edges and per-counter-set reachability counters.
//
// All mutating operations are safe for concurrent use. Edge insertion is
// idempotent and counter increments are commutative, so the order in which
// worker goroutines touch the graph never changes the final reachable set.
package graph

import (
	"context"

	"github.com/standardbeagle/shrinker/internal/diagnostics"
	"github.com/standardbeagle/shrinker/internal/storage"
	"github.com/standardbeagle/shrinker/internal/types"
)

// ClassInfo describes one class node
type ClassInfo struct {
	Name        string       `json:"name"`
	Superclass  string       `json:"super,omitempty"` // empty only for java/lang/Object
	Interfaces  []string     `json:"interfaces,omitempty"`
	Access      types.Access `json:"access"`
	Source      string       `json:"source,omitempty"` // source artifact; empty for library classes
	Annotations []string     `json:"annotations,omitempty"`
	Fingerprint uint64       `json:"fingerprint,omitempty"` // hash of signature, annotation values and outer class
}

// IsProgram reports whether the class came from a program input
func (c ClassInfo) IsProgram() bool {
	return c.Source != ""
}

// Node returns the class node
func (c ClassInfo) Node() types.Node {
	return types.ClassNode(c.Name)
}

// MemberInfo describes one field or method node
type MemberInfo struct {
	Node        types.Node   `json:"node"`
	Access      types.Access `json:"access"`
	Annotations []string     `json:"annotations,omitempty"`
	Fingerprint uint64       `json:"fingerprint,omitempty"` // hash of signature, exceptions and annotation values
}

// Reader is the read-only view of a graph handed to keep rules and walkers
type Reader interface {
	// ClassInfo returns the class record for name
	ClassInfo(name string) (ClassInfo, bool)
	// HasClass reports whether name was added
	HasClass(name string) bool
	// IsProgramClass reports whether name was added from a program input
	IsProgramClass(name string) bool
	// Superclass returns the superclass of name. A ClassLookupError is returned
	// when name or its superclass was never added.
	Superclass(name string) (string, error)
	// Interfaces returns the directly declared interfaces of name. A lookup error
	// is returned for name or any interface never added; known names are still returned.
	Interfaces(name string) ([]string, error)
	// Members returns the declared members of class, sorted
	Members(class string) []MemberInfo
	// MemberInfo returns the record of a member node
	MemberInfo(node types.Node) (MemberInfo, bool)
	// FindMember looks up a member declared directly in class
	FindMember(class, name, desc string) (types.Node, bool)
	// HasNode reports whether the class or member was added
	HasNode(node types.Node) bool
	// Classes returns every class name, sorted
	Classes() []string
	// Dependencies returns the outgoing edges of node, sorted
	Dependencies(node types.Node) []types.Dependency
	// IsReachable reports the reachability predicate for node in cs
	IsReachable(node types.Node, cs types.CounterSet) bool
	// Counter returns a copy of the tallies for node in cs
	Counter(node types.Node, cs types.CounterSet) Counter
	// Roots returns a copy of the root set of cs
	Roots(cs types.CounterSet) map[types.Node]types.DependencyType
	// ImplicitRoots returns the roots applied to every counter set
	ImplicitRoots() map[types.Node]types.DependencyType
	// CounterSets lists counter sets that have roots or counters
	CounterSets() []types.CounterSet
	// ReachableClasses returns the reachable class names in cs, sorted
	ReachableClasses(cs types.CounterSet) []string
	// ReachableMembers returns the reachable members of class in cs, sorted
	ReachableMembers(class string, cs types.CounterSet) []types.Node
	// Stats summarises the graph size
	Stats() Stats
}

// Graph is the mutable dependency graph. MemoryGraph is the reference implementation.
type Graph interface {
	Reader

	// AddClass registers a class; re-adding replaces the record but keeps members
	AddClass(info ClassInfo)
	// AddMember registers a member of an already added class
	AddMember(info MemberInfo) types.Node
	// AddDependency adds src -> dst with type t; duplicates are ignored
	AddDependency(src, dst types.Node, t types.DependencyType)
	// RemoveDependency drops a single edge
	RemoveDependency(src types.Node, dep types.Dependency)
	// RemoveCodeDependencies drops only the RequiredCodeReference edges of node
	RemoveCodeDependencies(node types.Node) int
	// IncrementAndCheck increments the tally for t and reports whether this
	// increment flipped node from unreachable to reachable
	IncrementAndCheck(node types.Node, t types.DependencyType, cs types.CounterSet) bool
	// ClearCounters resets every tally of cs
	ClearCounters(cs types.CounterSet)
	// SetRoots replaces the root set of cs
	SetRoots(cs types.CounterSet, roots map[types.Node]types.DependencyType)
	// AddRoot adds or replaces a single root of cs
	AddRoot(cs types.CounterSet, node types.Node, t types.DependencyType)
	// AddImplicitRoot adds a root applied to every counter set
	AddImplicitRoot(node types.Node, t types.DependencyType)
	// CheckDependencies drops edges with an unknown endpoint, reporting each to sink
	CheckDependencies(sink *diagnostics.Sink) int
	// SaveState persists the whole graph
	SaveState(ctx context.Context, db *storage.DB, meta Meta) error
}

// Stats summarises graph size
type Stats struct {
	Classes        int
	ProgramClasses int
	Members        int
	Edges          int
}
