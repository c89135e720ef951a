package graph

import (
	"sync"

	"github.com/standardbeagle/shrinker/internal/types"
)

// Counter holds the reachability tallies of one node in one counter set
type Counter struct {
	Required             int32 `json:"required,omitempty"`
	IfClassKept          int32 `json:"if_class_kept,omitempty"`
	ClassIsKept          int32 `json:"class_is_kept,omitempty"`
	SuperinterfaceKept   int32 `json:"superinterface_kept,omitempty"`
	InterfaceImplemented int32 `json:"interface_implemented,omitempty"`
}

// Reachable evaluates the reachability predicate
func (c Counter) Reachable() bool {
	return c.Required > 0 ||
		(c.IfClassKept > 0 && c.ClassIsKept > 0) ||
		(c.SuperinterfaceKept > 0 && c.InterfaceImplemented > 0)
}

// IsZero reports whether no tally was ever incremented
func (c Counter) IsZero() bool {
	return c == Counter{}
}

func (c *Counter) add(t types.DependencyType) {
	switch t {
	case types.RequiredClassStructure, types.RequiredCodeReference:
		c.Required++
	case types.IfClassKept:
		c.IfClassKept++
	case types.ClassIsKept:
		c.ClassIsKept++
	case types.SuperinterfaceKept:
		c.SuperinterfaceKept++
	case types.InterfaceImplemented:
		c.InterfaceImplemented++
	}
}

// atomicCounter serialises updates to a single node's tallies
type atomicCounter struct {
	mu sync.Mutex
	c  Counter
}

// incrementAndCheck is the indivisible "add and report the flip" operation
func (a *atomicCounter) incrementAndCheck(t types.DependencyType) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	before := a.c.Reachable()
	a.c.add(t)
	return !before && a.c.Reachable()
}

func (a *atomicCounter) load() Counter {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.c
}

// counterTable holds the counters of one counter set, sharded like the graph
type counterTable struct {
	shards [shardCount]counterShard
}

type counterShard struct {
	mu       sync.RWMutex
	counters map[types.Node]*atomicCounter
}

func newCounterTable() *counterTable {
	t := &counterTable{}
	for i := range t.shards {
		t.shards[i].counters = make(map[types.Node]*atomicCounter)
	}
	return t
}

func (t *counterTable) get(node types.Node) (*atomicCounter, bool) {
	s := &t.shards[shardFor(node.Class)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.counters[node]
	return c, ok
}

func (t *counterTable) getOrCreate(node types.Node) *atomicCounter {
	if c, ok := t.get(node); ok {
		return c
	}
	s := &t.shards[shardFor(node.Class)]
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[node]
	if !ok {
		c = &atomicCounter{}
		s.counters[node] = c
	}
	return c
}

// each visits every counter; fn must not mutate the table
func (t *counterTable) each(fn func(types.Node, Counter)) {
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.RLock()
		for node, c := range s.counters {
			fn(node, c.load())
		}
		s.mu.RUnlock()
	}
}
