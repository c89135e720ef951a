package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/standardbeagle/shrinker/internal/debug"
	"github.com/standardbeagle/shrinker/internal/storage"
	"github.com/standardbeagle/shrinker/internal/types"
)

// StateFormatVersion is bumped whenever the persisted layout changes
const StateFormatVersion = 1

const (
	keyMeta          = "meta"
	keyImplicitRoots = "implicit"
	keyPending       = "pending"
	prefixClass      = "c/"
	prefixMember     = "m/"
	prefixEdges      = "e/"
	prefixRoots      = "r/"
	prefixCounter    = "n/"
)

// Meta is stored next to the graph. Fingerprints maps input artifacts
// (jars, class files) to their content hashes at save time.
type Meta struct {
	FormatVersion int               `json:"format_version"`
	RunID         string            `json:"run_id"`
	SavedAt       time.Time         `json:"saved_at"`
	Fingerprints  map[string]string `json:"fingerprints,omitempty"`
	Outputs       map[string]string `json:"outputs,omitempty"`
	Stats         Stats             `json:"stats"`
}

// NewRunID returns a fresh identifier for a shrink run
func NewRunID() string {
	return uuid.NewString()
}

// SaveState replaces the database content with the whole graph and meta.
// A RunID is generated when meta has none.
func (g *MemoryGraph) SaveState(ctx context.Context, db *storage.DB, meta Meta) error {
	meta.FormatVersion = StateFormatVersion
	if meta.RunID == "" {
		meta.RunID = NewRunID()
	}
	if meta.SavedAt.IsZero() {
		meta.SavedAt = time.Now().UTC()
	}
	meta.Stats = g.Stats()

	err := db.ReplaceAll(ctx, func(put func(k, v []byte) error) error {
		putJSON := func(key string, v any) error {
			data, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encode %s: %w", key, err)
			}
			return put([]byte(key), data)
		}

		if err := putJSON(keyMeta, meta); err != nil {
			return err
		}
		for _, name := range g.Classes() {
			info, _ := g.ClassInfo(name)
			if err := putJSON(prefixClass+name, info); err != nil {
				return err
			}
		}
		for i := range g.shards {
			for _, m := range g.shardMembers(i) {
				if err := putJSON(prefixMember+m.Node.String(), m); err != nil {
					return err
				}
			}
		}
		for _, src := range g.edgeSources() {
			if err := putJSON(prefixEdges+src.String(), g.Dependencies(src)); err != nil {
				return err
			}
		}
		for _, cs := range g.CounterSets() {
			if roots := g.Roots(cs); len(roots) > 0 {
				if err := putJSON(prefixRoots+string(cs), roots); err != nil {
					return err
				}
			}
			if t := g.table(cs, false); t != nil {
				var encErr error
				t.each(func(n types.Node, c Counter) {
					if encErr == nil && !c.IsZero() {
						encErr = putJSON(prefixCounter+string(cs)+"/"+n.String(), c)
					}
				})
				if encErr != nil {
					return encErr
				}
			}
		}
		return putJSON(keyImplicitRoots, g.ImplicitRoots())
	})
	if err != nil {
		return fmt.Errorf("save graph state: %w", err)
	}

	debug.Log(debug.ComponentStorage, "saved run %s: %d classes, %d members, %d edges",
		meta.RunID, meta.Stats.Classes, meta.Stats.Members, meta.Stats.Edges)
	return nil
}

func (g *MemoryGraph) shardMembers(i int) []MemberInfo {
	s := &g.shards[i]
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []MemberInfo
	for _, e := range s.classes {
		for _, m := range e.members {
			out = append(out, *m)
		}
	}
	return out
}

// HasState reports whether db holds a saved graph
func HasState(ctx context.Context, db *storage.DB) (bool, error) {
	_, ok, err := db.Get(ctx, []byte(keyMeta))
	return ok, err
}

// InvalidateState removes the meta record so the saved graph no longer drives
// incremental runs, and records output paths that may still exist on disk.
// Paths recorded earlier are kept until the next SaveState.
func InvalidateState(ctx context.Context, db *storage.DB, outputs []string) error {
	pending, err := PendingOutputs(ctx, db)
	if err != nil {
		return err
	}
	pending = append(pending, outputs...)
	slices.Sort(pending)
	data, err := json.Marshal(slices.Compact(pending))
	if err != nil {
		return err
	}
	if err := db.Update(ctx, map[string][]byte{keyPending: data}, []string{keyMeta}); err != nil {
		return fmt.Errorf("invalidate state: %w", err)
	}
	return nil
}

// PendingOutputs returns the output paths recorded by InvalidateState
func PendingOutputs(ctx context.Context, db *storage.DB) ([]string, error) {
	data, ok, err := db.Get(ctx, []byte(keyPending))
	if err != nil || !ok {
		return nil, err
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode pending outputs: %w", err)
	}
	return out, nil
}

// LoadMeta reads only the meta record
func LoadMeta(ctx context.Context, db *storage.DB) (Meta, error) {
	var meta Meta
	data, ok, err := db.Get(ctx, []byte(keyMeta))
	if err != nil {
		return meta, fmt.Errorf("read state meta: %w", err)
	}
	if !ok {
		return meta, fmt.Errorf("no saved state")
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("decode state meta: %w", err)
	}
	if meta.FormatVersion != StateFormatVersion {
		return meta, fmt.Errorf("state format %d is not supported (want %d)", meta.FormatVersion, StateFormatVersion)
	}
	return meta, nil
}

// LoadState rebuilds a graph saved by SaveState
func LoadState(ctx context.Context, db *storage.DB) (*MemoryGraph, Meta, error) {
	meta, err := LoadMeta(ctx, db)
	if err != nil {
		return nil, meta, err
	}

	g := NewMemoryGraph()

	err = db.ScanPrefix(ctx, []byte(prefixClass), func(k, v []byte) error {
		var info ClassInfo
		if err := json.Unmarshal(v, &info); err != nil {
			return fmt.Errorf("decode class %s: %w", k, err)
		}
		g.AddClass(info)
		return nil
	})
	if err != nil {
		return nil, meta, err
	}

	err = db.ScanPrefix(ctx, []byte(prefixMember), func(k, v []byte) error {
		var m MemberInfo
		if err := json.Unmarshal(v, &m); err != nil {
			return fmt.Errorf("decode member %s: %w", k, err)
		}
		g.AddMember(m)
		return nil
	})
	if err != nil {
		return nil, meta, err
	}

	err = db.ScanPrefix(ctx, []byte(prefixEdges), func(k, v []byte) error {
		src, err := types.ParseNode(strings.TrimPrefix(string(k), prefixEdges))
		if err != nil {
			return fmt.Errorf("decode edge source %s: %w", k, err)
		}
		var deps []types.Dependency
		if err := json.Unmarshal(v, &deps); err != nil {
			return fmt.Errorf("decode edges of %s: %w", src, err)
		}
		for _, dep := range deps {
			g.AddDependency(src, dep.Target, dep.Type)
		}
		return nil
	})
	if err != nil {
		return nil, meta, err
	}

	err = db.ScanPrefix(ctx, []byte(prefixRoots), func(k, v []byte) error {
		cs := types.CounterSet(strings.TrimPrefix(string(k), prefixRoots))
		roots := make(map[types.Node]types.DependencyType)
		if err := json.Unmarshal(v, &roots); err != nil {
			return fmt.Errorf("decode roots of %s: %w", cs, err)
		}
		g.SetRoots(cs, roots)
		return nil
	})
	if err != nil {
		return nil, meta, err
	}

	err = db.ScanPrefix(ctx, []byte(prefixCounter), func(k, v []byte) error {
		rest := strings.TrimPrefix(string(k), prefixCounter)
		slash := strings.IndexByte(rest, '/')
		if slash < 0 {
			return fmt.Errorf("malformed counter key %s", k)
		}
		node, err := types.ParseNode(rest[slash+1:])
		if err != nil {
			return fmt.Errorf("decode counter key %s: %w", k, err)
		}
		var c Counter
		if err := json.Unmarshal(v, &c); err != nil {
			return fmt.Errorf("decode counter %s: %w", k, err)
		}
		g.setCounter(node, types.CounterSet(rest[:slash]), c)
		return nil
	})
	if err != nil {
		return nil, meta, err
	}

	if data, ok, err := db.Get(ctx, []byte(keyImplicitRoots)); err != nil {
		return nil, meta, err
	} else if ok {
		implicit := make(map[types.Node]types.DependencyType)
		if err := json.Unmarshal(data, &implicit); err != nil {
			return nil, meta, fmt.Errorf("decode implicit roots: %w", err)
		}
		for n, t := range implicit {
			g.AddImplicitRoot(n, t)
		}
	}

	debug.Log(debug.ComponentStorage, "loaded run %s: %d classes", meta.RunID, meta.Stats.Classes)
	return g, meta, nil
}
