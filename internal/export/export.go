// Package export loads the dependency graph into Neo4j for exploration.
//
// Every class and member becomes a :JvmNode keyed by its node string, with
// :JvmClass or :JvmMember as a second label. Edges keep their dependency type
// as the relationship type, and each node carries a reachable_<counter set>
// flag for every exported counter set.
package export

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/standardbeagle/shrinker/internal/debug"
	"github.com/standardbeagle/shrinker/internal/graph"
	"github.com/standardbeagle/shrinker/internal/types"
)

// DefaultBatchSize is the number of rows sent per UNWIND statement
const DefaultBatchSize = 1000

// Runner executes one Cypher statement
type Runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) error
}

// Options controls an export
type Options struct {
	BatchSize int
	// CounterSets to flag; all counter sets of the graph when empty
	CounterSets []types.CounterSet
	// Clean removes previously exported nodes first
	Clean bool
}

// Summary counts what was exported
type Summary struct {
	Classes int
	Members int
	Edges   int
}

const (
	cleanQuery = "MATCH (n:JvmNode) DETACH DELETE n"
	indexQuery = "CREATE INDEX jvm_node_id IF NOT EXISTS FOR (n:JvmNode) ON (n.id)"

	classQuery = `UNWIND $batch AS row
		 MERGE (n:JvmNode {id: row.id})
		 SET n:JvmClass, n += row.props`

	memberQuery = `UNWIND $batch AS row
		 MERGE (n:JvmNode {id: row.id})
		 SET n:JvmMember, n += row.props
		 WITH n, row
		 MATCH (c:JvmNode {id: row.owner})
		 MERGE (c)-[:HAS_MEMBER]->(n)`

	// relationship types cannot be parameters; %s is always a fixed name
	edgeQuery = `UNWIND $batch AS row
		 MATCH (a:JvmNode {id: row.src}), (b:JvmNode {id: row.dst})
		 MERGE (a)-[:%s]->(b)`
)

// Export writes g through r
func Export(ctx context.Context, r Runner, g graph.Reader, opts Options) (Summary, error) {
	log := debug.Logger(debug.ComponentExport)
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	sets := opts.CounterSets
	if len(sets) == 0 {
		sets = g.CounterSets()
	}

	if opts.Clean {
		log.Info("cleaning previously exported graph")
		if err := r.Run(ctx, cleanQuery, nil); err != nil {
			return Summary{}, fmt.Errorf("clean: %w", err)
		}
	}
	if err := r.Run(ctx, indexQuery, nil); err != nil {
		return Summary{}, fmt.Errorf("create index: %w", err)
	}

	rows := Collect(g, sets)
	var sum Summary
	steps := []struct {
		name  string
		query string
		rows  []map[string]any
		count *int
	}{
		{"classes", classQuery, rows.Classes, &sum.Classes},
		{"members", memberQuery, rows.Members, &sum.Members},
	}
	for _, rel := range rows.relationships() {
		steps = append(steps, struct {
			name  string
			query string
			rows  []map[string]any
			count *int
		}{rel, fmt.Sprintf(edgeQuery, rel), rows.Edges[rel], &sum.Edges})
	}

	for _, s := range steps {
		if len(s.rows) == 0 {
			continue
		}
		log.Info("loading", "kind", s.name, "rows", len(s.rows))
		for batch := range slices.Chunk(s.rows, opts.BatchSize) {
			if err := r.Run(ctx, s.query, map[string]any{"batch": batch}); err != nil {
				return sum, fmt.Errorf("load %s: %w", s.name, err)
			}
			*s.count += len(batch)
		}
	}
	return sum, nil
}

// Rows is the graph flattened into UNWIND parameter rows
type Rows struct {
	Classes []map[string]any
	Members []map[string]any
	// Edges by relationship type
	Edges map[string][]map[string]any
}

func (r Rows) relationships() []string {
	rels := make([]string, 0, len(r.Edges))
	for rel := range r.Edges {
		rels = append(rels, rel)
	}
	slices.Sort(rels)
	return rels
}

// ReachableProperty names the node flag for cs
func ReachableProperty(cs types.CounterSet) string {
	return "reachable_" + strings.ToLower(string(cs))
}

// Collect flattens g. Hierarchy links are exported as EXTENDS and IMPLEMENTS
// next to the typed dependency edges.
func Collect(g graph.Reader, sets []types.CounterSet) Rows {
	rows := Rows{Edges: make(map[string][]map[string]any)}
	edge := func(rel string, src, dst types.Node) {
		rows.Edges[rel] = append(rows.Edges[rel], map[string]any{"src": src.String(), "dst": dst.String()})
	}
	flags := func(props map[string]any, n types.Node) {
		for _, cs := range sets {
			props[ReachableProperty(cs)] = g.IsReachable(n, cs)
		}
	}

	for _, class := range g.Classes() {
		info, _ := g.ClassInfo(class)
		node := info.Node()
		props := map[string]any{
			"name":    class,
			"program": info.IsProgram(),
			"access":  info.Access.String(),
		}
		if info.Source != "" {
			props["source"] = info.Source
		}
		flags(props, node)
		rows.Classes = append(rows.Classes, map[string]any{"id": node.String(), "props": props})

		if info.Superclass != "" && g.HasClass(info.Superclass) {
			edge("EXTENDS", node, types.ClassNode(info.Superclass))
		}
		for _, itf := range info.Interfaces {
			if g.HasClass(itf) {
				edge("IMPLEMENTS", node, types.ClassNode(itf))
			}
		}
		for _, dep := range g.Dependencies(node) {
			edge(dep.Type.String(), node, dep.Target)
		}

		for _, m := range g.Members(class) {
			props := map[string]any{
				"class":  m.Node.Class,
				"name":   m.Node.Name,
				"desc":   m.Node.Desc,
				"access": m.Access.String(),
				"fake":   types.IsFakeMember(m.Node),
			}
			flags(props, m.Node)
			rows.Members = append(rows.Members, map[string]any{
				"id":    m.Node.String(),
				"owner": node.String(),
				"props": props,
			})
			for _, dep := range g.Dependencies(m.Node) {
				edge(dep.Type.String(), m.Node, dep.Target)
			}
		}
	}
	return rows
}
