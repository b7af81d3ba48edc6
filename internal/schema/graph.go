// Package schema builds the foreign-key dependency graph of a database and
// collapses foreign-key cycles into reset units.
package schema

import (
	"context"
	"fmt"
	"sort"

	"github.com/mesh-intelligence/baseline/internal/dialect"
	"github.com/mesh-intelligence/baseline/pkg/types"
)

// Unit is a strongly connected component of the dependency graph. A unit
// holding more than one table, or one table that references itself, is
// cyclic and has to be deleted and restored as a whole.
type Unit struct {
	// Tables in ascending name order.
	Tables []types.TableName
	Cyclic bool
	// Edges between members of the unit, self references included.
	Edges []types.ForeignKeyEdge
}

// Graph is an immutable dependency graph. An edge child -> parent means
// child rows reference parent rows.
type Graph struct {
	names    []types.TableName
	tables   map[types.TableName]types.TableInfo
	byBase   map[string][]types.TableName
	parents  map[types.TableName][]types.TableName
	children map[types.TableName][]types.TableName
	edges    []types.ForeignKeyEdge
	units    []Unit
	unitOf   map[types.TableName]int
}

// Introspect reads tables and foreign keys through d and builds the graph.
// Any failure is reported as a *types.SchemaError.
func Introspect(ctx context.Context, q dialect.Querier, d dialect.Dialect) (*Graph, error) {
	tables, err := d.Tables(ctx, q)
	if err != nil {
		return nil, &types.SchemaError{Reason: "introspect tables", Err: err}
	}
	edges, err := d.ForeignKeys(ctx, q)
	if err != nil {
		return nil, &types.SchemaError{Reason: "introspect foreign keys", Err: err}
	}
	return Build(tables, edges)
}

// Build validates the metadata and computes reset units in dependency order.
// A foreign key naming a table outside tables fails with *types.SchemaError.
func Build(tables []types.TableInfo, edges []types.ForeignKeyEdge) (*Graph, error) {
	g := &Graph{
		tables:   make(map[types.TableName]types.TableInfo, len(tables)),
		byBase:   make(map[string][]types.TableName),
		parents:  make(map[types.TableName][]types.TableName),
		children: make(map[types.TableName][]types.TableName),
		unitOf:   make(map[types.TableName]int),
	}

	for _, t := range tables {
		if t.Name == "" {
			return nil, &types.SchemaError{Reason: "table with empty name"}
		}
		if _, dup := g.tables[t.Name]; dup {
			return nil, &types.SchemaError{Table: t.Name, Reason: "duplicate table"}
		}
		g.tables[t.Name] = t
		g.names = append(g.names, t.Name)
		g.byBase[t.Name.Base()] = append(g.byBase[t.Name.Base()], t.Name)
	}
	types.SortTableNames(g.names)

	parentSet := make(map[types.TableName]map[types.TableName]bool)
	for _, e := range edges {
		if _, ok := g.tables[e.Child]; !ok {
			return nil, &types.SchemaError{Table: e.Child, Reason: fmt.Sprintf("foreign key %q declared on unknown table", e.Name)}
		}
		if _, ok := g.tables[e.Parent]; !ok {
			return nil, &types.SchemaError{Table: e.Child, Reason: fmt.Sprintf("foreign key %q references unknown table %s", e.Name, e.Parent)}
		}
		g.edges = append(g.edges, e)
		if parentSet[e.Child] == nil {
			parentSet[e.Child] = make(map[types.TableName]bool)
		}
		if parentSet[e.Child][e.Parent] {
			continue
		}
		parentSet[e.Child][e.Parent] = true
		g.parents[e.Child] = append(g.parents[e.Child], e.Parent)
		g.children[e.Parent] = append(g.children[e.Parent], e.Child)
	}
	for _, n := range g.names {
		types.SortTableNames(g.parents[n])
		types.SortTableNames(g.children[n])
	}

	g.units = g.orderUnits(g.components())
	for i, u := range g.units {
		for _, t := range u.Tables {
			g.unitOf[t] = i
		}
	}
	return g, nil
}

// components runs Tarjan's algorithm over child -> parent edges.
func (g *Graph) components() []Unit {
	var (
		index   = 0
		stack   []types.TableName
		onStack = make(map[types.TableName]bool)
		indices = make(map[types.TableName]int)
		lowlink = make(map[types.TableName]int)
		units   []Unit
	)

	var connect func(v types.TableName)
	connect = func(v types.TableName) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.parents[v] {
			if _, seen := indices[w]; !seen {
				connect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] != indices[v] {
			return
		}
		var members []types.TableName
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			members = append(members, w)
			if w == v {
				break
			}
		}
		units = append(units, g.newUnit(members))
	}

	for _, n := range g.names {
		if _, seen := indices[n]; !seen {
			connect(n)
		}
	}
	return units
}

func (g *Graph) newUnit(members []types.TableName) Unit {
	types.SortTableNames(members)
	in := make(map[types.TableName]bool, len(members))
	for _, m := range members {
		in[m] = true
	}
	u := Unit{Tables: members, Cyclic: len(members) > 1}
	for _, e := range g.edges {
		if in[e.Child] && in[e.Parent] {
			u.Edges = append(u.Edges, e)
			if e.SelfReference() {
				u.Cyclic = true
			}
		}
	}
	return u
}

// orderUnits sorts units topologically, parents first. Among units that are
// ready at the same time the one with the smallest table name goes first.
func (g *Graph) orderUnits(units []Unit) []Unit {
	comp := make(map[types.TableName]int)
	for i, u := range units {
		for _, t := range u.Tables {
			comp[t] = i
		}
	}

	pending := make([]int, len(units))
	dependents := make([][]int, len(units))
	for i, u := range units {
		seen := map[int]bool{}
		for _, t := range u.Tables {
			for _, p := range g.parents[t] {
				pc := comp[p]
				if pc == i || seen[pc] {
					continue
				}
				seen[pc] = true
				pending[i]++
				dependents[pc] = append(dependents[pc], i)
			}
		}
	}

	var ready []int
	for i := range units {
		if pending[i] == 0 {
			ready = append(ready, i)
		}
	}

	ordered := make([]Unit, 0, len(units))
	for len(ready) > 0 {
		sort.Slice(ready, func(a, b int) bool {
			return units[ready[a]].Tables[0] < units[ready[b]].Tables[0]
		})
		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, units[next])
		for _, d := range dependents[next] {
			pending[d]--
			if pending[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	return ordered
}

// Tables returns every table in ascending order.
func (g *Graph) Tables() []types.TableName {
	return append([]types.TableName(nil), g.names...)
}

// Table returns the metadata of a table.
func (g *Graph) Table(name types.TableName) (types.TableInfo, bool) {
	t, ok := g.tables[name]
	return t, ok
}

// Resolve maps a name reported by instrumentation onto a graph table. Exact
// matches win; otherwise the unqualified part is matched when exactly one
// table carries it.
func (g *Graph) Resolve(name types.TableName) (types.TableName, bool) {
	if _, ok := g.tables[name]; ok {
		return name, true
	}
	if candidates := g.byBase[name.Base()]; len(candidates) == 1 {
		return candidates[0], true
	}
	return "", false
}

// Parents returns the tables t references.
func (g *Graph) Parents(t types.TableName) []types.TableName {
	return append([]types.TableName(nil), g.parents[t]...)
}

// Children returns the tables that reference t.
func (g *Graph) Children(t types.TableName) []types.TableName {
	return append([]types.TableName(nil), g.children[t]...)
}

// Edges returns all foreign keys.
func (g *Graph) Edges() []types.ForeignKeyEdge {
	return append([]types.ForeignKeyEdge(nil), g.edges...)
}

// Units returns the reset units in dependency order, parents first.
func (g *Graph) Units() []Unit {
	return append([]Unit(nil), g.units...)
}

// UnitIndex returns the position in Units of the unit containing t.
func (g *Graph) UnitIndex(t types.TableName) (int, bool) {
	i, ok := g.unitOf[t]
	return i, ok
}

// Order flattens Units into a parents-first table order.
func (g *Graph) Order() []types.TableName {
	out := make([]types.TableName, 0, len(g.names))
	for _, u := range g.units {
		out = append(out, u.Tables...)
	}
	return out
}
