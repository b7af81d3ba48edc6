package types

import (
	"sort"
	"strings"
)

// TableName identifies a table. Values are produced by NormalizeTableName and
// compare equal regardless of the quoting or case used in SQL text.
type TableName string

// NormalizeTableName lower-cases name, strips identifier quoting ("", ``, [])
// from each dot-separated part and trims surrounding space.
func NormalizeTableName(name string) TableName {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	parts := strings.Split(name, ".")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.Trim(p, "\"`[]")
		parts[i] = strings.ToLower(p)
	}
	return TableName(strings.Join(parts, "."))
}

func (t TableName) String() string { return string(t) }

// Schema returns the schema qualifier, or "" for an unqualified name.
func (t TableName) Schema() string {
	if i := strings.LastIndexByte(string(t), '.'); i >= 0 {
		return string(t[:i])
	}
	return ""
}

// Base returns the name without its schema qualifier.
func (t TableName) Base() string {
	if i := strings.LastIndexByte(string(t), '.'); i >= 0 {
		return string(t[i+1:])
	}
	return string(t)
}

// SortTableNames sorts names in ascending order in place and returns them.
func SortTableNames(names []TableName) []TableName {
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// TableInfo describes one introspected table.
type TableInfo struct {
	Name TableName

	// Schema and Ident are the schema and table identifiers exactly as the
	// database reported them. They are what gets quoted into SQL.
	Schema string
	Ident  string

	// PrimaryKey lists the primary key columns in key order. Empty when the
	// table has no primary key.
	PrimaryKey []string
}

// ForeignKeyEdge is a foreign key from Child to Parent. In the dependency
// graph it is the directed edge Child -> Parent.
type ForeignKeyEdge struct {
	Name          string
	Child         TableName
	Parent        TableName
	Columns       []string
	ParentColumns []string

	// Deferrable reports whether checking of this constraint may be
	// postponed to commit time.
	Deferrable bool
}

// SelfReference reports whether the edge points back at its own table.
func (e ForeignKeyEdge) SelfReference() bool {
	return e.Child == e.Parent
}

// Row is one table row keyed by column name.
type Row map[string]any
