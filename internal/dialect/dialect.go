// Package dialect hides the per-database details the reset engine needs:
// schema introspection, identifier quoting, placeholders and control over
// foreign-key checking inside a transaction.
package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/baseline/pkg/types"
)

// ErrUnsupported is returned by constraint operations a database lacks.
var ErrUnsupported = errors.New("operation not supported by dialect")

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// DeferMode describes when foreign-key checks can be postponed to commit.
type DeferMode int

const (
	// DeferNever: checks always run per statement.
	DeferNever DeferMode = iota
	// DeferDeclared: only constraints declared DEFERRABLE can be deferred.
	DeferDeclared
	// DeferAlways: every foreign key can be deferred for one transaction.
	DeferAlways
)

func (m DeferMode) String() string {
	switch m {
	case DeferDeclared:
		return "declared"
	case DeferAlways:
		return "always"
	}
	return "never"
}

// Capabilities summarizes how a dialect can relax foreign-key checking.
type Capabilities struct {
	Defer DeferMode

	// CanDisable reports whether checks can be switched off and on again
	// inside a transaction.
	CanDisable bool
}

// Dialect is one supported database.
type Dialect interface {
	// Name is the configuration name (types.DriverSQLite, ...).
	Name() string
	// DriverName is the database/sql driver to open.
	DriverName() string
	// PrepareDSN adjusts a DSN so connections behave as the engine expects.
	PrepareDSN(dsn string) string

	QuoteIdent(ident string) string
	Placeholder(n int) string

	// Tables lists base tables with their primary keys.
	Tables(ctx context.Context, q Querier) ([]types.TableInfo, error)
	// ForeignKeys lists foreign keys between the tables in the database.
	ForeignKeys(ctx context.Context, q Querier) ([]types.ForeignKeyEdge, error)
	// SelectList returns the select list that reads every column of t as
	// stored, so the values can be written back unchanged.
	SelectList(ctx context.Context, q Querier, t types.TableInfo) (string, error)

	Capabilities() Capabilities
	// DeferConstraints postpones foreign-key checks until commit of the
	// transaction q belongs to.
	DeferConstraints(ctx context.Context, q Querier) error
	// SetConstraintChecks turns foreign-key checking off or back on for the
	// connection q uses.
	SetConstraintChecks(ctx context.Context, q Querier, enabled bool) error
	// CheckConstraints verifies deferred foreign keys before commit so a
	// violation surfaces while the transaction can still be rolled back.
	CheckConstraints(ctx context.Context, q Querier) error
}

// ErrConstraintViolation is returned by CheckConstraints.
var ErrConstraintViolation = errors.New("foreign key constraint violated")

// ForName returns the dialect registered under a configuration driver name.
func ForName(name string) (Dialect, error) {
	switch name {
	case types.DriverSQLite:
		return SQLite{}, nil
	case types.DriverPostgres:
		return Postgres{}, nil
	case types.DriverMySQL:
		return MySQL{}, nil
	}
	return nil, fmt.Errorf("%w: %q", types.ErrDriverUnknown, name)
}

// QualifiedName returns the quoted SQL reference for a table.
func QualifiedName(d Dialect, t types.TableInfo) string {
	ident := t.Ident
	if ident == "" {
		ident = t.Name.Base()
	}
	if t.Schema == "" {
		return d.QuoteIdent(ident)
	}
	return d.QuoteIdent(t.Schema) + "." + d.QuoteIdent(ident)
}

// InsertStatement builds a single-row INSERT for table (already quoted).
func InsertStatement(d Dialect, table string, columns []string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.QuoteIdent(c))
	}
	b.WriteString(")")
	if _, ok := d.(Postgres); ok {
		// Identity columns declared GENERATED ALWAYS reject explicit values otherwise.
		b.WriteString(" OVERRIDING SYSTEM VALUE")
	}
	b.WriteString(" VALUES (")
	for i := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Placeholder(i + 1))
	}
	b.WriteString(")")
	return b.String()
}

func quoteWith(ident string, q byte) string {
	s := string(q)
	return s + strings.ReplaceAll(ident, s, s+s) + s
}

// edgeKey groups the column rows of a multi-column foreign key.
type edgeKey struct {
	child string
	name  string
}

// edgeBuilder accumulates per-column foreign key rows into edges while
// keeping the order in which constraints were first seen.
type edgeBuilder struct {
	order []edgeKey
	edges map[edgeKey]*types.ForeignKeyEdge
}

func newEdgeBuilder() *edgeBuilder {
	return &edgeBuilder{edges: make(map[edgeKey]*types.ForeignKeyEdge)}
}

func (b *edgeBuilder) add(child, parent types.TableName, name, column, parentColumn string, deferrable bool) {
	k := edgeKey{child: string(child), name: name}
	e, ok := b.edges[k]
	if !ok {
		e = &types.ForeignKeyEdge{Name: name, Child: child, Parent: parent, Deferrable: deferrable}
		b.edges[k] = e
		b.order = append(b.order, k)
	}
	e.Columns = append(e.Columns, column)
	e.ParentColumns = append(e.ParentColumns, parentColumn)
}

func (b *edgeBuilder) result() []types.ForeignKeyEdge {
	out := make([]types.ForeignKeyEdge, 0, len(b.order))
	for _, k := range b.order {
		out = append(out, *b.edges[k])
	}
	return out
}
