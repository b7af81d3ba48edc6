package dialect

import (
	"context"
	"fmt"
	"strconv"

	_ "github.com/lib/pq"

	"github.com/mesh-intelligence/baseline/pkg/types"
)

// Postgres is the lib/pq dialect. Table names are schema-qualified.
type Postgres struct{}

func (Postgres) Name() string                   { return types.DriverPostgres }
func (Postgres) DriverName() string             { return "postgres" }
func (Postgres) PrepareDSN(dsn string) string   { return dsn }
func (Postgres) QuoteIdent(ident string) string { return quoteWith(ident, '"') }
func (Postgres) Placeholder(n int) string       { return "$" + strconv.Itoa(n) }

const pgTablesQuery = `SELECT n.nspname, c.relname
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('r', 'p')
  AND NOT c.relispartition
  AND n.nspname NOT IN ('pg_catalog', 'information_schema')
  AND n.nspname NOT LIKE 'pg_toast%'
ORDER BY n.nspname, c.relname`

const pgPrimaryKeysQuery = `SELECT n.nspname, c.relname, a.attname
FROM pg_index i
JOIN pg_class c ON c.oid = i.indrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
JOIN LATERAL unnest(i.indkey) WITH ORDINALITY AS k(attnum, ord) ON true
JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = k.attnum
WHERE i.indisprimary
  AND n.nspname NOT IN ('pg_catalog', 'information_schema')
ORDER BY n.nspname, c.relname, k.ord`

const pgForeignKeysQuery = `SELECT con.conname, cn.nspname, cc.relname, pn.nspname, pc.relname,
       con.condeferrable, ca.attname, pa.attname
FROM pg_constraint con
JOIN pg_class cc ON cc.oid = con.conrelid
JOIN pg_namespace cn ON cn.oid = cc.relnamespace
JOIN pg_class pc ON pc.oid = con.confrelid
JOIN pg_namespace pn ON pn.oid = pc.relnamespace
JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(child_att, parent_att, ord) ON true
JOIN pg_attribute ca ON ca.attrelid = con.conrelid AND ca.attnum = k.child_att
JOIN pg_attribute pa ON pa.attrelid = con.confrelid AND pa.attnum = k.parent_att
WHERE con.contype = 'f'
  AND cn.nspname NOT IN ('pg_catalog', 'information_schema')
ORDER BY cn.nspname, cc.relname, con.conname, k.ord`

func pgName(schema, table string) types.TableName {
	return types.NormalizeTableName(schema + "." + table)
}

func (Postgres) Tables(ctx context.Context, q Querier) ([]types.TableInfo, error) {
	rows, err := q.QueryContext(ctx, pgTablesQuery)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []types.TableInfo
	index := make(map[types.TableName]int)
	for rows.Next() {
		var schema, name string
		if err := rows.Scan(&schema, &name); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		t := types.TableInfo{Name: pgName(schema, name), Schema: schema, Ident: name}
		index[t.Name] = len(tables)
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	pkRows, err := q.QueryContext(ctx, pgPrimaryKeysQuery)
	if err != nil {
		return nil, fmt.Errorf("query primary keys: %w", err)
	}
	defer pkRows.Close()
	for pkRows.Next() {
		var schema, name, col string
		if err := pkRows.Scan(&schema, &name, &col); err != nil {
			return nil, fmt.Errorf("scan primary key: %w", err)
		}
		if i, ok := index[pgName(schema, name)]; ok {
			tables[i].PrimaryKey = append(tables[i].PrimaryKey, col)
		}
	}
	return tables, pkRows.Err()
}

func (Postgres) ForeignKeys(ctx context.Context, q Querier) ([]types.ForeignKeyEdge, error) {
	rows, err := q.QueryContext(ctx, pgForeignKeysQuery)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()

	b := newEdgeBuilder()
	for rows.Next() {
		var (
			name, childSchema, child, parentSchema, parent string
			deferrable                                    bool
			col, parentCol                                string
		)
		if err := rows.Scan(&name, &childSchema, &child, &parentSchema, &parent, &deferrable, &col, &parentCol); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		b.add(pgName(childSchema, child), pgName(parentSchema, parent), name, col, parentCol, deferrable)
	}
	return b.result(), rows.Err()
}

// SelectList is "*": column types are server-side, so lib/pq values
// written back through placeholders keep their stored value.
func (Postgres) SelectList(context.Context, Querier, types.TableInfo) (string, error) {
	return "*", nil
}

func (Postgres) Capabilities() Capabilities {
	return Capabilities{Defer: DeferDeclared, CanDisable: true}
}

// DeferConstraints defers every DEFERRABLE constraint for the transaction.
func (Postgres) DeferConstraints(ctx context.Context, q Querier) error {
	_, err := q.ExecContext(ctx, "SET CONSTRAINTS ALL DEFERRED")
	return err
}

// SetConstraintChecks switches session_replication_role for the current
// transaction, which skips the triggers that enforce foreign keys. It needs
// superuser or replication privileges.
func (Postgres) SetConstraintChecks(ctx context.Context, q Querier, enabled bool) error {
	role := "replica"
	if enabled {
		role = "DEFAULT"
	}
	_, err := q.ExecContext(ctx, "SET LOCAL session_replication_role = "+role)
	return err
}

// CheckConstraints makes deferred constraints immediate, which checks every
// pending row at once.
func (Postgres) CheckConstraints(ctx context.Context, q Querier) error {
	if _, err := q.ExecContext(ctx, "SET CONSTRAINTS ALL IMMEDIATE"); err != nil {
		return fmt.Errorf("%w: %v", ErrConstraintViolation, err)
	}
	return nil
}
