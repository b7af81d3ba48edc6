package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/baseline/pkg/types"
)

// SQLite is the modernc.org/sqlite dialect. Foreign keys are enforced through
// the foreign_keys pragma, which PrepareDSN turns on for every connection.
type SQLite struct{}

func (SQLite) Name() string       { return types.DriverSQLite }
func (SQLite) DriverName() string { return "sqlite" }

// PrepareDSN turns a plain path into a file: URI and adds
// _pragma=foreign_keys(1) unless the DSN already sets it.
func (SQLite) PrepareDSN(dsn string) string {
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)"
}

func (SQLite) QuoteIdent(ident string) string { return quoteWith(ident, '"') }
func (SQLite) Placeholder(int) string         { return "?" }

func (SQLite) Tables(ctx context.Context, q Querier) ([]types.TableInfo, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	var tables []types.TableInfo
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, types.TableInfo{Name: types.NormalizeTableName(name), Ident: name})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Primary keys are read after the table cursor is closed; an SQLite
	// database/sql pool may only hold one connection.
	for i := range tables {
		pk, err := sqlitePrimaryKey(ctx, q, tables[i].Ident)
		if err != nil {
			return nil, fmt.Errorf("primary key of %s: %w", tables[i].Ident, err)
		}
		tables[i].PrimaryKey = pk
	}
	return tables, nil
}

func sqlitePrimaryKey(ctx context.Context, q Querier, table string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM pragma_table_info(?) WHERE pk > 0 ORDER BY pk`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (d SQLite) ForeignKeys(ctx context.Context, q Querier) ([]types.ForeignKeyEdge, error) {
	tables, err := d.Tables(ctx, q)
	if err != nil {
		return nil, err
	}
	b := newEdgeBuilder()
	for _, t := range tables {
		if err := sqliteForeignKeys(ctx, q, t, b); err != nil {
			return nil, fmt.Errorf("foreign keys of %s: %w", t.Ident, err)
		}
	}
	return b.result(), nil
}

func sqliteForeignKeys(ctx context.Context, q Querier, t types.TableInfo, b *edgeBuilder) error {
	rows, err := q.QueryContext(ctx, `SELECT id, "table", "from", "to"
		FROM pragma_foreign_key_list(?) ORDER BY id, seq`, t.Ident)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id     int
			parent string
			from   string
			to     sql.NullString
		)
		if err := rows.Scan(&id, &parent, &from, &to); err != nil {
			return err
		}
		// A NULL "to" means the parent's primary key; the graph only needs
		// the column for reporting, so the child column name stands in.
		toCol := to.String
		if !to.Valid {
			toCol = from
		}
		// SQLite can defer any foreign key per transaction.
		b.add(t.Name, types.NormalizeTableName(parent), fmt.Sprintf("fk_%s_%d", t.Name, id), from, toCol, true)
	}
	return rows.Err()
}

// SelectList reads each column through unary plus. The operator returns the
// stored value unchanged but drops the declared type, and the driver only
// converts DATE, DATETIME and TIMESTAMP columns to time.Time by declared
// type. Writing such a time.Time back would change the stored text.
func (d SQLite) SelectList(ctx context.Context, q Querier, t types.TableInfo) (string, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM pragma_table_info(?) ORDER BY cid`, t.Ident)
	if err != nil {
		return "", fmt.Errorf("columns of %s: %w", t.Ident, err)
	}
	defer rows.Close()

	var parts []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", fmt.Errorf("scan column: %w", err)
		}
		quoted := d.QuoteIdent(name)
		parts = append(parts, "+"+quoted+" AS "+quoted)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(parts) == 0 {
		return "*", nil
	}
	return strings.Join(parts, ", "), nil
}

func (SQLite) Capabilities() Capabilities {
	return Capabilities{Defer: DeferAlways}
}

// DeferConstraints sets defer_foreign_keys, which SQLite clears on commit.
func (SQLite) DeferConstraints(ctx context.Context, q Querier) error {
	_, err := q.ExecContext(ctx, "PRAGMA defer_foreign_keys = ON")
	return err
}

// SetConstraintChecks is unsupported: the foreign_keys pragma is a no-op
// inside a transaction.
func (SQLite) SetConstraintChecks(context.Context, Querier, bool) error {
	return ErrUnsupported
}

// CheckConstraints runs foreign_key_check, which reports rows whose parent is
// missing regardless of deferral.
func (SQLite) CheckConstraints(ctx context.Context, q Querier) error {
	rows, err := q.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return err
	}
	defer rows.Close()

	if rows.Next() {
		var (
			table  string
			rowid  sql.NullInt64
			parent string
			fkid   int
		)
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s row %d references missing %s", ErrConstraintViolation, table, rowid.Int64, parent)
	}
	return rows.Err()
}
