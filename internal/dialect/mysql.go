package dialect

import (
	"context"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/mesh-intelligence/baseline/pkg/types"
)

// MySQL is the go-sql-driver/mysql dialect. Tables are those of the current
// database; foreign keys cannot be deferred, only switched off per session.
type MySQL struct{}

func (MySQL) Name() string                   { return types.DriverMySQL }
func (MySQL) DriverName() string             { return "mysql" }
func (MySQL) PrepareDSN(dsn string) string   { return dsn }
func (MySQL) QuoteIdent(ident string) string { return quoteWith(ident, '`') }
func (MySQL) Placeholder(int) string         { return "?" }

func (MySQL) Tables(ctx context.Context, q Querier) ([]types.TableInfo, error) {
	rows, err := q.QueryContext(ctx, `SELECT TABLE_NAME
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = DATABASE()
		AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []types.TableInfo
	index := make(map[types.TableName]int)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		t := types.TableInfo{Name: types.NormalizeTableName(name), Ident: name}
		index[t.Name] = len(tables)
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	pkRows, err := q.QueryContext(ctx, `SELECT TABLE_NAME, COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = DATABASE()
		AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY TABLE_NAME, ORDINAL_POSITION`)
	if err != nil {
		return nil, fmt.Errorf("query primary keys: %w", err)
	}
	defer pkRows.Close()
	for pkRows.Next() {
		var name, col string
		if err := pkRows.Scan(&name, &col); err != nil {
			return nil, fmt.Errorf("scan primary key: %w", err)
		}
		if i, ok := index[types.NormalizeTableName(name)]; ok {
			tables[i].PrimaryKey = append(tables[i].PrimaryKey, col)
		}
	}
	return tables, pkRows.Err()
}

func (MySQL) ForeignKeys(ctx context.Context, q Querier) ([]types.ForeignKeyEdge, error) {
	rows, err := q.QueryContext(ctx, `SELECT
			kcu.CONSTRAINT_NAME,
			kcu.TABLE_NAME,
			kcu.COLUMN_NAME,
			kcu.REFERENCED_TABLE_NAME,
			kcu.REFERENCED_COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE kcu
		WHERE kcu.TABLE_SCHEMA = DATABASE()
		AND kcu.REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY kcu.TABLE_NAME, kcu.CONSTRAINT_NAME, kcu.ORDINAL_POSITION`)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()

	b := newEdgeBuilder()
	for rows.Next() {
		var name, child, col, parent, parentCol string
		if err := rows.Scan(&name, &child, &col, &parent, &parentCol); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		b.add(types.NormalizeTableName(child), types.NormalizeTableName(parent), name, col, parentCol, false)
	}
	return b.result(), rows.Err()
}

func (MySQL) SelectList(context.Context, Querier, types.TableInfo) (string, error) {
	return "*", nil
}

func (MySQL) Capabilities() Capabilities {
	return Capabilities{Defer: DeferNever, CanDisable: true}
}

func (MySQL) DeferConstraints(context.Context, Querier) error {
	return ErrUnsupported
}

// SetConstraintChecks toggles FOREIGN_KEY_CHECKS for the session q runs on.
func (MySQL) SetConstraintChecks(ctx context.Context, q Querier, enabled bool) error {
	v := "0"
	if enabled {
		v = "1"
	}
	_, err := q.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = "+v)
	return err
}

// CheckConstraints is a no-op: MySQL checks every statement as it runs.
func (MySQL) CheckConstraints(context.Context, Querier) error {
	return nil
}
