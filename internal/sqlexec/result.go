// Package sqlexec executes SQL against a connection and returns row sets.
// It also splits init scripts into statements and classifies statements
// into table accesses so a Runner can feed an access recorder.
package sqlexec

import (
	"context"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/baseline/internal/dialect"
	"github.com/mesh-intelligence/baseline/pkg/types"
)

// QueryResult is the outcome of one statement. Queries fill Columns and
// Rows; other statements fill RowsAffected.
type QueryResult struct {
	Columns      []string
	Rows         [][]any
	RowsAffected int64
}

// RowCount returns the number of rows the statement returned.
func (r *QueryResult) RowCount() int {
	return len(r.Rows)
}

// Row returns row i keyed by column name.
func (r *QueryResult) Row(i int) types.Row {
	row := make(types.Row, len(r.Columns))
	for j, c := range r.Columns {
		row[c] = r.Rows[i][j]
	}
	return row
}

// Maps returns every row keyed by column name.
func (r *QueryResult) Maps() []types.Row {
	out := make([]types.Row, len(r.Rows))
	for i := range r.Rows {
		out[i] = r.Row(i)
	}
	return out
}

// Query runs a statement that returns rows and reads all of them.
func Query(ctx context.Context, q dialect.Querier, query string, args ...any) (*QueryResult, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	res := &QueryResult{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Exec runs any statement. Statements that produce rows (SELECT, WITH,
// VALUES, PRAGMA, SHOW, EXPLAIN, or anything with RETURNING) are read with
// Query; everything else reports rows affected.
func Exec(ctx context.Context, q dialect.Querier, query string, args ...any) (*QueryResult, error) {
	if returnsRows(query) {
		return Query(ctx, q, query, args...)
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Some drivers cannot report it for DDL.
		n = 0
	}
	return &QueryResult{RowsAffected: n}, nil
}

var rowVerbs = map[string]bool{
	"select": true, "with": true, "values": true, "pragma": true,
	"show": true, "explain": true, "describe": true, "table": true,
}

func returnsRows(query string) bool {
	clean := stripLiterals(stripComments(query))
	fields := strings.Fields(clean)
	if len(fields) == 0 {
		return false
	}
	if rowVerbs[strings.ToLower(strings.TrimLeft(fields[0], "("))] {
		return true
	}
	return returningPattern.MatchString(clean)
}
