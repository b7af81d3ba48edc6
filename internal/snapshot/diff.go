package snapshot

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/baseline/internal/dialect"
	"github.com/mesh-intelligence/baseline/pkg/types"
)

// TableDiff lists the rows of one table that differ from the baseline.
// Changed holds the live version of rows whose key is in the baseline.
type TableDiff struct {
	Table   types.TableName `json:"table"`
	Added   []types.Row     `json:"added,omitempty"`
	Removed []types.Row     `json:"removed,omitempty"`
	Changed []types.Row     `json:"changed,omitempty"`
}

// Empty reports whether the table matches the baseline.
func (d TableDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Diff reads tables (every known table when none are given) and returns the
// ones whose contents differ from the baseline.
func (b *Baseline) Diff(ctx context.Context, q dialect.Querier, d dialect.Dialect, tables ...types.TableName) ([]TableDiff, error) {
	if len(tables) == 0 {
		tables = b.order
	}
	var out []TableDiff
	for _, t := range tables {
		td, ok := b.tables[t]
		if !ok {
			return nil, fmt.Errorf("diff %s: table not in baseline", t)
		}
		cols, rows, err := ReadTable(ctx, q, d, td.info)
		if err != nil {
			return nil, fmt.Errorf("diff %s: %w", t, err)
		}
		diff := td.compare(cols, rows)
		if !diff.Empty() {
			out = append(out, diff)
		}
	}
	return out, nil
}

// compare matches live rows to captured rows by key. Keys are treated as a
// multiset so tables without a primary key may hold duplicates.
func (td *tableData) compare(cols []string, rows [][]any) TableDiff {
	diff := TableDiff{Table: td.info.Name}
	keyCols := keyColumns(td.info.PrimaryKey, cols)

	captured := make(map[string][][]any)
	for _, r := range td.rows {
		k := rowKey(r, td.keyCols)
		captured[k] = append(captured[k], r)
	}

	for _, r := range rows {
		k := rowKey(r, keyCols)
		prev := captured[k]
		if len(prev) == 0 {
			diff.Added = append(diff.Added, toRow(cols, r))
			continue
		}
		captured[k] = prev[1:]
		if !sameRow(prev[0], r) {
			diff.Changed = append(diff.Changed, toRow(cols, r))
		}
	}

	// Walk captured rows in order so Removed is deterministic.
	for _, r := range td.rows {
		k := rowKey(r, td.keyCols)
		if rest := captured[k]; len(rest) > 0 {
			diff.Removed = append(diff.Removed, toRow(td.columns, rest[0]))
			captured[k] = rest[1:]
		}
	}
	return diff
}

func toRow(cols []string, vals []any) types.Row {
	row := make(types.Row, len(cols))
	for i, c := range cols {
		row[c] = normalize(vals[i])
	}
	return row
}
