// Package snapshot captures the post-initialization contents of every table
// and compares live tables against that baseline.
package snapshot

import (
	"fmt"
	"strings"
	"time"

	"github.com/mesh-intelligence/baseline/pkg/types"
)

// tableData is the captured contents of one table.
type tableData struct {
	info    types.TableInfo
	columns []string
	rows    [][]any
	// keyCols are the column positions that identify a row.
	keyCols []int
}

// Baseline is the immutable snapshot taken once after initialization.
// Accessors return copies.
type Baseline struct {
	capturedAt time.Time
	order      []types.TableName
	tables     map[types.TableName]*tableData
}

// CapturedAt returns when the baseline was taken.
func (b *Baseline) CapturedAt() time.Time { return b.capturedAt }

// KnownTables returns every captured table in dependency order, parents first.
func (b *Baseline) KnownTables() []types.TableName {
	return append([]types.TableName(nil), b.order...)
}

// Table returns the metadata a table was captured with.
func (b *Baseline) Table(t types.TableName) (types.TableInfo, bool) {
	td, ok := b.tables[t]
	if !ok {
		return types.TableInfo{}, false
	}
	return td.info, true
}

// Columns returns the column names of a captured table in select order.
func (b *Baseline) Columns(t types.TableName) []string {
	td, ok := b.tables[t]
	if !ok {
		return nil
	}
	return append([]string(nil), td.columns...)
}

// Values returns the captured rows of t as positional values matching
// Columns. The outer and inner slices are copies.
func (b *Baseline) Values(t types.TableName) [][]any {
	td, ok := b.tables[t]
	if !ok {
		return nil
	}
	out := make([][]any, len(td.rows))
	for i, r := range td.rows {
		out[i] = append([]any(nil), r...)
	}
	return out
}

// BaselineFor returns the captured rows of t keyed by column name, or nil
// for a table that was not captured.
func (b *Baseline) BaselineFor(t types.TableName) []types.Row {
	td, ok := b.tables[t]
	if !ok {
		return nil
	}
	out := make([]types.Row, len(td.rows))
	for i, r := range td.rows {
		row := make(types.Row, len(td.columns))
		for j, c := range td.columns {
			row[c] = r[j]
		}
		out[i] = row
	}
	return out
}

// RowCount returns the number of captured rows of t.
func (b *Baseline) RowCount(t types.TableName) int {
	if td, ok := b.tables[t]; ok {
		return len(td.rows)
	}
	return 0
}

// Key returns the identity of row within table t: its primary key values,
// or every value when the table has no primary key. Rows must be positional
// and match Columns.
func (b *Baseline) Key(t types.TableName, row []any) string {
	td, ok := b.tables[t]
	if !ok {
		return rowKey(row, nil)
	}
	return rowKey(row, td.keyCols)
}

// keyColumns maps primary key names to positions in columns. It returns nil
// when any key column is missing so the whole row is used.
func keyColumns(pk, columns []string) []int {
	if len(pk) == 0 {
		return nil
	}
	pos := make(map[string]int, len(columns))
	for i, c := range columns {
		pos[strings.ToLower(c)] = i
	}
	out := make([]int, 0, len(pk))
	for _, k := range pk {
		i, ok := pos[strings.ToLower(k)]
		if !ok {
			return nil
		}
		out = append(out, i)
	}
	return out
}

func rowKey(row []any, cols []int) string {
	var b strings.Builder
	if cols == nil {
		for i, v := range row {
			if i > 0 {
				b.WriteByte(0x1f)
			}
			b.WriteString(formatValue(v))
		}
		return b.String()
	}
	for i, c := range cols {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		b.WriteString(formatValue(row[c]))
	}
	return b.String()
}

// normalize converts driver-specific representations into values that
// compare equal across reads: byte slices become strings and times are UTC.
func normalize(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC()
	}
	return v
}

func formatValue(v any) string {
	switch x := normalize(v).(type) {
	case nil:
		return "\x00NULL"
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func sameRow(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if formatValue(a[i]) != formatValue(b[i]) {
			return false
		}
	}
	return true
}
