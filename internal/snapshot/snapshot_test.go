package snapshot

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/baseline/internal/dialect"
	"github.com/mesh-intelligence/baseline/internal/schema"
	"github.com/mesh-intelligence/baseline/pkg/types"
)

var fixture = []string{
	`CREATE TABLE Bar(id INT PRIMARY KEY, valueColumn INT)`,
	`CREATE TABLE Foo(id INT PRIMARY KEY, valueColumn INT, bar_id INT REFERENCES Bar(id))`,
	`CREATE TABLE tag(label TEXT, weight INT)`,
	`INSERT INTO Bar VALUES (0, 0), (2, 20)`,
	`INSERT INTO Foo VALUES (0, 0, 0)`,
	`INSERT INTO tag VALUES ('a', 1), ('a', 1), ('b', 2)`,
}

func setup(t *testing.T) (*sql.DB, dialect.Dialect, *Manager) {
	t.Helper()
	ctx := context.Background()
	d := dialect.SQLite{}
	db, err := sql.Open(d.DriverName(), d.PrepareDSN(filepath.Join(t.TempDir(), "snap.db")))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for _, stmt := range fixture {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}
	g, err := schema.Introspect(ctx, db, d)
	require.NoError(t, err)
	return db, d, NewManager(db, d, g)
}

func TestCaptureBaseline(t *testing.T) {
	ctx := context.Background()
	_, _, m := setup(t)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	_, err := m.Baseline()
	assert.ErrorIs(t, err, ErrNotCaptured)

	b, err := m.CaptureBaseline(ctx)
	require.NoError(t, err)

	assert.Equal(t, fixed, b.CapturedAt())
	assert.Equal(t, []types.TableName{"bar", "foo", "tag"}, b.KnownTables())
	assert.Equal(t, []string{"id", "valueColumn"}, b.Columns("bar"))
	assert.Equal(t, 2, b.RowCount("bar"))
	assert.Equal(t, 3, b.RowCount("tag"))
	assert.Equal(t, 0, b.RowCount("missing"))
	assert.Nil(t, b.BaselineFor("missing"))

	rows := b.BaselineFor("bar")
	require.Len(t, rows, 2)
	assert.Equal(t, types.Row{"id": int64(0), "valueColumn": int64(0)}, rows[0])
	assert.Equal(t, types.Row{"id": int64(2), "valueColumn": int64(20)}, rows[1])

	info, ok := b.Table("foo")
	require.True(t, ok)
	assert.Equal(t, "Foo", info.Ident)

	got, err := m.Baseline()
	require.NoError(t, err)
	assert.Same(t, b, got)

	_, err = m.CaptureBaseline(ctx)
	assert.ErrorIs(t, err, ErrAlreadyCaptured)
}

func TestBaselineCopies(t *testing.T) {
	_, _, m := setup(t)
	b, err := m.CaptureBaseline(context.Background())
	require.NoError(t, err)

	vals := b.Values("bar")
	vals[0][1] = int64(99)
	b.BaselineFor("bar")[0]["valueColumn"] = int64(98)
	b.KnownTables()[0] = "zzz"

	assert.Equal(t, int64(0), b.Values("bar")[0][1])
	assert.Equal(t, int64(0), b.BaselineFor("bar")[0]["valueColumn"])
	assert.Equal(t, types.TableName("bar"), b.KnownTables()[0])
}

func TestBaselineKey(t *testing.T) {
	_, _, m := setup(t)
	b, err := m.CaptureBaseline(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "2", b.Key("bar", []any{int64(2), int64(20)}))
	assert.Equal(t, "a\x1f1", b.Key("tag", []any{[]byte("a"), int64(1)}))
	assert.NotEqual(t, b.Key("tag", []any{nil, int64(1)}), b.Key("tag", []any{"", int64(1)}))
}

func TestDiff(t *testing.T) {
	ctx := context.Background()
	db, d, m := setup(t)
	b, err := m.CaptureBaseline(ctx)
	require.NoError(t, err)

	diffs, err := b.Diff(ctx, db, d)
	require.NoError(t, err)
	assert.Empty(t, diffs)

	for _, stmt := range []string{
		`INSERT INTO Bar VALUES (1, 1)`,
		`UPDATE Bar SET valueColumn = 21 WHERE id = 2`,
		`DELETE FROM tag WHERE rowid = (SELECT min(rowid) FROM tag WHERE label = 'a')`,
	} {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}

	diffs, err = b.Diff(ctx, db, d)
	require.NoError(t, err)
	require.Len(t, diffs, 2)

	assert.Equal(t, types.TableName("bar"), diffs[0].Table)
	assert.Equal(t, []types.Row{{"id": int64(1), "valueColumn": int64(1)}}, diffs[0].Added)
	assert.Equal(t, []types.Row{{"id": int64(2), "valueColumn": int64(21)}}, diffs[0].Changed)
	assert.Empty(t, diffs[0].Removed)

	assert.Equal(t, types.TableName("tag"), diffs[1].Table)
	assert.Equal(t, []types.Row{{"label": "a", "weight": int64(1)}}, diffs[1].Removed)
	assert.Empty(t, diffs[1].Added)

	only, err := b.Diff(ctx, db, d, "foo")
	require.NoError(t, err)
	assert.Empty(t, only)

	_, err = b.Diff(ctx, db, d, "missing")
	assert.Error(t, err)
}

func TestKeyColumns(t *testing.T) {
	tests := []struct {
		name    string
		pk      []string
		columns []string
		want    []int
	}{
		{name: "no key", pk: nil, columns: []string{"a"}, want: nil},
		{name: "single", pk: []string{"id"}, columns: []string{"name", "id"}, want: []int{1}},
		{name: "composite in key order", pk: []string{"b", "a"}, columns: []string{"a", "b"}, want: []int{1, 0}},
		{name: "case insensitive", pk: []string{"ID"}, columns: []string{"id"}, want: []int{0}},
		{name: "missing column", pk: []string{"id"}, columns: []string{"a"}, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, keyColumns(tt.pk, tt.columns))
		})
	}
}

func TestCaptureKeepsStoredDates(t *testing.T) {
	ctx := context.Background()
	db, d, _ := setup(t)
	_, err := db.ExecContext(ctx, `CREATE TABLE ev(id INT PRIMARY KEY, d DATE, ts DATETIME)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO ev VALUES (1, '2024-01-01', '2024-01-01 10:00:00')`)
	require.NoError(t, err)

	g, err := schema.Introspect(ctx, db, d)
	require.NoError(t, err)
	b, err := NewManager(db, d, g).CaptureBaseline(ctx)
	require.NoError(t, err)

	assert.Equal(t, [][]any{{int64(1), "2024-01-01", "2024-01-01 10:00:00"}}, b.Values("ev"))

	// Same instant, different text: the diff sees the stored form.
	_, err = db.ExecContext(ctx, `UPDATE ev SET ts = '2024-01-01T10:00:00Z'`)
	require.NoError(t, err)
	diffs, err := b.Diff(ctx, db, d, "ev")
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Len(t, diffs[0].Changed, 1)
}
