package dialect

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/baseline/pkg/types"
)

// openSQLite opens a file database in a temp dir with foreign keys enforced
// and runs ddl against it.
func openSQLite(t *testing.T, ddl ...string) *sql.DB {
	t.Helper()

	d := SQLite{}
	db, err := sql.Open(d.DriverName(), d.PrepareDSN(filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for _, stmt := range ddl {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return db
}

const (
	ddlBar  = `CREATE TABLE Bar(id INT PRIMARY KEY, valueColumn INT)`
	ddlFoo  = `CREATE TABLE Foo(id INT PRIMARY KEY, valueColumn INT, bar_id INT, CONSTRAINT fk FOREIGN KEY (bar_id) REFERENCES Bar(id))`
	ddlNode = `CREATE TABLE node(id INT PRIMARY KEY, parent_id INT REFERENCES node(id))`
	ddlPair = `CREATE TABLE pair(a INT, b INT, label TEXT, PRIMARY KEY (b, a))`
)

func TestSQLitePrepareDSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "/tmp/x.db", want: "file:/tmp/x.db?_pragma=foreign_keys(1)"},
		{in: "file:x.db?cache=shared", want: "file:x.db?cache=shared&_pragma=foreign_keys(1)"},
		{in: "file:x.db?_pragma=foreign_keys(0)", want: "file:x.db?_pragma=foreign_keys(0)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SQLite{}.PrepareDSN(tt.in))
	}
}

func TestSQLiteTables(t *testing.T) {
	db := openSQLite(t, ddlBar, ddlFoo, ddlPair)

	tables, err := SQLite{}.Tables(context.Background(), db)
	require.NoError(t, err)
	require.Len(t, tables, 3)

	assert.Equal(t, types.TableInfo{Name: "bar", Ident: "Bar", PrimaryKey: []string{"id"}}, tables[0])
	assert.Equal(t, types.TableName("foo"), tables[1].Name)
	assert.Equal(t, "Foo", tables[1].Ident)
	assert.Equal(t, []string{"b", "a"}, tables[2].PrimaryKey, "composite key keeps declaration order")
}

func TestSQLiteForeignKeys(t *testing.T) {
	db := openSQLite(t, ddlBar, ddlFoo, ddlNode)

	edges, err := SQLite{}.ForeignKeys(context.Background(), db)
	require.NoError(t, err)
	require.Len(t, edges, 2)

	byChild := map[types.TableName]types.ForeignKeyEdge{}
	for _, e := range edges {
		byChild[e.Child] = e
	}

	foo := byChild["foo"]
	assert.Equal(t, types.TableName("bar"), foo.Parent)
	assert.Equal(t, []string{"bar_id"}, foo.Columns)
	assert.Equal(t, []string{"id"}, foo.ParentColumns)
	assert.True(t, foo.Deferrable)

	assert.True(t, byChild["node"].SelfReference())
}

func TestSQLiteDeferConstraints(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t, ddlBar, ddlFoo)

	// Without deferral the orphan insert fails at once.
	_, err := db.Exec(`INSERT INTO Foo VALUES (1, 0, 7)`)
	require.Error(t, err)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, SQLite{}.DeferConstraints(ctx, tx))

	_, err = tx.ExecContext(ctx, `INSERT INTO Foo VALUES (1, 0, 7)`)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, `INSERT INTO Bar VALUES (7, 0)`)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM Foo`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestSQLiteCheckConstraints(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t, ddlBar, ddlFoo)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, SQLite{}.DeferConstraints(ctx, tx))
	_, err = tx.ExecContext(ctx, `INSERT INTO Foo VALUES (1, 0, 7)`)
	require.NoError(t, err)

	err = SQLite{}.CheckConstraints(ctx, tx)
	assert.ErrorIs(t, err, ErrConstraintViolation)
	require.NoError(t, tx.Rollback())

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM Foo`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestSQLiteCheckConstraintsClean(t *testing.T) {
	db := openSQLite(t, ddlBar, ddlFoo, `INSERT INTO Bar VALUES (0, 0)`, `INSERT INTO Foo VALUES (0, 0, 0)`)
	assert.NoError(t, SQLite{}.CheckConstraints(context.Background(), db))
}

func TestSQLiteSetConstraintChecksUnsupported(t *testing.T) {
	db := openSQLite(t)
	err := SQLite{}.SetConstraintChecks(context.Background(), db, false)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestSQLiteSelectList(t *testing.T) {
	db := openSQLite(t,
		`CREATE TABLE ev(id INT PRIMARY KEY, d DATE, "at" TIMESTAMP)`,
		`INSERT INTO ev VALUES (1, '2024-01-01', '2024-01-01 10:00:00')`)
	ctx := context.Background()
	d := SQLite{}

	list, err := d.SelectList(ctx, db, types.TableInfo{Name: "ev", Ident: "ev"})
	require.NoError(t, err)
	assert.Equal(t, `+"id" AS "id", +"d" AS "d", +"at" AS "at"`, list)

	var (
		id    int64
		day   any
		stamp any
	)
	require.NoError(t, db.QueryRow("SELECT "+list+" FROM ev").Scan(&id, &day, &stamp))
	assert.Equal(t, "2024-01-01", day)
	assert.Equal(t, "2024-01-01 10:00:00", stamp)
}
