package engine

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/baseline/internal/coordinator"
	"github.com/mesh-intelligence/baseline/internal/dialect"
	"github.com/mesh-intelligence/baseline/pkg/types"
)

const schemaSQL = `
CREATE TABLE Bar(id INT PRIMARY KEY, valueColumn INT);
CREATE TABLE Foo(
    id INT PRIMARY KEY,
    valueColumn INT,
    bar_id INT,
    CONSTRAINT fk FOREIGN KEY (bar_id) REFERENCES Bar(id)
);
CREATE TABLE notes(body TEXT);
`

const initSQL = `
-- fixture rows
INSERT INTO Bar VALUES (0, 0);
INSERT INTO Foo VALUES (0, 0, 0);
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func openEngine(t *testing.T, mutate ...func(*types.Config)) *Engine {
	t.Helper()
	dir := t.TempDir()
	cfg := types.Config{
		Driver:      types.DriverSQLite,
		DataDir:     filepath.Join(dir, "data"),
		SchemaFiles: []string{writeFile(t, dir, "schema.sql", schemaSQL)},
		InitFiles:   []string{writeFile(t, dir, "init.sql", initSQL)},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := Open(context.Background(), cfg, WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func count(t *testing.T, e *Engine, table string) int {
	t.Helper()
	res, err := e.Exec(context.Background(), "SELECT count(*) AS n FROM "+table)
	require.NoError(t, err)
	require.Equal(t, 1, res.RowCount())
	return int(res.Rows[0][0].(int64))
}

func TestOpen(t *testing.T) {
	e := openEngine(t)

	assert.Equal(t, []types.TableName{"bar", "foo", "notes"}, e.Baseline().KnownTables())
	assert.Equal(t, 1, e.Baseline().RowCount("bar"))
	assert.Equal(t, []types.TableName{"bar"}, e.Graph().Parents("foo"))
	assert.Equal(t, types.DefaultListen, e.Config().Listen)
	assert.FileExists(t, filepath.Join(e.Config().DataDir, DatabaseFile))
}

func TestOpenInvalidConfig(t *testing.T) {
	_, err := Open(context.Background(), types.Config{Driver: "oracle", DSN: "x"})
	assert.ErrorIs(t, err, types.ErrDriverUnknown)
}

func TestOpenFailingInitScript(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(context.Background(), types.Config{
		Driver:    types.DriverSQLite,
		DataDir:   dir,
		InitFiles: []string{writeFile(t, dir, "bad.sql", "INSERT INTO missing VALUES (1);")},
	}, WithLogger(zerolog.Nop()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.sql")
}

func TestScenarioParentInsert(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t)

	_, err := e.StartNewTest(ctx)
	require.NoError(t, err)
	_, err = e.Exec(ctx, "INSERT INTO Bar VALUES (1, 1)")
	require.NoError(t, err)
	assert.Equal(t, 2, count(t, e, "Bar"))

	_, err = e.StartNewTest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count(t, e, "Bar"))
	assert.Equal(t, 1, count(t, e, "Foo"))

	diffs, err := e.Drift(ctx)
	require.NoError(t, err)
	assert.Empty(t, diffs)
}

func TestScenarioChildInsert(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t)

	_, err := e.StartNewTest(ctx)
	require.NoError(t, err)
	_, err = e.Exec(ctx, "INSERT INTO Foo VALUES (?, ?, ?)", 1, 0, 0)
	require.NoError(t, err)

	require.NoError(t, e.EndTest(ctx))
	assert.Equal(t, 1, count(t, e, "Bar"))
	assert.Equal(t, 1, count(t, e, "Foo"))
	assert.Equal(t, coordinator.StateIdle, e.Status().State)
}

func TestResetKeepsStoredDateText(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t, func(cfg *types.Config) {
		dir := t.TempDir()
		cfg.SchemaFiles = append(cfg.SchemaFiles, writeFile(t, dir, "ev.sql",
			`CREATE TABLE ev(id INT PRIMARY KEY, d DATE, ts TIMESTAMP);`))
		cfg.InitFiles = append(cfg.InitFiles, writeFile(t, dir, "ev_init.sql",
			`INSERT INTO ev VALUES (1, '2024-01-01', '2024-01-01 10:00:00');`))
	})
	stored := func() string {
		t.Helper()
		var s string
		require.NoError(t, e.DB().QueryRowContext(ctx, `SELECT d || '|' || ts FROM ev WHERE id = 1`).Scan(&s))
		return s
	}
	require.Equal(t, "2024-01-01|2024-01-01 10:00:00", stored())

	_, err := e.StartNewTest(ctx)
	require.NoError(t, err)
	_, err = e.Exec(ctx, "INSERT INTO ev VALUES (2, '2024-02-02', '2024-02-02 00:00:00')")
	require.NoError(t, err)
	_, err = e.StartNewTest(ctx)
	require.NoError(t, err)

	assert.Equal(t, "2024-01-01|2024-01-01 10:00:00", stored())
	var n int
	require.NoError(t, e.DB().QueryRowContext(ctx, `SELECT count(*) FROM ev WHERE d = '2024-01-01'`).Scan(&n))
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, count(t, e, "ev"))

	diffs, err := e.Drift(ctx)
	require.NoError(t, err)
	assert.Empty(t, diffs)
}

func TestInspectDoesNotRunScripts(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "existing.db")
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(schemaSQL + initSQL)
	require.NoError(t, err)

	in, err := Inspect(ctx, types.Config{
		Driver:      types.DriverSQLite,
		DSN:         dbPath,
		SchemaFiles: []string{writeFile(t, dir, "schema.sql", schemaSQL)},
		InitFiles:   []string{writeFile(t, dir, "init.sql", initSQL)},
	})
	require.NoError(t, err)
	defer in.Close()

	assert.Equal(t, []types.TableName{"bar", "foo", "notes"}, in.Graph().Tables())
	plan, err := in.Plan(types.NewAccessSet("bar"))
	require.NoError(t, err)
	assert.Equal(t, []types.TableName{"bar", "foo"}, plan.RestoreOrder())
	assert.NoError(t, in.CheckCycles())

	var n int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM Bar`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestInspectOwnedDatabaseRunsSchemaOnly(t *testing.T) {
	dir := t.TempDir()
	in, err := Inspect(context.Background(), types.Config{
		Driver:      types.DriverSQLite,
		DataDir:     filepath.Join(dir, "data"),
		SchemaFiles: []string{writeFile(t, dir, "schema.sql", schemaSQL)},
		InitFiles:   []string{writeFile(t, dir, "init.sql", "INSERT INTO missing VALUES (1);")},
	})
	require.NoError(t, err)
	defer in.Close()
	assert.Len(t, in.Graph().Tables(), 3)
}

// rigidSQLite is SQLite reporting no way to relax foreign-key checks.
type rigidSQLite struct{ dialect.SQLite }

func (rigidSQLite) Capabilities() dialect.Capabilities { return dialect.Capabilities{} }

func TestNewRejectsUnresolvableCycle(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	d := rigidSQLite{}
	db, err := sql.Open(d.DriverName(), d.PrepareDSN(filepath.Join(dir, "cycle.db")))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	cfg := types.Config{
		Driver:      types.DriverSQLite,
		DataDir:     dir,
		SchemaFiles: []string{writeFile(t, dir, "schema.sql", `CREATE TABLE emp(id INT PRIMARY KEY, mgr INT REFERENCES emp(id));`)},
	}
	_, err = New(ctx, db, d, cfg, WithLogger(zerolog.Nop()))
	require.ErrorIs(t, err, types.ErrCycleResolution)
	var cerr *types.CycleResolutionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []types.TableName{"emp"}, cerr.Tables)
}

func TestNoWritesNoReset(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t)

	_, err := e.StartNewTest(ctx)
	require.NoError(t, err)
	_, err = e.Exec(ctx, "SELECT * FROM Bar JOIN Foo ON Foo.bar_id = Bar.id")
	require.NoError(t, err)

	plan, err := e.Plan(e.tracker.CurrentAccessSet())
	require.NoError(t, err)
	assert.Equal(t, 0, plan.Len())

	_, err = e.StartNewTest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), e.Status().Resets)
}

func TestRecordAccessHook(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t, func(c *types.Config) { c.VerifyAfterReset = true })

	_, err := e.StartNewTest(ctx)
	require.NoError(t, err)

	// Write through the raw connection and report it through the hook.
	_, err = e.DB().ExecContext(ctx, "UPDATE Bar SET valueColumn = 5")
	require.NoError(t, err)
	e.RecordAccess("BAR", types.OpUpdate)

	// An unreported write is caught by the drift check.
	_, err = e.DB().ExecContext(ctx, "INSERT INTO notes VALUES ('leak')")
	require.NoError(t, err)

	_, err = e.StartNewTest(ctx)
	require.NoError(t, err)

	st := e.Status()
	require.NotNil(t, st.LastReset)
	assert.Equal(t, []types.TableName{"bar", "foo"}, st.LastReset.Tables)
	assert.Equal(t, []types.TableName{"notes"}, st.LastReset.Drift)
}

func TestClose(t *testing.T) {
	e := openEngine(t)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err := e.StartNewTest(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	_, err = e.Exec(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, e.EndTest(context.Background()), ErrClosed)
}
