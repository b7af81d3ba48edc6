package cli

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/baseline/pkg/types"
)

const testConfig = `
driver: sqlite
schema_files: [schema.sql]
init_files: [init.sql]
log:
  level: error
`

const testSchema = `
CREATE TABLE Bar(id INT PRIMARY KEY, valueColumn INT);
CREATE TABLE Foo(id INT PRIMARY KEY, valueColumn INT, bar_id INT REFERENCES Bar(id));
CREATE TABLE dept(id INT PRIMARY KEY, head_id INT REFERENCES emp(id));
CREATE TABLE emp(id INT PRIMARY KEY, dept_id INT REFERENCES dept(id));
`

const testInit = `
INSERT INTO Bar VALUES (0, 0);
INSERT INTO Foo VALUES (0, 0, 0);
`

// configDir writes a config directory with the fixture schema.
func configDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range map[string]string{
		"config.yaml": testConfig,
		"schema.sql":  testSchema,
		"init.sql":    testInit,
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "baseline v"+Version+"\nmodule: "+modulePath+"\n", out)
}

func TestInit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "conf")

	out, err := run(t, "--config-dir", dir, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote")

	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	var cfg types.Config
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, types.DriverSQLite, cfg.Driver)
	assert.Equal(t, types.DefaultListen, cfg.Listen)
	assert.Equal(t, []string{"schema.sql"}, cfg.SchemaFiles)

	out, err = run(t, "--config-dir", dir, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
}

func TestSnapshotJSON(t *testing.T) {
	dir := configDir(t)
	out, err := run(t, "--config-dir", dir, "--data-dir", filepath.Join(dir, "data"), "--json", "snapshot")
	require.NoError(t, err)

	var snap snapshotOutput
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	require.Len(t, snap.Tables, 4)
	assert.Equal(t, types.TableName("bar"), snap.Tables[0].Table)
	assert.Equal(t, 1, snap.Tables[0].Rows)
	assert.Equal(t, []string{"id", "valueColumn"}, snap.Tables[0].Columns)
}

func TestSnapshotText(t *testing.T) {
	dir := configDir(t)
	out, err := run(t, "--config-dir", dir, "--data-dir", filepath.Join(dir, "data"), "snapshot")
	require.NoError(t, err)
	assert.Contains(t, out, "TABLE")
	assert.Regexp(t, `foo\s+1`, out)
}

func TestSnapshotExport(t *testing.T) {
	dir := configDir(t)
	exportDir := filepath.Join(dir, "export")
	_, err := run(t, "--config-dir", dir, "--data-dir", filepath.Join(dir, "data"), "snapshot", "--export", exportDir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(exportDir, "bar.jsonl"))
	assert.FileExists(t, filepath.Join(exportDir, "foo.jsonl"))
}

func TestPlan(t *testing.T) {
	dir := configDir(t)
	out, err := run(t, "--config-dir", dir, "--data-dir", filepath.Join(dir, "data"), "plan", "--touched", "Bar,unknown")
	require.NoError(t, err)

	assert.Contains(t, out, "dept, emp  (cycle)")
	assert.Contains(t, out, "delete:  foo, bar")
	assert.Contains(t, out, "restore: bar, foo")
	assert.Contains(t, out, "not in schema: unknown")
}

func TestPlanLeavesExistingDatabaseAlone(t *testing.T) {
	dir := configDir(t)
	dbPath := filepath.Join(dir, "existing.db")
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()
	for _, stmt := range []string{testSchema, testInit} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	cfg := testConfig + "dsn: " + dbPath + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(cfg), 0o644))

	out, err := run(t, "--config-dir", dir, "plan", "--touched", "bar")
	require.NoError(t, err)
	assert.Contains(t, out, "restore: bar, foo")

	var n int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM Bar`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestPlanJSON(t *testing.T) {
	dir := configDir(t)
	out, err := run(t, "--config-dir", dir, "--data-dir", filepath.Join(dir, "data"), "--json", "plan", "--touched", "emp")
	require.NoError(t, err)

	var got struct {
		Units []unitOutput `json:"units"`
		Plan  struct {
			Steps []struct {
				Tables   []string `json:"tables"`
				Strategy string   `json:"strategy"`
			} `json:"steps"`
		} `json:"plan"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Len(t, got.Units, 3)
	require.Len(t, got.Plan.Steps, 1)
	assert.Equal(t, []string{"dept", "emp"}, got.Plan.Steps[0].Tables)
	assert.Equal(t, "deferred", got.Plan.Steps[0].Strategy)
}

func TestLoadConfigOverrides(t *testing.T) {
	dir := configDir(t)
	t.Setenv("BASELINE_LISTEN", "127.0.0.1:9999")
	t.Setenv("BASELINE_VERIFY_AFTER_RESET", "true")

	NewRootCmd()
	flags.configDir = dir
	flags.dataDir = filepath.Join(dir, "db")
	flags.logLevel = "debug"

	cfg, resolved, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, dir, resolved)
	assert.Equal(t, "127.0.0.1:9999", cfg.Listen)
	assert.True(t, cfg.VerifyAfterReset)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, filepath.Join(dir, "db"), cfg.DataDir)
	assert.Equal(t, []string{filepath.Join(dir, "schema.sql")}, cfg.SchemaFiles)
}

func TestLoadConfigDotEnv(t *testing.T) {
	dir := configDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("BASELINE_ALLOW_DISABLE_CONSTRAINTS=false\n"), 0o644))
	t.Setenv("BASELINE_ALLOW_DISABLE_CONSTRAINTS", "")
	os.Unsetenv("BASELINE_ALLOW_DISABLE_CONSTRAINTS")

	NewRootCmd()
	flags.configDir = dir
	flags.dataDir = filepath.Join(dir, "db")

	cfg, _, err := loadConfig()
	require.NoError(t, err)
	require.NotNil(t, cfg.AllowDisableConstraints)
	assert.False(t, *cfg.AllowDisableConstraints)
}

func TestLoadConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("driver: oracle\n"), 0o644))

	_, err := run(t, "--config-dir", dir, "snapshot")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrDriverUnknown)
	assert.Equal(t, exitUserError, exitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitSysError, exitCode(sysError("disk: %w", errors.New("full"))))
	assert.Equal(t, exitUserError, exitCode(errors.New("bad flag")))
}
