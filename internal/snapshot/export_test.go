package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/baseline/pkg/types"
)

func TestExport(t *testing.T) {
	_, _, m := setup(t)
	b, err := m.CaptureBaseline(context.Background())
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "export")
	paths, err := b.Export(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "bar.jsonl"),
		filepath.Join(dir, "foo.jsonl"),
		filepath.Join(dir, "tag.jsonl"),
	}, paths)

	rows, err := ReadJSONL(filepath.Join(dir, "bar.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, []types.Row{
		{"id": float64(0), "valueColumn": float64(0)},
		{"id": float64(2), "valueColumn": float64(20)},
	}, rows)

	rows, err = ReadJSONL(filepath.Join(dir, "tag.jsonl"))
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "no temp files left behind")
}

func TestReadJSONLSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.jsonl")
	data := "{\"id\":1}\n\nnot json\n{\"id\":2}\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	rows, err := ReadJSONL(path)
	require.NoError(t, err)
	assert.Equal(t, []types.Row{{"id": float64(1)}, {"id": float64(2)}}, rows)

	_, err = ReadJSONL(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}
