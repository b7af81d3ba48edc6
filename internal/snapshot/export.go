package snapshot

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mesh-intelligence/baseline/pkg/types"
)

// ExportExt is the file extension of exported tables.
const ExportExt = ".jsonl"

// Export writes every captured table to dir as <table>.jsonl, one JSON
// object per row in capture order. Each file is replaced atomically. It
// returns the paths written, in dependency order.
func (b *Baseline) Export(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating export directory: %w", err)
	}
	paths := make([]string, 0, len(b.order))
	for _, t := range b.order {
		records, err := b.records(t)
		if err != nil {
			return paths, fmt.Errorf("encoding %s: %w", t, err)
		}
		path := filepath.Join(dir, string(t)+ExportExt)
		if err := writeJSONL(path, records); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (b *Baseline) records(t types.TableName) ([]json.RawMessage, error) {
	td := b.tables[t]
	out := make([]json.RawMessage, 0, len(td.rows))
	for _, r := range td.rows {
		row := make(map[string]any, len(td.columns))
		for j, c := range td.columns {
			row[c] = exportValue(r[j])
		}
		raw, err := json.Marshal(row)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func exportValue(v any) any {
	if ts, ok := normalize(v).(time.Time); ok {
		return ts.Format(time.RFC3339Nano)
	}
	return normalize(v)
}

// ReadJSONL reads an exported table. Blank and malformed lines are skipped.
func ReadJSONL(path string) ([]types.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var rows []types.Row
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row types.Row
		if err := json.Unmarshal(line, &row); err != nil {
			continue
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return rows, nil
}

// writeJSONL writes records through a temp file that is synced and renamed
// over path.
func writeJSONL(path string, records []json.RawMessage) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(format string, err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf(format, err)
	}

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			return fail("writing record: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fail("writing newline: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fail("flushing buffer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
