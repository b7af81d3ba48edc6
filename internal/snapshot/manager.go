package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mesh-intelligence/baseline/internal/dialect"
	"github.com/mesh-intelligence/baseline/internal/schema"
	"github.com/mesh-intelligence/baseline/internal/sqlexec"
	"github.com/mesh-intelligence/baseline/pkg/types"
)

// Manager errors.
var (
	ErrAlreadyCaptured = errors.New("baseline already captured")
	ErrNotCaptured     = errors.New("baseline not captured")
)

// Manager owns the one baseline of a database.
type Manager struct {
	q     dialect.Querier
	d     dialect.Dialect
	graph *schema.Graph

	mu       sync.Mutex
	baseline *Baseline
	now      func() time.Time
}

// NewManager returns a Manager reading through q.
func NewManager(q dialect.Querier, d dialect.Dialect, g *schema.Graph) *Manager {
	return &Manager{q: q, d: d, graph: g, now: time.Now}
}

// CaptureBaseline reads every table of the graph in dependency order and
// keeps the result. It may succeed only once.
func (m *Manager) CaptureBaseline(ctx context.Context) (*Baseline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.baseline != nil {
		return nil, ErrAlreadyCaptured
	}

	b := &Baseline{
		capturedAt: m.now(),
		tables:     make(map[types.TableName]*tableData),
	}
	for _, name := range m.graph.Order() {
		info, _ := m.graph.Table(name)
		cols, rows, err := ReadTable(ctx, m.q, m.d, info)
		if err != nil {
			return nil, fmt.Errorf("capture %s: %w", name, err)
		}
		b.order = append(b.order, name)
		b.tables[name] = &tableData{
			info:    info,
			columns: cols,
			rows:    rows,
			keyCols: keyColumns(info.PrimaryKey, cols),
		}
	}
	m.baseline = b
	return b, nil
}

// Baseline returns the captured baseline.
func (m *Manager) Baseline() (*Baseline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.baseline == nil {
		return nil, ErrNotCaptured
	}
	return m.baseline, nil
}

// ReadTable selects every row of a table as stored, ordered by primary key
// when it has one.
func ReadTable(ctx context.Context, q dialect.Querier, d dialect.Dialect, info types.TableInfo) ([]string, [][]any, error) {
	list, err := d.SelectList(ctx, q, info)
	if err != nil {
		return nil, nil, err
	}
	query := "SELECT " + list + " FROM " + dialect.QualifiedName(d, info)
	if len(info.PrimaryKey) > 0 {
		quoted := make([]string, len(info.PrimaryKey))
		for i, c := range info.PrimaryKey {
			quoted[i] = d.QuoteIdent(c)
		}
		query += " ORDER BY " + strings.Join(quoted, ", ")
	}
	res, err := sqlexec.Query(ctx, q, query)
	if err != nil {
		return nil, nil, err
	}
	return res.Columns, res.Rows, nil
}
