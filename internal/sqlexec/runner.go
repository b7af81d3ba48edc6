package sqlexec

import (
	"context"

	"github.com/mesh-intelligence/baseline/internal/dialect"
	"github.com/mesh-intelligence/baseline/pkg/types"
)

// Recorder receives table access events.
type Recorder interface {
	RecordAccess(table types.TableName, kind types.OperationKind)
}

// Runner executes statements and reports the tables each one names to a
// Recorder before running it.
type Runner struct {
	q   dialect.Querier
	rec Recorder
}

// NewRunner returns a Runner. rec may be nil, in which case nothing is
// recorded.
func NewRunner(q dialect.Querier, rec Recorder) *Runner {
	return &Runner{q: q, rec: rec}
}

// Exec records the accesses of query and runs it.
func (r *Runner) Exec(ctx context.Context, query string, args ...any) (*QueryResult, error) {
	if r.rec != nil {
		for _, a := range Classify(query) {
			r.rec.RecordAccess(a.Table, a.Kind)
		}
	}
	return Exec(ctx, r.q, query, args...)
}
