// Package executor applies reset plans to the database.
package executor

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/baseline/internal/dialect"
	"github.com/mesh-intelligence/baseline/internal/planner"
	"github.com/mesh-intelligence/baseline/internal/snapshot"
	"github.com/mesh-intelligence/baseline/pkg/types"
)

// Reset phases reported in types.ResetExecutionError.
const (
	PhaseBegin   = "begin"
	PhaseDefer   = "defer"
	PhaseDisable = "disable"
	PhaseEnable  = "enable"
	PhaseDelete  = "delete"
	PhaseRestore = "restore"
	PhaseCheck   = "check"
	PhaseCommit  = "commit"
)

// Result counts the rows a successful Apply touched.
type Result struct {
	Tables   int
	Deleted  int64
	Restored int64
}

// Executor runs reset plans in a single transaction.
type Executor struct {
	db  *sql.DB
	d   dialect.Dialect
	log zerolog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger used for per-table debug output.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// New returns an Executor for db.
func New(db *sql.DB, d dialect.Dialect, opts ...Option) *Executor {
	e := &Executor{db: db, d: d, log: zerolog.Nop()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Apply deletes the contents of every table in the plan, children first,
// and reinserts the baseline rows, parents first. Nothing is committed
// unless every statement succeeds; failures return
// *types.ResetExecutionError after rollback. An empty plan does nothing.
func (e *Executor) Apply(ctx context.Context, plan *planner.Plan, b *snapshot.Baseline) error {
	_, err := e.ApplyResult(ctx, plan, b)
	return err
}

// ApplyResult is Apply that also reports row counts.
func (e *Executor) ApplyResult(ctx context.Context, plan *planner.Plan, b *snapshot.Baseline) (Result, error) {
	if plan == nil || plan.Empty() {
		return Result{}, nil
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, &types.ResetExecutionError{Phase: PhaseBegin, Err: err}
	}
	run := &run{e: e, tx: tx, baseline: b}
	if err := run.apply(ctx, plan); err != nil {
		run.cleanup(ctx)
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			e.log.Error().Err(rbErr).Msg("rollback failed")
		}
		return Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return Result{}, &types.ResetExecutionError{Phase: PhaseCommit, Err: err}
	}
	run.result.Tables = plan.Len()
	return run.result, nil
}

// run is the state of one Apply.
type run struct {
	e        *Executor
	tx       *sql.Tx
	baseline *snapshot.Baseline
	result   Result

	// disabled is true while constraint checks are switched off.
	disabled bool
}

func (r *run) apply(ctx context.Context, plan *planner.Plan) error {
	if plan.NeedsDeferral() {
		if err := r.e.d.DeferConstraints(ctx, r.tx); err != nil {
			return &types.ResetExecutionError{Phase: PhaseDefer, Err: err}
		}
	}

	for i := len(plan.Steps) - 1; i >= 0; i-- {
		step := plan.Steps[i]
		if err := r.withChecks(ctx, step, func() error {
			for _, t := range step.Tables {
				if err := r.delete(ctx, t); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}
	}

	for _, step := range plan.Steps {
		if err := r.withChecks(ctx, step, func() error {
			for _, t := range step.Tables {
				if err := r.restore(ctx, t); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}
	}

	if plan.NeedsDeferral() {
		if err := r.e.d.CheckConstraints(ctx, r.tx); err != nil {
			return &types.ResetExecutionError{Phase: PhaseCheck, Err: err}
		}
	}
	return nil
}

// withChecks runs fn with constraint checks off when the step needs it.
func (r *run) withChecks(ctx context.Context, step planner.Step, fn func() error) error {
	if step.Strategy != planner.StrategyDisabled {
		return fn()
	}
	if err := r.e.d.SetConstraintChecks(ctx, r.tx, false); err != nil {
		return &types.ResetExecutionError{Table: step.Tables[0], Phase: PhaseDisable, Err: err}
	}
	r.disabled = true
	if err := fn(); err != nil {
		return err
	}
	if err := r.e.d.SetConstraintChecks(ctx, r.tx, true); err != nil {
		return &types.ResetExecutionError{Table: step.Tables[0], Phase: PhaseEnable, Err: err}
	}
	r.disabled = false
	return nil
}

// cleanup turns checks back on after a failure. Session settings outlive
// the transaction on some databases and the connection returns to the pool.
func (r *run) cleanup(ctx context.Context) {
	if !r.disabled {
		return
	}
	if err := r.e.d.SetConstraintChecks(ctx, r.tx, true); err != nil {
		r.e.log.Warn().Err(err).Msg("re-enable constraint checks")
	}
}

func (r *run) table(t types.TableName, phase string) (types.TableInfo, error) {
	info, ok := r.baseline.Table(t)
	if !ok {
		return types.TableInfo{}, &types.ResetExecutionError{Table: t, Phase: phase, Err: errNotCaptured}
	}
	return info, nil
}

var errNotCaptured = errors.New("table not in baseline")

func (r *run) delete(ctx context.Context, t types.TableName) error {
	info, err := r.table(t, PhaseDelete)
	if err != nil {
		return err
	}
	res, err := r.tx.ExecContext(ctx, "DELETE FROM "+dialect.QualifiedName(r.e.d, info))
	if err != nil {
		return &types.ResetExecutionError{Table: t, Phase: PhaseDelete, Err: err}
	}
	n, _ := res.RowsAffected()
	r.result.Deleted += n
	r.e.log.Debug().Str("table", string(t)).Int64("rows", n).Msg("deleted")
	return nil
}

func (r *run) restore(ctx context.Context, t types.TableName) error {
	info, err := r.table(t, PhaseRestore)
	if err != nil {
		return err
	}
	rows := r.baseline.Values(t)
	if len(rows) == 0 {
		return nil
	}

	query := dialect.InsertStatement(r.e.d, dialect.QualifiedName(r.e.d, info), r.baseline.Columns(t))
	stmt, err := r.tx.PrepareContext(ctx, query)
	if err != nil {
		return &types.ResetExecutionError{Table: t, Phase: PhaseRestore, Err: err}
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return &types.ResetExecutionError{Table: t, Phase: PhaseRestore, Err: err}
		}
	}
	r.result.Restored += int64(len(rows))
	r.e.log.Debug().Str("table", string(t)).Int("rows", len(rows)).Msg("restored")
	return nil
}
