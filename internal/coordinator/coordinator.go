// Package coordinator drives test boundaries: at each boundary it plans and
// applies the reset for the tables written since the previous one.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/baseline/internal/executor"
	"github.com/mesh-intelligence/baseline/internal/logging"
	"github.com/mesh-intelligence/baseline/internal/metrics"
	"github.com/mesh-intelligence/baseline/internal/planner"
	"github.com/mesh-intelligence/baseline/internal/schema"
	"github.com/mesh-intelligence/baseline/internal/snapshot"
	"github.com/mesh-intelligence/baseline/internal/tracker"
	"github.com/mesh-intelligence/baseline/pkg/types"
)

// State is the lifecycle state of the coordinator.
type State int

const (
	StateIdle State = iota
	StateInTest
	StateResetting
)

func (s State) String() string {
	switch s {
	case StateInTest:
		return "in_test"
	case StateResetting:
		return "resetting"
	}
	return "idle"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Applier applies a reset plan. *executor.Executor implements it.
type Applier interface {
	ApplyResult(ctx context.Context, plan *planner.Plan, b *snapshot.Baseline) (executor.Result, error)
}

// DriftFunc compares live tables with the baseline.
type DriftFunc func(ctx context.Context) ([]snapshot.TableDiff, error)

// Components are the collaborators a Coordinator drives.
type Components struct {
	Tracker  *tracker.Tracker
	Planner  *planner.Planner
	Graph    *schema.Graph
	Executor Applier
	Baseline *snapshot.Baseline
}

// ErrMissingComponent is returned by New when a component is nil.
var ErrMissingComponent = errors.New("coordinator component is nil")

// ResetSummary describes the most recent boundary reset.
type ResetSummary struct {
	Boundary string            `json:"boundary"`
	At       time.Time         `json:"at"`
	Tables   []types.TableName `json:"tables"`
	Ignored  []types.TableName `json:"ignored,omitempty"`
	Rows     int64             `json:"rows_restored"`
	Duration time.Duration     `json:"duration_ns"`
	Drift    []types.TableName `json:"drift,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	State         State             `json:"state"`
	Boundary      string            `json:"boundary,omitempty"`
	TestsStarted  uint64            `json:"tests_started"`
	Resets        uint64            `json:"resets"`
	Failures      uint64            `json:"failures"`
	LastReset     *ResetSummary     `json:"last_reset,omitempty"`
	PendingWrites []types.TableName `json:"pending_writes"`
	PendingReads  []types.TableName `json:"pending_reads"`
}

// Coordinator serializes boundary signals. Only one boundary runs at a
// time; RecordAccess calls arriving during a reset wait in the tracker.
type Coordinator struct {
	c       Components
	log     zerolog.Logger
	metrics *metrics.Metrics
	drift   DriftFunc
	now     func() time.Time

	boundary sync.Mutex

	mu           sync.Mutex
	state        State
	current      string
	testsStarted uint64
	resets       uint64
	failures     uint64
	last         *ResetSummary
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = logging.Component(l, "coordinator") }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithDriftCheck runs fn after every reset and logs the tables that still
// differ from the baseline.
func WithDriftCheck(fn DriftFunc) Option {
	return func(c *Coordinator) { c.drift = fn }
}

// New returns a Coordinator in StateIdle.
func New(c Components, opts ...Option) (*Coordinator, error) {
	if c.Tracker == nil || c.Planner == nil || c.Graph == nil || c.Executor == nil || c.Baseline == nil {
		return nil, ErrMissingComponent
	}
	co := &Coordinator{c: c, log: zerolog.Nop(), now: time.Now}
	for _, o := range opts {
		o(co)
	}
	return co, nil
}

// StartNewTest resets the tables written since the previous boundary and
// begins a new test. It returns the new test's boundary ID. When the reset
// fails the coordinator stays in StateInTest with the written set intact.
func (c *Coordinator) StartNewTest(ctx context.Context) (string, error) {
	c.boundary.Lock()
	defer c.boundary.Unlock()

	if err := c.reset(ctx); err != nil {
		return "", err
	}

	id := newBoundaryID()
	c.mu.Lock()
	c.state = StateInTest
	c.current = id
	c.testsStarted++
	c.mu.Unlock()

	c.metrics.ObserveTestStarted()
	c.log.Debug().Str(logging.FieldBoundary, id).Msg("test started")
	return id, nil
}

// EndTest resets the tables written since the previous boundary and leaves
// the coordinator idle.
func (c *Coordinator) EndTest(ctx context.Context) error {
	c.boundary.Lock()
	defer c.boundary.Unlock()

	if err := c.reset(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.state = StateIdle
	c.current = ""
	c.mu.Unlock()
	return nil
}

// reset runs with the boundary lock held.
func (c *Coordinator) reset(ctx context.Context) error {
	c.mu.Lock()
	c.state = StateResetting
	boundary := c.current
	c.mu.Unlock()

	start := c.now()
	summary := &ResetSummary{Boundary: boundary, At: start}

	err := c.c.Tracker.Boundary(func(writes types.AccessSet) error {
		if writes.Len() == 0 {
			summary = nil
			return nil
		}
		plan, err := c.c.Planner.Plan(writes, c.c.Graph)
		if err != nil {
			return err
		}
		if len(plan.Ignored) > 0 {
			c.log.Warn().Interface(logging.FieldTables, plan.Ignored).Msg("written tables not in schema graph")
			c.metrics.ObserveIgnored(len(plan.Ignored))
		}
		summary.Ignored = plan.Ignored
		summary.Tables = plan.RestoreOrder()

		res, err := c.c.Executor.ApplyResult(ctx, plan, c.c.Baseline)
		if err != nil {
			return err
		}
		summary.Rows = res.Restored
		return nil
	})

	if summary == nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return nil
	}

	summary.Duration = c.now().Sub(start)
	c.metrics.ObserveReset(len(summary.Tables), summary.Rows, summary.Duration, err)

	if err != nil {
		summary.Error = err.Error()
		c.mu.Lock()
		c.state = StateInTest
		c.failures++
		c.last = summary
		c.mu.Unlock()
		c.log.Error().Err(err).Str(logging.FieldBoundary, boundary).Msg("reset failed")
		return err
	}

	c.log.Info().
		Str(logging.FieldBoundary, boundary).
		Interface(logging.FieldTables, summary.Tables).
		Int64("rows", summary.Rows).
		Int64(logging.FieldDuration, summary.Duration.Milliseconds()).
		Msg("reset")

	if c.drift != nil {
		summary.Drift = c.checkDrift(ctx)
	}

	c.mu.Lock()
	c.state = StateIdle
	c.resets++
	c.last = summary
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) checkDrift(ctx context.Context) []types.TableName {
	diffs, err := c.drift(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("drift check failed")
		return nil
	}
	var tables []types.TableName
	for _, d := range diffs {
		tables = append(tables, d.Table)
		c.log.Warn().
			Str(logging.FieldTable, string(d.Table)).
			Int("added", len(d.Added)).
			Int("removed", len(d.Removed)).
			Int("changed", len(d.Changed)).
			Msg("table differs from baseline after reset")
	}
	c.metrics.ObserveDrift(len(tables))
	return tables
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns counters, the last reset and the pending window.
func (c *Coordinator) Status() Status {
	stats := c.c.Tracker.Stats()

	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		State:         c.state,
		Boundary:      c.current,
		TestsStarted:  c.testsStarted,
		Resets:        c.resets,
		Failures:      c.failures,
		PendingWrites: stats.Writes,
		PendingReads:  stats.Reads,
	}
	if c.last != nil {
		last := *c.last
		s.LastReset = &last
	}
	return s
}

func newBoundaryID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
