// Package engine is the public API of baseline. An Engine owns one database:
// it runs the initialization scripts, captures the baseline, records the
// tables the system under test touches and restores them at each test
// boundary.
//
// Example:
//
//	eng, err := engine.Open(ctx, types.Config{
//	    Driver:      types.DriverSQLite,
//	    DataDir:     ".baseline",
//	    SchemaFiles: []string{"schema.sql"},
//	    InitFiles:   []string{"fixtures.sql"},
//	})
//	defer eng.Close()
//	id, err := eng.StartNewTest(ctx)
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/baseline/internal/coordinator"
	"github.com/mesh-intelligence/baseline/internal/dialect"
	"github.com/mesh-intelligence/baseline/internal/executor"
	"github.com/mesh-intelligence/baseline/internal/logging"
	"github.com/mesh-intelligence/baseline/internal/metrics"
	"github.com/mesh-intelligence/baseline/internal/planner"
	"github.com/mesh-intelligence/baseline/internal/schema"
	"github.com/mesh-intelligence/baseline/internal/snapshot"
	"github.com/mesh-intelligence/baseline/internal/sqlexec"
	"github.com/mesh-intelligence/baseline/internal/tracker"
	"github.com/mesh-intelligence/baseline/pkg/types"
)

// DatabaseFile is the SQLite file created in DataDir when no DSN is set.
const DatabaseFile = "baseline.db"

// ErrClosed is returned by operations on a closed Engine.
var ErrClosed = errors.New("engine is closed")

// Engine ties the reset components to one database.
type Engine struct {
	mu     sync.RWMutex
	closed bool
	ownsDB bool

	cfg      types.Config
	db       *sql.DB
	dialect  dialect.Dialect
	graph    *schema.Graph
	baseline *snapshot.Baseline
	tracker  *tracker.Tracker
	planner  *planner.Planner
	coord    *coordinator.Coordinator
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

type options struct {
	log     *zerolog.Logger
	metrics *metrics.Metrics
}

// Option configures Open and New.
type Option func(*options)

// WithLogger overrides the logger built from Config.Log.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = &l }
}

// WithMetrics records engine metrics on m. Without it a private registry is
// used.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Open validates cfg, connects to the database and prepares the engine.
// A SQLite database without a DSN is created fresh in DataDir.
func Open(ctx context.Context, cfg types.Config, opts ...Option) (*Engine, error) {
	db, d, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	e, err := New(ctx, db, d, cfg, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	e.ownsDB = true
	return e, nil
}

// connect validates cfg and opens its database.
func connect(ctx context.Context, cfg types.Config) (*sql.DB, dialect.Dialect, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	d, err := dialect.ForName(cfg.Driver)
	if err != nil {
		return nil, nil, err
	}

	dsn := cfg.DSN
	if dsn == "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(cfg.DataDir, DatabaseFile)
		// Start from an empty file so schema scripts can run.
		if err := os.Remove(dsn); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("remove stale database: %w", err)
		}
	}

	db, err := sql.Open(d.DriverName(), d.PrepareDSN(dsn))
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if d.Name() == types.DriverSQLite {
		// A single connection avoids SQLITE_BUSY between the reset and the SUT.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return db, d, nil
}

// Inspection is the schema view of a database: its dependency graph and a
// planner, with no baseline captured.
type Inspection struct {
	db      *sql.DB
	dialect dialect.Dialect
	graph   *schema.Graph
	planner *planner.Planner
}

// Inspect connects and introspects the schema without changing data. A
// database named by DSN is only read. The engine-owned SQLite file starts
// empty, so only its schema files are run first.
func Inspect(ctx context.Context, cfg types.Config) (*Inspection, error) {
	db, d, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.DSN == "" {
		if err := sqlexec.RunFiles(ctx, db, cfg.SchemaFiles...); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	graph, err := schema.Introspect(ctx, db, d)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Inspection{
		db:      db,
		dialect: d,
		graph:   graph,
		planner: planner.New(d.Capabilities(), planner.AllowDisableConstraints(cfg.DisableConstraintsAllowed())),
	}, nil
}

func (i *Inspection) Graph() *schema.Graph     { return i.graph }
func (i *Inspection) Dialect() dialect.Dialect { return i.dialect }

// Plan previews the reset for a set of written tables.
func (i *Inspection) Plan(written types.AccessSet) (*planner.Plan, error) {
	return i.planner.Plan(written, i.graph)
}

// CheckCycles reports a foreign-key cycle the database cannot reset.
func (i *Inspection) CheckCycles() error {
	return i.planner.CheckCycles(i.graph)
}

func (i *Inspection) Close() error { return i.db.Close() }

// New prepares an engine on an open database. It runs the schema and init
// files of cfg, introspects the schema and captures the baseline. The
// caller keeps ownership of db.
func New(ctx context.Context, db *sql.DB, d dialect.Dialect, cfg types.Config, opts ...Option) (*Engine, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	cfg.ApplyDefaults()

	log := logging.New(cfg.Log)
	if o.log != nil {
		log = *o.log
	}
	m := o.metrics
	if m == nil {
		m = metrics.New(nil)
	}

	files := append(append([]string(nil), cfg.SchemaFiles...), cfg.InitFiles...)
	if err := sqlexec.RunFiles(ctx, db, files...); err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	graph, err := schema.Introspect(ctx, db, d)
	if err != nil {
		return nil, err
	}
	baseline, err := snapshot.NewManager(db, d, graph).CaptureBaseline(ctx)
	if err != nil {
		return nil, err
	}

	pl := planner.New(d.Capabilities(), planner.AllowDisableConstraints(cfg.DisableConstraintsAllowed()))
	if err := pl.CheckCycles(graph); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		db:       db,
		dialect:  d,
		graph:    graph,
		baseline: baseline,
		planner:  pl,
		metrics:  m,
		log:      log,
	}
	e.tracker = tracker.New(tracker.WithObserver(func(a types.Access) {
		m.ObserveAccess(a.Kind)
	}))

	coordOpts := []coordinator.Option{
		coordinator.WithLogger(log),
		coordinator.WithMetrics(m),
	}
	if cfg.VerifyAfterReset {
		coordOpts = append(coordOpts, coordinator.WithDriftCheck(e.drift))
	}
	e.coord, err = coordinator.New(coordinator.Components{
		Tracker:  e.tracker,
		Planner:  pl,
		Graph:    graph,
		Executor: executor.New(db, d, executor.WithLogger(logging.Component(log, "executor"))),
		Baseline: baseline,
	}, coordOpts...)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("driver", d.Name()).
		Int(logging.FieldTables, len(graph.Tables())).
		Int("units", len(graph.Units())).
		Msg("baseline captured")
	return e, nil
}

func (e *Engine) check() error {
	if e.closed {
		return ErrClosed
	}
	return nil
}

// StartNewTest resets what the previous test wrote and starts a new test.
func (e *Engine) StartNewTest(ctx context.Context) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.check(); err != nil {
		return "", err
	}
	return e.coord.StartNewTest(ctx)
}

// EndTest resets what the current test wrote without starting another.
func (e *Engine) EndTest(ctx context.Context) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.check(); err != nil {
		return err
	}
	return e.coord.EndTest(ctx)
}

// RecordAccess is the access-tracking hook for instrumented drivers.
func (e *Engine) RecordAccess(table types.TableName, kind types.OperationKind) {
	e.tracker.RecordAccess(table, kind)
}

func (e *Engine) Status() coordinator.Status {
	return e.coord.Status()
}

// Drift compares every table with the baseline.
func (e *Engine) Drift(ctx context.Context) ([]snapshot.TableDiff, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.check(); err != nil {
		return nil, err
	}
	return e.drift(ctx)
}

func (e *Engine) drift(ctx context.Context) ([]snapshot.TableDiff, error) {
	return e.baseline.Diff(ctx, e.db, e.dialect)
}

// Plan previews the reset for a set of written tables.
func (e *Engine) Plan(written types.AccessSet) (*planner.Plan, error) {
	return e.planner.Plan(written, e.graph)
}

// Runner returns a statement runner that reports each statement's tables
// to the engine before running it.
func (e *Engine) Runner() *sqlexec.Runner {
	return sqlexec.NewRunner(e.db, e.tracker)
}

// Exec runs one statement through Runner.
func (e *Engine) Exec(ctx context.Context, query string, args ...any) (*sqlexec.QueryResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.check(); err != nil {
		return nil, err
	}
	return e.Runner().Exec(ctx, query, args...)
}

func (e *Engine) Graph() *schema.Graph         { return e.graph }
func (e *Engine) Baseline() *snapshot.Baseline { return e.baseline }
func (e *Engine) Metrics() *metrics.Metrics    { return e.metrics }
func (e *Engine) DB() *sql.DB                  { return e.db }
func (e *Engine) Dialect() dialect.Dialect     { return e.dialect }
func (e *Engine) Config() types.Config         { return e.cfg }
func (e *Engine) Logger() zerolog.Logger       { return e.log }

// Close releases the database when Open created it. Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.ownsDB {
		return e.db.Close()
	}
	return nil
}
