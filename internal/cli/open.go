package cli

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/baseline/internal/logging"
	"github.com/mesh-intelligence/baseline/internal/metrics"
	"github.com/mesh-intelligence/baseline/pkg/engine"
	"github.com/mesh-intelligence/baseline/pkg/types"
)

// openEngine loads the configuration and opens an engine with a logger
// built from it.
func openEngine(ctx context.Context, m *metrics.Metrics) (*engine.Engine, types.Config, zerolog.Logger, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, cfg, zerolog.Nop(), err
	}
	cfg.ApplyDefaults()
	log := logging.New(cfg.Log)

	opts := []engine.Option{engine.WithLogger(log)}
	if m != nil {
		opts = append(opts, engine.WithMetrics(m))
	}
	eng, err := engine.Open(ctx, cfg, opts...)
	if err != nil {
		return nil, cfg, log, sysError("open engine: %w", err)
	}
	return eng, cfg, log, nil
}

// openInspection loads the configuration and introspects the database
// without running init scripts or capturing a baseline.
func openInspection(ctx context.Context) (*engine.Inspection, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	in, err := engine.Inspect(ctx, cfg)
	if err != nil {
		return nil, sysError("inspect database: %w", err)
	}
	return in, nil
}
