package types

import "errors"

// Config holds the database selection and engine options used to open an
// engine.
type Config struct {
	Driver  string `json:"driver" yaml:"driver" mapstructure:"driver"`
	DSN     string `json:"dsn,omitempty" yaml:"dsn,omitempty" mapstructure:"dsn"`
	DataDir string `json:"data_dir,omitempty" yaml:"data_dir,omitempty" mapstructure:"data_dir"`

	// SchemaFiles and InitFiles are SQL scripts run in order before the
	// baseline is captured. Schema files run first.
	SchemaFiles []string `json:"schema_files,omitempty" yaml:"schema_files,omitempty" mapstructure:"schema_files"`
	InitFiles   []string `json:"init_files,omitempty" yaml:"init_files,omitempty" mapstructure:"init_files"`

	// Listen is the control channel address used by "baseline serve".
	Listen string `json:"listen,omitempty" yaml:"listen,omitempty" mapstructure:"listen"`

	// AllowDisableConstraints permits turning constraint checks off for a
	// foreign-key cycle that cannot be deferred. Nil means true.
	AllowDisableConstraints *bool `json:"allow_disable_constraints,omitempty" yaml:"allow_disable_constraints,omitempty" mapstructure:"allow_disable_constraints"`

	// VerifyAfterReset compares every table with the baseline after each
	// reset and logs drift.
	VerifyAfterReset bool `json:"verify_after_reset" yaml:"verify_after_reset" mapstructure:"verify_after_reset"`

	Log LogConfig `json:"log" yaml:"log" mapstructure:"log"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty" mapstructure:"level"`
	Format string `json:"format,omitempty" yaml:"format,omitempty" mapstructure:"format"`
	Output string `json:"output,omitempty" yaml:"output,omitempty" mapstructure:"output"`
}

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// DefaultListen is the control channel address when none is configured.
const DefaultListen = "127.0.0.1:40100"

// Config validation errors.
var (
	ErrDriverEmpty      = errors.New("driver must not be empty")
	ErrDriverUnknown    = errors.New("unknown driver")
	ErrDSNEmpty         = errors.New("dsn must not be empty")
	ErrLogLevelUnknown  = errors.New("unknown log level")
	ErrLogFormatUnknown = errors.New("unknown log format")
)

var knownDrivers = map[string]bool{
	DriverSQLite:   true,
	DriverPostgres: true,
	DriverMySQL:    true,
}

var knownLevels = map[string]bool{
	"": true, "trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

var knownFormats = map[string]bool{
	"": true, "console": true, "json": true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure. A SQLite config may leave DSN empty when
// DataDir is set; the database file is then placed in DataDir.
func (c Config) Validate() error {
	if c.Driver == "" {
		return ErrDriverEmpty
	}
	if !knownDrivers[c.Driver] {
		return ErrDriverUnknown
	}
	if c.DSN == "" && (c.Driver != DriverSQLite || c.DataDir == "") {
		return ErrDSNEmpty
	}
	if !knownLevels[c.Log.Level] {
		return ErrLogLevelUnknown
	}
	if !knownFormats[c.Log.Format] {
		return ErrLogFormatUnknown
	}
	return nil
}

// DisableConstraintsAllowed reports AllowDisableConstraints, defaulting to
// true.
func (c Config) DisableConstraintsAllowed() bool {
	return c.AllowDisableConstraints == nil || *c.AllowDisableConstraints
}

// ApplyDefaults fills unset logging fields, the listen address and
// AllowDisableConstraints.
func (c *Config) ApplyDefaults() {
	if c.AllowDisableConstraints == nil {
		allow := true
		c.AllowDisableConstraints = &allow
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stderr"
	}
}
