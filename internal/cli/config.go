package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mesh-intelligence/baseline/internal/paths"
	"github.com/mesh-intelligence/baseline/pkg/types"
)

const envPrefix = "BASELINE"

// Config keys, matching the mapstructure tags of types.Config.
const (
	cfgKeyDriver       = "driver"
	cfgKeyDSN          = "dsn"
	cfgKeyDataDir      = "data_dir"
	cfgKeySchemaFiles  = "schema_files"
	cfgKeyInitFiles    = "init_files"
	cfgKeyListen       = "listen"
	cfgKeyAllowDisable = "allow_disable_constraints"
	cfgKeyVerify       = "verify_after_reset"
	cfgKeyLogLevel     = "log.level"
	cfgKeyLogFormat    = "log.format"
	cfgKeyLogOutput    = "log.output"
)

// loadConfig resolves the config directory, loads .env files, reads
// config.yaml with Viper and applies BASELINE_* environment overrides.
// A missing config.yaml is not an error. Relative script paths are taken
// relative to the config directory.
func loadConfig() (types.Config, string, error) {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return types.Config{}, "", fmt.Errorf("resolve config dir: %w", err)
	}
	if err := loadDotEnv(configDir); err != nil {
		return types.Config{}, "", err
	}

	v := viper.New()
	v.SetDefault(cfgKeyDriver, types.DriverSQLite)
	v.SetDefault(cfgKeyDSN, "")
	v.SetDefault(cfgKeyDataDir, "")
	v.SetDefault(cfgKeySchemaFiles, []string{})
	v.SetDefault(cfgKeyInitFiles, []string{})
	v.SetDefault(cfgKeyListen, types.DefaultListen)
	v.SetDefault(cfgKeyAllowDisable, true)
	v.SetDefault(cfgKeyVerify, false)
	v.SetDefault(cfgKeyLogLevel, "info")
	v.SetDefault(cfgKeyLogFormat, "console")
	v.SetDefault(cfgKeyLogOutput, "stderr")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := paths.ConfigFile(configDir)
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return types.Config{}, "", fmt.Errorf("read config: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return types.Config{}, "", fmt.Errorf("stat config: %w", err)
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, "", fmt.Errorf("decode config: %w", err)
	}

	if cfg.DSN == "" || flags.dataDir != "" {
		cfg.DataDir, err = paths.ResolveDataDir(flags.dataDir, cfg.DataDir, configDir)
		if err != nil {
			return types.Config{}, "", fmt.Errorf("resolve data dir: %w", err)
		}
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	cfg.SchemaFiles = relativeTo(configDir, cfg.SchemaFiles)
	cfg.InitFiles = relativeTo(configDir, cfg.InitFiles)

	if err := cfg.Validate(); err != nil {
		return types.Config{}, "", fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, configDir, nil
}

// loadDotEnv loads .env from the working directory and then the config
// directory. Variables already set in the environment win.
func loadDotEnv(configDir string) error {
	for _, p := range []string{".env", filepath.Join(configDir, ".env")} {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func relativeTo(dir string, files []string) []string {
	out := make([]string, len(files))
	for i, f := range files {
		if filepath.IsAbs(f) {
			out[i] = f
		} else {
			out[i] = filepath.Join(dir, f)
		}
	}
	return out
}
