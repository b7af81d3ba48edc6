package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/baseline/internal/paths"
	"github.com/mesh-intelligence/baseline/pkg/types"
)

const configHeader = `# baseline configuration.
# schema_files and init_files run in order before the baseline is captured;
# relative paths are resolved against this directory.
`

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the configuration directory and a default config.yaml",
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return sysError("resolve config dir: %w", err)
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return sysError("create config directory: %w", err)
	}

	path := paths.ConfigFile(configDir)
	created, err := writeConfigIfMissing(path)
	if err != nil {
		return sysError("write config: %w", err)
	}

	out := cmd.OutOrStdout()
	if created {
		fmt.Fprintf(out, "wrote %s\n", path)
	} else {
		fmt.Fprintf(out, "%s already exists\n", path)
	}
	return nil
}

// writeConfigIfMissing creates config.yaml with default values. An existing
// file is left alone.
func writeConfigIfMissing(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	cfg := types.Config{
		Driver:      types.DriverSQLite,
		SchemaFiles: []string{"schema.sql"},
		InitFiles:   []string{"init.sql"},
	}
	cfg.ApplyDefaults()

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return false, fmt.Errorf("marshal config: %w", err)
	}
	return true, os.WriteFile(path, append([]byte(configHeader), data...), 0o644)
}
