// Package paths resolves where baseline keeps its configuration and its
// engine-owned database files.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "baseline"

// ProjectDirName is the project-local configuration directory. When it
// exists in the working directory it is preferred over the user default.
const ProjectDirName = ".baseline"

// ConfigFileName is the configuration file inside the config directory.
const ConfigFileName = "config.yaml"

// Environment overrides.
const (
	EnvConfigDir = "BASELINE_CONFIG_DIR"
	EnvDataDir   = "BASELINE_DATA_DIR"
)

// platform is swapped out in tests.
var platform = struct {
	goos          string
	getwd         func() (string, error)
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	goos:          runtime.GOOS,
	getwd:         os.Getwd,
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// DefaultConfigDir returns the per-user configuration directory:
// $XDG_CONFIG_HOME/baseline or ~/.config/baseline on Linux, the
// os.UserConfigDir location elsewhere.
func DefaultConfigDir() (string, error) {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the per-user data directory:
// $XDG_DATA_HOME/baseline or ~/.local/share/baseline on Linux, the
// os.UserConfigDir location elsewhere.
func DefaultDataDir() (string, error) {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func xdgDir(env, homeRel string) (string, error) {
	if platform.goos != "linux" {
		dir, err := platform.userConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, appName), nil
	}
	if v := os.Getenv(env); v != "" {
		return filepath.Join(v, appName), nil
	}
	home, err := platform.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, homeRel, appName), nil
}

// ResolveConfigDir picks the config directory: flag, then
// BASELINE_CONFIG_DIR, then ./.baseline when present, then DefaultConfigDir.
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	cwd, err := platform.getwd()
	if err != nil {
		return "", err
	}
	local := filepath.Join(cwd, ProjectDirName)
	if fi, err := os.Stat(local); err == nil && fi.IsDir() {
		return local, nil
	}
	return DefaultConfigDir()
}

// ResolveDataDir picks the data directory: flag, then the value from
// config.yaml, then BASELINE_DATA_DIR, then DefaultDataDir. Relative
// configured values are taken relative to configDir.
func ResolveDataDir(flag, configured, configDir string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if configured != "" {
		if !filepath.IsAbs(configured) && configDir != "" {
			return filepath.Join(configDir, configured), nil
		}
		return filepath.Abs(configured)
	}
	if env := os.Getenv(EnvDataDir); env != "" {
		return filepath.Abs(env)
	}
	return DefaultDataDir()
}

// ConfigFile returns the path of config.yaml inside dir.
func ConfigFile(dir string) string {
	return filepath.Join(dir, ConfigFileName)
}
