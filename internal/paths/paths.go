// Package paths centralizes file and directory names used across the project.
// All data directory file names are defined here as the single source of truth.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// Data directory file names.
const (
	ConfigFile = "config.toml"
	LogFile    = "panicmon.log"
)

// DataDirRel is the default data directory, relative to $HOME.
const DataDirRel = ".panicmon"

// EnvDataDir is the environment variable that overrides the data directory.
const EnvDataDir = "PANICMON_DATA_DIR"

// ///////////////////////////////////////////////
// DataDir
// ///////////////////////////////////////////////

// DataDir provides path construction methods rooted at a data directory.
type DataDir struct {
	Root string
}

// Config returns the full path to the config file.
func (d DataDir) Config() string { return filepath.Join(d.Root, ConfigFile) }

// Log returns the full path to the log file.
func (d DataDir) Log() string { return filepath.Join(d.Root, LogFile) }

// Resolve returns the data directory to use: the [EnvDataDir] environment
// variable if set, otherwise [DataDirRel] under the user's home directory.
func Resolve() (DataDir, error) {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return DataDir{Root: dir}, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return DataDir{}, fmt.Errorf("resolve home directory: %w", err)
	}
	return DataDir{Root: filepath.Join(home, DataDirRel)}, nil
}
