package config

import (
	"os"
	"path/filepath"
)

const defaultBaseDir = ".fleetd"

// Paths holds resolved filesystem paths for fleetd data.
type Paths struct {
	Base   string // ~/.fleetd
	Config string // ~/.fleetd/config.yaml
	Logs   string // ~/.fleetd/logs
	Data   string // ~/.fleetd/data
}

// ResolvePaths computes all standard paths from the home directory.
// If FLEETD_HOME is set, it overrides the default base directory.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("FLEETD_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	return Paths{
		Base:   base,
		Config: filepath.Join(base, "config.yaml"),
		Logs:   filepath.Join(base, "logs"),
		Data:   filepath.Join(base, "data"),
	}, nil
}

// EnsureDirs creates all standard directories if they don't exist.
func (p Paths) EnsureDirs() error {
	dirs := []string{p.Base, p.Logs, p.Data}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// DatabasePath returns the configured sqlite path, defaulting under Data.
func (p Paths) DatabasePath(cfg StoreConfig) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	return filepath.Join(p.Data, "fleetd.db")
}
