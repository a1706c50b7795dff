package app

import (
	"fmt"
	"os"
	"path/filepath"

	"quotesync/internal/config"
)

// Defaults are the install locations used by `qsync config init` and by
// every command that has to find the config file.
type Defaults struct {
	ConfigPath    string // QSYNC_CONFIG_PATH, else $XDG_CONFIG_HOME/qsync.toml
	BaseDir       string // QSYNC_HOME, else $XDG_DATA_HOME/qsync
	LogDir        string
	DatabasePath  string // sqlite registry
	LocalRoot     string // uploads and previews; QSYNC_LOCAL_ROOT overrides
	KeyDir        string // age key pair
	StaticBaseURL string
}

// GetDefaults resolves the default locations from the environment.
func GetDefaults() (*Defaults, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine home directory: %w", err)
	}

	configPath := os.Getenv("QSYNC_CONFIG_PATH")
	if configPath == "" {
		configPath = filepath.Join(xdgDir("XDG_CONFIG_HOME", home, ".config"), "qsync.toml")
	}
	baseDir := os.Getenv("QSYNC_HOME")
	if baseDir == "" {
		baseDir = filepath.Join(xdgDir("XDG_DATA_HOME", home, ".local", "share"), "qsync")
	}
	localRoot := os.Getenv("QSYNC_LOCAL_ROOT")
	if localRoot == "" {
		localRoot = filepath.Join(baseDir, "uploads")
	}

	return &Defaults{
		ConfigPath:    configPath,
		BaseDir:       baseDir,
		LogDir:        filepath.Join(baseDir, "log"),
		DatabasePath:  filepath.Join(baseDir, "qsync.db"),
		LocalRoot:     localRoot,
		KeyDir:        filepath.Join(baseDir, "keys"),
		StaticBaseURL: "/files",
	}, nil
}

// Config returns a local-storage config laid out under the defaults.
func (d *Defaults) Config() *config.Config {
	cfg := config.NewConfig(d.BaseDir)
	cfg.LogDir = d.LogDir
	cfg.Database.Path = d.DatabasePath
	cfg.Storage.LocalRoot = d.LocalRoot
	cfg.Storage.StaticBaseURL = d.StaticBaseURL
	cfg.Encryption.PublicKeyPath = filepath.Join(d.KeyDir, "qsync.pub")
	cfg.Encryption.PrivateKeyPath = filepath.Join(d.KeyDir, "qsync.key")
	return cfg
}

func xdgDir(env, home string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" && filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(append([]string{home}, fallback...)...)
}
