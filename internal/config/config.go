// Package config loads cxindexd's daemon configuration, the way
// jeranaias-rigrun/go-tui/internal/config does: a struct with `toml`
// tags, a Default constructor, and a Load that falls back to defaults
// when the file is absent.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is cxindexd's on-disk configuration.
type Config struct {
	// ProjectRoot is the directory PCH files and the db/ tree live
	// under.
	ProjectRoot string `toml:"project_root"`
	// Workers bounds the Coordinator's worker pool.
	Workers int `toml:"workers"`
	// DefaultArgs are concatenated onto every Indexer Job's argument
	// vector.
	DefaultArgs []string `toml:"default_args"`
	// SystemHeaderAllowPrefixes lists /usr/ prefixes exempt from the
	// system-header filter.
	SystemHeaderAllowPrefixes []string `toml:"system_header_allow_prefixes"`
	// Roots are the directories whose compile_commands.json is loaded
	// at startup; the directories of the files it lists are watched for
	// filesystem changes.
	Roots []string `toml:"roots"`

	Log LogConfig `toml:"log"`
}

// LogConfig configures internal/logx.
type LogConfig struct {
	Level     string `toml:"level"`
	Format    string `toml:"format"`
	AddSource bool   `toml:"add_source"`
}

// Default returns the built-in configuration used when no file is
// found, or to fill gaps left by a partial one.
func Default() *Config {
	return &Config{
		ProjectRoot:               ".",
		Workers:                   4,
		SystemHeaderAllowPrefixes: []string{"/usr/home/"},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path as TOML into a Default config, falling back to pure
// defaults if path does not exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = Default().Workers
	}
	if len(cfg.SystemHeaderAllowPrefixes) == 0 {
		cfg.SystemHeaderAllowPrefixes = Default().SystemHeaderAllowPrefixes
	}
	return cfg, nil
}
