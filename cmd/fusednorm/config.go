package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the fusednorm configuration file
// (~/.config/fusednorm/config.yaml). Fields that need a "not set" state are
// pointers so file defaults never clobber an explicit flag.
type Config struct {
	Epsilon *float64 `yaml:"epsilon"`

	// Bench defaults
	BenchRows *int64 `yaml:"bench_rows"`
	BenchCols *int64 `yaml:"bench_cols"`
	BenchRuns *int64 `yaml:"bench_runs"`

	// Server
	ServerAddress string `yaml:"server_address"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "fusednorm", "config.yaml")
}

// loadConfig reads the config file if present. A missing file is not an
// error; a malformed one is.
func loadConfig() (Config, error) {
	var cfg Config
	path := configPath()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyBenchConfig fills bench command variables from the config file for
// every flag the user did not set explicitly.
func applyBenchConfig(c *cli.Command, cfg Config, rows, cols, runs *int64, eps *float64) {
	if cfg.BenchRows != nil && !c.IsSet("rows") {
		*rows = *cfg.BenchRows
	}
	if cfg.BenchCols != nil && !c.IsSet("cols") {
		*cols = *cfg.BenchCols
	}
	if cfg.BenchRuns != nil && !c.IsSet("runs") {
		*runs = *cfg.BenchRuns
	}
	if cfg.Epsilon != nil && !c.IsSet("epsilon") {
		*eps = *cfg.Epsilon
	}
}
