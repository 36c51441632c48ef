package config

import (
	"fmt"
	"os"
)

// supportedTargets lists the warehouse adapter types the CLI accepts.
var supportedTargets = map[string]bool{
	"duckdb":   true,
	"postgres": true,
}

// ValidateTarget checks the warehouse target configuration.
func ValidateTarget(t *TargetConfig) error {
	if t == nil {
		return fmt.Errorf("target is required")
	}
	if !supportedTargets[t.Type] {
		return fmt.Errorf("unsupported target type %q (supported: duckdb, postgres)", t.Type)
	}
	if t.Type == "postgres" && t.DSN == "" && t.Host == "" {
		return fmt.Errorf("postgres target requires a dsn or host (set target.dsn, target.host, or DATABASE_URL)")
	}
	return nil
}

// Validate checks if the configuration is usable for pipeline commands.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if len(c.Tickers) == 0 {
		return fmt.Errorf("at least one ticker is required")
	}
	if c.LookbackDays <= 0 {
		return fmt.Errorf("lookback_days must be positive, got %d", c.LookbackDays)
	}
	return ValidateTarget(c.Target)
}

// ValidateDirectories checks that the raw data directory exists.
// Commands that only read config (doctor, init) skip this.
func (c *Config) ValidateDirectories() error {
	if _, err := os.Stat(c.DataDir); os.IsNotExist(err) {
		return fmt.Errorf("data directory does not exist: %s\nHint: run `marketpipe init` or use --data-dir", c.DataDir)
	}
	return nil
}
