package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// loggerKey stores the logger in the command context.
type loggerKey struct{}

// maxUpwardSearchLevels limits how far up the tree the config search goes.
const maxUpwardSearchLevels = 10

var (
	k              = koanf.New(".")
	configFileUsed string
	currentConfig  *Config
)

// configExistsIn reports whether a marketpipe config file exists in dir.
func configExistsIn(dir string) bool {
	for _, name := range []string{"marketpipe.yaml", "marketpipe.yml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// findProjectRootUpward searches upward from startDir for a config file.
func findProjectRootUpward(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if configExistsIn(dir) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// inferProjectRoot determines the project root from flags and the filesystem.
// Priority: explicit config file dir > upward search from CWD > CWD.
func inferProjectRoot(cfgFile string) string {
	if cfgFile != "" {
		if abs, err := filepath.Abs(cfgFile); err == nil {
			return filepath.Dir(abs)
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		if root := findProjectRootUpward(cwd); root != "" {
			return root
		}
		return cwd
	}
	return "."
}

// resolvePathRelativeTo resolves path against baseDir unless already absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// ResetConfig resets the package state. Used by tests.
func ResetConfig() {
	k = koanf.New(".")
	configFileUsed = ""
	currentConfig = nil
}

// LoadConfig loads configuration from defaults, file, env, and flags.
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k = koanf.New(".")

	projectRoot := inferProjectRoot(cfgFile)

	// 1. Defaults
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"data_dir":      DefaultDataDir,
		"state_path":    DefaultStateFile,
		"environment":   DefaultEnv,
		"verbose":       false,
		"output":        DefaultOutput,
		"tickers":       DefaultTickers,
		"lookback_days": DefaultLookbackDays,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file (explicit path, or found in the project root)
	if cfgFile == "" {
		for _, name := range []string{"marketpipe.yaml", "marketpipe.yml"} {
			candidate := filepath.Join(projectRoot, name)
			if _, err := os.Stat(candidate); err == nil {
				cfgFile = candidate
				break
			}
		}
	}
	configFileUsed = ""
	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			configFileUsed = cfgFile
			if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
			}
		}
	}

	// 3. Environment variables (MARKETPIPE_ prefix)
	// MARKETPIPE_STATE_PATH -> state_path, MARKETPIPE_TICKERS -> tickers
	if err := k.Load(env.Provider("MARKETPIPE_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "MARKETPIPE_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags (highest priority, only ones explicitly set)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			// --state is shorthand for the state_path config key,
			// --warehouse for target.path.
			switch key {
			case "state":
				return "state_path", posflag.FlagVal(flags, f)
			case "warehouse":
				return "target.path", posflag.FlagVal(flags, f)
			case "env":
				return "environment", posflag.FlagVal(flags, f)
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal. The string-to-slice hook lets MARKETPIPE_TICKERS hold
	// a comma-separated list the way the original env template did.
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.ProjectRoot = projectRoot

	// 6. Environment-specific overrides
	if cfg.Environment != "" && cfg.Environments != nil {
		if envCfg, ok := cfg.Environments[cfg.Environment]; ok {
			if envCfg.DataDir != "" {
				cfg.DataDir = envCfg.DataDir
			}
			if envCfg.StatePath != "" {
				cfg.StatePath = envCfg.StatePath
			}
			if len(envCfg.Tickers) > 0 {
				cfg.Tickers = envCfg.Tickers
			}
			if envCfg.Target != nil {
				cfg.Target = mergeTargetConfig(cfg.Target, envCfg.Target)
			}
		}
	}

	// 7. Default target: file-based DuckDB warehouse
	if cfg.Target == nil {
		cfg.Target = &TargetConfig{Type: "duckdb"}
	}
	if cfg.Target.Type == "" {
		cfg.Target.Type = "duckdb"
	}
	if cfg.Target.Type == "duckdb" && cfg.Target.Path == "" {
		cfg.Target.Path = DefaultWarehouse
	}

	// 8. Provider defaults; secrets come from env when not configured.
	if cfg.Providers == nil {
		cfg.Providers = &ProvidersConfig{}
	}
	if cfg.Providers.Stooq.BaseURL == "" {
		cfg.Providers.Stooq.BaseURL = DefaultStooqURL
	}
	if cfg.Providers.FRED.BaseURL == "" {
		cfg.Providers.FRED.BaseURL = DefaultFREDURL
	}
	if cfg.Providers.FRED.APIKey == "" {
		cfg.Providers.FRED.APIKey = os.Getenv("FRED_API_KEY")
	}
	if cfg.Checks == nil {
		cfg.Checks = &ChecksConfig{}
	}
	if cfg.Checks.MaxStaleDays == 0 {
		cfg.Checks.MaxStaleDays = DefaultMaxStaleDays
	}
	if cfg.Checks.MaxAbsReturn == 0 {
		cfg.Checks.MaxAbsReturn = DefaultMaxAbsReturn
	}
	if cfg.Serve == nil {
		cfg.Serve = &ServeConfig{Addr: DefaultServeAddr, Watch: true}
	}
	if cfg.Serve.Addr == "" {
		cfg.Serve.Addr = DefaultServeAddr
	}

	// 9. Expand ${VAR} in credentials and honor DATABASE_URL for postgres.
	expandTargetEnvVars(cfg.Target)
	cfg.Providers.FRED.APIKey = expandEnvVars(cfg.Providers.FRED.APIKey)
	if cfg.Target.Type == "postgres" && cfg.Target.DSN == "" {
		cfg.Target.DSN = os.Getenv("DATABASE_URL")
	}

	// 10. Resolve relative paths against the project root.
	cfg.DataDir = resolvePathRelativeTo(cfg.DataDir, projectRoot)
	cfg.StatePath = resolvePathRelativeTo(cfg.StatePath, projectRoot)
	if cfg.Target.Type == "duckdb" && cfg.Target.Path != ":memory:" {
		cfg.Target.Path = resolvePathRelativeTo(cfg.Target.Path, projectRoot)
	}

	if err := ValidateTarget(cfg.Target); err != nil {
		return nil, fmt.Errorf("invalid target configuration: %w", err)
	}

	currentConfig = &cfg
	return &cfg, nil
}

// GetConfigFileUsed returns the path to the config file in use, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// GetCurrentConfig returns the most recently loaded configuration.
func GetCurrentConfig() *Config {
	return currentConfig
}

// LoggerKey returns the context key for the logger, shared with the cli
// package without an import cycle.
func LoggerKey() interface{} {
	return loggerKey{}
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

// expandEnvVars expands ${VAR} patterns with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})
}

// expandTargetEnvVars expands env vars in sensitive target fields.
func expandTargetEnvVars(t *TargetConfig) {
	if t == nil {
		return
	}
	t.DSN = expandEnvVars(t.DSN)
	t.Password = expandEnvVars(t.Password)
	t.User = expandEnvVars(t.User)
	t.Host = expandEnvVars(t.Host)
	t.Database = expandEnvVars(t.Database)
}

// mergeTargetConfig merges two target configs, override winning per field.
func mergeTargetConfig(base, override *TargetConfig) *TargetConfig {
	if base == nil {
		return override
	}
	if override == nil {
		return base
	}
	merged := *base
	if override.Type != "" {
		merged.Type = override.Type
	}
	if override.Path != "" {
		merged.Path = override.Path
	}
	if override.DSN != "" {
		merged.DSN = override.DSN
	}
	if override.Host != "" {
		merged.Host = override.Host
	}
	if override.Port != 0 {
		merged.Port = override.Port
	}
	if override.Database != "" {
		merged.Database = override.Database
	}
	if override.User != "" {
		merged.User = override.User
	}
	if override.Password != "" {
		merged.Password = override.Password
	}
	if override.Schema != "" {
		merged.Schema = override.Schema
	}
	return &merged
}
