package commands

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quantstack-labs/marketpipe/internal/cli/config"
	"github.com/quantstack-labs/marketpipe/internal/cli/output"
	"github.com/quantstack-labs/marketpipe/internal/etl"
	"github.com/quantstack-labs/marketpipe/internal/provider"
	"github.com/quantstack-labs/marketpipe/internal/state"
	"github.com/quantstack-labs/marketpipe/internal/warehouse"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
	DB       warehouse.Adapter
}

// NewCommandContext creates a CommandContext with a connected warehouse
// adapter. Returns the context and a cleanup function that must be
// called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cmdCtx := NewCommandContextWithoutDB(cmd)

	db, err := connectWarehouse(cmd.Context(), cmdCtx.Cfg)
	if err != nil {
		return nil, nil, err
	}
	cmdCtx.DB = db

	cleanup := func() {
		_ = db.Close()
	}
	return cmdCtx, cleanup, nil
}

// NewCommandContextWithoutDB creates a CommandContext without a
// warehouse connection. Useful for commands that only read config.
func NewCommandContextWithoutDB(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	logger := config.GetLogger(cmd.Context())
	mode := output.Mode(cfg.OutputFormat)
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: r,
	}
}

// getConfig returns the current configuration. It uses the loaded
// config if available, otherwise falls back to environment variables.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}

	cfg := &config.Config{
		DataDir:      getEnvOrDefault("MARKETPIPE_DATA_DIR", config.DefaultDataDir),
		StatePath:    getEnvOrDefault("MARKETPIPE_STATE_PATH", config.DefaultStateFile),
		Environment:  getEnvOrDefault("MARKETPIPE_ENVIRONMENT", config.DefaultEnv),
		Verbose:      os.Getenv("MARKETPIPE_VERBOSE") == "true",
		OutputFormat: os.Getenv("MARKETPIPE_OUTPUT"),
		Tickers:      config.DefaultTickers,
		LookbackDays: config.DefaultLookbackDays,
		Target:       &config.TargetConfig{Type: "duckdb", Path: config.DefaultWarehouse},
	}
	if tickers := os.Getenv("TICKERS"); tickers != "" {
		cfg.Tickers = splitTickers(tickers)
	}
	if days := os.Getenv("MARKETPIPE_LOOKBACK_DAYS"); days != "" {
		if n, err := strconv.Atoi(days); err == nil && n > 0 {
			cfg.LookbackDays = n
		}
	}
	return cfg
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func splitTickers(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}

// adapterConfig maps the CLI target config onto the warehouse config.
func adapterConfig(cfg *config.Config) warehouse.Config {
	t := cfg.Target
	if t == nil {
		return warehouse.Config{Type: "duckdb", Path: config.DefaultWarehouse}
	}
	return warehouse.Config{
		Type:     t.Type,
		Path:     t.Path,
		DSN:      t.DSN,
		Host:     t.Host,
		Port:     t.Port,
		Database: t.Database,
		Username: t.User,
		Password: t.Password,
		Schema:   t.Schema,
	}
}

func connectWarehouse(ctx context.Context, cfg *config.Config) (warehouse.Adapter, error) {
	wcfg := adapterConfig(cfg)
	db, err := warehouse.NewAdapter(wcfg)
	if err != nil {
		return nil, err
	}
	if err := db.Connect(ctx, wcfg); err != nil {
		return nil, err
	}
	return db, nil
}

// openStore opens the run-state database and applies migrations.
func openStore(cfg *config.Config) (state.Store, error) {
	store := state.NewSQLiteStore()
	if err := store.Open(cfg.StatePath); err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// newFetcher builds the ETL fetcher from the provider config. The macro
// provider is omitted when no FRED series are configured.
func newFetcher(cfg *config.Config, logger *slog.Logger) *etl.Fetcher {
	var stooqURL string
	var stooqRate float64
	var fredURL, fredKey string
	if cfg.Providers != nil {
		stooqURL = cfg.Providers.Stooq.BaseURL
		stooqRate = cfg.Providers.Stooq.RequestsPerSec
		fredURL = cfg.Providers.FRED.BaseURL
		fredKey = cfg.Providers.FRED.APIKey
	}

	bars := provider.NewStooqClient(stooqURL, stooqRate, logger)

	var series provider.SeriesProvider
	if cfg.Providers != nil && len(cfg.Providers.FRED.Series) > 0 {
		series = provider.NewFREDClient(fredURL, fredKey, stooqRate, logger)
	}

	return etl.NewFetcher(bars, series, logger)
}

// fredSeries returns the configured macro series IDs, if any.
func fredSeries(cfg *config.Config) []string {
	if cfg.Providers == nil {
		return nil
	}
	return cfg.Providers.FRED.Series
}
