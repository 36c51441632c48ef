// Package config loads and validates MarketPipe CLI configuration.
//
// Precedence (highest to lowest): flags > environment variables > config
// file > defaults. The config file is marketpipe.yaml, searched upward
// from the working directory.
package config

// Config holds all CLI configuration options.
type Config struct {
	DataDir      string                  `koanf:"data_dir"`
	StatePath    string                  `koanf:"state_path"`
	Environment  string                  `koanf:"environment"`
	Verbose      bool                    `koanf:"verbose"`
	OutputFormat string                  `koanf:"output"`
	Tickers      []string                `koanf:"tickers"`
	LookbackDays int                     `koanf:"lookback_days"`
	Target       *TargetConfig           `koanf:"target"`
	Providers    *ProvidersConfig        `koanf:"providers"`
	Checks       *ChecksConfig           `koanf:"checks"`
	Serve        *ServeConfig            `koanf:"serve"`
	Environments map[string]EnvOverrides `koanf:"environments"`

	// ProjectRoot is the directory all relative paths resolve against.
	// Set during loading, not read from the file.
	ProjectRoot string `koanf:"-"`
}

// TargetConfig selects and configures the warehouse adapter.
type TargetConfig struct {
	Type     string `koanf:"type"` // "duckdb" or "postgres"
	Path     string `koanf:"path"` // file path for duckdb
	DSN      string `koanf:"dsn"`  // full connection string (postgres)
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Database string `koanf:"database"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Schema   string `koanf:"schema"`
}

// ProvidersConfig configures the market-data sources.
type ProvidersConfig struct {
	Stooq StooqConfig `koanf:"stooq"`
	FRED  FREDConfig  `koanf:"fred"`
}

// StooqConfig configures the daily equity bar source.
type StooqConfig struct {
	BaseURL        string  `koanf:"base_url"`
	RequestsPerSec float64 `koanf:"requests_per_sec"`
}

// FREDConfig configures the macroeconomic series source.
type FREDConfig struct {
	BaseURL string   `koanf:"base_url"`
	APIKey  string   `koanf:"api_key"`
	Series  []string `koanf:"series"`
}

// ChecksConfig tunes the data-quality checks.
type ChecksConfig struct {
	MaxStaleDays int     `koanf:"max_stale_days"`
	MaxAbsReturn float64 `koanf:"max_abs_return"`
}

// ServeConfig configures the dashboard server.
type ServeConfig struct {
	Addr  string `koanf:"addr"`
	Watch bool   `koanf:"watch"`
}

// EnvOverrides holds per-environment overrides.
type EnvOverrides struct {
	DataDir   string        `koanf:"data_dir"`
	StatePath string        `koanf:"state_path"`
	Tickers   []string      `koanf:"tickers"`
	Target    *TargetConfig `koanf:"target"`
}

// Default configuration values.
const (
	DefaultDataDir      = "data/raw"
	DefaultStateFile    = ".marketpipe/state.db"
	DefaultWarehouse    = "warehouse/market.duckdb"
	DefaultEnv          = "dev"
	DefaultOutput       = "auto" // TTY=text, piped=markdown
	DefaultLookbackDays = 120
	DefaultStooqURL     = "https://stooq.com"
	DefaultFREDURL      = "https://api.stlouisfed.org/fred"
	DefaultServeAddr    = ":8765"
	DefaultMaxStaleDays = 5
	DefaultMaxAbsReturn = 0.5
)

// DefaultTickers is the starter universe, matching the loader's default.
var DefaultTickers = []string{"SPY", "AAPL", "MSFT"}
