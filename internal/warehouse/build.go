package warehouse

// build.go - idempotent warehouse construction from raw CSV snapshots

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
)

// Table names used across the pipeline.
const (
	TableRawPrices = "raw.equity_prices"
	TableRawMacro  = "raw.macro_series"
	TableFctPrices = "core.fct_prices_daily"
	TableFeatures  = "core.feat_equity_daily"
)

// Builder rebuilds the warehouse tables from raw CSV snapshots.
type Builder struct {
	db     Adapter
	logger *slog.Logger
}

// NewBuilder creates a builder over a connected adapter.
func NewBuilder(db Adapter, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Builder{db: db, logger: logger}
}

// BuildStats summarizes a warehouse build.
type BuildStats struct {
	PriceFiles int
	MacroFiles int
	PriceRows  int64
	Symbols    int
}

// EnsureSchemas creates the raw and core schemas when missing.
func (b *Builder) EnsureSchemas(ctx context.Context) error {
	for _, schema := range []string{"raw", "core"} {
		if err := b.db.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
			return fmt.Errorf("failed to create schema %s: %w", schema, err)
		}
	}
	return nil
}

// Build rebuilds raw.equity_prices (and raw.macro_series when macro
// snapshots exist) from the CSV files under dataDir, then rebuilds the
// fact table. The rebuild is idempotent: raw tables are fully replaced
// from the union of all snapshots, mirroring the original loader.
func (b *Builder) Build(ctx context.Context, dataDir string) (*BuildStats, error) {
	priceFiles, err := filepath.Glob(filepath.Join(dataDir, "equity_prices_*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob price snapshots: %w", err)
	}
	if len(priceFiles) == 0 {
		return nil, fmt.Errorf("no price snapshots found under %s (run `marketpipe fetch` first)", dataDir)
	}
	sort.Strings(priceFiles)

	macroFiles, err := filepath.Glob(filepath.Join(dataDir, "macro_series_*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob macro snapshots: %w", err)
	}
	sort.Strings(macroFiles)

	if err := b.EnsureSchemas(ctx); err != nil {
		return nil, err
	}

	if err := b.loadEquityPrices(ctx, priceFiles); err != nil {
		return nil, err
	}
	if len(macroFiles) > 0 {
		if err := b.loadMacroSeries(ctx, macroFiles); err != nil {
			return nil, err
		}
	}
	if err := b.BuildFactTable(ctx); err != nil {
		return nil, err
	}

	stats := &BuildStats{PriceFiles: len(priceFiles), MacroFiles: len(macroFiles)}
	if err := b.db.QueryRow(ctx, "SELECT COUNT(*), COUNT(DISTINCT symbol) FROM "+TableRawPrices).
		Scan(&stats.PriceRows, &stats.Symbols); err != nil {
		return nil, fmt.Errorf("failed to count raw prices: %w", err)
	}

	b.logger.Info("warehouse built",
		"price_files", stats.PriceFiles,
		"macro_files", stats.MacroFiles,
		"rows", stats.PriceRows,
		"symbols", stats.Symbols)

	return stats, nil
}

// loadEquityPrices replaces raw.equity_prices from the snapshot files.
func (b *Builder) loadEquityPrices(ctx context.Context, files []string) error {
	if b.db.DialectName() == "duckdb" {
		// DuckDB reads the union of all snapshots directly, with the
		// same casts the original loader applied.
		query := fmt.Sprintf(`
			CREATE OR REPLACE TABLE %s AS
			SELECT
				CAST(date AS DATE) AS date,
				CAST(open AS DOUBLE) AS open,
				CAST(high AS DOUBLE) AS high,
				CAST(low AS DOUBLE) AS low,
				CAST(close AS DOUBLE) AS close,
				CAST(volume AS BIGINT) AS volume,
				UPPER(symbol) AS symbol
			FROM read_csv_auto([%s], header=true, union_by_name=true)
			ORDER BY symbol, date`,
			TableRawPrices, csvListLiteral(files))
		return b.db.Exec(ctx, query)
	}

	// Postgres: typed table, truncate, then append each snapshot.
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			date DATE,
			open DOUBLE PRECISION,
			high DOUBLE PRECISION,
			low DOUBLE PRECISION,
			close DOUBLE PRECISION,
			volume BIGINT,
			symbol TEXT
		)`, TableRawPrices)
	if err := b.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create %s: %w", TableRawPrices, err)
	}
	if err := b.db.Exec(ctx, "TRUNCATE TABLE "+TableRawPrices); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", TableRawPrices, err)
	}
	for _, f := range files {
		b.logger.Debug("loading price snapshot", "file", f)
		if err := b.db.LoadCSV(ctx, TableRawPrices, f); err != nil {
			return err
		}
	}
	// Normalize symbols the way the DuckDB path does.
	return b.db.Exec(ctx, fmt.Sprintf("UPDATE %s SET symbol = UPPER(symbol)", TableRawPrices))
}

// loadMacroSeries replaces raw.macro_series from the snapshot files.
func (b *Builder) loadMacroSeries(ctx context.Context, files []string) error {
	if b.db.DialectName() == "duckdb" {
		query := fmt.Sprintf(`
			CREATE OR REPLACE TABLE %s AS
			SELECT
				CAST(date AS DATE) AS date,
				CAST(series_id AS VARCHAR) AS series_id,
				CAST(value AS DOUBLE) AS value
			FROM read_csv_auto([%s], header=true, union_by_name=true)
			ORDER BY series_id, date`,
			TableRawMacro, csvListLiteral(files))
		return b.db.Exec(ctx, query)
	}

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			date DATE,
			series_id TEXT,
			value DOUBLE PRECISION
		)`, TableRawMacro)
	if err := b.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create %s: %w", TableRawMacro, err)
	}
	if err := b.db.Exec(ctx, "TRUNCATE TABLE "+TableRawMacro); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", TableRawMacro, err)
	}
	for _, f := range files {
		b.logger.Debug("loading macro snapshot", "file", f)
		if err := b.db.LoadCSV(ctx, TableRawMacro, f); err != nil {
			return err
		}
	}
	return nil
}

// BuildFactTable rebuilds core.fct_prices_daily with one-day returns.
func (b *Builder) BuildFactTable(ctx context.Context) error {
	selectSQL := fmt.Sprintf(`
		SELECT
			symbol,
			date,
			close,
			volume,
			(close / LAG(close) OVER (PARTITION BY symbol ORDER BY date) - 1) AS ret_1d
		FROM %s`, TableRawPrices)

	if b.db.DialectName() == "duckdb" {
		return b.db.Exec(ctx, fmt.Sprintf("CREATE OR REPLACE TABLE %s AS %s ORDER BY symbol, date", TableFctPrices, selectSQL))
	}

	if err := b.db.Exec(ctx, "DROP TABLE IF EXISTS "+TableFctPrices); err != nil {
		return fmt.Errorf("failed to drop %s: %w", TableFctPrices, err)
	}
	if err := b.db.Exec(ctx, fmt.Sprintf("CREATE TABLE %s AS %s", TableFctPrices, selectSQL)); err != nil {
		return fmt.Errorf("failed to build %s: %w", TableFctPrices, err)
	}
	return nil
}

// EnsureFeatureTable creates the feature table when missing.
func (b *Builder) EnsureFeatureTable(ctx context.Context) error {
	if err := b.EnsureSchemas(ctx); err != nil {
		return err
	}
	colType := "DOUBLE"
	if b.db.DialectName() == "postgres" {
		colType = "DOUBLE PRECISION"
	}
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			date DATE,
			ticker VARCHAR,
			rsi_14 %s,
			momentum_10d %s,
			vol_21d %s,
			PRIMARY KEY (date, ticker)
		)`, TableFeatures, colType, colType, colType)
	if err := b.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create %s: %w", TableFeatures, err)
	}
	return nil
}

// csvListLiteral renders file paths as a quoted SQL list.
func csvListLiteral(files []string) string {
	quoted := make([]string, len(files))
	for i, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			abs = f
		}
		quoted[i] = "'" + strings.ReplaceAll(abs, "'", "''") + "'"
	}
	return strings.Join(quoted, ", ")
}
