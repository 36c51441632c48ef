package features

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/quantstack-labs/marketpipe/internal/warehouse"
)

// Engine computes features from warehouse prices and upserts them.
type Engine struct {
	db     warehouse.Adapter
	logger *slog.Logger
}

// Stats summarizes one feature build.
type Stats struct {
	Tickers int
	Rows    int64
}

// NewEngine returns a feature engine over a connected adapter.
func NewEngine(db warehouse.Adapter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{db: db, logger: logger}
}

type priceRow struct {
	date   time.Time
	ticker string
	close  float64
	ret    float64 // NaN when the return is NULL
}

type featureRow struct {
	date     time.Time
	ticker   string
	rsi      float64
	momentum float64
	vol      float64
}

// Build computes all indicators per ticker and upserts them into
// core.feat_equity_daily. Prices come from the fact table, falling back
// to raw.equity_prices (with returns derived on the fly) when the fact
// table has not been built yet.
func (e *Engine) Build(ctx context.Context) (*Stats, error) {
	prices, err := e.loadPrices(ctx)
	if err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("no price rows in warehouse (run `marketpipe build` first)")
	}

	builder := warehouse.NewBuilder(e.db, e.logger)
	if err := builder.EnsureFeatureTable(ctx); err != nil {
		return nil, err
	}

	rows := computeAll(prices)
	if err := e.upsert(ctx, rows); err != nil {
		return nil, err
	}

	stats := &Stats{Rows: int64(len(rows))}
	seen := map[string]struct{}{}
	for _, r := range rows {
		seen[r.ticker] = struct{}{}
	}
	stats.Tickers = len(seen)

	e.logger.Info("features built", "rows", stats.Rows, "tickers", stats.Tickers)
	return stats, nil
}

// loadPrices reads (date, ticker, close, ret_1d) ordered by ticker then
// date from whichever price table exists.
func (e *Engine) loadPrices(ctx context.Context) ([]priceRow, error) {
	var query string
	if ok, err := e.db.TableExists(ctx, warehouse.TableFctPrices); err != nil {
		return nil, err
	} else if ok {
		query = fmt.Sprintf(
			"SELECT date, symbol, close, ret_1d FROM %s ORDER BY symbol, date",
			warehouse.TableFctPrices)
	} else if ok, err := e.db.TableExists(ctx, warehouse.TableRawPrices); err != nil {
		return nil, err
	} else if ok {
		query = fmt.Sprintf(`
			SELECT date, symbol, close,
				(close / LAG(close) OVER (PARTITION BY symbol ORDER BY date) - 1) AS ret_1d
			FROM %s ORDER BY symbol, date`, warehouse.TableRawPrices)
	} else {
		return nil, fmt.Errorf("neither %s nor %s exists (run `marketpipe build` first)",
			warehouse.TableFctPrices, warehouse.TableRawPrices)
	}

	rows, err := e.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load prices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var prices []priceRow
	for rows.Next() {
		var (
			r   priceRow
			ret sql.NullFloat64
		)
		if err := rows.Scan(&r.date, &r.ticker, &r.close, &ret); err != nil {
			return nil, fmt.Errorf("failed to scan price row: %w", err)
		}
		if ret.Valid {
			r.ret = ret.Float64
		} else {
			r.ret = math.NaN()
		}
		prices = append(prices, r)
	}
	return prices, rows.Err()
}

// computeAll runs the indicator math per contiguous ticker group. The
// input must already be ordered by ticker then date.
func computeAll(prices []priceRow) []featureRow {
	out := make([]featureRow, 0, len(prices))

	start := 0
	for i := 1; i <= len(prices); i++ {
		if i < len(prices) && prices[i].ticker == prices[start].ticker {
			continue
		}
		group := prices[start:i]
		closes := make([]float64, len(group))
		rets := make([]float64, len(group))
		for j, p := range group {
			closes[j] = p.close
			rets[j] = p.ret
		}

		rsi := RSIWilder(closes, RSIPeriod)
		mom := Momentum(closes, MomentumWindow)
		vol := RollingStd(rets, VolWindow)

		for j, p := range group {
			out = append(out, featureRow{
				date:     p.date,
				ticker:   p.ticker,
				rsi:      rsi[j],
				momentum: mom[j],
				vol:      vol[j],
			})
		}
		start = i
	}
	return out
}

func (e *Engine) upsert(ctx context.Context, rows []featureRow) error {
	var stmt string
	if e.db.DialectName() == "postgres" {
		stmt = fmt.Sprintf(`
			INSERT INTO %s (date, ticker, rsi_14, momentum_10d, vol_21d)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (date, ticker) DO UPDATE SET
				rsi_14 = EXCLUDED.rsi_14,
				momentum_10d = EXCLUDED.momentum_10d,
				vol_21d = EXCLUDED.vol_21d`, warehouse.TableFeatures)
	} else {
		stmt = fmt.Sprintf(
			"INSERT OR REPLACE INTO %s (date, ticker, rsi_14, momentum_10d, vol_21d) VALUES (?, ?, ?, ?, ?)",
			warehouse.TableFeatures)
	}

	for _, r := range rows {
		err := e.db.Exec(ctx, stmt,
			r.date.Format("2006-01-02"), r.ticker,
			nullable(r.rsi), nullable(r.momentum), nullable(r.vol))
		if err != nil {
			return fmt.Errorf("failed to upsert features for %s on %s: %w",
				r.ticker, r.date.Format("2006-01-02"), err)
		}
	}
	return nil
}

// nullable maps NaN to a SQL NULL.
func nullable(v float64) any {
	if math.IsNaN(v) {
		return nil
	}
	return v
}
