// Package dq runs data quality checks over the warehouse price and
// feature tables. Checks come in three severities: error checks fail
// the run, warn checks flag suspicious data, and info checks only
// report. The source table is core.fct_prices_daily, falling back to
// raw.equity_prices with returns derived on the fly.
package dq

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/quantstack-labs/marketpipe/internal/warehouse"
)

// Severity classifies a check outcome.
type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warn"
	SeverityInfo  Severity = "info"
)

// Result is the outcome of one check.
type Result struct {
	Name     string
	Severity Severity
	Passed   bool
	Detail   string
}

// Report aggregates all check results for one run.
type Report struct {
	Source  string
	Results []Result
}

// Failed returns the error-severity checks that did not pass.
func (r *Report) Failed() []Result {
	var failed []Result
	for _, res := range r.Results {
		if res.Severity == SeverityError && !res.Passed {
			failed = append(failed, res)
		}
	}
	return failed
}

// Warnings returns the warn-severity checks that did not pass.
func (r *Report) Warnings() []Result {
	var warned []Result
	for _, res := range r.Results {
		if res.Severity == SeverityWarn && !res.Passed {
			warned = append(warned, res)
		}
	}
	return warned
}

// Config tunes the check thresholds.
type Config struct {
	// MaxStaleDays is the business-day staleness budget for the most
	// recent price date.
	MaxStaleDays int
	// MaxAbsReturn flags one-day returns beyond this magnitude.
	MaxAbsReturn float64
}

// Runner executes the check suite against a connected adapter.
type Runner struct {
	db     warehouse.Adapter
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewRunner returns a check runner.
func NewRunner(db warehouse.Adapter, cfg Config, logger *slog.Logger) *Runner {
	if cfg.MaxStaleDays <= 0 {
		cfg.MaxStaleDays = 5
	}
	if cfg.MaxAbsReturn <= 0 {
		cfg.MaxAbsReturn = 0.5
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{db: db, cfg: cfg, logger: logger, now: time.Now}
}

// Run executes every check and returns the report. An error is returned
// only when a check cannot be executed; data problems are reported as
// failed results.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	source, err := r.pickSource(ctx)
	if err != nil {
		return nil, err
	}
	report := &Report{Source: source}

	src := r.sourceSQL(source)
	checks := []func(context.Context, string) (Result, error){
		r.checkNulls,
		r.checkDuplicateKeys,
		r.checkNonPositiveClose,
		r.checkExtremeReturns,
		r.checkDateGaps,
		r.checkFreshness,
	}
	for _, check := range checks {
		res, err := check(ctx, src)
		if err != nil {
			return nil, err
		}
		report.Results = append(report.Results, res)
		r.logger.Debug("check finished", "check", res.Name, "passed", res.Passed, "severity", res.Severity)
	}

	featRes, err := r.checkFeatureNulls(ctx)
	if err != nil {
		return nil, err
	}
	report.Results = append(report.Results, featRes)

	return report, nil
}

func (r *Runner) pickSource(ctx context.Context) (string, error) {
	for _, table := range []string{warehouse.TableFctPrices, warehouse.TableRawPrices} {
		ok, err := r.db.TableExists(ctx, table)
		if err != nil {
			return "", err
		}
		if ok {
			return table, nil
		}
	}
	return "", fmt.Errorf("neither %s nor %s exists (run `marketpipe build` first)",
		warehouse.TableFctPrices, warehouse.TableRawPrices)
}

// sourceSQL returns a relation exposing (date, symbol, close, ret_1d)
// regardless of which price table backs it.
func (r *Runner) sourceSQL(source string) string {
	if source == warehouse.TableFctPrices {
		return source
	}
	return fmt.Sprintf(`(
		SELECT date, symbol, close,
			(close / LAG(close) OVER (PARTITION BY symbol ORDER BY date) - 1) AS ret_1d
		FROM %s
	) src`, source)
}

// checkNulls hard-fails on NULL dates, symbols, or closes, and on NULL
// returns anywhere but the first row per symbol.
func (r *Runner) checkNulls(ctx context.Context, src string) (Result, error) {
	query := fmt.Sprintf(`
		WITH ordered AS (
			SELECT date, symbol, close, ret_1d,
				ROW_NUMBER() OVER (PARTITION BY symbol ORDER BY date) AS rn
			FROM %s
		)
		SELECT
			COALESCE(SUM(CASE WHEN date   IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN symbol IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN close  IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN ret_1d IS NULL AND rn > 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN ret_1d IS NULL AND rn = 1 THEN 1 ELSE 0 END), 0)
		FROM ordered`, src)

	var nullDate, nullSymbol, nullClose, nullRet, firstRowRet int64
	if err := r.db.QueryRow(ctx, query).Scan(&nullDate, &nullSymbol, &nullClose, &nullRet, &firstRowRet); err != nil {
		return Result{}, fmt.Errorf("null check failed: %w", err)
	}

	res := Result{
		Name:     "nulls_in_prices",
		Severity: SeverityError,
		Passed:   nullDate == 0 && nullSymbol == 0 && nullClose == 0 && nullRet == 0,
		Detail: fmt.Sprintf("null date=%d symbol=%d close=%d ret_1d=%d (first-row ret_1d=%d allowed)",
			nullDate, nullSymbol, nullClose, nullRet, firstRowRet),
	}
	return res, nil
}

// checkDuplicateKeys hard-fails on duplicate (date, symbol) keys.
func (r *Runner) checkDuplicateKeys(ctx context.Context, src string) (Result, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM (
			SELECT date, symbol FROM %s GROUP BY 1, 2 HAVING COUNT(*) > 1
		) d`, src)

	var dupes int64
	if err := r.db.QueryRow(ctx, query).Scan(&dupes); err != nil {
		return Result{}, fmt.Errorf("duplicate key check failed: %w", err)
	}
	return Result{
		Name:     "dupe_keys_prices",
		Severity: SeverityError,
		Passed:   dupes == 0,
		Detail:   fmt.Sprintf("%d duplicate (date, symbol) keys", dupes),
	}, nil
}

// checkNonPositiveClose hard-fails on zero or negative closes.
func (r *Runner) checkNonPositiveClose(ctx context.Context, src string) (Result, error) {
	var bad int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE close <= 0", src)
	if err := r.db.QueryRow(ctx, query).Scan(&bad); err != nil {
		return Result{}, fmt.Errorf("close check failed: %w", err)
	}
	return Result{
		Name:     "non_positive_close",
		Severity: SeverityError,
		Passed:   bad == 0,
		Detail:   fmt.Sprintf("%d rows with close <= 0", bad),
	}, nil
}

// checkExtremeReturns warns on returns beyond the configured magnitude.
func (r *Runner) checkExtremeReturns(ctx context.Context, src string) (Result, error) {
	var extreme int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE ABS(ret_1d) > %f", src, r.cfg.MaxAbsReturn)
	if err := r.db.QueryRow(ctx, query).Scan(&extreme); err != nil {
		return Result{}, fmt.Errorf("extreme return check failed: %w", err)
	}
	return Result{
		Name:     "extreme_returns",
		Severity: SeverityWarn,
		Passed:   extreme == 0,
		Detail:   fmt.Sprintf("%d rows with |ret_1d| > %.2f", extreme, r.cfg.MaxAbsReturn),
	}, nil
}

// checkDateGaps estimates missing weekdays per symbol. Informational:
// market holidays legitimately show up as gaps.
func (r *Runner) checkDateGaps(ctx context.Context, src string) (Result, error) {
	query := fmt.Sprintf(
		"SELECT symbol, MIN(date), MAX(date), COUNT(DISTINCT date) FROM %s GROUP BY symbol", src)
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("date gap check failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type gap struct {
		symbol  string
		missing int
	}
	var gaps []gap
	for rows.Next() {
		var (
			symbol   string
			min, max time.Time
			have     int
		)
		if err := rows.Scan(&symbol, &min, &max, &have); err != nil {
			return Result{}, fmt.Errorf("date gap check failed: %w", err)
		}
		expected := weekdaysBetween(min, max) + 1
		if isWeekend(max) {
			expected--
		}
		if missing := expected - have; missing > 0 {
			gaps = append(gaps, gap{symbol: symbol, missing: missing})
		}
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}

	sort.Slice(gaps, func(i, j int) bool { return gaps[i].missing > gaps[j].missing })
	detail := "no weekday gaps"
	if len(gaps) > 0 {
		parts := make([]string, 0, len(gaps))
		for i, g := range gaps {
			if i == 5 {
				parts = append(parts, "...")
				break
			}
			parts = append(parts, fmt.Sprintf("%s=%d", g.symbol, g.missing))
		}
		detail = "estimated missing weekdays: " + strings.Join(parts, " ")
	}
	return Result{Name: "date_gaps_prices", Severity: SeverityInfo, Passed: len(gaps) == 0, Detail: detail}, nil
}

// checkFreshness warns when the newest price date is older than the
// staleness budget, counted in business days.
func (r *Runner) checkFreshness(ctx context.Context, src string) (Result, error) {
	var maxDate sql.NullTime
	query := fmt.Sprintf("SELECT MAX(date) FROM %s", src)
	if err := r.db.QueryRow(ctx, query).Scan(&maxDate); err != nil {
		return Result{}, fmt.Errorf("freshness check failed: %w", err)
	}
	if !maxDate.Valid {
		return Result{
			Name:     "freshness_check",
			Severity: SeverityWarn,
			Passed:   false,
			Detail:   "no price dates found",
		}, nil
	}

	age := weekdaysBetween(maxDate.Time, r.now().UTC())
	return Result{
		Name:     "freshness_check",
		Severity: SeverityWarn,
		Passed:   age <= r.cfg.MaxStaleDays,
		Detail: fmt.Sprintf("latest date %s is %d business days old (budget %d)",
			maxDate.Time.Format("2006-01-02"), age, r.cfg.MaxStaleDays),
	}, nil
}

// checkFeatureNulls reports NULL counts per feature column. Warmup rows
// make some NULLs expected, so this never fails a run.
func (r *Runner) checkFeatureNulls(ctx context.Context) (Result, error) {
	ok, err := r.db.TableExists(ctx, warehouse.TableFeatures)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{
			Name:     "nulls_in_features",
			Severity: SeverityInfo,
			Passed:   true,
			Detail:   "skipped (feature table not found)",
		}, nil
	}

	query := fmt.Sprintf(`
		SELECT
			COALESCE(SUM(CASE WHEN rsi_14 IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN momentum_10d IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN vol_21d IS NULL THEN 1 ELSE 0 END), 0)
		FROM %s`, warehouse.TableFeatures)

	var nullRSI, nullMom, nullVol int64
	if err := r.db.QueryRow(ctx, query).Scan(&nullRSI, &nullMom, &nullVol); err != nil {
		return Result{}, fmt.Errorf("feature null check failed: %w", err)
	}
	return Result{
		Name:     "nulls_in_features",
		Severity: SeverityInfo,
		Passed:   true,
		Detail:   fmt.Sprintf("null rsi_14=%d momentum_10d=%d vol_21d=%d", nullRSI, nullMom, nullVol),
	}, nil
}

// weekdaysBetween counts Mon-Fri days strictly between a and b.
func weekdaysBetween(a, b time.Time) int {
	a = a.Truncate(24 * time.Hour)
	b = b.Truncate(24 * time.Hour)
	if a.After(b) {
		a, b = b, a
	}
	days := 0
	for cur := a; cur.Before(b); cur = cur.AddDate(0, 0, 1) {
		if !isWeekend(cur) {
			days++
		}
	}
	return days
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
