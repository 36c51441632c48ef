package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quantstack-labs/marketpipe/internal/warehouse"
)

// LatestPrice is the newest fact row per symbol.
type LatestPrice struct {
	Symbol string   `json:"symbol"`
	Date   string   `json:"date"`
	Close  float64  `json:"close"`
	Ret1D  *float64 `json:"ret_1d"`
}

// FeatureRow is the newest feature row per ticker.
type FeatureRow struct {
	Ticker     string   `json:"ticker"`
	Date       string   `json:"date"`
	RSI14      *float64 `json:"rsi_14"`
	Momentum10 *float64 `json:"momentum_10d"`
	Vol21      *float64 `json:"vol_21d"`
}

// HistoryPoint is one dated close for a symbol.
type HistoryPoint struct {
	Date  string   `json:"date"`
	Close float64  `json:"close"`
	Ret1D *float64 `json:"ret_1d"`
}

// RunSummary is a pipeline run for the dashboard.
type RunSummary struct {
	ID          string `json:"id"`
	Environment string `json:"environment"`
	Status      string `json:"status"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	value, err := s.cached("latest", func() (any, error) {
		return s.queryLatest(r)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, value)
}

func (s *Server) queryLatest(r *http.Request) ([]LatestPrice, error) {
	query := fmt.Sprintf(`
		SELECT p.symbol, p.date, p.close, p.ret_1d
		FROM %[1]s p
		JOIN (SELECT symbol, MAX(date) AS date FROM %[1]s GROUP BY symbol) m
			ON p.symbol = m.symbol AND p.date = m.date
		ORDER BY p.symbol`, warehouse.TableFctPrices)

	rows, err := s.db.Query(r.Context(), query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []LatestPrice{}
	for rows.Next() {
		var (
			p    LatestPrice
			date time.Time
			ret  sql.NullFloat64
		)
		if err := rows.Scan(&p.Symbol, &date, &p.Close, &ret); err != nil {
			return nil, err
		}
		p.Date = date.Format("2006-01-02")
		p.Ret1D = nullableFloat(ret)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	value, err := s.cached("features", func() (any, error) {
		return s.queryFeatures(r)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, value)
}

func (s *Server) queryFeatures(r *http.Request) ([]FeatureRow, error) {
	query := fmt.Sprintf(`
		SELECT f.ticker, f.date, f.rsi_14, f.momentum_10d, f.vol_21d
		FROM %[1]s f
		JOIN (SELECT ticker, MAX(date) AS date FROM %[1]s GROUP BY ticker) m
			ON f.ticker = m.ticker AND f.date = m.date
		ORDER BY f.ticker`, warehouse.TableFeatures)

	rows, err := s.db.Query(r.Context(), query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []FeatureRow{}
	for rows.Next() {
		var (
			f             FeatureRow
			date          time.Time
			rsi, mom, vol sql.NullFloat64
		)
		if err := rows.Scan(&f.Ticker, &date, &rsi, &mom, &vol); err != nil {
			return nil, err
		}
		f.Date = date.Format("2006-01-02")
		f.RSI14 = nullableFloat(rsi)
		f.Momentum10 = nullableFloat(mom)
		f.Vol21 = nullableFloat(vol)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	// Symbols are stored upper-cased by the warehouse build.
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	limit := 90
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 10000 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	placeholder := "?"
	if s.db.DialectName() == "postgres" {
		placeholder = "$1"
	}
	query := fmt.Sprintf(`
		SELECT date, close, ret_1d FROM %s
		WHERE symbol = %s
		ORDER BY date DESC LIMIT %d`, warehouse.TableFctPrices, placeholder, limit)

	rows, err := s.db.Query(r.Context(), query, symbol)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer func() { _ = rows.Close() }()

	out := []HistoryPoint{}
	for rows.Next() {
		var (
			p    HistoryPoint
			date time.Time
			ret  sql.NullFloat64
		)
		if err := rows.Scan(&date, &p.Close, &ret); err != nil {
			s.writeError(w, err)
			return
		}
		p.Date = date.Format("2006-01-02")
		p.Ret1D = nullableFloat(ret)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		s.writeError(w, err)
		return
	}
	if len(out) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown symbol: " + symbol})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(20)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := []RunSummary{}
	for _, run := range runs {
		summary := RunSummary{
			ID:          run.ID,
			Environment: run.Environment,
			Status:      string(run.Status),
			StartedAt:   run.StartedAt.Format(time.RFC3339),
			Error:       run.Error,
		}
		if run.CompletedAt != nil {
			summary.CompletedAt = run.CompletedAt.Format(time.RFC3339)
		}
		out = append(out, summary)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
