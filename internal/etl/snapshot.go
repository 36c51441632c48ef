package etl

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/quantstack-labs/marketpipe/internal/provider"
)

const snapshotDateLayout = "20060102"

// PriceSnapshotName returns the snapshot filename for an as-of date,
// e.g. equity_prices_20240104.csv.
func PriceSnapshotName(asOf time.Time) string {
	return fmt.Sprintf("equity_prices_%s.csv", asOf.Format(snapshotDateLayout))
}

// MacroSnapshotName returns the macro snapshot filename for an as-of date.
func MacroSnapshotName(asOf time.Time) string {
	return fmt.Sprintf("macro_series_%s.csv", asOf.Format(snapshotDateLayout))
}

// WritePriceSnapshot writes bars to a dated CSV under dataDir and
// returns the file path. The write goes through a temp file so a crash
// never leaves a truncated snapshot.
func WritePriceSnapshot(dataDir string, asOf time.Time, bars []provider.Bar) (string, error) {
	if len(bars) == 0 {
		return "", fmt.Errorf("no bars to snapshot")
	}

	rows := make([][]string, 0, len(bars)+1)
	rows = append(rows, []string{"date", "open", "high", "low", "close", "volume", "symbol"})
	for _, b := range bars {
		rows = append(rows, []string{
			b.Date.Format("2006-01-02"),
			formatFloat(b.Open),
			formatFloat(b.High),
			formatFloat(b.Low),
			formatFloat(b.Close),
			strconv.FormatInt(b.Volume, 10),
			b.Symbol,
		})
	}

	return writeSnapshot(dataDir, PriceSnapshotName(asOf), rows)
}

// WriteMacroSnapshot writes observations to a dated CSV under dataDir
// and returns the file path.
func WriteMacroSnapshot(dataDir string, asOf time.Time, obs []provider.Observation) (string, error) {
	if len(obs) == 0 {
		return "", fmt.Errorf("no observations to snapshot")
	}

	rows := make([][]string, 0, len(obs)+1)
	rows = append(rows, []string{"date", "series_id", "value"})
	for _, o := range obs {
		rows = append(rows, []string{
			o.Date.Format("2006-01-02"),
			o.SeriesID,
			formatFloat(o.Value),
		})
	}

	return writeSnapshot(dataDir, MacroSnapshotName(asOf), rows)
}

func writeSnapshot(dataDir, name string, rows [][]string) (string, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	path := filepath.Join(dataDir, name)
	tmp, err := os.CreateTemp(dataDir, name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create snapshot: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	w := csv.NewWriter(tmp)
	if err := w.WriteAll(rows); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to finalize snapshot: %w", err)
	}
	return path, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
