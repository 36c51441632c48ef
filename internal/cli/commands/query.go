package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quantstack-labs/marketpipe/internal/cli/output"
	"github.com/quantstack-labs/marketpipe/internal/warehouse"
)

// QueryOptions holds options for the query command.
type QueryOptions struct {
	Input string
}

// NewQueryCommand creates the query command.
func NewQueryCommand() *cobra.Command {
	opts := &QueryOptions{}

	cmd := &cobra.Command{
		Use:   "query [SQL]",
		Short: "Query the warehouse",
		Long: `Execute SQL directly against the warehouse to inspect raw snapshots,
the price fact table, and computed features.

When invoked without arguments on a terminal, enters interactive REPL
mode with history and table-name completion.`,
		Example: `  # One-shot query
  marketpipe query "SELECT * FROM core.fct_prices_daily LIMIT 10"

  # Pipe SQL from a file
  marketpipe query < report.sql

  # JSON output for scripting
  marketpipe query "SELECT ticker, rsi_14 FROM core.feat_equity_daily" -o json

  # Interactive mode
  marketpipe query`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "Read SQL from file")
	return cmd
}

func runQuery(cmd *cobra.Command, args []string, opts *QueryOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	var sqlQuery string
	switch {
	case len(args) > 0:
		sqlQuery = strings.Join(args, " ")
	case opts.Input != "":
		content, err := os.ReadFile(opts.Input)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		sqlQuery = string(content)
	case !isTerminal(os.Stdin):
		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		sqlQuery = string(content)
	default:
		return runQueryREPL(cmd, cmdCtx)
	}

	sqlQuery = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sqlQuery), ";"))
	if sqlQuery == "" {
		return fmt.Errorf("no SQL to execute")
	}
	return executeAndRenderQuery(cmd.Context(), cmdCtx.Renderer, cmdCtx.DB, sqlQuery)
}

func executeAndRenderQuery(ctx context.Context, r *output.Renderer, db warehouse.Adapter, sqlQuery string) error {
	rows, err := db.Query(ctx, sqlQuery)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	var data [][]string
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		row := make([]string, len(cols))
		for i, v := range values {
			row[i] = formatCell(v)
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if r.EffectiveMode() == output.ModeJSON {
		out := make([]map[string]string, 0, len(data))
		for _, row := range data {
			m := make(map[string]string, len(cols))
			for i, col := range cols {
				m[col] = row[i]
			}
			out = append(out, m)
		}
		return r.JSON(out)
	}

	r.Table(cols, data)
	r.Muted(fmt.Sprintf("%d row(s)", len(data)))
	return nil
}

func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(val)
	case float64:
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
