package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/quantstack-labs/marketpipe/internal/warehouse"
)

func runQueryREPL(cmd *cobra.Command, cmdCtx *CommandContext) error {
	ctx := cmd.Context()
	db := cmdCtx.DB
	r := cmdCtx.Renderer

	// Project-local history alongside the state database.
	historyFile := filepath.Join(filepath.Dir(cmdCtx.Cfg.StatePath), "query_history")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "marketpipe> ",
		HistoryFile:     historyFile,
		AutoComplete:    newTableCompleter(ctx, db),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "MarketPipe SQL REPL (%s warehouse)\n", db.DialectName())
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Type .help for commands, .quit to exit")
	_, _ = fmt.Fprintln(cmd.OutOrStdout())

	var buf strings.Builder
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			buf.Reset()
			rl.SetPrompt("marketpipe> ")
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ".") {
			if line == ".quit" || line == ".exit" {
				break
			}
			handleDotCommand(ctx, cmd, cmdCtx, line)
			continue
		}

		// Accumulate multi-line SQL until a trailing semicolon.
		buf.WriteString(line)
		if !strings.HasSuffix(line, ";") {
			buf.WriteString(" ")
			rl.SetPrompt("       ...> ")
			continue
		}
		rl.SetPrompt("marketpipe> ")

		query := strings.TrimSuffix(buf.String(), ";")
		buf.Reset()

		if err := executeAndRenderQuery(ctx, r, db, query); err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout())
	}

	return nil
}

func handleDotCommand(ctx context.Context, cmd *cobra.Command, cmdCtx *CommandContext, line string) {
	parts := strings.Fields(line)
	switch strings.ToLower(parts[0]) {
	case ".help":
		printREPLHelp(cmd.OutOrStdout())

	case ".tables":
		if err := listWarehouseTables(ctx, cmdCtx); err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}

	case ".schema":
		if len(parts) < 2 {
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Usage: .schema <table>")
			return
		}
		if err := showTableSchema(ctx, cmdCtx, parts[1]); err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}

	case ".clear":
		fmt.Print("\033[H\033[2J")

	default:
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Unknown command: %s (type .help for commands)\n", parts[0])
	}
}

func printREPLHelp(w io.Writer) {
	help := `
Commands:
  .help           Show this help message
  .tables         List warehouse tables
  .schema <name>  Show the columns of a table
  .clear          Clear the screen
  .quit / .exit   Exit the REPL

Tips:
  - SQL statements must end with a semicolon (;)
  - Use arrow keys to navigate history
  - Tab completion works for table names
`
	_, _ = fmt.Fprintln(w, help)
}

func listWarehouseTables(ctx context.Context, cmdCtx *CommandContext) error {
	return executeAndRenderQuery(ctx, cmdCtx.Renderer, cmdCtx.DB, `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_schema NOT IN ('information_schema', 'pg_catalog')
		ORDER BY table_schema, table_name`)
}

func showTableSchema(ctx context.Context, cmdCtx *CommandContext, table string) error {
	cols, err := cmdCtx.DB.Columns(ctx, table)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(cols))
	for i, c := range cols {
		rows = append(rows, []string{fmt.Sprintf("%d", i+1), c})
	}
	cmdCtx.Renderer.Table([]string{"#", "Column"}, rows)
	return nil
}

// newTableCompleter builds a readline completer from the warehouse
// catalog. Failures are ignored; completion just degrades.
func newTableCompleter(ctx context.Context, db warehouse.Adapter) *readline.PrefixCompleter {
	var items []readline.PrefixCompleterInterface

	rows, err := db.Query(ctx, `
		SELECT table_schema || '.' || table_name
		FROM information_schema.tables
		WHERE table_schema NOT IN ('information_schema', 'pg_catalog')
		ORDER BY 1`)
	if err == nil {
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err == nil {
				items = append(items, readline.PcItem(name))
			}
		}
		_ = rows.Err()
	}

	items = append(items,
		readline.PcItem("SELECT"),
		readline.PcItem(".help"),
		readline.PcItem(".tables"),
		readline.PcItem(".schema"),
		readline.PcItem(".clear"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)
	return readline.NewPrefixCompleter(items...)
}
