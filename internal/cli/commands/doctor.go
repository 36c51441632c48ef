package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/quantstack-labs/marketpipe/internal/cli/config"
	"github.com/quantstack-labs/marketpipe/internal/cli/output"
	"github.com/quantstack-labs/marketpipe/internal/provider"
	"github.com/quantstack-labs/marketpipe/internal/state"
)

// DoctorOptions holds options for the doctor command.
type DoctorOptions struct {
	Online bool
}

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	opts := &DoctorOptions{}
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the project setup",
		Long: `Verify that MarketPipe is ready to run.

The doctor command checks configuration, credentials, directories, and
warehouse connectivity, and reports what is missing. With --online it
also performs a small test fetch against the bar provider.

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format
  - JSON: Machine-readable format`,
		Example: `  # Check the setup
  marketpipe doctor

  # Include a live provider smoke test
  marketpipe doctor --online

  # Output as JSON
  marketpipe doctor -o json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Online, "online", false, "Run a live provider smoke test")
	return cmd
}

// DoctorCheck is a single setup check result.
type DoctorCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "pass", "warn", "fail"
	Detail string `json:"detail,omitempty"`
}

// DoctorOutput is the JSON output for the doctor command.
type DoctorOutput struct {
	Checks []DoctorCheck `json:"checks"`
	Ready  bool          `json:"ready"`
}

func runDoctor(cmd *cobra.Command, opts *DoctorOptions) error {
	cmdCtx := NewCommandContextWithoutDB(cmd)
	cfg := cmdCtx.Cfg
	r := cmdCtx.Renderer

	var checks []DoctorCheck
	add := func(name, status, detail string) {
		checks = append(checks, DoctorCheck{Name: name, Status: status, Detail: detail})
	}

	// Config file
	if configFile := config.GetConfigFileUsed(); configFile != "" {
		add("config file", "pass", configFile)
	} else {
		add("config file", "warn", "no marketpipe.yaml found, using defaults (run `marketpipe init`)")
	}

	// Tickers and lookback
	if len(cfg.Tickers) > 0 {
		add("tickers", "pass", strings.Join(cfg.Tickers, ", "))
	} else {
		add("tickers", "fail", "no tickers configured (set tickers in marketpipe.yaml or TICKERS)")
	}
	if cfg.LookbackDays > 0 {
		add("lookback", "pass", fmt.Sprintf("%d days", cfg.LookbackDays))
	} else {
		add("lookback", "fail", "lookback_days must be positive")
	}

	// Data directory and snapshots
	if _, err := os.Stat(cfg.DataDir); err == nil {
		snapshots, _ := filepath.Glob(filepath.Join(cfg.DataDir, "equity_prices_*.csv"))
		add("data directory", "pass", fmt.Sprintf("%s (%d snapshots)", cfg.DataDir, len(snapshots)))
	} else {
		add("data directory", "warn", fmt.Sprintf("%s does not exist (run `marketpipe init`)", cfg.DataDir))
	}

	// Warehouse target
	if err := config.ValidateTarget(cfg.Target); err != nil {
		add("warehouse target", "fail", err.Error())
	} else {
		detail := cfg.Target.Type
		if cfg.Target.Type == "duckdb" {
			detail += " " + cfg.Target.Path
		}
		add("warehouse target", "pass", detail)

		if err := checkWarehouseConnectivity(cmd, cfg); err != nil {
			add("warehouse connection", "fail", err.Error())
		} else {
			add("warehouse connection", "pass", "")
		}
	}

	// FRED credentials matter only when macro series are configured.
	if series := fredSeries(cfg); len(series) > 0 {
		if cfg.Providers.FRED.APIKey != "" {
			add("FRED API key", "pass", fmt.Sprintf("set (%d series)", len(series)))
		} else {
			add("FRED API key", "fail", "macro series configured but FRED_API_KEY is not set")
		}
	} else {
		add("FRED API key", "pass", "not needed (no macro series configured)")
	}

	// State database
	if store, err := openStore(cfg); err != nil {
		add("state database", "fail", err.Error())
	} else {
		detail := cfg.StatePath
		if s, ok := store.(*state.SQLiteStore); ok {
			if v, err := s.MigrationVersion(); err == nil {
				detail = fmt.Sprintf("%s (schema v%d)", cfg.StatePath, v)
			}
		}
		_ = store.Close()
		add("state database", "pass", detail)
	}

	// Live provider smoke test, off by default to keep doctor fast.
	if opts.Online {
		if err := checkProviderOnline(cmd, cmdCtx); err != nil {
			add("provider fetch", "fail", err.Error())
		} else {
			add("provider fetch", "pass", "fetched recent SPY bars")
		}
	}

	out := &DoctorOutput{Checks: checks, Ready: true}
	for _, c := range checks {
		if c.Status == "fail" {
			out.Ready = false
		}
	}

	if r.EffectiveMode() == output.ModeJSON {
		if err := r.JSON(out); err != nil {
			return err
		}
	} else {
		renderDoctor(r, out)
	}

	if !out.Ready {
		return fmt.Errorf("setup is not ready, fix the failed checks above")
	}
	return nil
}

func checkWarehouseConnectivity(cmd *cobra.Command, cfg *config.Config) error {
	db, err := connectWarehouse(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	var one int
	return db.QueryRow(cmd.Context(), "SELECT 1").Scan(&one)
}

func checkProviderOnline(cmd *cobra.Command, cmdCtx *CommandContext) error {
	ctx := cmd.Context()

	var baseURL string
	var rate float64
	if cmdCtx.Cfg.Providers != nil {
		baseURL = cmdCtx.Cfg.Providers.Stooq.BaseURL
		rate = cmdCtx.Cfg.Providers.Stooq.RequestsPerSec
	}
	bars := provider.NewStooqClient(baseURL, rate, cmdCtx.Logger)
	end := time.Now().UTC()
	got, err := bars.DailyBars(ctx, "SPY", end.AddDate(0, 0, -7), end)
	if err != nil {
		return err
	}
	if len(got) == 0 {
		return fmt.Errorf("provider returned no bars")
	}
	return nil
}

func renderDoctor(r *output.Renderer, out *DoctorOutput) {
	r.Header(1, "MarketPipe Setup Check")
	r.Println("")
	titler := cases.Title(language.English, cases.NoLower)
	for _, c := range out.Checks {
		status := c.Status
		if status == "fail" {
			status = "error"
		}
		r.StatusLine(titler.String(c.Name), status, c.Detail)
	}
	r.Println("")
	if out.Ready {
		r.Success("All good! Ready to run `marketpipe run`.")
	} else {
		r.Error("Setup is incomplete.")
	}
}
