package commands

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quantstack-labs/marketpipe/internal/cli/config"
	"github.com/quantstack-labs/marketpipe/internal/server"
)

// ServeOptions holds options for the serve command.
type ServeOptions struct {
	Addr    string
	NoWatch bool
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	opts := &ServeOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard and JSON API",
		Long: `Start a local HTTP server exposing the latest prices, computed
features, per-symbol history, and run history, plus a small dashboard.

Query results are cached; the cache is invalidated when new snapshots
land in the data directory (disable with --no-watch).`,
		Example: `  # Serve on the configured address
  marketpipe serve

  # Custom address
  marketpipe serve --addr :9000`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "Listen address (overrides config)")
	cmd.Flags().BoolVar(&opts.NoWatch, "no-watch", false, "Disable snapshot-directory watching")
	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := cmdCtx.Cfg
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	addr := config.DefaultServeAddr
	watch := true
	if cfg.Serve != nil {
		addr = cfg.Serve.Addr
		watch = cfg.Serve.Watch
	}
	if opts.Addr != "" {
		addr = opts.Addr
	}
	if opts.NoWatch {
		watch = false
	}

	srv := server.NewServer(server.Config{
		DB:      cmdCtx.DB,
		Store:   store,
		Addr:    addr,
		Watch:   watch,
		DataDir: cfg.DataDir,
		Logger:  cmdCtx.Logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmdCtx.Renderer.Success("serving on http://localhost" + addr)
	cmdCtx.Renderer.Muted("press Ctrl+C to stop")
	return srv.Serve(ctx)
}
