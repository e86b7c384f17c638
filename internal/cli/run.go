package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/shelfcast/internal/config"
	"github.com/roach88/shelfcast/internal/identity"
	"github.com/roach88/shelfcast/internal/remote"
	"github.com/roach88/shelfcast/internal/session"
	"github.com/roach88/shelfcast/internal/statusapi"
	"github.com/roach88/shelfcast/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	BackendURL string
	SocketURL  string
	Field      string
	StatusAddr string

	// Tokens allows overriding the session token generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	Tokens session.TokenGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the kiosk agent",
		Long: `Run the kiosk agent.

The agent resolves the field identifier (configured override, cached
value, or an operator prompt on stdin), bootstraps the local catalog from
the SQLite database and the backend, then follows the push channel and
serves the status API until interrupted.

Example:
  shelfcast run --backend https://api.example.com --socket wss://push.example.com
  shelfcast run --config kiosk.cue --db /var/lib/shelfcast/kiosk.db --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.BackendURL, "backend", "", "backend base URL, overrides config")
	cmd.Flags().StringVar(&opts.SocketURL, "socket", "", "push channel URL, overrides config")
	cmd.Flags().StringVar(&opts.Field, "field", "", "field identifier, skips the cache and the prompt")
	cmd.Flags().StringVar(&opts.StatusAddr, "status-addr", "", `status API address, overrides config ("off" disables it)`)

	return cmd
}

func (o *RunOptions) apply(cfg *config.Config) {
	if o.BackendURL != "" {
		cfg.BackendURL = o.BackendURL
	}
	if o.SocketURL != "" {
		cfg.SocketURL = o.SocketURL
	}
	if o.Field != "" {
		cfg.FieldID = o.Field
	}
	switch o.StatusAddr {
	case "":
	case "off":
		cfg.StatusAddr = ""
	default:
		cfg.StatusAddr = o.StatusAddr
	}
}

func runAgent(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	opts.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	setupLogging(cmd.ErrOrStderr(), cfg.LogFormat, opts.Verbose)

	slog.Info("opening database", "path", cfg.DBPath)
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	tokens := opts.Tokens
	if tokens == nil {
		tokens = session.UUIDv7Generator{}
	}
	prompter := identity.NewLinePrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
	mgr := session.NewManager(
		st,
		remote.NewClient(cfg.BackendURL, cfg.FetchTimeout),
		identity.NewResolver(st, prompter, cfg.FieldID),
		session.Config{
			SocketURL:          cfg.SocketURL,
			ImageBaseURL:       cfg.ImageBaseURL,
			Dwell:              cfg.Dwell,
			PreloadConcurrency: cfg.PreloadConcurrency,
			ReconnectMin:       cfg.ReconnectMin,
			ReconnectMax:       cfg.ReconnectMax,
		},
		tokens,
	)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mgr.Run(gctx)
	})
	if cfg.StatusAddr != "" {
		api := statusapi.New(mgr, st)
		g.Go(func() error {
			return api.ListenAndServe(gctx, cfg.StatusAddr)
		})
	}

	slog.Info("agent starting", "backend", cfg.BackendURL, "socket", cfg.SocketURL, "status_addr", cfg.StatusAddr)
	fmt.Fprintln(cmd.OutOrStdout(), "Agent started. Press Ctrl-C to stop.")

	err = g.Wait()
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	case errors.Is(err, identity.ErrNoIdentity):
		return WrapExitError(ExitCommandError, "no field identifier", err)
	default:
		return WrapExitError(ExitFailure, "agent error", err)
	}

	slog.Info("agent stopped gracefully", "restarts", mgr.Restarts())
	return nil
}
