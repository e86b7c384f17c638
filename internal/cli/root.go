package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/shelfcast/internal/config"
	"github.com/roach88/shelfcast/internal/ir"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	LogFormat  string // "json" | "text"; empty uses the configured value
	Database   string
	ConfigFile string
	EnvFiles   []string

	// LookupEnv overrides os.LookupEnv (for testing).
	LookupEnv func(string) (string, bool)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the shelfcast CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "shelfcast",
		Version: ir.AgentVersion,
		Short:   "shelfcast - kiosk catalog agent",
		Long: `A kiosk agent that keeps a local product catalog in sync with the
backend and tracks which product is active on the shelf display.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.LogFormat != "" && !isValidFormat(opts.LogFormat) {
				return fmt.Errorf("invalid log format %q: must be one of %v", opts.LogFormat, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (json|text), overrides config")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database, overrides config")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "CUE config file")
	cmd.PersistentFlags().StringSliceVar(&opts.EnvFiles, "env-file", []string{".env"}, ".env files to read (missing files are skipped)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewCatalogCommand(opts))
	cmd.AddCommand(NewIdentityCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// loadConfig resolves the configuration and applies the global flag
// overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(config.Options{
		File:      opts.ConfigFile,
		EnvFiles:  opts.EnvFiles,
		LookupEnv: opts.LookupEnv,
	})
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.DBPath = opts.Database
	}
	if opts.LogFormat != "" {
		cfg.LogFormat = opts.LogFormat
	}
	return cfg, nil
}

// setupLogging installs the default slog logger. --verbose enables debug
// records.
func setupLogging(w io.Writer, format string, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
