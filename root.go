package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/fbonesso/storeops/internal/config"
	"github.com/fbonesso/storeops/internal/paging"
	"github.com/fbonesso/storeops/internal/providers"
)

// version is set at build time via ldflags.
var version = "dev"

// CLIFlags holds the persistent flag values shared by every command.
type CLIFlags struct {
	ConfigPath  string
	Profile     string
	Pretty      bool
	Limit       int
	Next        string
	Paginate    bool
	Timeout     time.Duration
	Workers     int
	Verbose     bool
	Quiet       bool
	AppStoreURL string
	PlayURL     string
}

// CLIContext is everything a command needs, built once in the root
// pre-run and passed through the command context.
type CLIContext struct {
	Flags     CLIFlags
	Env       config.EnvOverrides
	Store     *config.Store
	Settings  config.Settings
	Logger    *slog.Logger
	CommandID string
	Registry  *providers.Registry
	Out       io.Writer
	Err       io.Writer
	Pretty    bool

	cancel context.CancelFunc
}

type cliContextKey struct{}

// cliContextFrom returns the CLIContext stored by the root pre-run, or nil.
func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)
	return cc
}

// mustCLIContext returns the CLIContext or panics. Every command below the
// root runs after the pre-run, so a missing context is a wiring bug.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds the root command with every subcommand registered.
func newRootCmd() *cobra.Command {
	flags := &CLIFlags{}

	cmd := &cobra.Command{
		Use:   "storeops",
		Short: "App Store Connect and Google Play from the command line",
		Long: "storeops drives the App Store Connect and Google Play Developer APIs: " +
			"apps, builds, versions, reviews, tracks, listings, and testers.",
		Version: version,
		// Errors are rendered as JSON by run().
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := newCLIContext(cmd, *flags)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if cmd.Flags().Changed("timeout") {
				ctx, cc.cancel = context.WithTimeout(ctx, flags.Timeout)
			}

			cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if cc := cliContextFrom(cmd.Context()); cc != nil && cc.cancel != nil {
				cc.cancel()
			}
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "config file path")
	pf.StringVarP(&flags.Profile, "profile", "p", "", "profile to use (overrides "+config.EnvProfile+")")
	pf.BoolVar(&flags.Pretty, "pretty", false, "pretty-print JSON output (default when stdout is a terminal)")
	pf.IntVar(&flags.Limit, "limit", 0, "page size for list commands")
	pf.StringVar(&flags.Next, "next", "", "continue a list from this cursor")
	pf.BoolVar(&flags.Paginate, "paginate", false, "fetch every page of a list")
	pf.DurationVar(&flags.Timeout, "timeout", 0, "deadline for the whole command")
	pf.IntVar(&flags.Workers, "workers", 0, "concurrent workers for decoding and multi-locale updates")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "log errors only")
	pf.StringVar(&flags.AppStoreURL, "appstore-url", "", "App Store Connect base URL")
	pf.StringVar(&flags.PlayURL, "play-url", "", "Google Play base URL")

	_ = pf.MarkHidden("appstore-url")
	_ = pf.MarkHidden("play-url")

	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
	cmd.MarkFlagsMutuallyExclusive("next", "paginate")

	cmd.AddCommand(newAuthCmd())
	cmd.AddCommand(newAppleCmd())
	cmd.AddCommand(newGoogleCmd())

	return cmd
}

// newCLIContext resolves configuration through the defaults → file → env →
// flags chain and builds the logger and provider registry.
func newCLIContext(cmd *cobra.Command, flags CLIFlags) (*CLIContext, error) {
	env := config.ReadEnvOverrides()

	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath, Profile: flags.Profile}
	if cmd.Flags().Changed("timeout") {
		cli.Timeout = &flags.Timeout
	}

	if cmd.Flags().Changed("workers") {
		cli.Workers = &flags.Workers
	}

	store, settings, err := config.Resolve(env, cli)
	if err != nil {
		return nil, err
	}

	commandID := uuid.New().String()
	logger := buildLogger(cmd.ErrOrStderr(), settings, flags).With(
		slog.String("command", cmd.CommandPath()),
		slog.String("command_id", commandID),
	)

	out := cmd.OutOrStdout()

	pretty := flags.Pretty
	if !cmd.Flags().Changed("pretty") {
		pretty = isTerminal(out)
	}

	logger.Debug("configuration resolved",
		slog.String("config", store.Path()),
		slog.Duration("timeout", settings.Timeout),
		slog.Int("workers", settings.Workers),
	)

	return &CLIContext{
		Flags:     flags,
		Env:       env,
		Store:     store,
		Settings:  settings,
		Logger:    logger,
		CommandID: commandID,
		Out:       out,
		Err:       cmd.ErrOrStderr(),
		Pretty:    pretty,
		Registry: providers.NewRegistry(store, settings, env, flags.Profile,
			providers.WithLogger(logger),
			providers.WithBaseURLs(flags.AppStoreURL, flags.PlayURL),
		),
	}, nil
}

// buildLogger creates the command logger. The config file sets the baseline
// level and format; --verbose and --quiet override the level.
func buildLogger(w io.Writer, settings config.Settings, flags CLIFlags) *slog.Logger {
	level := slog.LevelInfo

	switch settings.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if settings.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// pagingOptions returns the pager options for list commands.
func (cc *CLIContext) pagingOptions() []paging.Option {
	return []paging.Option{paging.WithWorkers(cc.Settings.Workers)}
}

// startCursor decodes --next.
func (cc *CLIContext) startCursor() (paging.Cursor, error) {
	return paging.DecodeCursor(cc.Flags.Next)
}

// Statusf writes a human-readable note to stderr unless --quiet is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	if !cc.Flags.Quiet {
		fmt.Fprintf(cc.Err, format, args...)
	}
}
