package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/cozy-ach/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// errPartialFailure is returned when a command completed but some units of
// work failed. The failures have already been reported, so main exits 1
// without printing anything else.
var errPartialFailure = errors.New("some operations failed")

// CLIFlags holds the global persistent flags.
type CLIFlags struct {
	ConfigPath string
	URL        string
	TokenFile  string
	Verbose    bool
	Quiet      bool
}

// CLIContext is the per-invocation state shared by every subcommand. It is
// populated by the root PersistentPreRunE.
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.Config
	Logger *slog.Logger

	Stdout io.Writer
	Stderr io.Writer

	// OpenURL launches the system browser during authorization.
	OpenURL func(string) error
}

// newRootCmd builds the fully-assembled root command. Called once from main().
func newRootCmd() *cobra.Command {
	return newRootCmdWith(&CLIContext{OpenURL: openBrowser})
}

// newRootCmdWith builds the root command around cc. Tests inject their own
// browser opener through it.
func newRootCmdWith(cc *CLIContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ach",
		Short: "Authenticated bulk import for a Cozy stack",
		Long: "ach authorizes against a Cozy instance, then bulk-imports documents and\n" +
			"directory trees, or deletes every document of a doctype.",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return cc.load(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&cc.Flags.ConfigPath, "config", "", "config file path")
	pf.StringVar(&cc.Flags.URL, "url", "", "instance URL (e.g. https://alice.mycozy.cloud)")
	pf.StringVar(&cc.Flags.TokenFile, "token-file", "", "token file path")
	pf.BoolVarP(&cc.Flags.Verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&cc.Flags.Quiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd(cc))
	cmd.AddCommand(newLogoutCmd(cc))
	cmd.AddCommand(newImportCmd(cc))
	cmd.AddCommand(newImportDirCmd(cc))
	cmd.AddCommand(newDropCmd(cc))
	cmd.AddCommand(newTokenCmd(cc))
	cmd.AddCommand(newDebugCmd(cc))
	cmd.AddCommand(newHistoryCmd(cc))
	cmd.AddCommand(newConfigCmd(cc))

	return cmd
}

// load resolves the effective configuration from the four-layer override
// chain and builds the logger.
func (cc *CLIContext) load(cmd *cobra.Command) error {
	cc.Stdout = cmd.OutOrStdout()
	cc.Stderr = cmd.ErrOrStderr()

	cli := config.CLIOverrides{ConfigPath: cc.Flags.ConfigPath}

	// Only pass flags the user explicitly set.
	if cmd.Flags().Changed("url") {
		cli.URL = &cc.Flags.URL
	}

	if cmd.Flags().Changed("token-file") {
		cli.TokenFile = &cc.Flags.TokenFile
	}

	cfg, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cc.Cfg = cfg
	cc.Logger = buildLogger(cfg, cc.Flags, cc.Stderr)

	cc.Logger.Debug("config resolved",
		slog.String("path", cfg.Path),
		slog.String("url", cfg.URL),
	)

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it.
func buildLogger(cfg *config.Config, flags CLIFlags, w io.Writer) *slog.Logger {
	level := slog.LevelInfo

	if cfg != nil {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	format := "auto"
	if cfg != nil {
		format = cfg.LogFormat
	}

	if format == "json" || (format == "auto" && !isTerminal(w)) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// httpClient returns the client used against the instance. Its timeout
// bounds whole requests; streamed uploads only bound connect and response
// headers with it.
func (cc *CLIContext) httpClient() *http.Client {
	return &http.Client{Timeout: cc.Cfg.Network.TimeoutDuration()}
}

func (cc *CLIContext) userAgent() string {
	if cc.Cfg.Network.UserAgent != "" {
		return cc.Cfg.Network.UserAgent
	}

	return "ach/" + version
}

// commandContext returns a context canceled on SIGINT/SIGTERM. Callers
// must call stop when the command returns.
func (cc *CLIContext) commandContext(cmd *cobra.Command) (ctx context.Context, stop context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}

	return shutdownContext(parent, cc.Logger)
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
