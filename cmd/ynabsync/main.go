package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/djlord-it/ynab-sync/internal/config"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// exitError carries the process exit code for a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func invalidConfig(err error) error {
	return &exitError{code: exitInvalidConfig, err: err}
}

func runtimeError(err error) error {
	return &exitError{code: exitRuntimeError, err: err}
}

func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitRuntimeError
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ynabsync",
		Short: "Provision and run scheduled per-bank YNAB sync jobs",
		Long: `ynabsync renders a list of job definitions into one function, one
schedule trigger and one error alarm per enabled job, sharing a state
bucket and an alert topic. The graph can be applied to AWS or run locally.

Configuration is read from the environment (and ENV_FILE, when set).
See "ynabsync config" for the effective values.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(renderCmd())
	root.AddCommand(applyCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(configCmd())
	root.AddCommand(scheduleCmd())
	root.AddCommand(versionCmd())

	return root
}

// loadConfig reads the configuration and sets up the global logger from it.
func loadConfig() config.Config {
	cfg := config.Load()
	setupLogging(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	return cfg
}

func setupLogging(w io.Writer, format, level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if format == "human" {
		w = zerolog.ConsoleWriter{Out: w}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "ynabsync version %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}
