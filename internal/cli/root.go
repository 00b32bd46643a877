// Package cli implements the cobra-based CLI commands for udp-portcheck.
//
// Each subcommand (client, server) is defined in its own file within this
// package. This file defines the root command that serves as the parent for
// all subcommands and handles global flags.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/udp-portcheck/internal/config"
	"github.com/mmr-tortoise/udp-portcheck/internal/logging"
	"github.com/mmr-tortoise/udp-portcheck/internal/model"
)

// Global flag variables shared across all subcommands.
// These are bound to cobra persistent flags on the root command,
// which makes them available to every subcommand automatically.
var (
	// jsonOutput controls whether command output is formatted as JSON.
	// It also switches the stderr log formatter to JSON.
	jsonOutput bool

	// verbose enables debug-level logging on stderr.
	verbose bool

	// configPath optionally points at a YAML or JSONC file with defaults.
	configPath string
)

// version, commit, and date are set at build time via ldflags.
// They are injected from the main package to display version information.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// NewRootCommand creates and configures the root cobra command.
//
// The root command itself does not perform any action. It only provides
// help text and global flags; the work is done by the client and server
// subcommands.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "udp-portcheck",
		Short: "UDP port checker tool, with client and server",
		Long: `udp-portcheck verifies that a range of UDP ports on a target host is
reachable end to end.

Run "udp-portcheck server" on the target for each port to check. Then run
"udp-portcheck client" from the other side of the firewall or NAT: it sends
a token to every port in the range with bounded concurrency and reports the
ports that did not echo the token back within the timeout.`,

		// SilenceUsage prevents cobra from printing usage on every error.
		SilenceUsage: true,

		// SilenceErrors prevents cobra from printing errors automatically.
		// We format errors ourselves (text or JSON based on --json flag).
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Load defaults from a YAML (.yaml/.yml) or JSONC (.json/.jsonc) file")

	rootCmd.AddCommand(NewClientCommand())
	rootCmd.AddCommand(NewServerCommand())

	return rootCmd
}

// Execute runs the root command and handles exit codes.
// This is the main entry point called from main.go.
//
// SIGINT and SIGTERM cancel the command context: a running client aborts
// and exits with ExitError, a running server stops and exits with
// ExitSuccess.
func Execute(rootCmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)

	// Restore default signal handling before printing: a second Ctrl-C
	// while the error is written should kill the process right away.
	stop()

	if err != nil {
		var cliErr *model.CLIError
		if errors.As(err, &cliErr) {
			printError(rootCmd.ErrOrStderr(), cliErr.Message, cliErr.Err)
		} else {
			printError(rootCmd.ErrOrStderr(), err.Error(), nil)
		}
	}
	// os.Exit skips deferred calls, so it is called here and nowhere else,
	// after every command has returned and released its sockets.
	os.Exit(int(exitCode(err)))
}

// exitCode maps a command error to the process exit code. Errors that are
// not CLIErrors, such as cobra flag parsing errors, are unrecoverable
// argument errors.
func exitCode(err error) model.ExitCode {
	if err == nil {
		return model.ExitSuccess
	}
	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		return cliErr.Code
	}
	return model.ExitError
}

// printError outputs an error message in the appropriate format
// (JSON or text) based on the --json global flag.
func printError(w io.Writer, message string, underlying error) {
	if jsonOutput {
		errObj := map[string]interface{}{
			"error": map[string]interface{}{
				"message": message,
			},
		}
		if underlying != nil {
			if errMap, ok := errObj["error"].(map[string]interface{}); ok {
				errMap["detail"] = underlying.Error()
			}
		}
		data, _ := json.MarshalIndent(errObj, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}

	if underlying != nil {
		fmt.Fprintf(w, "Error: %s: %v\n", message, underlying)
	} else {
		fmt.Fprintf(w, "Error: %s\n", message)
	}
}

// newLogger builds the command's logger on its stderr stream.
//
// Logs never go to stdout. stdout carries only the command's report, so
// "udp-portcheck client --json | jq" keeps working with --verbose on. The
// stream is taken from the command rather than os.Stderr so tests can
// capture or discard it with SetErr.
func newLogger(cmd *cobra.Command) *logrus.Logger {
	return logging.New(logging.Options{
		Verbose: verbose,
		JSON:    jsonOutput,
		Output:  cmd.ErrOrStderr(),
	})
}

// loadConfig returns the file given by --config, or the built-in defaults
// when no file was given.
func loadConfig() (*config.File, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitError, "failed to load config", err)
	}
	return cfg, nil
}

// IsJSONOutput returns whether the --json flag is set.
// Subcommands use this to decide their output format.
func IsJSONOutput() bool {
	return jsonOutput
}
