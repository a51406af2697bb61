// Package cli implements the cobra root command of docker-port-forward.
//
// The daemon has no subcommands: running the binary starts the forwarder,
// which runs until SIGINT/SIGTERM or a fatal Docker error. This file defines
// the root command, its global flags and the exit code handling; run.go
// wires the components together.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/docker-port-forward/internal/model"
)

// verbose forces debug logging regardless of DOCKERFWD_LOG_LEVEL.
var verbose bool

// Version, Commit, and Date are set at build time via ldflags.
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
// This is the entry point for the entire CLI application.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		// Use is the one-line usage pattern shown in help output.
		Use:   "docker-port-forward",
		Short: "Forward published Docker container ports to the local host",
		Long: `docker-port-forward opens a local TCP listener for every host port published
by a running container on a remote Docker daemon and relays connections to the
daemon host unchanged.

Listeners follow the container lifecycle: they open when a container starts and
close when it dies. Tunnels that are already connected are never cut by a
container stopping.

The Docker daemon is selected with DOCKER_HOST and DOCKER_CERT_PATH, the same
variables the Docker CLI uses for a TLS-protected daemon.`,

		// The daemon takes no positional arguments.
		Args: cobra.NoArgs,

		// SilenceUsage prevents cobra from printing usage on every error.
		// We handle error output ourselves for cleaner UX.
		SilenceUsage: true,

		// SilenceErrors prevents cobra from printing errors automatically.
		SilenceErrors: true,

		// Version is displayed when --version flag is used.
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		RunE: runForwarder,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	return rootCmd
}

// Execute runs the root command and handles exit codes.
// This is the main entry point called from main.go.
//
// CLIError types carry their own exit codes; other errors default to
// exit code 1. A clean shutdown returns normally.
func Execute(rootCmd *cobra.Command) {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(reportError(os.Stderr, err))
	}
}

// reportError prints err to w and returns the process exit code for it.
func reportError(w io.Writer, err error) int {
	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		printError(w, cliErr.Message, cliErr.Err)
		return int(cliErr.Code)
	}

	// Generic error, exit with code 1.
	printError(w, err.Error(), nil)
	return int(model.ExitGeneralError)
}

// printError writes "Error: <message>" to w.
func printError(w io.Writer, message string, underlying error) {
	if underlying != nil {
		_, _ = fmt.Fprintf(w, "Error: %s: %v\n", message, underlying)
		return
	}
	_, _ = fmt.Fprintf(w, "Error: %s\n", message)
}
