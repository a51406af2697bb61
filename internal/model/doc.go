// Package model defines the domain types and value objects for the
// docker-port-forward daemon.
//
// This package contains pure data structures with no external dependencies.
// Containers, port bindings and tunnel configurations are transient
// representations reconstructed from Docker Engine API queries at runtime;
// nothing is persisted across restarts.
//
// The package also defines exit codes (ExitCode), a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling,
// and the per-port BindError reported when a listener cannot be opened.
package model
