// Package model defines the domain types and value objects for the
// udp-portcheck CLI.
//
// This package contains pure data structures with no external dependencies.
// PortRange, ProbeOutcome and Result are transient values that live for the
// duration of a single client run; nothing is persisted between runs.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling.
package model
