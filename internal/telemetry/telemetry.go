// Package telemetry constructs the shared *zap.Logger every component
// takes in its constructor, grounded in nan-yu-kpt-config-sync's and
// DataDog-datadog-agent's direct zap dependency — the teacher itself logs
// nothing, wrapping errors with fmt.Errorf instead, but spec.md §4.C
// requires a structured provider-change audit event.
package telemetry

import "go.uber.org/zap"

// New builds the process logger. verbose mirrors the teacher's --verbose
// root flag (internal/cli/root.go): it swaps development (human-readable,
// debug-level) output in place of the default production JSON encoder.
func New(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// NewNop returns a logger that discards everything, for tests.
func NewNop() *zap.Logger {
	return zap.NewNop()
}
