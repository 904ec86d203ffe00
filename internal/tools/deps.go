// Package tools provides the directory inspection tools exposed to the
// migration agent, and the registry that dispatches model tool calls to them.
package tools

import (
	"log/slog"

	"github.com/Satyacharanv/CodeConversionAI/internal/metrics"
)

// DefaultMaxReadBytes caps how much of a file read_file returns.
const DefaultMaxReadBytes = 64 << 10

// Dependencies holds shared services for tool handlers.
// Passed to handler factories via closure capture.
type Dependencies struct {
	Logger  *slog.Logger
	Metrics *metrics.Collector

	// Roots restricts every tool to paths inside these directories.
	Roots []string

	MaxReadBytes int64
}

func (d *Dependencies) logger() *slog.Logger {
	if d == nil || d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d *Dependencies) roots() []string {
	if d == nil {
		return nil
	}
	return d.Roots
}
