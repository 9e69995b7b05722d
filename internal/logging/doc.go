// Package logging assembles structured slog loggers and formatting helpers used
// across the MoneyMind uploader.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so coordinator code can tag log
// lines with record IDs, sweep IDs, and correlation IDs. Console output is
// colourised only when it is written to a terminal. The package also provides a
// no-op logger for tests and wiring code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup to ensure new
// components emit data with the same shape as the rest of the system.
package logging
