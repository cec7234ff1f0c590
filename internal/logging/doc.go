// Package logging builds slog loggers with console and JSON handlers and
// provides standardized attribute helpers for the run pipeline.
package logging
