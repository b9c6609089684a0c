// Package logging provides structured logging for HomeControl Core.
//
// It wraps log/slog with service-wide default fields and configurable
// format, level, and output destination.
package logging
