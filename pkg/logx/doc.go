// Package logx provides a small structured logging facade over zerolog.
//
// It exposes a value-type Logger with slog-like Field helpers and a
// Service that owns the sinks (console, file) so levels and outputs can
// be swapped on config reload without re-plumbing loggers.
package logx
