// Package logger provides a slog.Logger factory with environment-driven
// defaults. Production gets JSON output at info level, development gets
// human-readable text at debug level. Components in billingkit accept a
// *slog.Logger through their options and fall back to slog.Default().
package logger
