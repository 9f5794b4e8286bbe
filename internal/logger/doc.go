// Package logger wraps a zap sugared logger and carries it through contexts.
//
// Every service stores a named logger in its context with WithName and logs
// through the package-level helpers (Info, DebugKV, WarnKV, ...), so call
// sites never hold a logger themselves. Output goes to stderr; stdout is
// reserved for command results.
package logger
