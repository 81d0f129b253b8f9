package log

import "context"

// Logger is the logging port shared by every component in this module.
// Implementations must be safe for concurrent use.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]any)
	Info(ctx context.Context, msg string, fields ...map[string]any)
	Warn(ctx context.Context, msg string, fields ...map[string]any)
	Error(ctx context.Context, msg string, err error, fields ...map[string]any)
	// With returns a new logger carrying the given structured fields.
	With(fields map[string]any) Logger
}

// Nop returns a logger that discards everything. Useful as a default in
// constructors so callers are not forced to pass a logger.
func Nop() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...map[string]any)        {}
func (nopLogger) Info(context.Context, string, ...map[string]any)         {}
func (nopLogger) Warn(context.Context, string, ...map[string]any)         {}
func (nopLogger) Error(context.Context, string, error, ...map[string]any) {}
func (nopLogger) With(map[string]any) Logger                              { return nopLogger{} }
