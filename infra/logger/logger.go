package logger

import corelogger "github.com/gridsteer/kecc/core/logger"

// Logger mirrors the core logger interface for packages importing only infra.
type Logger = corelogger.Logger

// NopLogger implements Logger with no-op methods. Used in tests.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any)         {}
func (NopLogger) Debugw(string, map[string]any) {}
func (NopLogger) Infof(string, ...any)          {}
func (NopLogger) Warnf(string, ...any)          {}
func (NopLogger) Errorf(string, ...any)         {}

// New returns a Logger for the given component. Output format is selected via
// the APP_ENV environment variable.
func New(component string) Logger {
	return NewZerologLogger(component)
}
