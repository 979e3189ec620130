package logger

// Logger is the logging surface shared by every package in the module.
// Implementations live under infra/logger so that core packages carry no
// logging dependency themselves.
type Logger interface {
	Debugf(format string, args ...any)
	// Debugw logs a debug message with structured fields.
	Debugw(msg string, fields map[string]any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}
