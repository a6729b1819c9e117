package wspush

import "log/slog"

// Logger is the interface for structured logging of connection lifecycle,
// dropped clients and send failures. *slog.Logger satisfies it.
// Client ids are logged under the "client" key.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// defaultLogger is used when LoggerOption is not given.
func defaultLogger() Logger {
	return slog.Default()
}
