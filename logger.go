package trackproc

// Logger is the structured, key-value logging interface the Coordinator
// and Work Packages log through. Compatible with slog, zap's
// SugaredLogger, logrus, and others — see NewZapLogger for the
// go.uber.org/zap adapter this module ships.
//
// Grounded on the teacher-adjacent GoCodeAlone-modular's logger.go: a
// narrow Info/Warn/Error/Debug interface taking variadic key-value
// pairs, so the host controls the concrete logging backend.
type Logger interface {
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Debug(msg string, kv ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Debug(string, ...any) {}
