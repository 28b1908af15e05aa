package trackproc

import "go.uber.org/zap"

// zapLogger adapts *zap.SugaredLogger to Logger.
type zapLogger struct{ s *zap.SugaredLogger }

// NewZapLogger adapts l to Logger via its SugaredLogger, the variadic
// key-value-pair API zap itself recommends for interop with non-zap
// logging interfaces.
func NewZapLogger(l *zap.Logger) Logger {
	return zapLogger{s: l.Sugar()}
}

func (z zapLogger) Info(msg string, kv ...any)  { z.s.Infow(msg, kv...) }
func (z zapLogger) Warn(msg string, kv ...any)  { z.s.Warnw(msg, kv...) }
func (z zapLogger) Error(msg string, kv ...any) { z.s.Errorw(msg, kv...) }
func (z zapLogger) Debug(msg string, kv ...any) { z.s.Debugw(msg, kv...) }
