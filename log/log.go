// Package log is the core's structured logging facade. Its Logger
// interface mirrors the handful of methods the teacher's own
// github.com/luxfi/log.Logger exposes and every component is built
// against (With, Debug, Info, Warn, Error) — kept as a small local
// interface rather than the teacher's full surface so call sites never
// depend on logging internals, matching the teacher's no-package-level-
// logger convention (core/bootstrap.go takes a Logger at construction).
package log

import (
	"go.uber.org/zap"
)

// Logger is the minimal structured-logging contract every component
// constructor accepts.
type Logger interface {
	With(kv ...interface{}) Logger
	Debug(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Error(msg string, kv ...interface{})
}

// zapLogger adapts *zap.SugaredLogger to Logger.
type zapLogger struct {
	s *zap.SugaredLogger
}

// New returns a production zap-backed logger tagged with component.
func New(component string) Logger {
	zl, err := zap.NewProduction()
	if err != nil {
		zl = zap.NewNop()
	}
	return &zapLogger{s: zl.Sugar().With("component", component)}
}

func (l *zapLogger) With(kv ...interface{}) Logger {
	return &zapLogger{s: l.s.With(kv...)}
}

func (l *zapLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l *zapLogger) Info(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l *zapLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l *zapLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }

type nopLogger struct{}

// NewNop returns a logger that discards everything; the default in tests
// and before a supervisor wires a real sink.
func NewNop() Logger { return nopLogger{} }

func (nopLogger) With(kv ...interface{}) Logger       { return nopLogger{} }
func (nopLogger) Debug(msg string, kv ...interface{}) {}
func (nopLogger) Info(msg string, kv ...interface{})  {}
func (nopLogger) Warn(msg string, kv ...interface{})  {}
func (nopLogger) Error(msg string, kv ...interface{}) {}
