package figrnet

import (
	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/zap"
)

// Logger interface for debug logging
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// DebugConfig toggles the noisier log lines per subsystem.
type DebugConfig struct {
	Enabled      bool
	LogRequests  bool
	LogRetries   bool
	LogCache     bool
	LogCircuit   bool
	LogQueue     bool
	LogAuth      bool
	RequestIDGen func() string
}

// DefaultDebugConfig returns a disabled config with a UUID request ID generator.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		RequestIDGen: NewRequestID,
	}
}

// NewRequestID returns a random identifier for the X-Request-ID header.
func NewRequestID() string {
	return uuid.NewString()
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger adapts a zap sugared logger to Logger.
func NewZapLogger(s *zap.SugaredLogger) Logger {
	if s == nil {
		return NopLogger{}
	}
	return &zapLogger{s: s}
}

func (l *zapLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l *zapLogger) Info(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l *zapLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l *zapLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }

var defaultLog = logging.Logger("figrnet")

// DefaultLogger returns the named go-log subsystem logger. Its level is
// controlled by GOLOG_LOG_LEVEL, e.g. GOLOG_LOG_LEVEL="figrnet=debug".
func DefaultLogger() Logger {
	return &zapLogger{s: &defaultLog.SugaredLogger}
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
