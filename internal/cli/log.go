package cli

import (
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// newLogger creates a logger with timestamp formatting.
// Timestamps are formatted as "HH:MM:SS.ms" (e.g., "14:32:01.45").
func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

// clientLogger routes figrnet client logs into the CLI logger.
type clientLogger struct {
	l *log.Logger
}

func (c clientLogger) Debug(msg string, kv ...interface{}) { c.l.Debug(msg, kv...) }
func (c clientLogger) Info(msg string, kv ...interface{})  { c.l.Info(msg, kv...) }
func (c clientLogger) Warn(msg string, kv ...interface{})  { c.l.Warn(msg, kv...) }
func (c clientLogger) Error(msg string, kv ...interface{}) { c.l.Error(msg, kv...) }

// progress logs completion of an operation with its elapsed time.
type progress struct {
	logger *log.Logger
	start  time.Time
}

func newProgress(l *log.Logger) *progress {
	return &progress{logger: l, start: time.Now()}
}

// done logs msg along with the elapsed time, e.g. "GET /items 200 (12ms)".
func (p *progress) done(msg string) {
	p.logger.Infof("%s (%s)", msg, time.Since(p.start).Round(time.Millisecond))
}
