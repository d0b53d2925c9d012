// Package logger wraps logrus behind the same chainable-field API the
// teacher's connection and server code is written against (WithField,
// WithError, Tracef/Debugf/Infof/Warnf/Errorf), so call sites never see
// the logging backend directly.
package logger

import (
	"github.com/sirupsen/logrus"
)

// Level mirrors logrus.Level so callers configuring verbosity don't
// need to import logrus themselves.
type Level = logrus.Level

const (
	ErrorLevel = logrus.ErrorLevel
	WarnLevel  = logrus.WarnLevel
	InfoLevel  = logrus.InfoLevel
	DebugLevel = logrus.DebugLevel
	TraceLevel = logrus.TraceLevel
)

// LogWrapper is a thin, chainable facade over a logrus.Entry.
type LogWrapper struct {
	entry *logrus.Entry
}

// New builds a LogWrapper around a fresh logrus.Logger at the given
// level, emitting JSON records (one per log event, matching the "stream
// of structured records" shape external interfaces expect).
func New(level Level) *LogWrapper {
	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(&logrus.JSONFormatter{})
	return &LogWrapper{entry: logrus.NewEntry(l)}
}

// NewNoop returns a LogWrapper that discards everything, for tests and
// for library consumers who haven't wired their own sink.
func NewNoop() *LogWrapper {
	l := logrus.New()
	l.SetOutput(discard{})
	return &LogWrapper{entry: logrus.NewEntry(l)}
}

// FromLogrus adapts a caller-owned logrus.Logger, letting the embedding
// application route records to whatever sink it already has configured.
func FromLogrus(l *logrus.Logger) *LogWrapper {
	return &LogWrapper{entry: logrus.NewEntry(l)}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// WithField returns a new wrapper carrying an additional structured field.
func (l *LogWrapper) WithField(key string, value interface{}) *LogWrapper {
	return &LogWrapper{entry: l.entry.WithField(key, value)}
}

// WithFields returns a new wrapper carrying several structured fields at once.
func (l *LogWrapper) WithFields(fields map[string]interface{}) *LogWrapper {
	return &LogWrapper{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithError returns a new wrapper carrying an attached error.
func (l *LogWrapper) WithError(err error) *LogWrapper {
	return &LogWrapper{entry: l.entry.WithError(err)}
}

func (l *LogWrapper) Tracef(format string, v ...interface{}) { l.entry.Tracef(format, v...) }
func (l *LogWrapper) Debugf(format string, v ...interface{}) { l.entry.Debugf(format, v...) }
func (l *LogWrapper) Infof(format string, v ...interface{})  { l.entry.Infof(format, v...) }
func (l *LogWrapper) Warnf(format string, v ...interface{})  { l.entry.Warnf(format, v...) }
func (l *LogWrapper) Errorf(format string, v ...interface{}) { l.entry.Errorf(format, v...) }
