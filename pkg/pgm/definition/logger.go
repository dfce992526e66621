// Package definition supplies the default Logger, IDGenerator, and
// MetricsSink implementations an endpoint uses when the caller does
// not provide its own, adapted from the teacher's default_logger.go
// to the logging/id/metrics libraries named in this module's stack.
package definition

import (
	"github.com/sirupsen/logrus"

	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

// Logger wraps a logrus.FieldLogger to satisfy types.Logger. Panic/
// Fatal delegate straight to logrus, which already calls os.Exit/panic.
type Logger struct {
	entry *logrus.Entry
}

// NewLogger builds the default logger, text-formatted to stderr with
// the endpoint's TSI attached as a field for every line.
func NewLogger(tsi string) *Logger {
	base := logrus.New()
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{entry: base.WithField("tsi", tsi)}
}

func (l *Logger) Info(v ...interface{})                 { l.entry.Info(v...) }
func (l *Logger) Infof(format string, v ...interface{}) { l.entry.Infof(format, v...) }
func (l *Logger) Warn(v ...interface{})                 { l.entry.Warn(v...) }
func (l *Logger) Warnf(format string, v ...interface{}) { l.entry.Warnf(format, v...) }
func (l *Logger) Error(v ...interface{})                { l.entry.Error(v...) }
func (l *Logger) Errorf(format string, v ...interface{}) { l.entry.Errorf(format, v...) }
func (l *Logger) Debug(v ...interface{})                 { l.entry.Debug(v...) }
func (l *Logger) Debugf(format string, v ...interface{}) { l.entry.Debugf(format, v...) }
func (l *Logger) Fatal(v ...interface{})                 { l.entry.Fatal(v...) }
func (l *Logger) Fatalf(format string, v ...interface{}) { l.entry.Fatalf(format, v...) }
func (l *Logger) Panic(v ...interface{})                 { l.entry.Panic(v...) }
func (l *Logger) Panicf(format string, v ...interface{}) { l.entry.Panicf(format, v...) }

// SetLevel toggles debug verbosity, mirroring the teacher's
// ToggleDebug but named after logrus's own vocabulary.
func (l *Logger) SetLevel(debug bool) {
	if debug {
		l.entry.Logger.SetLevel(logrus.DebugLevel)
	} else {
		l.entry.Logger.SetLevel(logrus.InfoLevel)
	}
}

var _ types.Logger = (*Logger)(nil)
