// Package logging provides the default zap-backed implementation of
// client.Logger — structured logging the way zap-based components
// consume commons.Logger (Debugf/Infof/Warnf/Errorf as the call-site
// surface, backed by a real structured logging library rather than
// fmt.Println).
package logging

import (
	"go.uber.org/zap"
)

// Logger wraps a *zap.SugaredLogger behind the narrow Debugf/Infof/Warnf/
// Errorf surface every component in this module logs through.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New constructs a production-configured zap Logger (JSON output, info
// level). Callers needing development-friendly console output should build
// their own zap.Logger and use Wrap instead.
func New() (*Logger, error) {
	z, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return Wrap(z), nil
}

// Wrap adapts an existing *zap.Logger.
func Wrap(z *zap.Logger) *Logger {
	return &Logger{sugar: z.Sugar()}
}

// NewNop returns a Logger that discards everything, for tests and for
// callers that haven't wired a real sink yet.
func NewNop() *Logger {
	return Wrap(zap.NewNop())
}

func (l *Logger) Debugf(format string, args ...any) { l.sugar.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.sugar.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.sugar.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.sugar.Errorf(format, args...) }

// Sync flushes any buffered log entries, mirroring the defer zapLogger.Sync()
// idiom at program startup.
func (l *Logger) Sync() error { return l.sugar.Sync() }
