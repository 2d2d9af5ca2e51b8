package store

import (
	"strings"

	"go.uber.org/zap"
)

// badgerLogger routes badger's printf-style logging into zap.
type badgerLogger struct {
	sugar *zap.SugaredLogger
}

func newBadgerLogger(logger *zap.Logger) *badgerLogger {
	return &badgerLogger{sugar: logger.Named("badger").WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.sugar.Errorf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.sugar.Warnf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.sugar.Debugf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.sugar.Debugf(strings.TrimSpace(format), args...)
}
