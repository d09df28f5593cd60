package obs

import (
	"sync"

	"go.uber.org/zap"
)

var (
	loggerOnce sync.Once
	logger     *zap.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		l, err := zap.NewProduction()
		if err != nil {
			l = zap.NewNop()
		}
		logger = l
	})
	return logger
}

// ReplaceLogger swaps the shared logger. Intended for tests and for main to
// inject a development config.
func ReplaceLogger(l *zap.Logger) {
	loggerOnce.Do(func() {})
	logger = l
}
