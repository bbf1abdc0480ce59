package logger

import "sync"

// LoggerContext accumulates key/value pairs across the steps of a single
// operation so the final log line carries everything learned along the way.
type LoggerContext struct {
	mu     sync.Mutex
	logger *Logger
	attrs  []any
}

// NewLoggerContext creates a LoggerContext bound to the given logger.
func NewLoggerContext(l *Logger) *LoggerContext { return &LoggerContext{logger: l} }

// Add appends key/value pairs to the context.
func (lc *LoggerContext) Add(kv ...any) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.attrs = append(lc.attrs, kv...)
}

// Logger returns a logger carrying every accumulated attribute.
func (lc *LoggerContext) Logger() *Logger {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.logger.With(lc.attrs...)
}
