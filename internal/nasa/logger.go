package nasa

import "sync"

// Logger receives slog-style key/value pairs. *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// logHolder lets SetLogger swap the logger while goroutines read it. A
// nil logger reads back as a no-op.
type logHolder struct {
	mu     sync.RWMutex
	logger Logger
}

func (h *logHolder) set(l Logger) {
	h.mu.Lock()
	h.logger = l
	h.mu.Unlock()
}

func (h *logHolder) get() Logger {
	h.mu.RLock()
	l := h.logger
	h.mu.RUnlock()
	if l == nil {
		return noopLogger{}
	}
	return l
}
