package plugin

import (
	"log/slog"
	"sync"
)

// warnOnce emits a human-readable warning at most once per (kind, context)
// pair. Warnings are suppressed entirely in production and when disabled by
// configuration.
type warnOnce struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	disabled bool
	env      Environment
	logger   *slog.Logger
}

func newWarnOnce(env Environment, disabled bool, logger *slog.Logger) *warnOnce {
	if logger == nil {
		logger = slog.Default()
	}
	return &warnOnce{
		seen:     make(map[string]struct{}),
		disabled: disabled,
		env:      env,
		logger:   logger,
	}
}

// warn logs msg with args unless suppressed or already emitted for the
// same (kind, context).
func (w *warnOnce) warn(kind, context, msg string, args ...any) {
	if w.disabled || w.env.IsProduction() {
		return
	}

	key := kind + "|" + context
	w.mu.Lock()
	if _, ok := w.seen[key]; ok {
		w.mu.Unlock()
		return
	}
	w.seen[key] = struct{}{}
	w.mu.Unlock()

	w.logger.Warn(msg, args...)
}
