package plugin

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ContractWatcher watches a contracts directory and reloads contract
// documents into a registry when they change. Intended for development;
// production deployments load contracts once at startup.
type ContractWatcher struct {
	registry *Registry
	dir      string
	debounce time.Duration
	logger   *slog.Logger

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc

	// pending collects paths seen since the last reload.
	pendingMu sync.Mutex
	pending   map[string]struct{}
}

// NewContractWatcher creates a watcher for dir. A zero debounce defaults
// to 500ms.
func NewContractWatcher(registry *Registry, dir string, debounce time.Duration, logger *slog.Logger) (*ContractWatcher, error) {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	return &ContractWatcher{
		registry: registry,
		dir:      dir,
		debounce: debounce,
		logger:   logger,
		watcher:  fw,
		pending:  make(map[string]struct{}),
	}, nil
}

// Start begins watching until ctx is cancelled or Stop is called.
func (w *ContractWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	subCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	go w.loop(subCtx)
	return nil
}

// Stop stops watching and releases the underlying watcher.
func (w *ContractWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	if w.cancel != nil {
		w.cancel()
	}
	w.watcher.Close()
}

func (w *ContractWatcher) loop(ctx context.Context) {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isContractPath(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.pendingMu.Lock()
			w.pending[event.Name] = struct{}{}
			w.pendingMu.Unlock()
			timer.Reset(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("contract watcher error", "error", err)

		case <-timer.C:
			w.reload()
		}
	}
}

func (w *ContractWatcher) reload() {
	w.pendingMu.Lock()
	changed := len(w.pending)
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()
	if changed == 0 {
		return
	}

	if err := w.registry.LoadContracts(w.dir); err != nil {
		w.logger.Error("contract reload failed", "dir", w.dir, "error", err)
		return
	}
	w.logger.Info("contracts reloaded", "dir", w.dir, "changed_files", changed)
}

func isContractPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}
