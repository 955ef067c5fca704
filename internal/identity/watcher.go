package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/fyrsmithlabs/opsdesk/internal/logging"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize session watcher")

// Watcher is a Source backed by the session file. It emits the session's
// identity when the file is written and None when it is removed.
type Watcher struct {
	store   *Store
	watcher *fsnotify.Watcher
	logger  *logging.Logger

	mu      sync.Mutex
	current Identity
	started bool

	updates chan Identity
	stop    chan struct{}
	done    chan struct{}
}

// NewWatcher creates a watcher for the store's session file. The parent
// directory is created if needed since fsnotify watches directories.
func NewWatcher(store *Store, logger *logging.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	dir := filepath.Dir(store.Path())
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	return &Watcher{
		store:   store,
		watcher: fw,
		logger:  logger.Named("identity"),
		updates: make(chan Identity, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start loads the current session and begins watching for changes.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.store.Path())); err != nil {
		return fmt.Errorf("watching session directory: %w", err)
	}

	w.mu.Lock()
	w.current = w.load(ctx)
	w.started = true
	w.mu.Unlock()

	go w.processEvents(ctx)
	return nil
}

// Stop stops watching. It is safe to call more than once.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}

	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if started {
		<-w.done
	}
}

// Current implements Source.
func (w *Watcher) Current() Identity {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Updates implements Source.
func (w *Watcher) Updates() <-chan Identity {
	return w.updates
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)

	target := filepath.Clean(w.store.Path())
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.refresh(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "session watcher error", zap.Error(err))
		}
	}
}

// refresh reloads the session and emits the identity if it changed.
func (w *Watcher) refresh(ctx context.Context) {
	id := w.load(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	if id == w.current {
		return
	}
	w.logger.Info(ctx, "operator identity changed",
		zap.String("from", w.current.OperatorID),
		zap.String("to", id.OperatorID))
	w.current = id
	publishLatest(w.updates, id)
}

func (w *Watcher) load(ctx context.Context) Identity {
	sess, err := w.store.Load()
	if err != nil {
		if !errors.Is(err, ErrNoSession) {
			w.logger.Warn(ctx, "ignoring unreadable session file", zap.Error(err))
		}
		return None
	}
	return sess.Identity
}
