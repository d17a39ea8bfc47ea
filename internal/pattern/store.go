package pattern

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"porter/internal/capability"
)

// Store holds the active pattern Library behind an atomic reference.
// Executions read a consistent snapshot for their whole run; hot-reload
// rebuilds the library wholesale from disk and swaps the reference, never
// mutating the running set. A rebuild that fails validation is logged and
// discarded, so a bad edit can never evict working patterns.
type Store struct {
	current atomic.Pointer[Library]

	dir      string
	registry *capability.Registry
	log      *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	debounce time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
}

// NewStore wraps an already-built library.
func NewStore(lib *Library, opts ...StoreOption) *Store {
	s := &Store{
		log:      zap.NewNop(),
		debounce: 300 * time.Millisecond,
	}
	s.current.Store(lib)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger attaches a logger for swap and watch events.
func WithStoreLogger(log *zap.Logger) StoreOption {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithReload enables Watch: dir is rebuilt against reg on file changes.
func WithReload(dir string, reg *capability.Registry) StoreOption {
	return func(s *Store) {
		s.dir = dir
		s.registry = reg
	}
}

// WithDebounce overrides the reload debounce window.
func WithDebounce(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// Library returns the current snapshot. Callers hold it for the duration of
// one execution so a mid-run swap never changes what they see.
func (s *Store) Library() *Library {
	return s.current.Load()
}

// Swap atomically replaces the active library.
func (s *Store) Swap(lib *Library) {
	old := s.current.Swap(lib)
	oldLen := 0
	if old != nil {
		oldLen = old.Len()
	}
	s.log.Info("pattern library swapped",
		zap.Int("patterns", lib.Len()),
		zap.Int("previous", oldLen))
}

// Reload rebuilds the library from disk and swaps it in if valid.
func (s *Store) Reload() error {
	lib, err := LoadDir(s.dir, s.registry)
	if err != nil {
		s.log.Warn("pattern reload rejected, keeping previous library", zap.Error(err))
		return err
	}
	s.Swap(lib)
	return nil
}

// Watch starts watching the pattern directory and rebuilding on changes.
// Non-blocking; stop with Stop or by cancelling ctx.
func (s *Store) Watch(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if s.dir == "" || s.registry == nil {
		return nil // reload not configured
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return err
	}

	s.watcher = w
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true
	s.log.Info("watching pattern directory", zap.String("dir", s.dir))

	go s.run(ctx)
	return nil
}

// Stop halts the watcher and waits for its goroutine to exit.
func (s *Store) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
}

func (s *Store) run(ctx context.Context) {
	defer close(s.doneCh)
	defer s.watcher.Close()

	var timer *time.Timer
	var timerC <-chan time.Time

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(s.debounce)
			timerC = timer.C
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.debounce)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !relevant(ev) {
				continue
			}
			s.log.Debug("pattern file event",
				zap.String("file", ev.Name),
				zap.String("op", ev.Op.String()))
			schedule()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("pattern watcher error", zap.Error(err))
		case <-timerC:
			if err := s.Reload(); err == nil {
				s.log.Info("pattern library reloaded")
			}
		}
	}
}

// relevant filters events to pattern document writes.
func relevant(ev fsnotify.Event) bool {
	switch filepath.Ext(ev.Name) {
	case ".yaml", ".yml", ".json":
	default:
		return false
	}
	return ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) ||
		ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename)
}
