package catalog

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"toolgrid/internal/domain"
)

const defaultReloadDebounce = 200 * time.Millisecond

// Store holds the current catalog and replaces it atomically on reload.
// Readers always observe either the previous or the next catalog, never a
// partial mix.
type Store struct {
	logger     *zap.Logger
	loader     *Loader
	configPath string

	state atomic.Value // domain.Catalog

	reloadMu sync.Mutex
}

// NewStore loads the catalog at configPath and returns a store serving it.
func NewStore(ctx context.Context, configPath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	loader := NewLoader(logger)
	loaded, err := loader.Load(ctx, configPath)
	if err != nil {
		return nil, err
	}

	store := &Store{
		logger:     logger.Named("catalog_store"),
		loader:     loader,
		configPath: configPath,
	}
	store.state.Store(loaded)
	return store, nil
}

// Snapshot returns the currently served catalog.
func (s *Store) Snapshot() domain.Catalog {
	return s.state.Load().(domain.Catalog)
}

// Server looks up a server definition in the current catalog.
func (s *Store) Server(id string) (domain.ServerDefinition, bool) {
	return s.Snapshot().Server(id)
}

// Reload re-reads the catalog file and swaps the served catalog. On
// failure the previous catalog stays in place.
func (s *Store) Reload(ctx context.Context) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	loaded, err := s.loader.Load(ctx, s.configPath)
	if err != nil {
		return err
	}
	s.state.Store(loaded)
	s.logger.Info("catalog reloaded",
		zap.String("path", s.configPath),
		zap.Int("servers", len(loaded.Servers)))
	return nil
}

// Watch reloads the catalog whenever its file changes, until ctx is done.
// Reload failures are logged; the last good catalog keeps serving.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.configPath)); err != nil {
		return err
	}

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-watcher.Errors:
			if err != nil {
				s.logger.Warn("catalog watcher error", zap.Error(err))
			}
		case event := <-watcher.Events:
			if filepath.Clean(event.Name) != filepath.Clean(s.configPath) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(defaultReloadDebounce)
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(defaultReloadDebounce)
		case <-timerChan(timer):
			timer = nil
			if err := s.Reload(ctx); err != nil {
				s.logger.Warn("catalog reload failed", zap.Error(err))
			}
		}
	}
}

func timerChan(timer *time.Timer) <-chan time.Time {
	if timer == nil {
		return nil
	}
	return timer.C
}
