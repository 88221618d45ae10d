package palsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

type fileStore struct {
	path string
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

// NewFileStore opens a LocalStore persisted as a single JSON document of
// collections. Writes land via temp-file rename so a crash mid-save never
// truncates the state.
func NewFileStore(path string) (LocalStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	s := &fileStore{
		path: path,
		data: map[string]json.RawMessage{},
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) Get(collection string, out any) (bool, error) {
	if collection == "" {
		return false, ErrInvalidInput
	}
	s.mu.RLock()
	raw, ok := s.data[collection]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode collection %s: %w", collection, err)
	}
	return true, nil
}

func (s *fileStore) Set(collection string, value any) error {
	if collection == "" {
		return ErrInvalidInput
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode collection %s: %w", collection, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, existed := s.data[collection]
	s.data[collection] = raw
	if err := s.saveLocked(); err != nil {
		if existed {
			s.data[collection] = previous
		} else {
			delete(s.data, collection)
		}
		return err
	}
	return nil
}

func (s *fileStore) Delete(collection string) error {
	if collection == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, existed := s.data[collection]
	if !existed {
		return nil
	}
	delete(s.data, collection)
	if err := s.saveLocked(); err != nil {
		s.data[collection] = previous
		return err
	}
	return nil
}

func (s *fileStore) Close() error {
	return nil
}

func (s *fileStore) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var snapshot map[string]json.RawMessage
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("decode state file %s: %w", s.path, err)
	}
	s.mu.Lock()
	if snapshot == nil {
		snapshot = map[string]json.RawMessage{}
	}
	s.data = snapshot
	s.mu.Unlock()
	return nil
}

func (s *fileStore) saveLocked() error {
	data, err := json.Marshal(s.data)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Watch reloads the store whenever the state file changes on disk, so a
// threshold record rewritten by an operator tool becomes visible without a
// restart. Blocks until ctx is done.
func (s *fileStore) Watch(ctx context.Context, logger zerolog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: the atomic rename replaces the file inode, and
	// a watch on the old inode would go quiet after the first save.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return err
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := s.reload(); err != nil {
				logger.Warn().Err(err).Str("path", s.path).Msg("state file reload failed")
				continue
			}
			logger.Debug().Str("path", s.path).Msg("state file reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("state file watcher error")
		}
	}
}

// BuildLocalStoreFromDSN selects a LocalStore implementation by DSN scheme:
// memory:// for volatile state, file://<path> or a bare path for the
// JSON-file store.
func BuildLocalStoreFromDSN(dsn string) (LocalStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemoryStore(), nil
	}
	switch {
	case dsn == "memory://" || dsn == "memory" || dsn == "mem://" || dsn == "inmem://":
		return NewMemoryStore(), nil
	case strings.HasPrefix(dsn, "file://"):
		return NewFileStore(strings.TrimPrefix(dsn, "file://"))
	case strings.Contains(dsn, "://"):
		return nil, fmt.Errorf("unsupported local store scheme: %s", dsn)
	default:
		return NewFileStore(dsn)
	}
}
