package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/titanous/json5"

	"github.com/hammamikhairi/kickvox/internal/domain"
	"github.com/hammamikhairi/kickvox/internal/logger"
)

// Compile-time interface check.
var _ domain.SettingsStore = (*FileStore)(nil)

// FileStore persists settings as an indented JSON object. Reads are
// lenient (JSON5: comments, trailing commas, unquoted keys) so hand-edited
// files still load.
type FileStore struct {
	path string
	log  *logger.Logger

	mu        sync.Mutex
	lastWrite uint64 // xxhash of the bytes we last wrote
}

// NewFileStore creates a file-backed store at path.
func NewFileStore(path string, log *logger.Logger) *FileStore {
	return &FileStore{path: path, log: log}
}

// Path returns the settings file path.
func (s *FileStore) Path() string { return s.path }

// EnsureDefaults writes defaults when the file does not exist yet.
func (s *FileStore) EnsureDefaults(defaults map[string]any) error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat settings: %w", err)
	}
	s.log.Debug("settings: creating %s with defaults", s.path)
	return s.Save(defaults)
}

// Load reads the settings file. A missing file yields an empty map and no
// error; a corrupt file yields an empty map and the parse error, so
// callers can log it and fall back to defaults.
func (s *FileStore) Load() (map[string]any, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]any{}, nil
		}
		return map[string]any{}, fmt.Errorf("read settings: %w", err)
	}
	return decode(data)
}

// Save writes values atomically (temp file + rename).
func (s *FileStore) Save(values map[string]any) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace settings: %w", err)
	}
	s.lastWrite = xxhash.Sum64(data)
	return nil
}

// Watch calls onChange with the reloaded values whenever the file is
// modified by someone else. Our own writes are recognized by content hash
// and ignored. Watch blocks until ctx is cancelled.
func (s *FileStore) Watch(ctx context.Context, onChange func(map[string]any)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory: editors and our own Save replace the file,
	// which drops a watch placed on the file itself.
	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	s.log.Debug("settings: watching %s", s.path)

	target := filepath.Clean(s.path)
	var debounce <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Editors emit bursts; settle before reading.
			debounce = time.After(100 * time.Millisecond)
		case <-debounce:
			debounce = nil
			s.reload(onChange)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("settings watcher: %v", err)
		}
	}
}

func (s *FileStore) reload(onChange func(map[string]any)) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	s.mu.Lock()
	own := xxhash.Sum64(data) == s.lastWrite
	s.mu.Unlock()
	if own {
		return
	}

	values, err := decode(data)
	if err != nil {
		s.log.Warn("settings: ignoring edited file: %v", err)
		return
	}
	s.log.Info("[config] settings file changed, reloading")
	onChange(values)
}

func decode(data []byte) (map[string]any, error) {
	values := map[string]any{}
	if len(data) == 0 {
		return values, nil
	}
	if err := json5.Unmarshal(data, &values); err != nil {
		return map[string]any{}, fmt.Errorf("parse settings: %w", err)
	}
	return values, nil
}
