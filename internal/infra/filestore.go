// Package infra implements infrastructure concerns (storage, catalog,
// permissions, process, registry).
package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hyunsoo-dev/switchd/internal/domain"
)

const settingsFileName = "settings.json"

// FileStore implements domain.SettingsStore with a single JSON file.
// Writes are atomic (temp file + rename); last write wins.
type FileStore struct {
	mu   sync.Mutex
	path string
	data map[string]string
}

// NewFileStore opens (or creates) the settings file under dataDir.
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &FileStore{
		path: filepath.Join(dataDir, settingsFileName),
		data: make(map[string]string),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the stored value and whether the key was present.
func (s *FileStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

// Set stores a value and flushes the file.
func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return s.flush()
}

// Remove deletes a key. Removing an absent key is not an error.
func (s *FileStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.flush()
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read settings file: %w", err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return fmt.Errorf("settings file corrupt: %w", err)
	}
	return nil
}

// flush writes the map atomically (write + rename).
func (s *FileStore) flush() error {
	raw, err := json.Marshal(s.data)
	if err != nil {
		return err
	}

	// Temp file unique per process to avoid a race with a second instance.
	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, os.Getpid())
	if err := os.WriteFile(tmpPath, raw, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Ensure FileStore implements domain.SettingsStore.
var _ domain.SettingsStore = (*FileStore)(nil)
