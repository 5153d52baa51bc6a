package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

const (
	configDirName = "sherpa"
	cacheFileName = "activity_cache.json"
)

// FileStore persists the cache document as a single JSON file under the
// user's config directory (or an explicit path for tests).
type FileStore struct {
	path string
	log  *logrus.Entry
}

// NewFileStore creates a file store at path. An empty path resolves to
// <UserConfigDir>/sherpa/activity_cache.json.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, configDirName, cacheFileName)
	}
	return &FileStore{
		path: path,
		log:  logrus.WithField("component", "cache_file"),
	}, nil
}

// Path returns the resolved cache file location.
func (s *FileStore) Path() string { return s.path }

// Load reads the persisted document. Corruption never fails the caller: a
// missing file, parse failure, or version mismatch degrades to a fresh
// empty manager and the stale artifact is removed.
func (s *FileStore) Load(_ context.Context) (*Manager, error) {
	content, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warnf("failed to read cache file %s: %v", s.path, err)
		}
		return NewManager(), nil
	}

	var doc document
	if err := json.Unmarshal(content, &doc); err != nil {
		s.log.Infof("removing incompatible cache file: %v", err)
		if err := os.Remove(s.path); err != nil {
			s.log.Warnf("failed to delete stale cache file: %v", err)
		}
		return NewManager(), nil
	}

	m := newManagerFromDocument(doc)
	if doc.Version != SchemaVersion {
		if err := os.Remove(s.path); err != nil {
			s.log.Warnf("failed to delete stale cache file: %v", err)
		}
	}
	return m, nil
}

// Save serializes the full store, creating parent directories as needed.
func (s *FileStore) Save(_ context.Context, m *Manager) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	doc := m.snapshot()
	content, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(s.path, content, 0o644); err != nil {
		return err
	}

	s.log.Debugf("saved cache to %s (%d profiles)", s.path, len(doc.Profiles))
	return nil
}

// Clear removes the persisted artifact, and its parent directory when that
// leaves it empty.
func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	dir := filepath.Dir(s.path)
	entries, err := os.ReadDir(dir)
	if err == nil && len(entries) == 0 {
		if err := os.Remove(dir); err != nil {
			s.log.Warnf("could not remove empty cache directory: %v", err)
		}
	}
	return nil
}
