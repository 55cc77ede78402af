// Package local implements filesystem-backed entry and blob stores: a
// JSON list file for entries and one HTML file per rewritten document.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pixelmirror/pixelmirror/internal/mirror"
)

const listFileName = "url_list.json"

// Config captures the parameters for the local store.
type Config struct {
	// BaseDir is the root directory where the list file and documents live.
	BaseDir string `mapstructure:"base_dir"`
}

// Store implements both mirror.EntryStore and mirror.BlobStore on the
// local filesystem.
type Store struct {
	mu       sync.Mutex
	baseDir  string
	listPath string
}

// New creates a local store, creating the base directory and an empty
// list file when absent, and verifying the directory is writable.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return nil, fmt.Errorf("base directory path is not a directory")
		}
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	default:
		return nil, fmt.Errorf("stat base directory: %w", err)
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("clean up test file: %w", err)
	}

	s := &Store{
		baseDir:  cfg.BaseDir,
		listPath: filepath.Join(cfg.BaseDir, listFileName),
	}
	if _, err := os.Stat(s.listPath); os.IsNotExist(err) {
		if err := os.WriteFile(s.listPath, []byte("[]"), 0o600); err != nil {
			return nil, fmt.Errorf("initialize list file: %w", err)
		}
	}
	return s, nil
}

// List reads the entry list from the JSON list file.
func (s *Store) List(_ context.Context) ([]mirror.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.listPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []mirror.Entry{}, nil
		}
		return nil, fmt.Errorf("read list file: %w", err)
	}
	var entries []mirror.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode list file: %w", err)
	}
	return entries, nil
}

// Save writes the full entry list back to the JSON list file.
func (s *Store) Save(_ context.Context, entries []mirror.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entries == nil {
		entries = []mirror.Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode list file: %w", err)
	}
	if err := os.WriteFile(s.listPath, data, 0o600); err != nil {
		return fmt.Errorf("write list file: %w", err)
	}
	return nil
}

// PutObject writes a rewritten document to <baseDir>/<id>.html and
// returns a file:// URI.
func (s *Store) PutObject(_ context.Context, id string, _ string, data []byte) (string, error) {
	path, err := s.documentPath(id + ".html")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write document: %w", err)
	}
	return "file://" + path, nil
}

// GetObject reads the document behind a file:// URI.
func (s *Store) GetObject(_ context.Context, uri string) ([]byte, error) {
	path, err := s.documentPath(filepath.Base(strings.TrimPrefix(uri, "file://")))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("document %s: %w", path, mirror.ErrNotFound)
		}
		return nil, fmt.Errorf("read document: %w", err)
	}
	return data, nil
}

// DeleteObject removes the document behind a file:// URI. A missing file
// is not an error.
func (s *Store) DeleteObject(_ context.Context, uri string) error {
	path, err := s.documentPath(filepath.Base(strings.TrimPrefix(uri, "file://")))
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// documentPath joins a file name under baseDir and rejects traversal.
func (s *Store) documentPath(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("document name is required")
	}
	full := filepath.Clean(filepath.Join(s.baseDir, name))
	base := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return full, nil
}
