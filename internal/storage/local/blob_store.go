// Package local archives raw search responses on the local filesystem.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory where archived pages are written.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes artifacts beneath a directory. Paths that would resolve
// outside that directory are rejected.
type BlobStore struct {
	baseDir string
	root    *os.Root
}

// New creates the base directory if needed and opens it for writing.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	baseDir, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}
	info, err := os.Stat(baseDir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(baseDir, 0o750); err != nil {
			return nil, fmt.Errorf("create base directory: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	root, err := os.OpenRoot(baseDir)
	if err != nil {
		return nil, fmt.Errorf("open base directory: %w", err)
	}
	probe := ".writable_test"
	if err := root.WriteFile(probe, []byte("test"), 0o600); err != nil {
		_ = root.Close()
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := root.Remove(probe); err != nil {
		_ = root.Close()
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}
	return &BlobStore{baseDir: baseDir, root: root}, nil
}

// PutObject writes data under path and returns a file:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	path = strings.TrimPrefix(filepath.ToSlash(strings.TrimSpace(path)), "/")
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	rel := filepath.FromSlash(path)
	if dir := filepath.Dir(rel); dir != "." {
		if err := s.root.MkdirAll(dir, 0o750); err != nil {
			return "", fmt.Errorf("create parent directories: %w", err)
		}
	}

	f, err := s.root.OpenFile(rel, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	return "file://" + filepath.Join(s.baseDir, rel), nil
}

// Close releases the directory handle.
func (s *BlobStore) Close() error {
	if s == nil || s.root == nil {
		return nil
	}
	return s.root.Close()
}
