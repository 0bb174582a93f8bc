// Package artifact stores generated audio/video blobs by key.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var ErrNotFound = errors.New("artifact not found")

// Store is a minimal put/get/delete blob store for generation artifacts.
// The ref returned by Put is opaque to callers and is what job records and
// cache entries carry.
type Store interface {
	Put(ctx context.Context, key string, data []byte) (ref string, err error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
	// SweepTempFiles removes leftover temporary files older than maxAge and
	// returns how many were deleted.
	SweepTempFiles(maxAge time.Duration) (int, error)
}

// FileStore persists artifacts onto the local filesystem, one file per key.
type FileStore struct {
	baseDir string
}

// NewFileStore initializes a FileStore rooted at baseDir, creating it if
// needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	baseDir = strings.TrimSpace(baseDir)
	if baseDir == "" {
		return nil, errors.New("artifact: base dir is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: ensure base dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// Put writes data under key and returns the sanitized key as the ref.
// Intermediate writes go to a temp file renamed into place so readers never
// observe a partial artifact.
func (s *FileStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}

	fullPath := filepath.Join(s.baseDir, ref)
	tmpPath := fullPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return "", fmt.Errorf("artifact: write %s: %w", ref, err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("artifact: finalize %s: %w", ref, err)
	}
	return ref, nil
}

func (s *FileStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, err := sanitizeKey(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.baseDir, clean))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("artifact: read %s: %w", clean, err)
	}
	return data, nil
}

// Delete removes the artifact for ref. Deleting a missing artifact is not an
// error.
func (s *FileStore) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, err := sanitizeKey(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.baseDir, clean)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("artifact: delete %s: %w", clean, err)
	}
	return nil
}

// SweepTempFiles deletes .tmp leftovers from interrupted writes once they
// are older than maxAge. In-use files within the window are left alone.
func (s *FileStore) SweepTempFiles(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return 0, fmt.Errorf("artifact: read base dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	cleaned := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.baseDir, entry.Name())); err == nil {
				cleaned++
			}
		}
	}
	return cleaned, nil
}

// sanitizeKey flattens the key to a single safe filename component to
// prevent directory traversal.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("artifact: key is required")
	}
	clean := filepath.Base(filepath.Clean(key))
	if clean == "." || clean == ".." || clean == string(filepath.Separator) {
		return "", fmt.Errorf("artifact: invalid key %q", key)
	}
	return clean, nil
}

// Compile-time check that FileStore implements Store.
var _ Store = (*FileStore)(nil)
