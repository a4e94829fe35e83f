package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio/v2"
)

const fileExt = ".json"

// FileCache implements Service with one file per key under a directory.
//
// Writes go through a temp file and an atomic rename, so readers never observe a
// partial value and an overwrite leaves exactly one file per key. Expiration is
// not tracked on disk; callers that need it store their own timestamps.
type FileCache struct {
	dir  string
	perm os.FileMode
}

// NewFileCache creates a file-backed cache. The directory is created on first write.
func NewFileCache(opts ...FileOption) (*FileCache, error) {
	cfg := &FileConfig{
		Dir:  "cache",
		Perm: 0o644,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Dir == "" {
		return nil, fmt.Errorf("file cache: directory is required")
	}

	return &FileCache{dir: cfg.Dir, perm: cfg.Perm}, nil
}

// Dir returns the directory holding the cache files.
func (fc *FileCache) Dir() string {
	return fc.dir
}

// Path returns the file that stores key.
func (fc *FileCache) Path(key string) string {
	return filepath.Join(fc.dir, FileName(key)+fileExt)
}

func (fc *FileCache) Set(ctx context.Context, key string, value interface{}, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(value)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(fc.dir, 0o755); err != nil {
		return fmt.Errorf("file cache: create dir: %w", err)
	}
	if err := renameio.WriteFile(fc.Path(key), data, fc.perm); err != nil {
		return fmt.Errorf("file cache: write %s: %w", key, err)
	}
	return nil
}

func (fc *FileCache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(fc.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrCacheMiss
		}
		return fmt.Errorf("file cache: read %s: %w", key, err)
	}
	return decode(data, dest)
}

func (fc *FileCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		if err := os.Remove(fc.Path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("file cache: delete %s: %w", key, err)
		}
	}
	return nil
}

func (fc *FileCache) Exists(_ context.Context, keys ...string) (bool, error) {
	for _, key := range keys {
		_, err := os.Stat(fc.Path(key))
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return false, err
		}
	}
	return false, nil
}

// Keys lists stored keys in their file-name form. Temp files left by an
// interrupted write are skipped.
func (fc *FileCache) Keys(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(fc.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("file cache: list: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, fileExt))
	}
	sort.Strings(keys)
	return keys, nil
}

func (fc *FileCache) Close() error { return nil }
