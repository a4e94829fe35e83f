package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestFileCacheOverwriteLeavesSingleFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	fc, err := NewFileCache(WithFileDir(dir))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := fc.Set(ctx, "crypto-prices", map[string]int{"n": i}, time.Minute); err != nil {
			t.Fatalf("set %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "crypto-prices.json" {
		t.Fatalf("unexpected dir contents %v", entries)
	}

	var got map[string]int
	if err := fc.Get(ctx, "crypto-prices", &got); err != nil || got["n"] != 4 {
		t.Fatalf("get: %v %v", got, err)
	}
}

func TestFileCacheConcurrentWritersNeverTear(t *testing.T) {
	fc, _ := NewFileCache(WithFileDir(t.TempDir()))
	ctx := context.Background()
	_ = fc.Set(ctx, "k", map[string]string{"v": "seed"}, 0)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_ = fc.Set(ctx, "k", map[string]int{"w": w, "i": i}, 0)
			}
		}(w)
	}
	for i := 0; i < 50; i++ {
		var v map[string]interface{}
		if err := fc.Get(ctx, "k", &v); err != nil {
			t.Fatalf("read observed a torn write: %v", err)
		}
	}
	wg.Wait()

	keys, _ := fc.Keys(ctx)
	if len(keys) != 1 || keys[0] != "k" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestFileCacheMissAndDelete(t *testing.T) {
	fc, _ := NewFileCache(WithFileDir(t.TempDir()))
	ctx := context.Background()

	var v []byte
	if err := fc.Get(ctx, "absent", &v); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
	if err := fc.Delete(ctx, "absent"); err != nil {
		t.Fatalf("delete of absent key: %v", err)
	}

	_ = fc.Set(ctx, "a/b", []byte("x"), 0)
	if ok, _ := fc.Exists(ctx, "a/b"); !ok {
		t.Fatalf("expected key to exist")
	}
	if filepath.Base(fc.Path("a/b")) != "a_b.json" {
		t.Fatalf("unexpected path %s", fc.Path("a/b"))
	}
	_ = fc.Delete(ctx, "a/b")
	if ok, _ := fc.Exists(ctx, "a/b"); ok {
		t.Fatalf("expected key deleted")
	}
}

func TestFileCacheKeysSkipsTempFiles(t *testing.T) {
	dir := t.TempDir()
	fc, _ := NewFileCache(WithFileDir(dir))
	_ = fc.Set(context.Background(), "real", []byte("{}"), 0)
	_ = os.WriteFile(filepath.Join(dir, ".real.json123"), []byte("{"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)

	keys, err := fc.Keys(context.Background())
	if err != nil || len(keys) != 1 || keys[0] != "real" {
		t.Fatalf("unexpected keys %v %v", keys, err)
	}
}

func TestFileNameIdempotent(t *testing.T) {
	for _, k := range []string{"crypto-prices", "../etc/passwd", "a b:c", "..."} {
		once := FileName(k)
		if FileName(once) != once {
			t.Fatalf("FileName not idempotent for %q: %q", k, once)
		}
	}
}
