package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLayeredCacheBackfillsFromL2(t *testing.T) {
	l2, _ := NewFileCache(WithFileDir(t.TempDir()))
	ctx := context.Background()
	_ = l2.Set(ctx, "k", map[string]int{"v": 7}, 0)

	lc := NewLayeredCache(l2)
	defer lc.Close()

	var got map[string]int
	if err := lc.Get(ctx, "k", &got); err != nil || got["v"] != 7 {
		t.Fatalf("get via L2: %v %v", got, err)
	}

	// L1 now serves the value even if L2 loses it.
	_ = l2.Delete(ctx, "k")
	got = nil
	if err := lc.Get(ctx, "k", &got); err != nil || got["v"] != 7 {
		t.Fatalf("get via L1: %v %v", got, err)
	}
}

func TestLayeredCacheMemoryTTLBoundsL1(t *testing.T) {
	now := &fakeNow{t: time.Unix(0, 0)}
	l2, _ := NewFileCache(WithFileDir(t.TempDir()))
	lc := NewLayeredCache(l2, WithLayeredMemoryTTL(time.Second), WithLayeredNow(now.Now))
	defer lc.Close()
	ctx := context.Background()

	_ = lc.Set(ctx, "k", []byte("one"), time.Hour)
	_ = l2.Set(ctx, "k", []byte("two"), 0)

	var s string
	_ = lc.Get(ctx, "k", &s)
	if s != "one" {
		t.Fatalf("expected L1 hit, got %q", s)
	}
	now.Add(2 * time.Second)
	_ = lc.Get(ctx, "k", &s)
	if s != "two" {
		t.Fatalf("expected L2 after L1 expiry, got %q", s)
	}
}

func TestLayeredCacheDeleteClearsBothLevels(t *testing.T) {
	l2, _ := NewFileCache(WithFileDir(t.TempDir()))
	lc := NewLayeredCache(l2)
	defer lc.Close()
	ctx := context.Background()

	_ = lc.Set(ctx, "k", "v", time.Minute)
	_ = lc.Delete(ctx, "k")
	var s string
	if err := lc.Get(ctx, "k", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
}
