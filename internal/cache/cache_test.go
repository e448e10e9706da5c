package cache

import (
	"context"
	"testing"
	"time"
)

func TestCache_SetGet(t *testing.T) {
	c := New[string, int](0)
	defer c.Close()

	ctx := context.Background()
	c.Set(ctx, "a", 1, 0)

	v, ok := c.Get(ctx, "a")
	if !ok || v != 1 {
		t.Fatalf("expected (1, true), got (%d, %v)", v, ok)
	}

	if _, ok := c.Get(ctx, "missing"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestCache_Expiry(t *testing.T) {
	c := New[string, int](10 * time.Millisecond)
	defer c.Close()

	ctx := context.Background()
	c.Set(ctx, "short", 1, 20*time.Millisecond)
	c.Set(ctx, "forever", 2, 0)

	time.Sleep(60 * time.Millisecond)

	if _, ok := c.Get(ctx, "short"); ok {
		t.Error("expected expired entry to be a miss")
	}
	if v, ok := c.Get(ctx, "forever"); !ok || v != 2 {
		t.Errorf("expected non-expiring entry to survive, got (%d, %v)", v, ok)
	}
	if c.Len() != 1 {
		t.Errorf("expected sweeper to drop expired entry, len=%d", c.Len())
	}
}

func TestCache_CloseIdempotent(t *testing.T) {
	c := New[int, int](time.Millisecond)
	c.Close()
	c.Close()
}
