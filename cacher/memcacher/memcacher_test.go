package memcacher

import (
	"context"
	"testing"
	"time"
)

func TestSetGet(t *testing.T) {
	c := New()
	ctx := context.Background()
	if err := c.Set(ctx, "math.add:1", []byte("3"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := c.Get(ctx, "math.add:1")
	if err != nil || !ok || string(v) != "3" {
		t.Fatalf("Get: v=%s ok=%v err=%v", v, ok, err)
	}
}

func TestExpiry(t *testing.T) {
	c := New()
	ctx := context.Background()
	c.Set(ctx, "k", []byte("v"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatalf("expected expired entry to be gone")
	}
}

func TestCleanPattern(t *testing.T) {
	c := New()
	ctx := context.Background()
	c.Set(ctx, "math.add", []byte("1"), 0)
	c.Set(ctx, "math.sub", []byte("2"), 0)
	c.Set(ctx, "user.get", []byte("3"), 0)

	c.Clean(ctx, "math.*")

	if _, ok, _ := c.Get(ctx, "math.add"); ok {
		t.Fatalf("expected math.add cleaned")
	}
	if _, ok, _ := c.Get(ctx, "user.get"); !ok {
		t.Fatalf("expected user.get untouched")
	}
}
