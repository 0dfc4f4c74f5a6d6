package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLRUCacheSetGet(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()

	ctx := context.Background()

	if err := c.Set(ctx, "key1", []byte("value1"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, err := c.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "value1" {
		t.Errorf("expected value1, got %s", val)
	}
}

func TestLRUCacheMissReturnsNil(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()

	val, err := c.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil for missing key, got %s", val)
	}
}

func TestLRUCacheExpiry(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()

	ctx := context.Background()

	if err := c.Set(ctx, "key1", []byte("value1"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	val, err := c.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val != nil {
		t.Error("expected expired entry to be gone")
	}
}

func TestLRUCacheEviction(t *testing.T) {
	c := NewLRUCache(3)
	defer c.Close()

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("key%d", i)
		if err := c.Set(ctx, key, []byte("v"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	size, capacity := c.Stats()
	if size != 3 || capacity != 3 {
		t.Errorf("expected size 3 capacity 3, got %d/%d", size, capacity)
	}

	// Oldest entries evicted
	if val, _ := c.Get(ctx, "key0"); val != nil {
		t.Error("expected key0 evicted")
	}
	if val, _ := c.Get(ctx, "key4"); val == nil {
		t.Error("expected key4 retained")
	}
}

func TestLRUCacheSetNX(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()

	ctx := context.Background()

	stored, err := c.SetNX(ctx, "claim", []byte("first"), time.Minute)
	if err != nil {
		t.Fatalf("SetNX failed: %v", err)
	}
	if !stored {
		t.Fatal("expected first SetNX to store")
	}

	stored, err = c.SetNX(ctx, "claim", []byte("second"), time.Minute)
	if err != nil {
		t.Fatalf("SetNX failed: %v", err)
	}
	if stored {
		t.Fatal("expected second SetNX to lose")
	}

	val, _ := c.Get(ctx, "claim")
	if string(val) != "first" {
		t.Errorf("first writer must win, got %s", val)
	}
}

func TestLRUCacheSetNXAfterExpiry(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()

	ctx := context.Background()

	if _, err := c.SetNX(ctx, "claim", []byte("first"), 10*time.Millisecond); err != nil {
		t.Fatalf("SetNX failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	stored, err := c.SetNX(ctx, "claim", []byte("second"), time.Minute)
	if err != nil {
		t.Fatalf("SetNX failed: %v", err)
	}
	if !stored {
		t.Error("expected SetNX to store after expiry")
	}
}

func TestLRUCacheDelete(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()

	ctx := context.Background()

	c.Set(ctx, "key1", []byte("value1"), time.Minute)
	if err := c.Delete(ctx, "key1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if val, _ := c.Get(ctx, "key1"); val != nil {
		t.Error("expected deleted key to be gone")
	}
}

func TestLRUCacheIncrementCounter(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()

	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := c.IncrementCounter(ctx, "rate", time.Minute)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if got != want {
			t.Errorf("expected %d, got %d", want, got)
		}
	}
}

func TestLRUCacheCounterWindowReset(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()

	ctx := context.Background()

	c.IncrementCounter(ctx, "rate", 10*time.Millisecond)
	c.IncrementCounter(ctx, "rate", 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)

	got, err := c.IncrementCounter(ctx, "rate", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("IncrementCounter failed: %v", err)
	}
	if got != 1 {
		t.Errorf("expected counter reset to 1 after window, got %d", got)
	}
}

func TestNewFactory(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 10})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	if _, ok := c.(*LRUCache); !ok {
		t.Errorf("expected LRUCache, got %T", c)
	}

	if _, err := New(domain.CacheConfig{Type: "bogus"}); err == nil {
		t.Error("expected error for unsupported cache type")
	}
}
