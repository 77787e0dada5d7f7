package cache

import (
	"testing"
	"time"
)

func TestLRU_Eviction(t *testing.T) {
	c := New[int](2, time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)
	if _, ok := c.Get("a"); !ok { // a becomes most recent
		t.Fatal("expected a to be cached")
	}
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %d, %v", v, ok)
	}
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Errorf("Get(c) = %d, %v", v, ok)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestLRU_Expiry(t *testing.T) {
	c := New[string](10, time.Second)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Set("k", "v")
	if _, ok := c.Get("k"); !ok {
		t.Fatal("expected fresh entry")
	}

	now = now.Add(2 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Error("expected entry to expire")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not removed, Len() = %d", c.Len())
	}
}

func TestLRU_UpdateAndPurge(t *testing.T) {
	c := New[[]float32](0, 0)

	c.Set("x", []float32{1})
	c.Set("x", []float32{2})
	if v, _ := c.Get("x"); v[0] != 2 {
		t.Errorf("Get(x) = %v, want updated value", v)
	}

	c.Purge()
	if c.Len() != 0 {
		t.Errorf("Len() after Purge = %d", c.Len())
	}
}
