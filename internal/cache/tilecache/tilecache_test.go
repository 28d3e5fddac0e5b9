package tilecache

import (
	"fmt"
	"testing"
	"time"
)

func newTestCache(budget int64, ttl time.Duration) *Cache {
	c := New(budget, ttl, time.Hour)
	return c
}

func TestGetSetAndLRUOrder(t *testing.T) {
	// Budget for exactly three entries of key "kN" plus a 10-byte payload.
	c := newTestCache(3*2*(2+10), time.Minute)
	defer c.Close()

	c.Set("k1", []byte("0123456789"))
	c.Set("k2", []byte("0123456789"))
	c.Set("k3", []byte("0123456789"))

	// Touch k1 so k2 is now the least recently used.
	if _, ok := c.Get("k1"); !ok {
		t.Fatal("k1 missing")
	}

	// Inserting a fourth entry exceeds the budget and evicts k2.
	c.Set("k4", []byte("0123456789"))

	if _, ok := c.Get("k2"); ok {
		t.Error("expected k2 evicted as LRU")
	}
	for _, k := range []string{"k1", "k3", "k4"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("expected %s retained", k)
		}
	}

	s := c.Stats()
	if s.Evictions != 1 {
		t.Errorf("evictions=%d want 1", s.Evictions)
	}
	if s.Entries != 3 {
		t.Errorf("entries=%d want 3", s.Entries)
	}
}

func TestByteBudgetHeld(t *testing.T) {
	budget := int64(10 * 1024)
	c := newTestCache(budget, time.Minute)
	defer c.Close()

	payload := make([]byte, 1024)
	for i := 0; i < 100; i++ {
		c.Set(fmt.Sprintf("tile:%d", i), payload)
	}
	s := c.Stats()
	if s.SizeMB*1024*1024 > float64(budget) {
		t.Errorf("cache over budget: %.0f bytes", s.SizeMB*1024*1024)
	}
	if s.Evictions == 0 {
		t.Error("expected evictions under byte pressure")
	}
}

func TestOversizedPayloadNotCached(t *testing.T) {
	c := newTestCache(128, time.Minute)
	defer c.Close()

	c.Set("big", make([]byte, 1024))
	if _, ok := c.Get("big"); ok {
		t.Error("payload larger than the budget must not be cached")
	}
	if s := c.Stats(); s.Sets != 0 {
		t.Errorf("sets=%d want 0", s.Sets)
	}
}

func TestTTLExpiryOnGet(t *testing.T) {
	c := newTestCache(1<<20, 20*time.Millisecond)
	defer c.Close()

	c.Set("k", []byte("v"))
	if _, ok := c.Get("k"); !ok {
		t.Fatal("fresh entry missing")
	}
	time.Sleep(40 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expired entry served")
	}
	s := c.Stats()
	if s.Expired != 1 || s.Entries != 0 {
		t.Errorf("stats after expiry: %+v", s)
	}
}

func TestSweepDropsOnlyExpired(t *testing.T) {
	c := newTestCache(1<<20, 20*time.Millisecond)
	defer c.Close()

	c.Set("old", []byte("v"))
	time.Sleep(40 * time.Millisecond)
	c.Set("fresh", []byte("v"))

	if n := c.Sweep(); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Error("fresh entry swept")
	}
}

func TestClear(t *testing.T) {
	c := newTestCache(1<<20, time.Minute)
	defer c.Close()

	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))
	if n := c.Clear(); n != 2 {
		t.Fatalf("cleared %d, want 2", n)
	}
	s := c.Stats()
	if s.Entries != 0 || s.SizeMB != 0 {
		t.Errorf("stats after clear: %+v", s)
	}
	if _, ok := c.Get("a"); ok {
		t.Error("entry survived clear")
	}
}

func TestOverwriteReplacesBytes(t *testing.T) {
	c := newTestCache(1<<20, time.Minute)
	defer c.Close()

	c.Set("k", make([]byte, 1000))
	c.Set("k", make([]byte, 10))
	s := c.Stats()
	if s.Entries != 1 {
		t.Fatalf("entries=%d want 1", s.Entries)
	}
	wantBytes := float64(2*(1+10)) / (1024 * 1024)
	if s.SizeMB != wantBytes {
		t.Errorf("sizeMB=%v want %v", s.SizeMB, wantBytes)
	}
}
