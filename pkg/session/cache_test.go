package session

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/voyager-travel/voyager/agent"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	logger, _ := logtest.NewNullLogger()
	cache := NewCache(CacheConfig{TTL: ttl, Clock: clk.Now, Logger: logger})
	return cache, clk
}

func transcript(texts ...string) []agent.Message {
	msgs := make([]agent.Message, 0, len(texts))
	for i, text := range texts {
		if i%2 == 0 {
			msgs = append(msgs, agent.NewUserMessage(text))
		} else {
			msgs = append(msgs, agent.NewAssistantMessage(text))
		}
	}
	return msgs
}

func TestCacheGetOrCreateNewSession(t *testing.T) {
	cache, _ := newTestCache(t, time.Hour)

	got := cache.GetOrCreate("s1")
	if len(got) != 0 {
		t.Fatalf("new session history = %d messages, want 0", len(got))
	}
	if cache.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", cache.Len())
	}
}

func TestCacheSaveThenGet(t *testing.T) {
	cache, _ := newTestCache(t, time.Hour)

	cache.Save("s1", transcript("hello", "hi there"))
	got := cache.GetOrCreate("s1")
	if len(got) != 2 {
		t.Fatalf("history length = %d, want 2", len(got))
	}
	if got[1].Content != "hi there" {
		t.Fatalf("history[1].Content = %q, want %q", got[1].Content, "hi there")
	}
}

func TestCacheGetReturnsCopy(t *testing.T) {
	cache, _ := newTestCache(t, time.Hour)

	cache.Save("s1", transcript("hello", "hi there"))
	got := cache.GetOrCreate("s1")
	got[0].Content = "tampered"

	again := cache.GetOrCreate("s1")
	if again[0].Content != "hello" {
		t.Fatalf("cache entry mutated through returned slice: %q", again[0].Content)
	}
}

func TestCacheTTLEviction(t *testing.T) {
	cache, clk := newTestCache(t, time.Hour)

	cache.Save("old", transcript("hello", "hi"))
	clk.Advance(time.Hour + time.Second)

	// Access to another session sweeps the whole cache.
	cache.GetOrCreate("fresh")
	if cache.Len() != 1 {
		t.Fatalf("Len() after sweep = %d, want 1 (only fresh)", cache.Len())
	}
	got := cache.GetOrCreate("old")
	if len(got) != 0 {
		t.Fatalf("evicted session came back with %d messages, want fresh empty history", len(got))
	}
}

func TestCacheTTLBoundaryRetained(t *testing.T) {
	cache, clk := newTestCache(t, time.Hour)

	cache.Save("s1", transcript("hello", "hi"))
	clk.Advance(time.Hour - time.Second)

	got := cache.GetOrCreate("s1")
	if len(got) != 2 {
		t.Fatalf("session within TTL had %d messages, want 2", len(got))
	}
}

func TestCacheZeroTTLNeverEvicts(t *testing.T) {
	cache, clk := newTestCache(t, 0)

	cache.Save("s1", transcript("hello", "hi"))
	clk.Advance(1000 * time.Hour)

	got := cache.GetOrCreate("s1")
	if len(got) != 2 {
		t.Fatalf("TTL=0 session had %d messages, want 2", len(got))
	}
}

func TestCacheAccessThrottle(t *testing.T) {
	cache, clk := newTestCache(t, time.Minute)

	cache.Save("s1", transcript("hello", "hi"))

	// Reads inside the throttle window must not refresh last access, so
	// the entry still ages out at save-time + TTL.
	for i := 0; i < 8; i++ {
		clk.Advance(5 * time.Second)
		cache.GetOrCreate("s1")
	}
	// 40s elapsed, entry refreshed at most up to the 30s mark by the
	// throttled reads. Advance past that refresh point plus TTL.
	clk.Advance(2 * time.Minute)
	got := cache.GetOrCreate("s1")
	if len(got) != 0 {
		t.Fatalf("throttle-refreshed session survived %d messages past TTL, want eviction", len(got))
	}
}

func TestCacheThrottleSkipsRefresh(t *testing.T) {
	cache, clk := newTestCache(t, 30*time.Second)

	cache.Save("s1", transcript("hello", "hi"))

	// A read 5s after save is inside the 10s throttle and must not bump
	// the access time; the entry then expires on the original schedule.
	clk.Advance(5 * time.Second)
	cache.GetOrCreate("s1")

	clk.Advance(26 * time.Second) // 31s after save, 26s after read
	got := cache.GetOrCreate("s1")
	if len(got) != 0 {
		t.Fatalf("entry refreshed by throttled read: got %d messages, want eviction", len(got))
	}
}

func TestCacheRefreshOutsideThrottle(t *testing.T) {
	cache, clk := newTestCache(t, 30*time.Second)

	cache.Save("s1", transcript("hello", "hi"))

	clk.Advance(15 * time.Second)
	cache.GetOrCreate("s1") // outside throttle, refreshes

	clk.Advance(25 * time.Second) // 40s after save, 25s after refresh
	got := cache.GetOrCreate("s1")
	if len(got) != 2 {
		t.Fatalf("refreshed entry evicted early: got %d messages, want 2", len(got))
	}
}

func TestCacheRemove(t *testing.T) {
	cache, _ := newTestCache(t, time.Hour)

	cache.Save("s1", transcript("hello", "hi"))
	cache.Remove("s1")
	if cache.Len() != 0 {
		t.Fatalf("Len() after Remove = %d, want 0", cache.Len())
	}
	cache.Remove("s1") // idempotent
}

func TestCacheMalformedEntrySkipped(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	logger, hook := logtest.NewNullLogger()
	cache := NewCache(CacheConfig{TTL: time.Minute, Clock: clk.Now, Logger: logger})

	cache.Save("good", transcript("hello", "hi"))
	cache.entries["broken"] = nil

	clk.Advance(time.Second)
	got := cache.GetOrCreate("good")
	if len(got) != 2 {
		t.Fatalf("healthy session lost after sweeping malformed entry: %d messages", len(got))
	}

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warned = true
		}
	}
	if !warned {
		t.Fatal("malformed entry did not produce a warning")
	}
}

func TestCacheEvictionCallback(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	logger, _ := logtest.NewNullLogger()
	var evicted int
	cache := NewCache(CacheConfig{
		TTL:     time.Minute,
		Clock:   clk.Now,
		Logger:  logger,
		OnEvict: func(n int) { evicted += n },
	})

	cache.Save("a", transcript("hello", "hi"))
	cache.Save("b", transcript("hello", "hi"))
	clk.Advance(2 * time.Minute)

	cache.GetOrCreate("c")
	if evicted != 2 {
		t.Fatalf("eviction callback saw %d evictions, want 2", evicted)
	}
}
