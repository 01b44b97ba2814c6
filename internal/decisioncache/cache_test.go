package decisioncache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ppiankov/trustgate/internal/model"
)

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestRedis(t *testing.T, now func() time.Time) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, "", now), mr
}

var allow = model.Decision{Allow: true, Reason: "Allowed: rule 1 (is_contact)", Cacheable: true}

// forEachCache runs fn against both implementations sharing one clock.
func forEachCache(t *testing.T, fn func(t *testing.T, c Cache, clk *clock)) {
	t.Run("memory", func(t *testing.T) {
		clk := newClock()
		fn(t, NewMemory(clk.Now), clk)
	})
	t.Run("redis", func(t *testing.T) {
		clk := newClock()
		r, _ := newTestRedis(t, clk.Now)
		fn(t, r, clk)
	})
}

func TestPutGet(t *testing.T) {
	forEachCache(t, func(t *testing.T, c Cache, clk *clock) {
		ctx := context.Background()
		if err := c.Put(ctx, "alice", allow, time.Minute); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		d, hit, err := c.Get(ctx, "alice")
		if err != nil || !hit {
			t.Fatalf("expected hit, got hit=%v err=%v", hit, err)
		}
		if !d.Allow || d.Reason != allow.Reason {
			t.Errorf("unexpected decision %+v", d)
		}
		if d.ExpiresAt == nil || !d.ExpiresAt.Equal(clk.Now().Add(time.Minute)) {
			t.Errorf("expected expiry one minute out, got %v", d.ExpiresAt)
		}

		// Repeated gets return the same decision.
		d2, _, _ := c.Get(ctx, "alice")
		if !d.ExpiresAt.Equal(*d2.ExpiresAt) || d.Reason != d2.Reason {
			t.Error("cached decision changed between reads")
		}
	})
}

func TestMissAndExpiry(t *testing.T) {
	forEachCache(t, func(t *testing.T, c Cache, clk *clock) {
		ctx := context.Background()
		if _, hit, _ := c.Get(ctx, "nobody"); hit {
			t.Error("expected miss for unknown identity")
		}
		c.Put(ctx, "bob", allow, time.Minute)
		clk.Advance(time.Minute)
		if _, hit, err := c.Get(ctx, "bob"); hit || err != nil {
			t.Errorf("expired entry must be a miss, got hit=%v err=%v", hit, err)
		}
	})
}

func TestNonCacheableIgnored(t *testing.T) {
	forEachCache(t, func(t *testing.T, c Cache, _ *clock) {
		ctx := context.Background()
		deny := model.Decision{Allow: false, Reason: "FallbackTimeout", Cacheable: false}
		c.Put(ctx, "carol", deny, time.Minute)
		if _, hit, _ := c.Get(ctx, "carol"); hit {
			t.Error("non-cacheable decision was stored")
		}
		c.Put(ctx, "carol", allow, 0)
		if _, hit, _ := c.Get(ctx, "carol"); hit {
			t.Error("zero ttl should disable caching")
		}
	})
}

func TestInvalidate(t *testing.T) {
	forEachCache(t, func(t *testing.T, c Cache, _ *clock) {
		ctx := context.Background()
		c.Put(ctx, "dave", allow, time.Minute)
		c.Put(ctx, "erin", allow, time.Minute)
		if err := c.Invalidate(ctx, "dave"); err != nil {
			t.Fatalf("Invalidate failed: %v", err)
		}
		if _, hit, _ := c.Get(ctx, "dave"); hit {
			t.Error("invalidated entry still served")
		}
		if _, hit, _ := c.Get(ctx, "erin"); !hit {
			t.Error("invalidation leaked to another identity")
		}
	})
}

func TestPurge(t *testing.T) {
	forEachCache(t, func(t *testing.T, c Cache, _ *clock) {
		ctx := context.Background()
		for i := 0; i < 250; i++ {
			c.Put(ctx, model.ClientIdentity(fmt.Sprintf("client-%d", i)), allow, time.Minute)
		}
		if err := c.Purge(ctx); err != nil {
			t.Fatalf("Purge failed: %v", err)
		}
		for i := 0; i < 250; i += 50 {
			if _, hit, _ := c.Get(ctx, model.ClientIdentity(fmt.Sprintf("client-%d", i))); hit {
				t.Errorf("client-%d survived purge", i)
			}
		}
	})
}

func TestExistingExpiryKept(t *testing.T) {
	forEachCache(t, func(t *testing.T, c Cache, clk *clock) {
		ctx := context.Background()
		early := clk.Now().Add(10 * time.Second)
		d := allow
		d.ExpiresAt = &early
		c.Put(ctx, "frank", d, time.Hour)

		got, hit, _ := c.Get(ctx, "frank")
		if !hit || !got.ExpiresAt.Equal(early) {
			t.Errorf("earlier expiry should be kept, got %v", got.ExpiresAt)
		}
		clk.Advance(11 * time.Second)
		if _, hit, _ := c.Get(ctx, "frank"); hit {
			t.Error("entry should expire at the decision's own expiry")
		}
	})
}

func TestMemorySweep(t *testing.T) {
	clk := newClock()
	m := NewMemory(clk.Now)
	ctx := context.Background()
	m.Put(ctx, "a", allow, time.Second)
	m.Put(ctx, "b", allow, time.Hour)

	if n := m.Sweep(clk.Now().Add(2 * time.Second)); n != 1 {
		t.Errorf("expected 1 swept, got %d", n)
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 entry left, got %d", m.Len())
	}
}

func TestMemoryConcurrent(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := model.ClientIdentity(fmt.Sprintf("c-%d", n%8))
			for j := 0; j < 100; j++ {
				m.Put(ctx, id, allow, time.Minute)
				m.Get(ctx, id)
				if j%10 == 0 {
					m.Invalidate(ctx, id)
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestRedisServerTTL(t *testing.T) {
	r, mr := newTestRedis(t, nil)
	ctx := context.Background()
	r.Put(ctx, "gina", allow, time.Minute)

	if !mr.Exists(DefaultPrefix + "gina") {
		t.Fatal("expected key under default prefix")
	}
	if ttl := mr.TTL(DefaultPrefix + "gina"); ttl != time.Minute {
		t.Errorf("expected server ttl 1m, got %v", ttl)
	}
	mr.FastForward(2 * time.Minute)
	if _, hit, _ := r.Get(ctx, "gina"); hit {
		t.Error("expected miss after server-side expiry")
	}
}

func TestRedisCorruptEntryIsMiss(t *testing.T) {
	r, mr := newTestRedis(t, nil)
	mr.Set(DefaultPrefix+"hank", "{not json")
	if _, hit, err := r.Get(context.Background(), "hank"); hit || err != nil {
		t.Errorf("corrupt entry should be a clean miss, got hit=%v err=%v", hit, err)
	}
}

func TestRedisUnavailable(t *testing.T) {
	r, mr := newTestRedis(t, nil)
	mr.Close()
	if _, _, err := r.Get(context.Background(), "ivy"); err == nil {
		t.Error("expected error when redis is down")
	}
}

func TestNewFallsBackToMemory(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, ok := New(ctx, nil, "", nil).(*Memory); !ok {
		t.Error("expected memory cache without a client")
	}

	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 5 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	if _, ok := New(ctx, client, "", nil).(*Memory); !ok {
		t.Error("expected memory fallback for unreachable redis")
	}

	mr := miniredis.RunT(t)
	live := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer live.Close()
	if _, ok := New(context.Background(), live, "", nil).(*Redis); !ok {
		t.Error("expected redis cache for reachable server")
	}
}
