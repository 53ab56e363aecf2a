package limiter

import (
	"context"
	"testing"
	"time"
)

func TestMemory_LocksAfterMaxFailsAndUnlocks(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(Policy{Window: time.Minute, MaxFails: 3, BlockFor: 5 * time.Minute})
	m.now = func() time.Time { return now }
	ctx := context.Background()
	ip := HashIP("10.0.0.1")

	for i := 0; i < 2; i++ {
		if blocked, _, _ := m.Failure(ctx, "u", ip); blocked {
			t.Fatalf("blocked too early at %d", i)
		}
	}
	blocked, dur, _ := m.Failure(ctx, "u", ip)
	if !blocked || dur != 5*time.Minute {
		t.Fatalf("want block, got %v %v", blocked, dur)
	}
	if ok, _, _ := m.Allow(ctx, "u", ip); ok {
		t.Fatalf("allowed while blocked")
	}
	if ok, _, _ := m.Allow(ctx, "u", HashIP("10.0.0.2")); !ok {
		t.Fatalf("other client must not be blocked")
	}

	now = now.Add(6 * time.Minute)
	if ok, _, _ := m.Allow(ctx, "u", ip); !ok {
		t.Fatalf("block must lapse")
	}
}

func TestMemory_WindowResetsCount(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(Policy{Window: time.Minute, MaxFails: 2, BlockFor: time.Minute})
	m.now = func() time.Time { return now }
	ctx := context.Background()

	_, _, _ = m.Failure(ctx, "u", nil)
	now = now.Add(2 * time.Minute)
	if blocked, _, _ := m.Failure(ctx, "u", nil); blocked {
		t.Fatalf("stale failure must not count")
	}
}

func TestMemory_SuccessResets(t *testing.T) {
	m := NewMemory(Policy{MaxFails: 2})
	ctx := context.Background()

	_, _, _ = m.Failure(ctx, "u", nil)
	_ = m.Success(ctx, "u", nil)
	if blocked, _, _ := m.Failure(ctx, "u", nil); blocked {
		t.Fatalf("success must reset the counter")
	}
}

func TestNop_NeverBlocks(t *testing.T) {
	var l Limiter = Nop{}
	for i := 0; i < 100; i++ {
		if blocked, _, _ := l.Failure(context.Background(), "u", nil); blocked {
			t.Fatalf("nop blocked")
		}
	}
}

func TestMemory_SweepEvictsIdleEntries(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(Policy{Window: time.Minute, MaxFails: 2, BlockFor: 10 * time.Minute})
	m.now = func() time.Time { return now }
	ctx := context.Background()

	_, _, _ = m.Failure(ctx, "idle", HashIP("10.0.0.1"))
	_, _, _ = m.Failure(ctx, "blocked", HashIP("10.0.0.2"))
	_, _, _ = m.Failure(ctx, "blocked", HashIP("10.0.0.2"))
	if m.Len() != 2 {
		t.Fatalf("want 2 entries, got %d", m.Len())
	}
	if n := m.Sweep(); n != 0 {
		t.Fatalf("fresh entries evicted: %d", n)
	}

	now = now.Add(2 * time.Minute)
	if n := m.Sweep(); n != 1 {
		t.Fatalf("want only the idle entry evicted, got %d", n)
	}
	if ok, _, _ := m.Allow(ctx, "blocked", HashIP("10.0.0.2")); ok {
		t.Fatalf("sweep must keep an active block")
	}

	now = now.Add(10 * time.Minute)
	if n := m.Sweep(); n != 1 || m.Len() != 0 {
		t.Fatalf("lapsed block not evicted: n=%d len=%d", n, m.Len())
	}
}
