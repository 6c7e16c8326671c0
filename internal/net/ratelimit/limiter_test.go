package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLimiter_Allow(t *testing.T) {
	limiter := NewLimiter(2.0, 2) // 2 RPS, burst of 2

	if !limiter.Allow("gw.local", "quotes") {
		t.Error("First request should be allowed")
	}
	if !limiter.Allow("gw.local", "quotes") {
		t.Error("Second request should be allowed")
	}
	if limiter.Allow("gw.local", "quotes") {
		t.Error("Third request should be blocked")
	}
}

func TestLimiter_IndependentFamilies(t *testing.T) {
	limiter := NewLimiter(1.0, 1)

	if !limiter.Allow("gw.local", "snapshot") {
		t.Error("First snapshot request should be allowed")
	}
	if !limiter.Allow("gw.local", "options") {
		t.Error("First options request should be allowed")
	}
	if limiter.Allow("gw.local", "snapshot") {
		t.Error("Second snapshot request should be blocked")
	}
	if limiter.Allow("gw.local", "options") {
		t.Error("Second options request should be blocked")
	}
}

func TestLimiter_Override(t *testing.T) {
	limiter := NewLimiterWithConfig(Config{RPS: 1, Burst: 1, Overrides: map[string]float64{"options": 50}})

	limiter.Allow("gw.local", "options")
	limiter.Allow("gw.local", "snapshot")

	stats := limiter.Stats()
	if got := stats[Key("gw.local", "options")].RPS; got != 50 {
		t.Errorf("options RPS should be 50, got %f", got)
	}
	if got := stats[Key("gw.local", "snapshot")].RPS; got != 1 {
		t.Errorf("snapshot RPS should be 1, got %f", got)
	}
}

func TestLimiter_WaitTimeout(t *testing.T) {
	limiter := NewLimiter(0.1, 1) // 10 second refill

	limiter.Allow("gw.local", "quotes")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := limiter.Wait(ctx, "gw.local", "quotes")
	elapsed := time.Since(start)

	if err == nil {
		t.Error("Wait should fail when the deadline precedes the next token")
	}
	if elapsed > 150*time.Millisecond {
		t.Errorf("Wait should return quickly, took %v", elapsed)
	}
}

func TestLimiter_ConcurrentAccess(t *testing.T) {
	limiter := NewLimiter(100.0, 10)

	const numGoroutines = 50
	const requestsPerGoroutine = 5

	var allowed, blocked int64
	var wg sync.WaitGroup

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < requestsPerGoroutine; j++ {
				if limiter.Allow("gw.local", "instrument") {
					atomic.AddInt64(&allowed, 1)
				} else {
					atomic.AddInt64(&blocked, 1)
				}
			}
		}()
	}

	wg.Wait()

	if allowed+blocked != numGoroutines*requestsPerGoroutine {
		t.Errorf("Total requests %d != expected %d", allowed+blocked, numGoroutines*requestsPerGoroutine)
	}
	if allowed < 10 {
		t.Errorf("Should allow at least burst amount, allowed %d", allowed)
	}
	if blocked == 0 {
		t.Error("Should block some requests with this load")
	}
}
