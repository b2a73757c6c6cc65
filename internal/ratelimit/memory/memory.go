// Package memory implements the process-local fallback store. Limits
// enforced here are per-process, not global across instances; that is the
// accepted relaxation while the shared store is unreachable.
package memory

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/SamMcfarlane-pursuit/Portfolio-KPI-copilot-sub002/internal/ratelimit"
)

type windowCounter struct {
	windowStart time.Time
	window      time.Duration
	count       int
}

type slidingLog struct {
	window time.Duration
	stamps []time.Time
}

type bucketState struct {
	tokens     float64
	lastRefill time.Time
	burst      int
	refill     float64 // tokens per second
}

// Store keeps all three admission state shapes behind one mutex. A check
// is a handful of map operations, so a single lock is cheaper than
// per-key locking at the request rates a single process sees in fallback.
type Store struct {
	mu      sync.Mutex
	windows map[string]*windowCounter
	slides  map[string]*slidingLog
	buckets map[string]*bucketState
}

func New() *Store {
	return &Store{
		windows: make(map[string]*windowCounter),
		slides:  make(map[string]*slidingLog),
		buckets: make(map[string]*bucketState),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) FixedWindow(_ context.Context, key string, cfg ratelimit.Config, now time.Time) (ratelimit.Result, error) {
	windowStart := now.Truncate(cfg.Window)
	reset := windowStart.Add(cfg.Window)

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || w.windowStart.Before(windowStart) {
		s.windows[key] = &windowCounter{windowStart: windowStart, window: cfg.Window, count: 1}
		return ratelimit.Result{
			Allowed:   true,
			Limit:     cfg.MaxRequests,
			Remaining: cfg.MaxRequests - 1,
			ResetTime: reset,
		}, nil
	}
	if w.count >= cfg.MaxRequests {
		return ratelimit.Result{
			Allowed:    false,
			Limit:      cfg.MaxRequests,
			Remaining:  0,
			ResetTime:  reset,
			RetryAfter: ratelimit.CeilSeconds(reset.Sub(now)),
		}, nil
	}
	w.count++
	return ratelimit.Result{
		Allowed:   true,
		Limit:     cfg.MaxRequests,
		Remaining: cfg.MaxRequests - w.count,
		ResetTime: reset,
	}, nil
}

func (s *Store) SlidingWindow(_ context.Context, key string, cfg ratelimit.Config, now time.Time) (ratelimit.Result, error) {
	cutoff := now.Add(-cfg.Window)

	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.slides[key]
	if !ok {
		log = &slidingLog{window: cfg.Window}
		s.slides[key] = log
	}
	kept := log.stamps[:0]
	for _, ts := range log.stamps {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	log.stamps = kept

	if len(log.stamps) >= cfg.MaxRequests {
		// Conservative hint: the exact wait would be
		// oldest + window - now, but a full window is always safe.
		return ratelimit.Result{
			Allowed:    false,
			Limit:      cfg.MaxRequests,
			Remaining:  0,
			ResetTime:  log.stamps[0].Add(cfg.Window),
			RetryAfter: ratelimit.CeilSeconds(cfg.Window),
		}, nil
	}
	log.stamps = append(log.stamps, now)
	return ratelimit.Result{
		Allowed:   true,
		Limit:     cfg.MaxRequests,
		Remaining: cfg.MaxRequests - len(log.stamps),
		ResetTime: log.stamps[0].Add(cfg.Window),
	}, nil
}

func (s *Store) TokenBucket(_ context.Context, key string, cfg ratelimit.Config, now time.Time) (ratelimit.Result, error) {
	burst := cfg.Burst()
	refill := cfg.Refill()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		s.buckets[key] = &bucketState{
			tokens:     float64(burst) - 1,
			lastRefill: now,
			burst:      burst,
			refill:     refill,
		}
		return ratelimit.Result{
			Allowed:   true,
			Limit:     cfg.MaxRequests,
			Remaining: burst - 1,
			ResetTime: fullAt(float64(burst)-1, burst, refill, now),
		}, nil
	}

	// The float balance carries fractional refill progress, so advancing
	// lastRefill to now loses nothing.
	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens = math.Min(float64(burst), b.tokens+elapsed*refill)
		b.lastRefill = now
	}

	if b.tokens < 1 {
		wait := time.Duration((1 - b.tokens) / refill * float64(time.Second))
		return ratelimit.Result{
			Allowed:    false,
			Limit:      cfg.MaxRequests,
			Remaining:  0,
			ResetTime:  now.Add(wait),
			RetryAfter: ratelimit.CeilSeconds(wait),
		}, nil
	}
	b.tokens--
	return ratelimit.Result{
		Allowed:   true,
		Limit:     cfg.MaxRequests,
		Remaining: int(b.tokens),
		ResetTime: fullAt(b.tokens, burst, refill, now),
	}, nil
}

// fullAt estimates when the bucket refills completely.
func fullAt(tokens float64, burst int, refill float64, now time.Time) time.Time {
	need := float64(burst) - tokens
	if need <= 0 {
		return now
	}
	return now.Add(time.Duration(need / refill * float64(time.Second)))
}

// Sweep removes state whose window or reset time has passed, and reports
// how many entries were dropped. A key whose budget is still live is
// never touched.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, w := range s.windows {
		if !now.Before(w.windowStart.Add(w.window)) {
			delete(s.windows, k)
			removed++
		}
	}
	for k, log := range s.slides {
		kept := log.stamps[:0]
		cutoff := now.Add(-log.window)
		for _, ts := range log.stamps {
			if !ts.Before(cutoff) {
				kept = append(kept, ts)
			}
		}
		log.stamps = kept
		if len(log.stamps) == 0 {
			delete(s.slides, k)
			removed++
		}
	}
	for k, b := range s.buckets {
		// A bucket that would be full again behaves exactly like a fresh
		// one, so it is safe to drop.
		refilled := b.tokens + now.Sub(b.lastRefill).Seconds()*b.refill
		if refilled >= float64(b.burst) {
			delete(s.buckets, k)
			removed++
		}
	}
	return removed
}

// StartSweeper begins periodic expiry of stale entries and returns
// immediately. Sweeps run off the request path; the goroutine stops when
// ctx is cancelled. onSweep, if non-nil, receives the per-sweep removal
// count.
func (s *Store) StartSweeper(ctx context.Context, every time.Duration, onSweep func(removed int)) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				n := s.Sweep(now)
				if onSweep != nil {
					onSweep(n)
				}
			}
		}
	}()
}

// Len reports how many keys currently hold state, for tests and
// introspection.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows) + len(s.slides) + len(s.buckets)
}
