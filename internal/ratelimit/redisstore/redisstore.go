// Package redisstore implements the shared admission store on Redis, so
// limiter instances across a deployment draw from one budget per key.
//
// Counter increments and bucket refills run server-side (a transactional
// pipeline and a Lua script). Sliding-window admission is one pipeline
// with a corrective ZREM on denial; under concurrent access to the same
// key this is approximate, trading strict exactness for low latency.
package redisstore

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/SamMcfarlane-pursuit/Portfolio-KPI-copilot-sub002/internal/ratelimit"
)

//go:embed token_bucket.lua
var tokenBucketScript string

type Store struct {
	client *redis.Client
	prefix string
	script *redis.Script
}

type Option func(*Store)

// WithPrefix overrides the key prefix (default "admission:").
func WithPrefix(p string) Option {
	return func(s *Store) { s.prefix = p }
}

// New wraps a connected client. It does not ping: an unreachable server
// surfaces as per-operation errors, which the limiter absorbs by falling
// back to its local store.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: "admission:",
		script: redis.NewScript(tokenBucketScript),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return s.client.Close() }

// FixedWindow counts with INCR+EXPIRE in one transaction. The increment
// is atomic, so concurrent instances cannot under-count; a denied call
// still bumps the counter, which is harmless past the limit.
func (s *Store) FixedWindow(ctx context.Context, key string, cfg ratelimit.Config, now time.Time) (ratelimit.Result, error) {
	windowStart := now.Truncate(cfg.Window)
	reset := windowStart.Add(cfg.Window)
	k := fmt.Sprintf("%sfw:%s:%d", s.prefix, key, windowStart.UnixMilli())

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	// NX so later hits do not stretch the key past its window.
	pipe.ExpireNX(ctx, k, cfg.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return ratelimit.Result{}, err
	}

	count := incr.Val()
	if count > int64(cfg.MaxRequests) {
		return ratelimit.Result{
			Allowed:    false,
			Limit:      cfg.MaxRequests,
			Remaining:  0,
			ResetTime:  reset,
			RetryAfter: ratelimit.CeilSeconds(reset.Sub(now)),
		}, nil
	}
	return ratelimit.Result{
		Allowed:   true,
		Limit:     cfg.MaxRequests,
		Remaining: cfg.MaxRequests - int(count),
		ResetTime: reset,
	}, nil
}

// SlidingWindow keeps one sorted-set member per admitted request, scored
// by arrival time in milliseconds. Members carry a random suffix so two
// arrivals on the same millisecond never collide.
func (s *Store) SlidingWindow(ctx context.Context, key string, cfg ratelimit.Config, now time.Time) (ratelimit.Result, error) {
	k := s.prefix + "sw:" + key
	nowMs := now.UnixMilli()
	cutoff := now.Add(-cfg.Window).UnixMilli()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", "("+strconv.FormatInt(cutoff, 10))
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(nowMs), Member: member})
	card := pipe.ZCard(ctx, k)
	pipe.Expire(ctx, k, cfg.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return ratelimit.Result{}, err
	}

	count := card.Val() // includes this request
	if count > int64(cfg.MaxRequests) {
		// Over budget: take this request's member back out. Best effort;
		// the entry ages out of the window either way.
		_ = s.client.ZRem(ctx, k, member).Err()
		return ratelimit.Result{
			Allowed:    false,
			Limit:      cfg.MaxRequests,
			Remaining:  0,
			ResetTime:  now.Add(cfg.Window),
			RetryAfter: ratelimit.CeilSeconds(cfg.Window),
		}, nil
	}
	return ratelimit.Result{
		Allowed:   true,
		Limit:     cfg.MaxRequests,
		Remaining: cfg.MaxRequests - int(count),
		ResetTime: now.Add(cfg.Window),
	}, nil
}

// TokenBucket delegates the whole refill-and-take step to a Lua script.
// Script.Run falls back from EVALSHA to EVAL on NOSCRIPT, so a restarted
// server re-learns the script transparently.
func (s *Store) TokenBucket(ctx context.Context, key string, cfg ratelimit.Config, now time.Time) (ratelimit.Result, error) {
	k := s.prefix + "tb:" + key
	burst := cfg.Burst()
	rate := cfg.Refill()

	// The key must outlive any partially drained bucket, or an idle
	// client would regain tokens early when the state expires.
	ttl := cfg.Window
	if refillFull := time.Duration(float64(burst) / rate * float64(time.Second)); refillFull > ttl {
		ttl = refillFull
	}

	raw, err := s.script.Run(ctx, s.client, []string{k},
		burst,
		rate,
		float64(now.UnixMicro())/1e6,
		int64(ttl.Seconds())+1,
	).Result()
	if err != nil {
		return ratelimit.Result{}, err
	}

	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 3 {
		return ratelimit.Result{}, fmt.Errorf("redisstore: unexpected token bucket reply %v", raw)
	}
	allowed, _ := vals[0].(int64)
	tokens := toFloat(vals[1])
	wait := time.Duration(toFloat(vals[2]) * float64(time.Second))

	if allowed != 1 {
		return ratelimit.Result{
			Allowed:    false,
			Limit:      cfg.MaxRequests,
			Remaining:  0,
			ResetTime:  now.Add(wait),
			RetryAfter: ratelimit.CeilSeconds(wait),
		}, nil
	}
	reset := now
	if need := float64(burst) - tokens; need > 0 {
		reset = now.Add(time.Duration(need / rate * float64(time.Second)))
	}
	return ratelimit.Result{
		Allowed:   true,
		Limit:     cfg.MaxRequests,
		Remaining: int(tokens),
		ResetTime: reset,
	}, nil
}

func toFloat(v interface{}) float64 {
	switch val := v.(type) {
	case int64:
		return float64(val)
	case float64:
		return val
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	default:
		return 0
	}
}
