package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Strategy selects the admission algorithm applied under a policy.
type Strategy string

const (
	FixedWindow   Strategy = "fixed-window"
	SlidingWindow Strategy = "sliding-window"
	TokenBucket   Strategy = "token-bucket"
)

// KeyFunc derives the budget key for a request. Implementations must be
// pure: identical request metadata yields the identical key.
type KeyFunc func(r *http.Request) string

// ErrConfig marks an invalid policy. It surfaces at policy-load time,
// never from a per-request check.
var ErrConfig = errors.New("ratelimit: invalid config")

// Config is an admission policy. Built once per named policy and treated
// as immutable afterwards.
type Config struct {
	Window      time.Duration
	MaxRequests int
	Strategy    Strategy // empty means fixed-window

	// BurstLimit caps the token bucket. Zero means MaxRequests.
	BurstLimit int
	// RefillRate is tokens per second. Zero means MaxRequests spread
	// evenly over Window.
	RefillRate float64

	// KeyFunc overrides the default client+route key derivation.
	KeyFunc KeyFunc
}

func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %s", ErrConfig, c.Window)
	}
	if c.MaxRequests <= 0 {
		return fmt.Errorf("%w: max requests must be positive, got %d", ErrConfig, c.MaxRequests)
	}
	if c.BurstLimit < 0 {
		return fmt.Errorf("%w: burst limit must not be negative, got %d", ErrConfig, c.BurstLimit)
	}
	// A burst above MaxRequests would let Remaining exceed Limit.
	if c.BurstLimit > c.MaxRequests {
		return fmt.Errorf("%w: burst limit %d exceeds max requests %d", ErrConfig, c.BurstLimit, c.MaxRequests)
	}
	if c.RefillRate < 0 {
		return fmt.Errorf("%w: refill rate must not be negative, got %g", ErrConfig, c.RefillRate)
	}
	switch c.Strategy {
	case "", FixedWindow, SlidingWindow, TokenBucket:
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrConfig, c.Strategy)
	}
	return nil
}

// Burst returns the effective token bucket capacity.
func (c Config) Burst() int {
	if c.BurstLimit > 0 {
		return c.BurstLimit
	}
	return c.MaxRequests
}

// Refill returns the effective refill rate in tokens per second.
func (c Config) Refill() float64 {
	if c.RefillRate > 0 {
		return c.RefillRate
	}
	return float64(c.MaxRequests) / c.Window.Seconds()
}

func (c Config) strategy() Strategy {
	if c.Strategy == "" {
		return FixedWindow
	}
	return c.Strategy
}

// Result is the outcome of one admission check. A denial is a normal
// outcome, not an error. Invariant: 0 <= Remaining <= Limit and
// ResetTime is never before the check time.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration // 0 when allowed
}

// Store runs one admission step for a key against one backing store.
// The shared Redis store and the process-local fallback store implement
// the same algorithm semantics, so the facade can replay a check against
// the fallback when the shared store is unreachable.
type Store interface {
	FixedWindow(ctx context.Context, key string, cfg Config, now time.Time) (Result, error)
	SlidingWindow(ctx context.Context, key string, cfg Config, now time.Time) (Result, error)
	TokenBucket(ctx context.Context, key string, cfg Config, now time.Time) (Result, error)
	Close() error
}

// Recorder receives limiter telemetry. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// Check reports one decision. local is true when the decision came
	// from the process-local store.
	Check(strategy Strategy, allowed, local bool)
	// StoreError reports a failed shared-store operation.
	StoreError(strategy Strategy)
}

type nopRecorder struct{}

func (nopRecorder) Check(Strategy, bool, bool) {}
func (nopRecorder) StoreError(Strategy)        {}

// CeilSeconds rounds d up to a whole second. Retry-After is expressed in
// seconds on the wire, so a partial second still means "wait 1".
func CeilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return secs * time.Second
}
