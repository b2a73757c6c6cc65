package ratelimit

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Limiter decides request admission. It tries the shared store first and
// replays the identical algorithm on the process-local store when the
// shared store is unreachable, so Check always produces a decision.
type Limiter struct {
	shared   Store // nil when running without a shared store
	local    Store
	logger   zerolog.Logger
	recorder Recorder
	timeout  time.Duration
	now      func() time.Time
}

type Option func(*Limiter)

func WithLogger(l zerolog.Logger) Option {
	return func(lim *Limiter) { lim.logger = l }
}

// WithRecorder wires limiter telemetry to a metrics backend.
func WithRecorder(r Recorder) Option {
	return func(lim *Limiter) { lim.recorder = r }
}

// WithTimeout bounds each shared-store operation so a slow store degrades
// to the fallback instead of stalling the request path.
func WithTimeout(d time.Duration) Option {
	return func(lim *Limiter) { lim.timeout = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(lim *Limiter) { lim.now = now }
}

// New builds a Limiter. shared may be nil, in which case every check runs
// against the local store; local must not be nil.
func New(shared, local Store, opts ...Option) *Limiter {
	lim := &Limiter{
		shared:   shared,
		local:    local,
		logger:   zerolog.Nop(),
		recorder: nopRecorder{},
		timeout:  250 * time.Millisecond,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(lim)
	}
	return lim
}

// Check runs one admission decision for the request under cfg. It never
// returns an error: any shared-store failure degrades to the local store,
// at the cost of per-instance enforcement during the outage.
func (l *Limiter) Check(ctx context.Context, r *http.Request, cfg Config) Result {
	keyFn := cfg.KeyFunc
	if keyFn == nil {
		keyFn = DefaultKeyFunc
	}
	return l.CheckKey(ctx, keyFn(r), cfg)
}

// CheckKey is Check for callers that already resolved the budget key.
func (l *Limiter) CheckKey(ctx context.Context, key string, cfg Config) Result {
	now := l.now()

	if l.shared != nil {
		opCtx, cancel := context.WithTimeout(ctx, l.timeout)
		res, err := l.run(opCtx, l.shared, key, cfg, now)
		cancel()
		if err == nil {
			l.recorder.Check(cfg.strategy(), res.Allowed, false)
			return res
		}
		l.recorder.StoreError(cfg.strategy())
		l.logger.Warn().Err(err).
			Str("key", key).
			Str("strategy", string(cfg.strategy())).
			Msg("shared store unavailable, using local fallback")
	}

	res, err := l.run(ctx, l.local, key, cfg, now)
	if err != nil {
		// The local store has no failure modes; guard anyway so a check
		// can never be lost.
		l.logger.Error().Err(err).Str("key", key).Msg("local store failed")
		res = Result{
			Allowed:   true,
			Limit:     cfg.MaxRequests,
			Remaining: cfg.MaxRequests - 1,
			ResetTime: now.Add(cfg.Window),
		}
	}
	l.recorder.Check(cfg.strategy(), res.Allowed, true)
	return res
}

func (l *Limiter) run(ctx context.Context, s Store, key string, cfg Config, now time.Time) (Result, error) {
	switch cfg.strategy() {
	case SlidingWindow:
		return s.SlidingWindow(ctx, key, cfg, now)
	case TokenBucket:
		return s.TokenBucket(ctx, key, cfg, now)
	default:
		return s.FixedWindow(ctx, key, cfg, now)
	}
}
