package resilience

import "time"

// Config tunes an Executor. Zero values fall back to DefaultConfig except
// BreakerEnabled and RateLimitRPS, where zero means off.
type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64
	// RetryAfterCap bounds server supplied Retry-After hints so a throttled
	// model cannot stall a worker past its processing timeout.
	RetryAfterCap time.Duration

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32

	// RateLimitRPS caps attempts per second across all operations of the
	// executor. Model providers bill and throttle per request.
	RateLimitRPS   float64
	RateLimitBurst int
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 250 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Second,
		RetryMultiplier:     2,
		RetryAfterCap:       30 * time.Second,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,

		RateLimitBurst: 1,
	}
}

type number interface {
	~int | ~int64 | ~uint32 | ~float64
}

func orDefault[T number](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

func (c Config) normalize() Config {
	def := DefaultConfig()

	c.RetryMaxAttempts = orDefault(c.RetryMaxAttempts, def.RetryMaxAttempts)
	c.RetryInitialBackoff = orDefault(c.RetryInitialBackoff, def.RetryInitialBackoff)
	c.RetryMaxBackoff = max(orDefault(c.RetryMaxBackoff, def.RetryMaxBackoff), c.RetryInitialBackoff)
	if c.RetryMultiplier < 1 {
		c.RetryMultiplier = def.RetryMultiplier
	}
	c.RetryAfterCap = orDefault(c.RetryAfterCap, def.RetryAfterCap)

	c.BreakerMinRequests = orDefault(c.BreakerMinRequests, def.BreakerMinRequests)
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		c.BreakerFailureRatio = def.BreakerFailureRatio
	}
	c.BreakerOpenTimeout = orDefault(c.BreakerOpenTimeout, def.BreakerOpenTimeout)
	c.BreakerHalfOpenMaxCalls = orDefault(c.BreakerHalfOpenMaxCalls, def.BreakerHalfOpenMaxCalls)

	c.RateLimitRPS = max(c.RateLimitRPS, 0)
	c.RateLimitBurst = orDefault(c.RateLimitBurst, def.RateLimitBurst)
	return c
}

// backoff yields exponentially growing waits capped at max. A larger
// server hint replaces the computed wait for that attempt only.
type backoff struct {
	next   time.Duration
	max    time.Duration
	factor float64
	hint   time.Duration
}

func newBackoff(cfg Config) *backoff {
	return &backoff{
		next:   cfg.RetryInitialBackoff,
		max:    cfg.RetryMaxBackoff,
		factor: cfg.RetryMultiplier,
		hint:   cfg.RetryAfterCap,
	}
}

func (b *backoff) wait(retryAfter time.Duration) time.Duration {
	d := min(b.next, b.max)
	b.next = min(time.Duration(float64(b.next)*b.factor), b.max)
	if retryAfter > d {
		d = min(retryAfter, b.hint)
	}
	return d
}
