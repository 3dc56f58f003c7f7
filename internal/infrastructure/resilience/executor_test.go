package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/docimport/internal/core/domain"
)

// quickRetries keeps backoff in the millisecond range so tests stay fast.
func quickRetries(attempts int) Config {
	return Config{
		RetryMaxAttempts:    attempts,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
	}
}

func TestExecuteRetryBudget(t *testing.T) {
	errFlaky := errors.New("model overloaded")
	errBadRequest := errors.New("schema rejected")

	cases := []struct {
		name         string
		failures     int
		cause        error
		wantAttempts int
		wantErr      error
	}{
		{name: "recovers within budget", failures: 2, cause: errFlaky, wantAttempts: 3},
		{name: "budget exhausted", failures: 5, cause: errFlaky, wantAttempts: 3, wantErr: errFlaky},
		{name: "permanent error not retried", failures: 5, cause: errBadRequest, wantAttempts: 1, wantErr: errBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exec := NewExecutor(quickRetries(3))
			attempts := 0
			err := exec.Execute(context.Background(), "extract", func(context.Context) error {
				attempts++
				if attempts <= tc.failures {
					return tc.cause
				}
				return nil
			}, func(err error) ErrorClassification {
				return ErrorClassification{Retryable: errors.Is(err, errFlaky), RecordFailure: true}
			})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Execute() error = %v, want %v", err, tc.wantErr)
			}
			if attempts != tc.wantAttempts {
				t.Fatalf("expected %d attempts, got %d", tc.wantAttempts, attempts)
			}
		})
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	cfg := quickRetries(1)
	cfg.BreakerEnabled = true
	cfg.BreakerMinRequests = 2
	cfg.BreakerFailureRatio = 0.5
	cfg.BreakerOpenTimeout = time.Minute
	cfg.BreakerHalfOpenMaxCalls = 1
	exec := NewExecutor(cfg)

	errDown := errors.New("connection refused")
	countFailure := func(error) ErrorClassification { return ErrorClassification{RecordFailure: true} }
	for i := range 2 {
		if err := exec.Execute(context.Background(), "ollama.generate", func(context.Context) error { return errDown }, countFailure); !errors.Is(err, errDown) {
			t.Fatalf("call %d: expected %v, got %v", i, errDown, err)
		}
	}

	err := exec.Execute(context.Background(), "ollama.generate", func(context.Context) error {
		t.Fatalf("open circuit must not call the operation")
		return nil
	}, countFailure)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}

	// Breakers are per operation name.
	if err := exec.Execute(context.Background(), "gemini.generate", func(context.Context) error { return nil }, countFailure); err != nil {
		t.Fatalf("other operation must keep its own breaker, got %v", err)
	}
}

func TestExecuteRateLimitsAttempts(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts: 1,
		BreakerEnabled:   false,
		RateLimitRPS:     20,
		RateLimitBurst:   1,
	})

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := exec.Execute(context.Background(), "extract", func(context.Context) error { return nil }, nil); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("expected limiter to space 3 calls at 20 rps, took %s", elapsed)
	}
}

func TestExecuteRateLimitHonoursContext(t *testing.T) {
	exec := NewExecutor(Config{RetryMaxAttempts: 1, BreakerEnabled: false, RateLimitRPS: 0.001, RateLimitBurst: 1})
	_ = exec.Execute(context.Background(), "extract", func(context.Context) error { return nil }, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	called := false
	err := exec.Execute(ctx, "extract", func(context.Context) error {
		called = true
		return nil
	}, nil)
	if err == nil || called {
		t.Fatalf("expected wait error without calling operation, got err=%v called=%v", err, called)
	}
}

func TestClassifyDomainError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorClassification
	}{
		{"temporary", domain.WrapError(domain.ErrTemporary, "extract", errors.New("503")), ErrorClassification{Retryable: true, RecordFailure: true}},
		{"canceled", context.Canceled, ErrorClassification{}},
		{"validation", domain.ErrValidation, ErrorClassification{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyDomainError(tc.err); got != tc.want {
				t.Fatalf("ClassifyDomainError() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestBackoffGrowsAndHonoursServerHint(t *testing.T) {
	b := newBackoff(Config{
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     300 * time.Millisecond,
		RetryMultiplier:     2,
		RetryAfterCap:       time.Second,
	})
	want := []struct {
		hint time.Duration
		wait time.Duration
	}{
		{0, 100 * time.Millisecond},
		{0, 200 * time.Millisecond},
		{5 * time.Second, time.Second},
		{0, 300 * time.Millisecond},
		{50 * time.Millisecond, 300 * time.Millisecond},
	}
	for i, w := range want {
		if got := b.wait(w.hint); got != w.wait {
			t.Fatalf("wait %d = %s, want %s", i, got, w.wait)
		}
	}
}

func TestExecuteWaitsForRetryAfterHint(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		BreakerEnabled:      false,
	})
	errThrottled := errors.New("429")

	attempts := 0
	start := time.Now()
	err := exec.Execute(context.Background(), "gemini.generate", func(context.Context) error {
		attempts++
		if attempts == 1 {
			return errThrottled
		}
		return nil
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: true, RecordFailure: true, RetryAfter: 40 * time.Millisecond}
	})
	if err != nil || attempts != 2 {
		t.Fatalf("expected success on second attempt, got err=%v attempts=%d", err, attempts)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("expected retry to wait for the server hint, took %s", elapsed)
	}
}

func TestNormalizeFillsDefaults(t *testing.T) {
	got := Config{RetryInitialBackoff: 5 * time.Second, RateLimitRPS: -1}.normalize()
	def := DefaultConfig()
	if got.RetryMaxAttempts != def.RetryMaxAttempts || got.BreakerMinRequests != def.BreakerMinRequests {
		t.Fatalf("expected defaults, got %+v", got)
	}
	if got.RetryMaxBackoff != 5*time.Second {
		t.Fatalf("max backoff must not be below initial, got %s", got.RetryMaxBackoff)
	}
	if got.RateLimitRPS != 0 || got.BreakerEnabled {
		t.Fatalf("negative rps and zero breaker flag mean off, got %+v", got)
	}
}
