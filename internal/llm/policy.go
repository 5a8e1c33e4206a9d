package llm

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const defaultAttemptTimeout = 30 * time.Second

// RetryPolicy bounds how a single model call is retried.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	// MaxDelay caps a single delay; zero means uncapped.
	MaxDelay time.Duration
	// AttemptTimeout bounds each attempt; zero disables the per-attempt deadline.
	AttemptTimeout time.Duration
	// RetryableStatusCodes, when non-empty, is the exact set of statuses worth retrying.
	RetryableStatusCodes []int
}

// DistillationPolicy is the conservative preset used for the one-time startup call.
func DistillationPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    4,
		InitialDelay:   time.Second,
		Multiplier:     2,
		AttemptTimeout: defaultAttemptTimeout,
		RetryableStatusCodes: []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

// CompositionPolicy is the preset for interactive, latency-sensitive calls.
func CompositionPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		Multiplier:     2,
		AttemptTimeout: defaultAttemptTimeout,
		RetryableStatusCodes: []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

// Validate rejects policies that cannot be executed as written.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry: max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("retry: backoff multiplier must be >= 1, got %v", p.Multiplier)
	}
	if p.InitialDelay < 0 || p.MaxDelay < 0 || p.AttemptTimeout < 0 {
		return errors.New("retry: durations must not be negative")
	}
	return nil
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	return p
}

// Delay returns the wait before attempt n (1-based). Attempt 1 never waits;
// attempt n >= 2 waits InitialDelay * Multiplier^(n-2).
func (p RetryPolicy) Delay(n int) time.Duration {
	if n <= 1 {
		return 0
	}
	p = p.normalized()
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(n-2))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Schedule lists the delays slept between attempts when every attempt fails.
func (p RetryPolicy) Schedule() []time.Duration {
	p = p.normalized()
	out := make([]time.Duration, 0, p.MaxAttempts-1)
	for n := 2; n <= p.MaxAttempts; n++ {
		out = append(out, p.Delay(n))
	}
	return out
}

// Budget is the longest an invocation can take when every attempt runs to
// its deadline: MaxAttempts attempt timeouts plus every backoff delay. It is
// zero when attempts are unbounded.
func (p RetryPolicy) Budget() time.Duration {
	p = p.normalized()
	if p.AttemptTimeout <= 0 {
		return 0
	}
	total := time.Duration(p.MaxAttempts) * p.AttemptTimeout
	for _, d := range p.Schedule() {
		total += d
	}
	return total
}

// Retryable classifies err as transient under this policy.
func (p RetryPolicy) Retryable(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	code := StatusOf(err)
	if code == 0 {
		// network failures and attempt deadlines carry no status
		return true
	}
	if len(p.RetryableStatusCodes) > 0 {
		return slices.Contains(p.RetryableStatusCodes, code)
	}
	if code == http.StatusTooManyRequests {
		return true
	}
	return code < 400 || code >= 500
}

// backOff builds the delay generator for attempts 2..MaxAttempts.
func (p RetryPolicy) backOff() backoff.BackOff {
	maxInterval := p.MaxDelay
	if maxInterval <= 0 {
		maxInterval = time.Duration(math.MaxInt64)
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         maxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
}
