package llm

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// recordingTimer fires immediately and remembers every requested delay.
type recordingTimer struct {
	mu     sync.Mutex
	delays []time.Duration
	c      chan time.Time
}

func newRecordingTimer() *recordingTimer {
	return &recordingTimer{c: make(chan time.Time, 1)}
}

func (t *recordingTimer) Start(d time.Duration) {
	t.mu.Lock()
	t.delays = append(t.delays, d)
	t.mu.Unlock()
	t.c <- time.Now()
}

func (t *recordingTimer) Stop() {}

func (t *recordingTimer) C() <-chan time.Time { return t.c }

func (t *recordingTimer) Delays() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]time.Duration, len(t.delays))
	copy(out, t.delays)
	return out
}

// scriptedGenerator fails with errs[i] on call i and succeeds afterwards.
type scriptedGenerator struct {
	mu    sync.Mutex
	calls int
	errs  []error
	resp  Response
}

func (g *scriptedGenerator) Generate(ctx context.Context, instruction, input string) (Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.calls
	g.calls++
	if i < len(g.errs) && g.errs[i] != nil {
		return Response{}, g.errs[i]
	}
	return g.resp, nil
}

func (g *scriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type countingObserver struct {
	mu       sync.Mutex
	attempts int
	outcomes []string
}

func (o *countingObserver) ObserveAttempt(string, int, error) {
	o.mu.Lock()
	o.attempts++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveInvocation(_ string, outcome string, _ int, _ time.Duration) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, outcome)
	o.mu.Unlock()
}

func unavailable() error { return &StatusError{Code: http.StatusServiceUnavailable, Message: "overloaded"} }

func testPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:          attempts,
		InitialDelay:         time.Second,
		Multiplier:           2,
		RetryableStatusCodes: []int{429, 500, 503, 504},
	}
}

func TestInvokeSucceedsOnLastAttempt(t *testing.T) {
	for k := 1; k <= 5; k++ {
		errs := make([]error, k-1)
		for i := range errs {
			errs[i] = unavailable()
		}
		gen := &scriptedGenerator{errs: errs, resp: Text("ok")}
		timer := newRecordingTimer()
		obs := &countingObserver{}
		iv := NewInvoker(gen, WithTimer(func() backoff.Timer { return timer }), WithObserver(obs))

		policy := testPolicy(k)
		resp, err := iv.Invoke(context.Background(), CallSpec{Name: "test", Policy: policy}, "")
		require.NoError(t, err, "k=%d", k)
		assert.Equal(t, "ok", Extract(resp))
		assert.Equal(t, k, gen.Calls())
		assert.Equal(t, policy.Schedule(), timer.Delays())
		assert.Equal(t, k, obs.attempts)
		assert.Equal(t, []string{OutcomeSuccess}, obs.outcomes)
	}
}

func TestInvokeExhaustsAttempts(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{unavailable(), unavailable(), unavailable(), unavailable()}}
	timer := newRecordingTimer()
	iv := NewInvoker(gen, WithTimer(func() backoff.Timer { return timer }))

	_, err := iv.Invoke(context.Background(), CallSpec{Name: "compose", Policy: testPolicy(3)}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.NotErrorIs(t, err, ErrPermanent)
	assert.Equal(t, 3, gen.Calls(), "no fourth attempt")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, timer.Delays())

	var invErr *InvocationError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, 3, invErr.Attempts)
	assert.Equal(t, http.StatusServiceUnavailable, StatusOf(err))
	assert.Contains(t, err.Error(), "retries exhausted")
}

func TestInvokeFailsFastOnPermanentStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"client error", &StatusError{Code: http.StatusBadRequest, Message: "bad prompt"}},
		{"status outside set", &StatusError{Code: http.StatusBadGateway}},
		{"marked permanent", Permanent(errors.New("no candidates"))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := &scriptedGenerator{errs: []error{tc.err, nil}}
			timer := newRecordingTimer()
			obs := &countingObserver{}
			iv := NewInvoker(gen, WithTimer(func() backoff.Timer { return timer }), WithObserver(obs))

			_, err := iv.Invoke(context.Background(), CallSpec{Name: "x", Policy: testPolicy(5)}, "")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrPermanent)
			assert.ErrorIs(t, err, tc.err)
			assert.Equal(t, 1, gen.Calls())
			assert.Empty(t, timer.Delays())
			assert.Equal(t, []string{OutcomePermanent}, obs.outcomes)
		})
	}
}

func TestInvokeRetriesErrorsWithoutStatus(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{errors.New("connection reset by peer")}, resp: Text("recovered")}
	timer := newRecordingTimer()
	iv := NewInvoker(gen, WithTimer(func() backoff.Timer { return timer }))

	resp, err := iv.Invoke(context.Background(), CallSpec{Policy: testPolicy(2)}, "")
	require.NoError(t, err)
	assert.Equal(t, "recovered", Extract(resp))
	assert.Equal(t, 2, gen.Calls())
}

func TestInvokeAttemptDeadlineIsTransient(t *testing.T) {
	var calls int
	var mu sync.Mutex
	gen := GeneratorFunc(func(ctx context.Context, _, _ string) (Response, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-ctx.Done()
		return Response{}, ctx.Err()
	})
	policy := testPolicy(2)
	policy.AttemptTimeout = 10 * time.Millisecond
	iv := NewInvoker(gen, WithTimer(func() backoff.Timer { return newRecordingTimer() }))

	_, err := iv.Invoke(context.Background(), CallSpec{Policy: policy}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, calls)
}

func TestInvokeStopsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	obs := &countingObserver{}
	gen := GeneratorFunc(func(context.Context, string, string) (Response, error) {
		cancel()
		return Response{}, unavailable()
	})
	iv := NewInvoker(gen, WithObserver(obs))

	_, err := iv.Invoke(ctx, CallSpec{Policy: testPolicy(5)}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.NotErrorIs(t, err, ErrPermanent)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 1, obs.attempts)
	assert.Equal(t, []string{OutcomeCanceled}, obs.outcomes)
}

func TestInvokeDeadlineDuringBackoffIsNotPermanent(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{unavailable(), unavailable(), unavailable()}}
	policy := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Hour, Multiplier: 2}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewInvoker(gen).Invoke(ctx, CallSpec{Name: "compose", Policy: policy}, "")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, gen.Calls())

	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrPermanent)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Contains(t, err.Error(), "model invocation canceled")
	assert.NotContains(t, err.Error(), "permanent")

	var invErr *InvocationError
	require.ErrorAs(t, err, &invErr)
	assert.True(t, invErr.Canceled)
	assert.False(t, invErr.Exhausted)
}

func TestInvokeSleepsBackoffSchedule(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{unavailable(), unavailable()}, resp: Text("late")}
	policy := RetryPolicy{MaxAttempts: 3, InitialDelay: 20 * time.Millisecond, Multiplier: 2}
	iv := NewInvoker(gen)

	start := time.Now()
	_, err := iv.Invoke(context.Background(), CallSpec{Policy: policy}, "")
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestInvokeDiscardsClientDiagnostics(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ctx := WithDiagnostics(context.Background(), zap.New(core))
	gen := GeneratorFunc(func(ctx context.Context, _, _ string) (Response, error) {
		Diagnostics(ctx).Info("client chatter")
		return Text("quiet"), nil
	})

	resp, err := NewInvoker(gen).Invoke(ctx, CallSpec{Policy: testPolicy(1)}, "")
	require.NoError(t, err)
	assert.Equal(t, "quiet", Extract(resp))
	assert.Zero(t, logs.Len())
}
