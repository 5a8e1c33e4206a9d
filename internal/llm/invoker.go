package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const scopeName = "github.com/mohammad-safakhou/essaygen/internal/llm"

// Generator submits a prompt to a generative model. Implementations must be
// safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, instruction, input string) (Response, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, instruction, input string) (Response, error)

func (f GeneratorFunc) Generate(ctx context.Context, instruction, input string) (Response, error) {
	return f(ctx, instruction, input)
}

// CallSpec describes one model invocation. Build a fresh value per call.
type CallSpec struct {
	Name        string
	Instruction string
	Policy      RetryPolicy
}

// Outcomes reported to an Observer.
const (
	OutcomeSuccess   = "success"
	OutcomeExhausted = "exhausted"
	OutcomePermanent = "permanent"
	OutcomeCanceled  = "canceled"
)

// Observer receives per-attempt and per-invocation events.
type Observer interface {
	ObserveAttempt(call string, attempt int, err error)
	ObserveInvocation(call, outcome string, attempts int, elapsed time.Duration)
}

// Invoker runs a Generator under a CallSpec's retry policy. It holds no
// per-call state and can be shared across requests.
type Invoker struct {
	gen      Generator
	logger   *zap.Logger
	observer Observer
	newTimer func() backoff.Timer
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithLogger sets the logger used for retry events.
func WithLogger(l *zap.Logger) InvokerOption {
	return func(iv *Invoker) { iv.logger = l }
}

// WithObserver sets the event sink, typically metrics.
func WithObserver(o Observer) InvokerOption {
	return func(iv *Invoker) { iv.observer = o }
}

// WithTimer overrides the timer used to wait between attempts.
func WithTimer(newTimer func() backoff.Timer) InvokerOption {
	return func(iv *Invoker) { iv.newTimer = newTimer }
}

// NewInvoker wraps gen with retry handling.
func NewInvoker(gen Generator, opts ...InvokerOption) *Invoker {
	iv := &Invoker{gen: gen}
	for _, opt := range opts {
		opt(iv)
	}
	if iv.logger == nil {
		iv.logger = zap.NewNop()
	}
	if iv.observer == nil {
		iv.observer = nopObserver{}
	}
	return iv
}

// Invoke calls the generator until it succeeds, fails permanently, the
// context ends, or the policy's attempts run out. Every failure is returned
// as an *InvocationError.
func (iv *Invoker) Invoke(ctx context.Context, spec CallSpec, input string) (Response, error) {
	policy := spec.Policy.normalized()
	logger := iv.logger.With(zap.String("call", spec.Name))
	start := time.Now()
	ctx, span := otel.Tracer(scopeName).Start(ctx, "llm.invoke",
		trace.WithAttributes(
			attribute.String("llm.call", spec.Name),
			attribute.Int("llm.max_attempts", policy.MaxAttempts),
		))
	defer span.End()

	var (
		resp      Response
		attempts  int
		lastErr   error
		permanent bool
	)
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		r, err := iv.attempt(ctx, spec.Instruction, input, policy.AttemptTimeout)
		iv.observer.ObserveAttempt(spec.Name, attempts, err)
		if err == nil {
			resp = r
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !policy.Retryable(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		span.AddEvent("retry", trace.WithAttributes(
			attribute.Int("llm.attempt", attempts),
			attribute.Int("llm.status", StatusOf(err)),
			attribute.String("llm.delay", next.String())))
		logger.Warn("retrying transient model failure",
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Int("status", StatusOf(err)),
			zap.Duration("delay", next),
			zap.Error(err))
	}

	var timer backoff.Timer
	if iv.newTimer != nil {
		timer = iv.newTimer()
	}
	b := backoff.WithContext(policy.backOff(), ctx)
	err := backoff.RetryNotifyWithTimer(op, b, notify, timer)
	elapsed := time.Since(start)
	span.SetAttributes(attribute.Int("llm.attempts", attempts))
	if err == nil {
		span.SetAttributes(attribute.String("llm.outcome", OutcomeSuccess))
		iv.observer.ObserveInvocation(spec.Name, OutcomeSuccess, attempts, elapsed)
		return resp, nil
	}

	invErr := &InvocationError{Call: spec.Name, Attempts: attempts, Err: lastErr}
	outcome := OutcomeExhausted
	switch {
	case ctx.Err() != nil:
		outcome = OutcomeCanceled
		invErr.Canceled = true
		invErr.Err = ctx.Err()
		if lastErr != nil && !errors.Is(lastErr, ctx.Err()) {
			invErr.Err = fmt.Errorf("%w (last failure: %v)", ctx.Err(), lastErr)
		}
	case permanent:
		outcome = OutcomePermanent
	default:
		invErr.Exhausted = true
	}
	span.SetAttributes(attribute.String("llm.outcome", outcome))
	span.RecordError(invErr)
	span.SetStatus(codes.Error, outcome)
	iv.observer.ObserveInvocation(spec.Name, outcome, attempts, elapsed)
	logger.Error("model invocation failed",
		zap.String("outcome", outcome),
		zap.Int("attempts", attempts),
		zap.Error(invErr.Err))
	return Response{}, invErr
}

func (iv *Invoker) attempt(ctx context.Context, instruction, input string, timeout time.Duration) (Response, error) {
	// anything the client prints while the call is in flight is dropped
	actx := WithDiagnostics(ctx, zap.NewNop())
	if timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(actx, timeout)
		defer cancel()
	}
	resp, err := iv.gen.Generate(actx, instruction, input)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("attempt deadline of %s exceeded: %w", timeout, err)
	}
	return resp, err
}

type nopObserver struct{}

func (nopObserver) ObserveAttempt(string, int, error) {}
func (nopObserver) ObserveInvocation(string, string, int, time.Duration) {}
