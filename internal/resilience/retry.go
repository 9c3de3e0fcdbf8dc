package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gastos/internal/log"
)

// Policy decides whether and when a failed attempt is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultPolicy allows three attempts with 1s then 2s between them.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second}
}

// Backoff returns the wait after the given zero-based failed attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return p.BaseDelay * time.Duration(1<<uint(attempt))
}

// Decide maps a failed attempt to the delay before the next one and whether
// there should be a next one at all.
func (p Policy) Decide(attempt int, err error) (time.Duration, bool) {
	if !IsRetryable(err) {
		return 0, false
	}
	if attempt+1 >= p.MaxAttempts {
		return 0, false
	}
	return p.Backoff(attempt), true
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the real Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retrier holds the retry state shared by every backend call of the process.
type Retrier struct {
	policy  Policy
	breaker *Breaker
	online  *Connectivity
	sleep   Sleeper
	logger  *log.Logger
	tracer  trace.Tracer
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithPolicy overrides the attempt/backoff policy.
func WithPolicy(p Policy) Option {
	return func(r *Retrier) { r.policy = p }
}

// WithBreaker shares an existing reconnect breaker.
func WithBreaker(b *Breaker) Option {
	return func(r *Retrier) { r.breaker = b }
}

// WithConnectivity gates calls on the online flag and resets the breaker
// whenever connectivity comes back.
func WithConnectivity(c *Connectivity) Option {
	return func(r *Retrier) { r.online = c }
}

// WithSleeper replaces the real timer, mostly for tests.
func WithSleeper(s Sleeper) Option {
	return func(r *Retrier) { r.sleep = s }
}

// WithLogger sets the logger used for retry notices.
func WithLogger(l *log.Logger) Option {
	return func(r *Retrier) { r.logger = l.WithComponent(log.ComponentResilience) }
}

// NewRetrier builds a Retrier with the default policy and a reconnect
// ceiling of three.
func NewRetrier(opts ...Option) *Retrier {
	r := &Retrier{
		policy: DefaultPolicy(),
		sleep:  SleepContext,
		logger: log.Discard(),
		tracer: otel.Tracer("gastos/internal/resilience"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breaker == nil {
		r.breaker = NewBreaker(DefaultReconnectCeiling)
	}
	if r.online != nil {
		b := r.breaker
		r.online.OnChange(func(online bool) {
			if online {
				b.Reset()
			}
		})
	}
	return r
}

// Breaker returns the shared reconnect breaker.
func (r *Retrier) Breaker() *Breaker {
	return r.breaker
}

// Retry runs fn until it succeeds, fails with a non-retryable error, runs
// out of attempts, or trips the reconnect breaker.
func Retry[T any](ctx context.Context, r *Retrier, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if r.online != nil && !r.online.Online() {
		return zero, fmt.Errorf("%s: %w", op, ErrOffline)
	}

	ctx, span := r.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("gastos.operation", op)))
	defer span.End()

	for attempt := 0; ; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			r.breaker.Reset()
			span.SetAttributes(attribute.Int("gastos.attempts", attempt+1))
			return val, nil
		}

		kind := Classify(err)
		delay, again := r.policy.Decide(attempt, err)
		if !again {
			if kind.Retryable() {
				err = fmt.Errorf("%s: %w: %w", op, ErrRetriesExhausted, err)
			} else {
				err = fmt.Errorf("%s: %w", op, err)
			}
			if kind != KindCanceled {
				span.RecordError(err)
				span.SetStatus(codes.Error, kind.String())
			}
			return zero, err
		}

		r.logger.WarnContext(ctx, "Retrying backend call",
			log.FieldOperation, op,
			log.FieldAttempt, attempt+1,
			log.FieldDelay, delay.String(),
			log.FieldErrorKind, kind.String(),
			log.FieldError, err.Error(),
		)
		span.AddEvent("retry", trace.WithAttributes(
			attribute.Int("attempt", attempt+1),
			attribute.String("delay", delay.String()),
			attribute.String("error.kind", kind.String()),
		))

		if serr := r.sleep(ctx, delay); serr != nil {
			if errors.Is(serr, context.DeadlineExceeded) {
				return zero, fmt.Errorf("%s: %w: %w", op, ErrTimeout, serr)
			}
			return zero, fmt.Errorf("%s: %w: %w", op, ErrCanceled, serr)
		}
		if r.breaker.Record() {
			err = fmt.Errorf("%s: %w: %w", op, ErrConnectivityLost, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, KindTerminal.String())
			r.logger.ErrorContext(ctx, "Reconnect budget exhausted",
				log.FieldOperation, op,
				log.FieldAttempt, r.breaker.Failures(),
			)
			return zero, err
		}
	}
}

// Call is Retry over WithTimeout: every attempt gets its own deadline.
func Call[T any](ctx context.Context, r *Retrier, op string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	return Retry(ctx, r, op, func(ctx context.Context) (T, error) {
		return WithTimeout(ctx, timeout, fn)
	})
}

// Exec is Call for operations without a result.
func Exec(ctx context.Context, r *Retrier, op string, timeout time.Duration, fn func(context.Context) error) error {
	_, err := Call(ctx, r, op, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Once makes a single attempt under timeout. Writes use it: a commit whose
// response is lost must not be replayed. The offline gate still applies
// and the breaker is not touched.
func Once[T any](ctx context.Context, r *Retrier, op string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if r.online != nil && !r.online.Online() {
		return zero, fmt.Errorf("%s: %w", op, ErrOffline)
	}

	ctx, span := r.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("gastos.operation", op)))
	defer span.End()

	val, err := WithTimeout(ctx, timeout, fn)
	if err != nil {
		kind := Classify(err)
		err = fmt.Errorf("%s: %w", op, err)
		if kind != KindCanceled {
			span.RecordError(err)
			span.SetStatus(codes.Error, kind.String())
		}
		return zero, err
	}
	return val, nil
}

// OnceExec is Once for operations without a result.
func OnceExec(ctx context.Context, r *Retrier, op string, timeout time.Duration, fn func(context.Context) error) error {
	_, err := Once(ctx, r, op, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
