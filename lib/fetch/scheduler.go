package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("lib/fetch")

var ErrTimeout = errors.New("operation timed out")

type SchedulerOptions struct {
	// minimum gap between consecutive operation starts, shared by every
	// caller of this scheduler, including any future worker pool
	Delay time.Duration
	// per-attempt deadline
	Timeout time.Duration
	// retries allowed on top of the first attempt
	MaxRetries int
	// base wait between retry attempts, scaled linearly per attempt
	Backoff  time.Duration
	Recorder Recorder
}

// Scheduler is the single place retry policy lives. It owns the shared
// politeness limiter, so holding one Scheduler per remote session keeps
// request spacing correct no matter who issues the requests.
type Scheduler struct {
	limiter    *rate.Limiter
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	recorder   Recorder
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewScheduler(opts SchedulerOptions) *Scheduler {
	limit := rate.Inf
	if opts.Delay > 0 {
		limit = rate.Every(opts.Delay)
	}
	s := &Scheduler{
		limiter:    rate.NewLimiter(limit, 1),
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		recorder:   opts.Recorder,
		sleep:      sleepCtx,
	}
	if s.timeout <= 0 {
		s.timeout = time.Second * 30
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Op identifies a logical operation for the outcome log.
type Op struct {
	Kind string
	Id   string
}

// Do runs fn under the scheduler's politeness delay, per-attempt timeout
// and bounded-retry policy. Fatal returns immediately without consuming
// retries; exhausted retries convert the last Retryable outcome into a
// Fatal one. The terminal outcome is always recorded.
func Do[T any](ctx context.Context, s *Scheduler, op Op, fn func(ctx context.Context) Outcome[T]) Outcome[T] {
	ctx, span := tracer.Start(ctx, fmt.Sprintf("fetch:%s", op.Kind))
	defer span.End()
	span.SetAttributes(attribute.String("id", op.Id))

	start := time.Now()
	attempts := 0

	terminal := func(out Outcome[T]) Outcome[T] {
		if s.recorder != nil {
			e := Entry{
				Kind:     op.Kind,
				Id:       op.Id,
				Class:    out.Class,
				Attempts: attempts,
				Elapsed:  time.Since(start),
				Time:     time.Now(),
			}
			if out.Err != nil {
				e.Err = out.Err.Error()
			}
			s.recorder.Record(e)
		}
		if out.Class == ClassFatal {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, "operation failed")
		}
		span.SetAttributes(attribute.Int("attempts", attempts))
		return out
	}

	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return terminal(Fatal[T](err))
		}

		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
		out := fn(attemptCtx)
		cancel()

		if out.Err != nil && errors.Is(out.Err, context.DeadlineExceeded) && ctx.Err() == nil {
			out = Retryable[T](fmt.Errorf("%w: %s %s", ErrTimeout, op.Kind, op.Id))
		}

		switch out.Class {
		case ClassSuccess, ClassFatal:
			return terminal(out)
		}

		if ctx.Err() != nil {
			return terminal(Fatal[T](ctx.Err()))
		}
		if attempts > s.maxRetries {
			return terminal(Fatal[T](fmt.Errorf("retries exhausted after %d attempts: %w", attempts, out.Err)))
		}

		slog.DebugContext(
			ctx, "retrying operation",
			"kind", op.Kind,
			"id", op.Id,
			"attempt", attempts,
			"err", out.Err,
		)
		if err := s.sleep(ctx, s.backoffFor(attempts)); err != nil {
			return terminal(Fatal[T](err))
		}
	}
}

func (s *Scheduler) backoffFor(attempt int) time.Duration {
	if s.backoff <= 0 {
		return 0
	}
	wait := s.backoff * time.Duration(attempt)
	// jitter keeps repeated failures from hammering in lockstep
	jitterMs, err := random.IntRange(0, int(s.backoff/time.Millisecond)+1)
	if err == nil {
		wait += time.Duration(jitterMs) * time.Millisecond
	}
	return wait
}
