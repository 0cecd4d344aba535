package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// Retrying retries transient failures of Next with exponential backoff.
// Cancellation and deadline errors are never retried, so the caller's
// timeout bounds the total time spent.
type Retrying struct {
	Next     ChatModel
	MaxTries uint          // total attempts, including the first; 0 means 3
	Initial  time.Duration // first backoff interval; 0 means 500ms
	// Retryable classifies errors; nil retries everything except context errors.
	Retryable func(error) bool
}

// Complete implements ChatModel.
func (r *Retrying) Complete(ctx context.Context, msgs []Message) (string, error) {
	tries := r.MaxTries
	if tries == 0 {
		tries = 3
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	if r.Initial > 0 {
		b.InitialInterval = r.Initial
	}
	b.MaxInterval = 5 * time.Second

	op := func() (string, error) {
		out, err := r.Next.Complete(ctx, msgs)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return "", backoff.Permanent(err)
		}
		if r.Retryable != nil && !r.Retryable(err) {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, d time.Duration) {
			zerolog.Ctx(ctx).Warn().Err(err).Dur("backoff", d).Msg("llm call failed, retrying")
		}),
	)
}
