// Package retry runs storage operations under a per-attempt timeout with capped exponential backoff.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Policy describes how an operation is retried.
type Policy struct {
	// Retryable classifies errors; nil retries every error.
	Retryable func(error) bool

	Attempts    int           // total attempts including the first
	InitialWait time.Duration // wait before the second attempt, doubled afterwards
	MaxWait     time.Duration // cap for the doubled wait
	OpTimeout   time.Duration // deadline of each attempt, 0 disables it
}

// Do runs fn until it succeeds, returns a non-retryable error, exhausts the
// attempts, or ctx is done. The last error is returned wrapped.
func (p Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	attempts := max(p.Attempts, 1)
	wait := p.InitialWait

	for attempt := 1; ; attempt++ {
		err := p.attempt(ctx, fn)
		if err == nil {
			if attempt > 1 {
				log.Debug().Str("op", op).Int("attempts", attempt).Msg("Operation succeeded after retry")
			}
			return nil
		}

		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt >= attempts {
			return fmt.Errorf("%s failed after %d attempts: %w", op, attempt, err)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s interrupted: %w", op, err)
		}

		log.Debug().Err(err).Str("op", op).Int("attempt", attempt).Dur("next_retry_in", wait).Msg("Transient failure, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s interrupted: %w", op, err)
		case <-timer.C:
		}

		wait *= 2
		if p.MaxWait > 0 && wait > p.MaxWait {
			wait = p.MaxWait
		}
	}
}

func (p Policy) attempt(ctx context.Context, fn func(context.Context) error) error {
	if p.OpTimeout <= 0 {
		return fn(ctx)
	}

	opCtx, cancel := context.WithTimeout(ctx, p.OpTimeout)
	defer cancel()

	return fn(opCtx)
}
