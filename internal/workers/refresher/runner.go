package refresher

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Refresher performs one refresh attempt. Errors are informational; the
// loop never stops because of one.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// backoffer is implemented by errors that carry a server-requested delay.
type backoffer interface {
	Backoff() time.Duration
}

// Run refreshes immediately, then every interval until ctx is cancelled. A
// failed attempt that asks for a longer backoff stretches the next wait. A
// non-positive interval disables the loop entirely.
func Run(ctx context.Context, r Refresher, interval time.Duration, clock clockwork.Clock, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	for {
		wait := interval
		if err := r.Refresh(ctx); err != nil {
			var b backoffer
			if errors.As(err, &b) && b.Backoff() > wait {
				wait = b.Backoff()
			}
			logger.Debug("refresh attempt failed", zap.Duration("next_in", wait))
		}
		select {
		case <-ctx.Done():
			return
		case <-clock.After(wait):
		}
	}
}
