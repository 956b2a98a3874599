package verifier

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Checker inspects one emergency push. done is true once the push reached a
// terminal state and needs no further polling.
type Checker interface {
	Check(ctx context.Context, pushID string) (done bool, err error)
}

// Run polls c every interval until the push is done or ctx is cancelled. The
// first check happens one interval after the call. A non-zero deadline cuts
// short any wait that would pass it, so the last check lands on the deadline.
func Run(ctx context.Context, c Checker, pushID string, interval time.Duration, deadline time.Time, clock clockwork.Clock, logger *zap.Logger) {
	for {
		wait := interval
		if !deadline.IsZero() {
			if rem := deadline.Sub(clock.Now()); rem > 0 && rem < wait {
				wait = rem
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-clock.After(wait):
		}
		done, err := c.Check(ctx, pushID)
		if err != nil {
			logger.Warn("push verification check failed", zap.String("push_id", pushID), zap.Error(err))
		}
		if done {
			return
		}
	}
}
