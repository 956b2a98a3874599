package httpadapter

import (
	"context"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"crisisguard/internal/ports"
	"crisisguard/internal/services/matchlog"
)

// Throttle is a fixed-window per-caller limit on the public allowlist. Callers
// are keyed by salted IP hash, the same way match logs are.
type Throttle struct {
	limiter ports.RateLimiter
	salt    string
	limit   int
	window  time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

func NewThrottle(limiter ports.RateLimiter, salt string, limit int, window time.Duration, logger *zap.Logger) *Throttle {
	if window <= 0 {
		window = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Throttle{limiter: limiter, salt: salt, limit: limit, window: window, now: time.Now, logger: logger}
}

// Allow counts one request from remoteAddr. When the caller is over the limit
// it returns how long until the window resets. Counter failures let the
// request through.
func (t *Throttle) Allow(ctx context.Context, remoteAddr string) (time.Duration, bool) {
	if t.limit <= 0 {
		return 0, true
	}
	now := t.now()
	slot := now.UnixNano() / int64(t.window)
	key := "allowlist:" + matchlog.HashIP(t.salt, hostOnly(remoteAddr)) + ":" + strconv.FormatInt(slot, 10)
	n, err := t.limiter.Increment(ctx, key, t.window)
	if err != nil {
		t.logger.Warn("allowlist throttle counter unavailable", zap.Error(err))
		return 0, true
	}
	if n <= int64(t.limit) {
		return 0, true
	}
	reset := time.Unix(0, (slot+1)*int64(t.window))
	return reset.Sub(now), false
}

func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
