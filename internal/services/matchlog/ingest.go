package matchlog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"crisisguard/internal/domain"
	"crisisguard/internal/ports"
)

const (
	DefaultDailyLimit = 100
	// windows are keyed by date; the counter outlives its day so a request
	// straddling midnight cannot reset it early
	counterTTL = 48 * time.Hour
)

// Ingestor accepts anonymous fuzzy-match logs on the server. Callers are
// rate limited per hashed IP and day; the raw IP is never stored.
type Ingestor struct {
	repo    ports.MatchLogRepository
	limiter ports.RateLimiter
	salt    string
	limit   int
	logger  *zap.Logger
	clock   clockwork.Clock
}

func NewIngestor(repo ports.MatchLogRepository, limiter ports.RateLimiter, salt string, limit int, logger *zap.Logger, clock clockwork.Clock) *Ingestor {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Ingestor{repo: repo, limiter: limiter, salt: salt, limit: limit, logger: logger, clock: clock}
}

// HashIP returns hex(sha256(salt || ip)).
func HashIP(salt, ip string) string {
	sum := sha256.Sum256([]byte(salt + ip))
	return hex.EncodeToString(sum[:])
}

// Ingest validates and stores one log. accepted is false, with a nil error,
// when the caller is over its daily limit; the caller is not told.
func (i *Ingestor) Ingest(ctx context.Context, ip string, req domain.MatchLogRequest) (accepted bool, err error) {
	req.InputDomain = strings.ToLower(strings.TrimSpace(req.InputDomain))
	req.MatchedDomain = strings.ToLower(strings.TrimSpace(req.MatchedDomain))
	if err := domain.ValidateMatchLog(req); err != nil {
		return false, err
	}

	now := i.clock.Now().UTC()
	key := HashIP(i.salt, ip) + ":" + now.Format(time.DateOnly)
	n, err := i.limiter.Increment(ctx, key, counterTTL)
	if err != nil {
		i.logger.Warn("match log rate counter unavailable, dropping", zap.Error(err))
		return false, nil
	}
	if n > int64(i.limit) {
		return false, nil
	}

	entry := domain.FuzzyMatchLogEntry{
		ID:            uuid.NewString(),
		InputDomain:   req.InputDomain,
		MatchedDomain: req.MatchedDomain,
		Distance:      req.Distance,
		DeviceType:    req.DeviceType,
		Timestamp:     now,
	}
	if err := i.repo.InsertMatchLog(ctx, entry); err != nil {
		return false, err
	}
	return true, nil
}

// TopMisses lists the most frequent near-miss pairs since the given time.
func (i *Ingestor) TopMisses(ctx context.Context, since time.Time, limit int) ([]domain.MissCount, error) {
	switch {
	case limit <= 0:
		limit = 50
	case limit > 500:
		limit = 500
	}
	return i.repo.TopMisses(ctx, since, limit)
}
