package ports

import (
	"context"
	"time"

	"crisisguard/internal/domain"
)

// AllowlistFetcher reads the public allowlist endpoint. Clients refresh
// through it and the push verifier checks propagation through the same path.
type AllowlistFetcher interface {
	Fetch(ctx context.Context) (domain.AllowlistDocument, error)
}

// PersistedAllowlist is the last fetched-and-validated document and when it
// was fetched.
type PersistedAllowlist struct {
	Document  domain.AllowlistDocument `json:"document"`
	FetchedAt time.Time                `json:"fetchedAt"`
}

// SnapshotStore persists the last good allowlist between process runs.
type SnapshotStore interface {
	Load(ctx context.Context) (p PersistedAllowlist, found bool, err error)
	Save(ctx context.Context, p PersistedAllowlist) error
}

// MatchReporter accepts anonymous fuzzy-match events. Report must not block.
type MatchReporter interface {
	Report(entry domain.FuzzyMatchLogEntry)
}

// MatchLogSink delivers one event to the ingestion endpoint.
type MatchLogSink interface {
	Send(ctx context.Context, req domain.MatchLogRequest) error
}

// RateLimiter increments a counter that expires after ttl and returns the new
// value.
type RateLimiter interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Alerter notifies operators that a push needs manual investigation.
type Alerter interface {
	PushFailed(ctx context.Context, rec domain.EmergencyPushRecord) error
}

// OperatorAuthenticator resolves an admin request credential to an operator
// identity. ok is false for unknown credentials.
type OperatorAuthenticator interface {
	Authenticate(ctx context.Context, token string) (operator string, ok bool)
}
