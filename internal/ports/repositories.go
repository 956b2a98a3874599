package ports

import (
	"context"
	"time"

	"crisisguard/internal/domain"
)

// AllowlistRepository holds the regular (non-emergency) releases.
type AllowlistRepository interface {
	CurrentRelease(ctx context.Context) (domain.Allowlist, error)
	PublishRelease(ctx context.Context, a domain.Allowlist) error
}

// OverrideKey identifies an override row. Overrides are unique per push and
// domain, which is what makes re-running a push harmless.
type OverrideKey struct {
	PushID string
	Domain string
}

type OverrideRepository interface {
	ListOverrides(ctx context.Context) ([]domain.EmergencyOverrideEntry, error)
	DeleteOverrides(ctx context.Context, keys []OverrideKey) error
}

// PushRepository stores emergency push records. Status changes are
// compare-and-set against the expected current status.
type PushRepository interface {
	// CreatePush inserts rec in pending state. created is false when a record
	// with the same id already exists; the stored record is left untouched.
	CreatePush(ctx context.Context, rec domain.EmergencyPushRecord) (created bool, err error)
	GetPush(ctx context.Context, id string) (domain.EmergencyPushRecord, error)
	ListPushes(ctx context.Context, limit int) ([]domain.EmergencyPushRecord, error)
	ListPushesByStatus(ctx context.Context, status domain.PushStatus) ([]domain.EmergencyPushRecord, error)
	// MarkPropagated writes overrides and moves the push pending -> propagated
	// atomically. inserted counts overrides that did not exist before.
	MarkPropagated(ctx context.Context, id string, overrides []domain.EmergencyOverrideEntry, version string, at time.Time) (inserted int, err error)
	MarkVerified(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

type MatchLogRepository interface {
	InsertMatchLog(ctx context.Context, entry domain.FuzzyMatchLogEntry) error
	TopMisses(ctx context.Context, since time.Time, limit int) ([]domain.MissCount, error)
}

// EmergencyStore is everything the push coordinator persists through.
type EmergencyStore interface {
	AllowlistRepository
	OverrideRepository
	PushRepository
}
