package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"crisisguard/internal/domain"
	"crisisguard/internal/ports"
)

const pushColumns = `id::text, entries, reason, operator, created_at, status,
        emergency_version, propagated_at, verified_at, failure_reason`

func scanPush(row pgx.Row) (domain.EmergencyPushRecord, error) {
	var (
		rec      domain.EmergencyPushRecord
		operator *string
		version  *string
		status   string
	)
	err := row.Scan(&rec.ID, &rec.Entries, &rec.Reason, &operator, &rec.Timestamp, &status,
		&version, &rec.PropagatedAt, &rec.VerifiedAt, &rec.FailureReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, ports.ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	rec.Status = domain.PushStatus(status)
	if operator != nil {
		rec.Operator = *operator
	}
	if version != nil {
		rec.EmergencyVersion = *version
	}
	return rec, nil
}

func (db *DB) CreatePush(ctx context.Context, rec domain.EmergencyPushRecord) (bool, error) {
	var operator *string
	if rec.Operator != "" {
		operator = &rec.Operator
	}
	tag, err := db.Pool.Exec(ctx, `
        INSERT INTO emergency_pushes (id, entries, reason, operator, created_at, status)
        VALUES ($1, $2, $3, $4, $5, 'pending')
        ON CONFLICT (id) DO NOTHING
    `, rec.ID, rec.Entries, rec.Reason, operator, rec.Timestamp)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (db *DB) GetPush(ctx context.Context, id string) (domain.EmergencyPushRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.EmergencyPushRecord{}, ports.ErrNotFound
	}
	return scanPush(db.Pool.QueryRow(ctx, `SELECT `+pushColumns+` FROM emergency_pushes WHERE id = $1`, id))
}

func (db *DB) ListPushes(ctx context.Context, limit int) ([]domain.EmergencyPushRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	return db.queryPushes(ctx, `SELECT `+pushColumns+` FROM emergency_pushes ORDER BY created_at DESC LIMIT $1`, limit)
}

func (db *DB) ListPushesByStatus(ctx context.Context, status domain.PushStatus) ([]domain.EmergencyPushRecord, error) {
	return db.queryPushes(ctx, `SELECT `+pushColumns+` FROM emergency_pushes WHERE status = $1 ORDER BY created_at`, string(status))
}

func (db *DB) queryPushes(ctx context.Context, sql string, args ...any) ([]domain.EmergencyPushRecord, error) {
	rows, err := db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.EmergencyPushRecord, error) {
		return scanPush(row)
	})
}

// MarkPropagated writes the override rows and flips the push to propagated in
// one transaction. The status row is locked first so concurrent re-runs of the
// same push serialize here.
func (db *DB) MarkPropagated(ctx context.Context, id string, overrides []domain.EmergencyOverrideEntry, version string, at time.Time) (inserted int, err error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM emergency_pushes WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ports.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	if !domain.PushStatus(status).CanTransition(domain.PushPropagated) {
		return 0, ports.ErrStatusConflict
	}

	for _, o := range overrides {
		tag, execErr := tx.Exec(ctx, `
            INSERT INTO emergency_overrides (push_id, domain, category, entry, reason, added_at)
            VALUES ($1, $2, $3, $4, $5, $6)
            ON CONFLICT (push_id, domain) DO NOTHING
        `, o.PushID, o.Domain, string(o.Category), o.CrisisResourceEntry, o.Reason, o.AddedAt)
		if execErr != nil {
			err = execErr
			return 0, err
		}
		inserted += int(tag.RowsAffected())
	}
	if _, err = tx.Exec(ctx, `
        UPDATE emergency_pushes SET status = 'propagated', emergency_version = $2, propagated_at = $3 WHERE id = $1
    `, id, version, at); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (db *DB) MarkVerified(ctx context.Context, id string, at time.Time) error {
	return db.finish(ctx, `
        UPDATE emergency_pushes SET status = 'verified', verified_at = $2
        WHERE id = $1 AND status = 'propagated'
    `, id, at)
}

func (db *DB) MarkFailed(ctx context.Context, id string, reason string) error {
	return db.finish(ctx, `
        UPDATE emergency_pushes SET status = 'failed', failure_reason = $2
        WHERE id = $1 AND status = 'propagated'
    `, id, reason)
}

func (db *DB) finish(ctx context.Context, sql string, id string, arg any) error {
	tag, err := db.Pool.Exec(ctx, sql, id, arg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := db.GetPush(ctx, id); err != nil {
		return err
	}
	return ports.ErrStatusConflict
}
