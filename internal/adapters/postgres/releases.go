package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"crisisguard/internal/domain"
	"crisisguard/internal/ports"
)

// CurrentRelease returns the most recently published regular release.
func (db *DB) CurrentRelease(ctx context.Context) (domain.Allowlist, error) {
	var a domain.Allowlist
	err := db.Pool.QueryRow(ctx, `
        SELECT version, last_updated FROM allowlist_releases
        ORDER BY published_at DESC
        LIMIT 1
    `).Scan(&a.Version, &a.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, ports.ErrNotFound
	}
	if err != nil {
		return a, err
	}

	rows, err := db.Pool.Query(ctx, `
        SELECT entry FROM crisis_resources
        WHERE release_version = $1
        ORDER BY position
    `, a.Version)
	if err != nil {
		return a, err
	}
	a.Entries, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CrisisResourceEntry, error) {
		var e domain.CrisisResourceEntry
		err := row.Scan(&e)
		return e, err
	})
	return a, err
}

// PublishRelease stores a new release and makes it current. Publishing the
// same version twice is an error; releases are immutable once written.
func (db *DB) PublishRelease(ctx context.Context, a domain.Allowlist) (err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `
        INSERT INTO allowlist_releases (version, last_updated) VALUES ($1, $2)
    `, a.Version, a.LastUpdated); err != nil {
		return fmt.Errorf("insert release %s: %w", a.Version, err)
	}
	batch := &pgx.Batch{}
	for i, e := range a.Entries {
		batch.Queue(`
            INSERT INTO crisis_resources (release_version, position, domain, category, entry)
            VALUES ($1, $2, $3, $4, $5)
        `, a.Version, i, e.Domain, string(e.Category), e)
	}
	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert release entries: %w", err)
	}
	return nil
}

func (db *DB) ListOverrides(ctx context.Context) ([]domain.EmergencyOverrideEntry, error) {
	rows, err := db.Pool.Query(ctx, `
        SELECT entry, added_at, reason, push_id::text
        FROM emergency_overrides
        ORDER BY added_at, push_id, domain
    `)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.EmergencyOverrideEntry, error) {
		var o domain.EmergencyOverrideEntry
		err := row.Scan(&o.CrisisResourceEntry, &o.AddedAt, &o.Reason, &o.PushID)
		return o, err
	})
}

func (db *DB) DeleteOverrides(ctx context.Context, keys []ports.OverrideKey) error {
	if len(keys) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, k := range keys {
		batch.Queue(`DELETE FROM emergency_overrides WHERE push_id = $1 AND domain = $2`, k.PushID, k.Domain)
	}
	return db.Pool.SendBatch(ctx, batch).Close()
}
