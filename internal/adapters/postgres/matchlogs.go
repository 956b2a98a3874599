package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"crisisguard/internal/domain"
)

func (db *DB) InsertMatchLog(ctx context.Context, e domain.FuzzyMatchLogEntry) error {
	_, err := db.Pool.Exec(ctx, `
        INSERT INTO fuzzy_match_logs (id, input_domain, matched_domain, distance, device_type, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, e.ID, e.InputDomain, e.MatchedDomain, e.Distance, string(e.DeviceType), e.Timestamp)
	return err
}

// TopMisses ranks the typos clients hit most often since the given time.
func (db *DB) TopMisses(ctx context.Context, since time.Time, limit int) ([]domain.MissCount, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Pool.Query(ctx, `
        SELECT input_domain, matched_domain, distance, count(*)
        FROM fuzzy_match_logs
        WHERE created_at >= $1
        GROUP BY input_domain, matched_domain, distance
        ORDER BY count(*) DESC, input_domain
        LIMIT $2
    `, since, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.MissCount, error) {
		var m domain.MissCount
		err := row.Scan(&m.InputDomain, &m.MatchedDomain, &m.Distance, &m.Count)
		return m, err
	})
}
