//go:build integration

package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crisisguard/internal/domain"
	"crisisguard/internal/ports"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(ctx))
	return db
}

func TestReleases_PublishAndRead(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	version := "it-" + uuid.NewString()
	release := domain.Allowlist{
		Version:     version,
		LastUpdated: time.Now().UTC().Truncate(time.Microsecond),
		Entries: []domain.CrisisResourceEntry{
			{ID: "988", Domain: "988lifeline.org", Category: domain.CategorySuicide, Name: "988", Aliases: []string{"988.org"}},
			{ID: "ctl", Domain: "crisistextline.org", Category: domain.CategoryHelp, Name: "Crisis Text Line"},
		},
	}
	require.NoError(t, db.PublishRelease(ctx, release))
	assert.Error(t, db.PublishRelease(ctx, release), "releases are immutable")

	got, err := db.CurrentRelease(ctx)
	require.NoError(t, err)
	assert.Equal(t, version, got.Version)
	require.Len(t, got.Entries, 2)
	assert.Equal(t, "988lifeline.org", got.Entries[0].Domain)
	assert.Equal(t, []string{"988.org"}, got.Entries[0].Aliases)
}

func TestPushes_Lifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	id := uuid.NewString()
	now := time.Now().UTC().Truncate(time.Microsecond)
	entry := domain.CrisisResourceEntry{ID: "n", Domain: "it-" + id[:8] + ".org", Category: domain.CategoryHelp, Name: "New"}
	rec := domain.EmergencyPushRecord{ID: id, Entries: []domain.CrisisResourceEntry{entry}, Reason: "New crisis hotline identified", Timestamp: now}

	created, err := db.CreatePush(ctx, rec)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = db.CreatePush(ctx, rec)
	require.NoError(t, err)
	assert.False(t, created)

	ov := []domain.EmergencyOverrideEntry{{CrisisResourceEntry: entry, AddedAt: now, Reason: rec.Reason, PushID: id}}
	n, err := db.MarkPropagated(ctx, id, ov, "v-emergency-"+id, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = db.MarkPropagated(ctx, id, ov, "v-emergency-"+id, now)
	assert.ErrorIs(t, err, ports.ErrStatusConflict)

	require.NoError(t, db.MarkVerified(ctx, id, now.Add(15*time.Minute)))
	assert.ErrorIs(t, db.MarkFailed(ctx, id, "late"), ports.ErrStatusConflict)

	got, err := db.GetPush(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PushVerified, got.Status)
	require.NotNil(t, got.VerifiedAt)

	overrides, err := db.ListOverrides(ctx)
	require.NoError(t, err)
	found := false
	for _, o := range overrides {
		if o.PushID == id {
			found = true
			assert.Equal(t, entry.Domain, o.Domain)
		}
	}
	assert.True(t, found)
	require.NoError(t, db.DeleteOverrides(ctx, []ports.OverrideKey{{PushID: id, Domain: entry.Domain}}))

	_, err = db.GetPush(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestMatchLogs_TopMisses(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	start := time.Now().UTC()

	for i := 0; i < 3; i++ {
		require.NoError(t, db.InsertMatchLog(ctx, domain.FuzzyMatchLogEntry{
			ID: uuid.NewString(), InputDomain: "988lifline.org", MatchedDomain: "988lifeline.org",
			Distance: 1, DeviceType: domain.DeviceAndroid, Timestamp: start,
		}))
	}
	top, err := db.TopMisses(ctx, start.Add(-time.Second), 10)
	require.NoError(t, err)
	require.NotEmpty(t, top)
	assert.Equal(t, "988lifline.org", top[0].InputDomain)
	assert.GreaterOrEqual(t, top[0].Count, int64(3))
}
