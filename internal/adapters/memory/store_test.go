package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crisisguard/internal/allowlist"
	"crisisguard/internal/domain"
	"crisisguard/internal/ports"
)

func TestStore_PushLifecycle(t *testing.T) {
	s := New(allowlist.Bundled())
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	entry := domain.CrisisResourceEntry{ID: "n", Domain: "newcrisis.org", Category: domain.CategoryCrisis, Name: "New"}
	rec := domain.EmergencyPushRecord{ID: "p1", Entries: []domain.CrisisResourceEntry{entry}, Reason: "New crisis hotline identified", Timestamp: now}

	created, err := s.CreatePush(ctx, rec)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = s.CreatePush(ctx, rec)
	require.NoError(t, err)
	assert.False(t, created)

	assert.ErrorIs(t, s.MarkVerified(ctx, "p1", now), ports.ErrStatusConflict, "pending cannot jump to verified")

	ov := []domain.EmergencyOverrideEntry{{CrisisResourceEntry: entry, AddedAt: now, Reason: rec.Reason, PushID: "p1"}}
	n, err := s.MarkPropagated(ctx, "p1", ov, "v-emergency-p1", now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = s.MarkPropagated(ctx, "p1", ov, "v-emergency-p1", now)
	assert.ErrorIs(t, err, ports.ErrStatusConflict)

	require.NoError(t, s.MarkFailed(ctx, "p1", "not visible"))
	assert.ErrorIs(t, s.MarkVerified(ctx, "p1", now), ports.ErrStatusConflict)

	got, err := s.GetPush(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PushFailed, got.Status)
	require.NotNil(t, got.FailureReason)

	failed, err := s.ListPushesByStatus(ctx, domain.PushFailed)
	require.NoError(t, err)
	assert.Len(t, failed, 1)

	_, err = s.GetPush(ctx, "missing")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	overrides, err := s.ListOverrides(ctx)
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	require.NoError(t, s.DeleteOverrides(ctx, []ports.OverrideKey{{PushID: "p1", Domain: "newcrisis.org"}}))
	overrides, err = s.ListOverrides(ctx)
	require.NoError(t, err)
	assert.Empty(t, overrides)
}

func TestStore_EmptyRelease(t *testing.T) {
	s := New(domain.Allowlist{})
	_, err := s.CurrentRelease(context.Background())
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestCounter_Window(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	c := NewCounter(func() time.Time { return now })
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := c.Increment(ctx, "k", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	now = now.Add(2 * time.Hour)
	n, err := c.Increment(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "expired window starts over")
}
