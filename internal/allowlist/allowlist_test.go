package allowlist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crisisguard/internal/domain"
)

func TestBundled(t *testing.T) {
	b := Bundled()
	require.NoError(t, domain.ValidateAllowlist(b))
	assert.NotEmpty(t, b.Entries)
	assert.Equal(t, "988lifeline.org", b.Entries[0].Domain)

	// callers get their own copy
	b.Entries[0].Domain = "mutated.example"
	b.Entries[0].Aliases[0] = "mutated.example"
	again := Bundled()
	assert.Equal(t, "988lifeline.org", again.Entries[0].Domain)
	assert.Equal(t, "suicidepreventionlifeline.org", again.Entries[0].Aliases[0])
}

func TestParse_RejectsInvalid(t *testing.T) {
	_, err := Parse([]byte(`{"version":"1","entries":[{"id":"x","domain":"Bad.ORG","category":"help","name":"x"}]}`))
	assert.ErrorIs(t, err, domain.ErrInvalidAllowlist)

	_, err = Parse([]byte(`{not json`))
	assert.ErrorIs(t, err, domain.ErrInvalidAllowlist)
}

func override(domainName string, cat domain.Category, pushID string, at time.Time) domain.EmergencyOverrideEntry {
	return domain.EmergencyOverrideEntry{
		CrisisResourceEntry: domain.CrisisResourceEntry{ID: "ov-" + domainName, Domain: domainName, Category: cat, Name: domainName},
		AddedAt:             at,
		Reason:              "New crisis hotline identified",
		PushID:              pushID,
	}
}

func TestMerge(t *testing.T) {
	base := domain.Allowlist{
		Version:     "2026.10.1",
		LastUpdated: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		Entries: []domain.CrisisResourceEntry{
			{ID: "a", Domain: "988lifeline.org", Category: domain.CategorySuicide, Name: "988"},
			{ID: "b", Domain: "rainn.org", Category: domain.CategoryAbuse, Name: "RAINN"},
		},
	}
	t0 := time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC)
	ovs := []domain.EmergencyOverrideEntry{
		override("newcrisis.org", domain.CategoryHelp, "push-2", t0.Add(time.Minute)),
		override("rainn.org", domain.CategoryCrisis, "push-1", t0),
	}

	merged := Merge(base, ovs)
	require.Len(t, merged.Entries, 3)
	assert.Equal(t, "988lifeline.org", merged.Entries[0].Domain)
	assert.Equal(t, domain.CategoryCrisis, merged.Entries[1].Category, "override wins for same domain")
	assert.Equal(t, "newcrisis.org", merged.Entries[2].Domain)
	assert.Equal(t, "2026.10.1-emergency-push-2", merged.Version)
	assert.Equal(t, t0.Add(time.Minute), merged.LastUpdated)

	// base untouched
	assert.Equal(t, domain.CategoryAbuse, base.Entries[1].Category)
	assert.Len(t, base.Entries, 2)

	assert.Equal(t, base.Version, Merge(base, nil).Version)
}

func TestEmergencyVersion(t *testing.T) {
	assert.Equal(t, "1.2.3-emergency-abc", EmergencyVersion("1.2.3", "abc"))
	assert.Equal(t, "1.2.3-emergency-def", EmergencyVersion("1.2.3-emergency-abc", "def"))
	assert.True(t, IsEmergencyVersion("1.2.3-emergency-abc"))
	assert.False(t, IsEmergencyVersion("1.2.3"))
}

func TestSubsumedAndRemaining(t *testing.T) {
	base := domain.Allowlist{Version: "2", Entries: []domain.CrisisResourceEntry{
		{ID: "n", Domain: "newcrisis.org", Category: domain.CategoryHelp, Name: "New"},
		{ID: "r", Domain: "rainn.org", Category: domain.CategoryAbuse, Name: "RAINN"},
	}}
	now := time.Now()
	ovs := []domain.EmergencyOverrideEntry{
		override("newcrisis.org", domain.CategoryHelp, "p1", now),
		override("rainn.org", domain.CategoryCrisis, "p1", now), // category differs, still needed
		override("other.org", domain.CategoryHelp, "p2", now),
	}
	sub := Subsumed(base, ovs)
	require.Len(t, sub, 1)
	assert.Equal(t, "newcrisis.org", sub[0].Domain)

	rest := Remaining(base, ovs)
	require.Len(t, rest, 2)
	assert.Equal(t, "rainn.org", rest[0].Domain)
	assert.Equal(t, "other.org", rest[1].Domain)
}

func TestSnapshotLookupOrder(t *testing.T) {
	base := domain.Allowlist{Version: "1", Entries: []domain.CrisisResourceEntry{
		{ID: "t", Domain: "thetrevorproject.org", Category: domain.CategoryLGBTQ, Name: "Trevor",
			Aliases: []string{"trevorproject.org"}, WildcardPatterns: []string{"*.thetrevorproject.org"}},
	}}
	s := NewSnapshot(base, nil, domain.SourceBundled, time.Now())

	_, kind := s.Lookup("thetrevorproject.org")
	assert.Equal(t, HitExact, kind)
	_, kind = s.Lookup("trevorproject.org")
	assert.Equal(t, HitAlias, kind)
	e, kind := s.Lookup("chat.thetrevorproject.org")
	assert.Equal(t, HitWildcard, kind)
	assert.Equal(t, "t", e.ID)
	_, kind = s.Lookup("example.org")
	assert.Equal(t, HitNone, kind)
	_, kind = s.Lookup("")
	assert.Equal(t, HitNone, kind)

	var nilSnap *Snapshot
	_, kind = nilSnap.Lookup("thetrevorproject.org")
	assert.Equal(t, HitNone, kind)
	assert.Equal(t, []string{"thetrevorproject.org", "trevorproject.org"}, s.Candidates())
}

func TestSnapshotStatus(t *testing.T) {
	fetched := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	s := NewSnapshot(Bundled(), nil, domain.SourceCache, fetched)
	st := s.Status(fetched.Add(90*time.Second), time.Hour)
	assert.True(t, st.IsValid)
	assert.Equal(t, int64(90_000), st.AgeMs)
	assert.Equal(t, domain.SourceCache, st.Source)
	assert.Equal(t, Bundled().Version, st.Version)

	assert.False(t, s.Status(fetched.Add(2*time.Hour), time.Hour).IsValid, "cache past ttl")
	b := NewSnapshot(Bundled(), nil, domain.SourceBundled, fetched)
	assert.True(t, b.Status(fetched.Add(1000*time.Hour), time.Hour).IsValid, "bundled never expires")

	assert.Len(t, s.ByCategory(domain.CategoryAbuse, 1), 1)
}
