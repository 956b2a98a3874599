package cachemanager

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"crisisguard/internal/adapters/filecache"
	"crisisguard/internal/allowlist"
	"crisisguard/internal/domain"
)

type fakeFetcher struct {
	mu  sync.Mutex
	doc domain.AllowlistDocument
	err error
	// block makes Fetch wait for the context to end
	block bool
}

func (f *fakeFetcher) Fetch(ctx context.Context) (domain.AllowlistDocument, error) {
	f.mu.Lock()
	doc, err, block := f.doc, f.err, f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return domain.AllowlistDocument{}, ctx.Err()
	}
	return doc, err
}

func (f *fakeFetcher) set(doc domain.AllowlistDocument, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doc, f.err = doc, err
}

type throttled struct{ retry time.Duration }

func (t throttled) Error() string { return "429 rate_limited" }

func (t throttled) RateLimited() bool { return true }

func (t throttled) Backoff() time.Duration { return t.retry }

func networkDoc() domain.AllowlistDocument {
	return domain.AllowlistDocument{Allowlist: domain.Allowlist{
		Version:     "2026.10.2",
		LastUpdated: time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC),
		Entries: []domain.CrisisResourceEntry{
			{ID: "988", Domain: "988lifeline.org", Category: domain.CategorySuicide, Name: "988 Lifeline"},
			{ID: "ctl", Domain: "crisistextline.org", Category: domain.CategoryHelp, Name: "Crisis Text Line"},
		},
	}}
}

var t0 = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T, cfg Config) (*Manager, *fakeFetcher, *filecache.Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	f := &fakeFetcher{}
	store := filecache.New(filepath.Join(t.TempDir(), "allowlist.json"))
	m := New(context.Background(), cfg, f, store, zap.NewNop(), clock)
	return m, f, store, clock
}

func TestColdStart_Bundled(t *testing.T) {
	m, _, _, _ := setup(t, DefaultConfig())

	list, st := m.GetActiveAllowlist()
	assert.Equal(t, domain.SourceBundled, st.Source)
	assert.True(t, st.IsValid)
	assert.Equal(t, allowlist.Bundled().Version, list.Version)
	assert.NotNil(t, m.Active())
}

func TestColdStart_PersistedCache(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	store := filecache.New(filepath.Join(t.TempDir(), "allowlist.json"))
	f := &fakeFetcher{doc: networkDoc()}

	first := New(context.Background(), DefaultConfig(), f, store, zap.NewNop(), clock)
	require.NoError(t, first.Refresh(context.Background()))

	clock.Advance(time.Hour)
	second := New(context.Background(), DefaultConfig(), f, store, zap.NewNop(), clock)
	st := second.Status()
	assert.Equal(t, domain.SourceCache, st.Source)
	assert.Equal(t, "2026.10.2", st.Version)
	assert.Equal(t, time.Hour.Milliseconds(), st.AgeMs)

	clock.Advance(24 * time.Hour)
	third := New(context.Background(), DefaultConfig(), f, store, zap.NewNop(), clock)
	assert.Equal(t, domain.SourceBundled, third.Status().Source, "stale cache is ignored at startup")
}

func TestRefresh_Success(t *testing.T) {
	m, f, store, _ := setup(t, DefaultConfig())
	f.set(networkDoc(), nil)

	require.NoError(t, m.Refresh(context.Background()))
	st := m.Status()
	assert.Equal(t, domain.SourceNetwork, st.Source)
	assert.True(t, st.IsValid)
	assert.Equal(t, "2026.10.2", st.Version)

	p, found, err := store.Load(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2026.10.2", p.Document.Version)
	assert.Equal(t, t0, p.FetchedAt.UTC())
}

func TestRefresh_FailureWithinTTLServesCache(t *testing.T) {
	m, f, _, clock := setup(t, DefaultConfig())
	f.set(networkDoc(), nil)
	require.NoError(t, m.Refresh(context.Background()))

	clock.Advance(3 * time.Hour)
	f.set(domain.AllowlistDocument{}, errors.New("connection refused"))
	err := m.Refresh(context.Background())

	var rerr *RefreshError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, KindTransport, rerr.Kind)

	st := m.Status()
	assert.Equal(t, domain.SourceCache, st.Source)
	assert.True(t, st.IsValid)
	assert.Equal(t, "2026.10.2", st.Version)
}

func TestRefresh_FailurePastTTLFallsBackToBundled(t *testing.T) {
	m, f, _, clock := setup(t, DefaultConfig())
	f.set(networkDoc(), nil)
	require.NoError(t, m.Refresh(context.Background()))

	clock.Advance(25 * time.Hour)
	f.set(domain.AllowlistDocument{}, errors.New("connection refused"))
	require.Error(t, m.Refresh(context.Background()))

	st := m.Status()
	assert.Equal(t, domain.SourceBundled, st.Source)
	assert.True(t, st.IsValid)
	assert.Equal(t, allowlist.Bundled().Version, st.Version)
}

func TestRefresh_NoBundledFallbackKeepsStaleData(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UseBundledFallback = false
	m, f, _, clock := setup(t, cfg)
	f.set(networkDoc(), nil)
	require.NoError(t, m.Refresh(context.Background()))

	clock.Advance(25 * time.Hour)
	f.set(domain.AllowlistDocument{}, errors.New("connection refused"))
	require.Error(t, m.Refresh(context.Background()))

	st := m.Status()
	assert.Equal(t, domain.SourceNetwork, st.Source)
	assert.False(t, st.IsValid)
	assert.Equal(t, "2026.10.2", st.Version)
}

func TestRefresh_TimeoutWithNoCacheServesBundled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NetworkTimeout = 20 * time.Millisecond
	m, f, _, _ := setup(t, cfg)
	f.mu.Lock()
	f.block = true
	f.mu.Unlock()

	err := m.Refresh(context.Background())
	var rerr *RefreshError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, KindTimeout, rerr.Kind)

	list, st := m.GetActiveAllowlist()
	assert.Equal(t, domain.SourceBundled, st.Source)
	assert.True(t, st.IsValid)
	assert.Equal(t, allowlist.Bundled().Entries, list.Entries)
}

func TestRefresh_InvalidResponseRejectedWhole(t *testing.T) {
	m, f, _, _ := setup(t, DefaultConfig())
	f.set(domain.AllowlistDocument{}, domain.ValidateAllowlist(domain.Allowlist{Version: "x"}))

	err := m.Refresh(context.Background())
	var rerr *RefreshError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, KindInvalid, rerr.Kind)
	assert.ErrorIs(t, err, domain.ErrInvalidAllowlist)
	assert.Equal(t, domain.SourceBundled, m.Status().Source)
}

func TestRefresh_RateLimitedCarriesBackoff(t *testing.T) {
	m, f, _, _ := setup(t, DefaultConfig())
	f.set(domain.AllowlistDocument{}, throttled{retry: 2 * time.Minute})

	err := m.Refresh(context.Background())
	var rerr *RefreshError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, KindRateLimited, rerr.Kind)
	assert.Equal(t, 2*time.Minute, rerr.Backoff())
}

func TestRefresh_MergesOverrides(t *testing.T) {
	m, f, store, _ := setup(t, DefaultConfig())
	doc := networkDoc()
	doc.Overrides = []domain.EmergencyOverrideEntry{{
		CrisisResourceEntry: domain.CrisisResourceEntry{ID: "new", Domain: "newcrisis.org", Category: domain.CategoryCrisis, Name: "New Crisis Line"},
		AddedAt:             t0.Add(-time.Minute),
		Reason:              "New crisis hotline identified",
		PushID:              "8a6e0804-2bd0-4672-b79d-d97027f9071a",
	}}
	f.set(doc, nil)
	require.NoError(t, m.Refresh(context.Background()))

	snap := m.Active()
	e, kind := snap.Lookup("newcrisis.org")
	assert.Equal(t, allowlist.HitExact, kind)
	assert.Equal(t, domain.CategoryCrisis, e.Category)
	assert.Equal(t, "2026.10.2-emergency-8a6e0804-2bd0-4672-b79d-d97027f9071a", snap.List.Version)

	// the cache holds base and overrides separately
	p, _, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, p.Document.Entries, 2)
	assert.Len(t, p.Document.Overrides, 1)
}

func TestReadsDuringRefresh(t *testing.T) {
	m, f, _, _ := setup(t, DefaultConfig())
	f.set(networkDoc(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				// both bundled and network lists carry 988lifeline.org
				_, kind := m.Active().Lookup("988lifeline.org")
				if !assert.Equal(t, allowlist.HitExact, kind) {
					return
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			f.set(networkDoc(), nil)
		} else {
			f.set(domain.AllowlistDocument{}, errors.New("flaky"))
		}
		_ = m.Refresh(context.Background())
	}
	cancel()
	wg.Wait()
}

func TestStartAndShutdown(t *testing.T) {
	cfg := DefaultConfig()
	m, f, _, clock := setup(t, cfg)
	f.set(networkDoc(), nil)

	m.Start(context.Background())
	require.Eventually(t, func() bool { return m.Status().Source == domain.SourceNetwork }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	m.Shutdown()
}
