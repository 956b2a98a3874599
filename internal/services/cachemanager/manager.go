package cachemanager

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"crisisguard/internal/allowlist"
	"crisisguard/internal/domain"
	"crisisguard/internal/ports"
	"crisisguard/internal/workers/refresher"
)

type Config struct {
	NetworkTimeout     time.Duration
	TTL                time.Duration
	RefreshInterval    time.Duration
	UseBundledFallback bool
}

func DefaultConfig() Config {
	return Config{
		NetworkTimeout:     5 * time.Second,
		TTL:                24 * time.Hour,
		RefreshInterval:    15 * time.Minute,
		UseBundledFallback: true,
	}
}

type ErrorKind string

const (
	KindTransport   ErrorKind = "transport"
	KindTimeout     ErrorKind = "timeout"
	KindInvalid     ErrorKind = "invalid"
	KindRateLimited ErrorKind = "rate_limited"
)

// RefreshError describes a failed refresh. It is informational: by the time
// it is returned the manager has already fallen back to the best data it has.
type RefreshError struct {
	Kind       ErrorKind
	Err        error
	RetryAfter time.Duration
}

func (e *RefreshError) Error() string { return fmt.Sprintf("refresh %s: %v", e.Kind, e.Err) }

func (e *RefreshError) Unwrap() error { return e.Err }

// Backoff lets the refresh loop stretch its next wait.
func (e *RefreshError) Backoff() time.Duration { return e.RetryAfter }

// Manager owns the active allowlist snapshot. Reads are lock-free loads of an
// immutable snapshot; refreshes build a new one and swap it in.
type Manager struct {
	cfg     Config
	fetcher ports.AllowlistFetcher
	store   ports.SnapshotStore
	logger  *zap.Logger
	clock   clockwork.Clock

	active    atomic.Pointer[allowlist.Snapshot]
	refreshMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New publishes the bundled allowlist before returning, then replaces it with
// the persisted cache when that is still within TTL. store may be nil.
func New(ctx context.Context, cfg Config, fetcher ports.AllowlistFetcher, store ports.SnapshotStore, logger *zap.Logger, clock clockwork.Clock) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	m := &Manager{cfg: cfg, fetcher: fetcher, store: store, logger: logger, clock: clock}
	m.active.Store(allowlist.NewSnapshot(allowlist.Bundled(), nil, domain.SourceBundled, clock.Now()))

	if p, ok := m.loadPersisted(ctx); ok {
		m.active.Store(allowlist.NewSnapshot(p.Document.Allowlist, p.Document.Overrides, domain.SourceCache, p.FetchedAt))
		logger.Info("allowlist loaded from cache", zap.String("version", p.Document.Version))
	}
	return m
}

// Active never returns nil.
func (m *Manager) Active() *allowlist.Snapshot { return m.active.Load() }

// GetActiveAllowlist returns a copy of the merged allowlist and its status.
func (m *Manager) GetActiveAllowlist() (domain.Allowlist, domain.CacheStatus) {
	s := m.active.Load()
	return allowlist.Clone(s.List), s.Status(m.clock.Now(), m.cfg.TTL)
}

func (m *Manager) Status() domain.CacheStatus {
	return m.active.Load().Status(m.clock.Now(), m.cfg.TTL)
}

// Refresh fetches the allowlist once. On failure the manager degrades to the
// cache within TTL, then to the bundled list, and reports what went wrong.
// Concurrent calls are serialized.
func (m *Manager) Refresh(ctx context.Context) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	fctx, cancel := context.WithTimeout(ctx, m.cfg.NetworkTimeout)
	doc, err := m.fetcher.Fetch(fctx)
	cancel()
	if err != nil {
		rerr := classify(err)
		m.fallback(ctx)
		s := m.active.Load()
		m.logger.Warn("allowlist refresh failed",
			zap.String("kind", string(rerr.Kind)),
			zap.Error(err),
			zap.String("serving", string(s.Source)),
			zap.String("version", s.List.Version),
		)
		return rerr
	}

	now := m.clock.Now()
	snap := allowlist.NewSnapshot(doc.Allowlist, doc.Overrides, domain.SourceNetwork, now)
	m.active.Store(snap)
	if m.store != nil {
		if err := m.store.Save(ctx, ports.PersistedAllowlist{Document: doc, FetchedAt: now}); err != nil {
			m.logger.Warn("persist allowlist cache", zap.Error(err))
		}
	}
	m.logger.Info("allowlist refreshed",
		zap.String("version", snap.List.Version),
		zap.Int("entries", len(snap.List.Entries)),
		zap.Int("overrides", len(snap.Overrides)),
	)
	return nil
}

func (m *Manager) fallback(ctx context.Context) {
	now := m.clock.Now()
	cur := m.active.Load()
	if cur.Source != domain.SourceBundled && m.fresh(cur.FetchedAt, now) {
		if cur.Source == domain.SourceNetwork {
			m.active.Store(allowlist.NewSnapshot(cur.Base, cur.Overrides, domain.SourceCache, cur.FetchedAt))
		}
		return
	}
	if p, ok := m.loadPersisted(ctx); ok {
		m.active.Store(allowlist.NewSnapshot(p.Document.Allowlist, p.Document.Overrides, domain.SourceCache, p.FetchedAt))
		return
	}
	if m.cfg.UseBundledFallback {
		if cur.Source != domain.SourceBundled {
			m.active.Store(allowlist.NewSnapshot(allowlist.Bundled(), nil, domain.SourceBundled, now))
		}
		return
	}
	// keep serving stale data; Status reports it invalid
}

func (m *Manager) loadPersisted(ctx context.Context) (ports.PersistedAllowlist, bool) {
	if m.store == nil {
		return ports.PersistedAllowlist{}, false
	}
	p, found, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Warn("allowlist cache unreadable", zap.Error(err))
		return ports.PersistedAllowlist{}, false
	}
	if !found || !m.fresh(p.FetchedAt, m.clock.Now()) {
		return ports.PersistedAllowlist{}, false
	}
	return p, true
}

func (m *Manager) fresh(fetchedAt, now time.Time) bool {
	return m.cfg.TTL <= 0 || now.Sub(fetchedAt) <= m.cfg.TTL
}

// Start runs the background refresh loop until Shutdown or ctx ends.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		refresher.Run(ctx, m, m.cfg.RefreshInterval, m.clock, m.logger)
	}()
}

func (m *Manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func classify(err error) *RefreshError {
	var (
		rl interface{ RateLimited() bool }
		bo interface{ Backoff() time.Duration }
		ne net.Error
	)
	re := &RefreshError{Kind: KindTransport, Err: err}
	switch {
	case errors.Is(err, domain.ErrInvalidAllowlist):
		re.Kind = KindInvalid
	case errors.As(err, &rl) && rl.RateLimited():
		re.Kind = KindRateLimited
		if errors.As(err, &bo) {
			re.RetryAfter = bo.Backoff()
		}
	case errors.Is(err, context.DeadlineExceeded):
		re.Kind = KindTimeout
	case errors.As(err, &ne) && ne.Timeout():
		re.Kind = KindTimeout
	}
	return re
}
