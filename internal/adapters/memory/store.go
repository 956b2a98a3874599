package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"crisisguard/internal/allowlist"
	"crisisguard/internal/domain"
	"crisisguard/internal/ports"
)

// Store is an in-process implementation of the server repositories, used by
// tests and by single-node development runs without Postgres.
type Store struct {
	mu        sync.RWMutex
	release   domain.Allowlist
	overrides map[ports.OverrideKey]domain.EmergencyOverrideEntry
	pushes    map[string]domain.EmergencyPushRecord
	logs      []domain.FuzzyMatchLogEntry
}

// New seeds the store with an initial release. A zero release leaves the
// store empty.
func New(release domain.Allowlist) *Store {
	return &Store{
		release:   allowlist.Clone(release),
		overrides: make(map[ports.OverrideKey]domain.EmergencyOverrideEntry),
		pushes:    make(map[string]domain.EmergencyPushRecord),
	}
}

func (s *Store) CurrentRelease(ctx context.Context) (domain.Allowlist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.release.Version == "" {
		return domain.Allowlist{}, ports.ErrNotFound
	}
	return allowlist.Clone(s.release), nil
}

func (s *Store) PublishRelease(ctx context.Context, a domain.Allowlist) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release = allowlist.Clone(a)
	return nil
}

func (s *Store) ListOverrides(ctx context.Context) ([]domain.EmergencyOverrideEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.EmergencyOverrideEntry, 0, len(s.overrides))
	for _, o := range s.overrides {
		out = append(out, o)
	}
	return allowlist.SortOverrides(out), nil
}

func (s *Store) DeleteOverrides(ctx context.Context, keys []ports.OverrideKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.overrides, k)
	}
	return nil
}

func (s *Store) CreatePush(ctx context.Context, rec domain.EmergencyPushRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pushes[rec.ID]; ok {
		return false, nil
	}
	rec.Status = domain.PushPending
	s.pushes[rec.ID] = rec
	return true, nil
}

func (s *Store) GetPush(ctx context.Context, id string) (domain.EmergencyPushRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.pushes[id]
	if !ok {
		return domain.EmergencyPushRecord{}, ports.ErrNotFound
	}
	return rec, nil
}

func (s *Store) ListPushes(ctx context.Context, limit int) ([]domain.EmergencyPushRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.EmergencyPushRecord, 0, len(s.pushes))
	for _, r := range s.pushes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListPushesByStatus(ctx context.Context, status domain.PushStatus) ([]domain.EmergencyPushRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.EmergencyPushRecord
	for _, r := range s.pushes {
		if r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) MarkPropagated(ctx context.Context, id string, overrides []domain.EmergencyOverrideEntry, version string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.pushes[id]
	if !ok {
		return 0, ports.ErrNotFound
	}
	if !rec.Status.CanTransition(domain.PushPropagated) {
		return 0, ports.ErrStatusConflict
	}
	inserted := 0
	for _, o := range overrides {
		k := ports.OverrideKey{PushID: o.PushID, Domain: o.Domain}
		if _, exists := s.overrides[k]; exists {
			continue
		}
		s.overrides[k] = o
		inserted++
	}
	rec.Status = domain.PushPropagated
	rec.EmergencyVersion = version
	rec.PropagatedAt = &at
	s.pushes[id] = rec
	return inserted, nil
}

func (s *Store) MarkVerified(ctx context.Context, id string, at time.Time) error {
	return s.transition(id, domain.PushVerified, func(r *domain.EmergencyPushRecord) { r.VerifiedAt = &at })
}

func (s *Store) MarkFailed(ctx context.Context, id string, reason string) error {
	return s.transition(id, domain.PushFailed, func(r *domain.EmergencyPushRecord) { r.FailureReason = &reason })
}

func (s *Store) transition(id string, to domain.PushStatus, apply func(*domain.EmergencyPushRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.pushes[id]
	if !ok {
		return ports.ErrNotFound
	}
	if !rec.Status.CanTransition(to) {
		return ports.ErrStatusConflict
	}
	rec.Status = to
	apply(&rec)
	s.pushes[id] = rec
	return nil
}

func (s *Store) InsertMatchLog(ctx context.Context, entry domain.FuzzyMatchLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

func (s *Store) TopMisses(ctx context.Context, since time.Time, limit int) ([]domain.MissCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type key struct {
		in, matched string
		distance    int
	}
	counts := make(map[key]int64)
	for _, l := range s.logs {
		if l.Timestamp.Before(since) {
			continue
		}
		counts[key{l.InputDomain, l.MatchedDomain, l.Distance}]++
	}
	out := make([]domain.MissCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, domain.MissCount{InputDomain: k.in, MatchedDomain: k.matched, Distance: k.distance, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].InputDomain < out[j].InputDomain
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MatchLogs returns a copy of everything ingested so far.
func (s *Store) MatchLogs() []domain.FuzzyMatchLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.FuzzyMatchLogEntry(nil), s.logs...)
}

// Counter is an in-process ports.RateLimiter for deployments without Redis.
type Counter struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]counterEntry
}

type counterEntry struct {
	n       int64
	expires time.Time
}

func NewCounter(now func() time.Time) *Counter {
	if now == nil {
		now = time.Now
	}
	return &Counter{now: now, entries: make(map[string]counterEntry)}
}

func (c *Counter) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	e := c.entries[key]
	if !e.expires.IsZero() && !now.Before(e.expires) {
		e = counterEntry{}
	}
	e.n++
	e.expires = now.Add(ttl)
	c.entries[key] = e
	// opportunistic sweep keeps the map bounded by the active window
	if len(c.entries) > 4096 {
		for k, v := range c.entries {
			if !now.Before(v.expires) {
				delete(c.entries, k)
			}
		}
	}
	return e.n, nil
}
