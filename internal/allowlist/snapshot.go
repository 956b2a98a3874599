package allowlist

import (
	"time"

	"crisisguard/internal/domain"
	"crisisguard/internal/matcher"
)

// Snapshot is an immutable, indexed view of the active allowlist. It is built
// off to the side and published whole; nothing mutates it afterwards, so
// readers need no locks.
type Snapshot struct {
	List      domain.Allowlist
	Base      domain.Allowlist
	Overrides []domain.EmergencyOverrideEntry
	Source    domain.CacheSource
	FetchedAt time.Time

	exact      map[string]int
	alias      map[string]int
	wildcards  []wildcard
	candidates []string
}

type wildcard struct {
	pattern string
	entry   int
}

// NewSnapshot merges overrides into base and builds the lookup indexes.
// fetchedAt is when base was obtained from its source.
func NewSnapshot(base domain.Allowlist, overrides []domain.EmergencyOverrideEntry, source domain.CacheSource, fetchedAt time.Time) *Snapshot {
	merged := Merge(base, overrides)
	s := &Snapshot{
		List:      merged,
		Base:      Clone(base),
		Overrides: SortOverrides(overrides),
		Source:    source,
		FetchedAt: fetchedAt,
		exact:     make(map[string]int, len(merged.Entries)),
		alias:     make(map[string]int),
	}
	for i, e := range merged.Entries {
		if _, dup := s.exact[e.Domain]; !dup {
			s.exact[e.Domain] = i
		}
		for _, a := range e.Aliases {
			if _, dup := s.alias[a]; !dup {
				s.alias[a] = i
			}
		}
		for _, p := range e.WildcardPatterns {
			s.wildcards = append(s.wildcards, wildcard{pattern: p, entry: i})
		}
	}
	s.candidates = matcher.Candidates(merged)
	return s
}

// HitKind says which lookup found a domain.
type HitKind int

const (
	HitNone HitKind = iota
	HitExact
	HitAlias
	HitWildcard
)

// Lookup checks a normalized domain against canonical domains, aliases and
// wildcard patterns, in that order. A nil snapshot finds nothing.
func (s *Snapshot) Lookup(host string) (domain.CrisisResourceEntry, HitKind) {
	if s == nil || host == "" {
		return domain.CrisisResourceEntry{}, HitNone
	}
	if i, ok := s.exact[host]; ok {
		return s.List.Entries[i], HitExact
	}
	if i, ok := s.alias[host]; ok {
		return s.List.Entries[i], HitAlias
	}
	for _, w := range s.wildcards {
		if matcher.MatchGlob(w.pattern, host) {
			return s.List.Entries[w.entry], HitWildcard
		}
	}
	return domain.CrisisResourceEntry{}, HitNone
}

// Candidates is the fuzzy-match candidate list in priority order.
func (s *Snapshot) Candidates() []string {
	if s == nil {
		return nil
	}
	return s.candidates
}

// Status reports freshness as of now. Network and cache data older than ttl
// is reported invalid; bundled data never expires. ttl <= 0 disables expiry.
func (s *Snapshot) Status(now time.Time, ttl time.Duration) domain.CacheStatus {
	if s == nil {
		return domain.CacheStatus{}
	}
	elapsed := now.Sub(s.FetchedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	valid := len(s.List.Entries) > 0
	if s.Source != domain.SourceBundled && ttl > 0 && elapsed > ttl {
		valid = false
	}
	return domain.CacheStatus{
		IsValid: valid,
		AgeMs:   elapsed.Milliseconds(),
		Version: s.List.Version,
		Source:  s.Source,
	}
}

// ByCategory returns up to limit entries of the given category in list order.
func (s *Snapshot) ByCategory(c domain.Category, limit int) []domain.CrisisResourceEntry {
	if s == nil {
		return nil
	}
	var out []domain.CrisisResourceEntry
	for _, e := range s.List.Entries {
		if e.Category != c {
			continue
		}
		out = append(out, cloneEntry(e))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
