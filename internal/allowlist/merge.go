package allowlist

import (
	"sort"
	"strings"

	"crisisguard/internal/domain"
)

const emergencyMarker = "-emergency-"

// EmergencyVersion stamps a base release version with the push that extended
// it, e.g. "2026.10.1-emergency-<pushId>". A base that already carries a stamp
// is re-stamped rather than stacked.
func EmergencyVersion(base, pushID string) string {
	if i := strings.Index(base, emergencyMarker); i >= 0 {
		base = base[:i]
	}
	return base + emergencyMarker + pushID
}

// IsEmergencyVersion reports whether v was produced by EmergencyVersion.
func IsEmergencyVersion(v string) bool { return strings.Contains(v, emergencyMarker) }

// Merge unions overrides into base keyed by domain. An override replaces a
// same-domain base entry in place; new domains are appended in AddedAt order.
// Neither input is modified.
func Merge(base domain.Allowlist, overrides []domain.EmergencyOverrideEntry) domain.Allowlist {
	out := Clone(base)
	if len(overrides) == 0 {
		return out
	}
	ordered := SortOverrides(overrides)

	index := make(map[string]int, len(out.Entries))
	for i, e := range out.Entries {
		index[e.Domain] = i
	}
	latest := ""
	for _, o := range ordered {
		e := cloneEntry(o.CrisisResourceEntry)
		if i, ok := index[e.Domain]; ok {
			out.Entries[i] = e
		} else {
			index[e.Domain] = len(out.Entries)
			out.Entries = append(out.Entries, e)
		}
		if o.AddedAt.After(out.LastUpdated) {
			out.LastUpdated = o.AddedAt
		}
		latest = o.PushID
	}
	if !IsEmergencyVersion(out.Version) {
		out.Version = EmergencyVersion(out.Version, latest)
	}
	return out
}

// SortOverrides returns a copy ordered by AddedAt, then push id and domain so
// the result is stable across sources.
func SortOverrides(overrides []domain.EmergencyOverrideEntry) []domain.EmergencyOverrideEntry {
	out := append([]domain.EmergencyOverrideEntry(nil), overrides...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.Before(out[j].AddedAt)
		}
		if out[i].PushID != out[j].PushID {
			return out[i].PushID < out[j].PushID
		}
		return out[i].Domain < out[j].Domain
	})
	return out
}

// Subsumed returns the overrides whose domain is already present in base with
// the same category. A regular release that contains them makes them
// redundant.
func Subsumed(base domain.Allowlist, overrides []domain.EmergencyOverrideEntry) []domain.EmergencyOverrideEntry {
	cats := make(map[string]domain.Category, len(base.Entries))
	for _, e := range base.Entries {
		cats[e.Domain] = e.Category
	}
	var out []domain.EmergencyOverrideEntry
	for _, o := range overrides {
		if c, ok := cats[o.Domain]; ok && c == o.Category {
			out = append(out, o)
		}
	}
	return out
}

// Remaining is overrides minus Subsumed(base, overrides).
func Remaining(base domain.Allowlist, overrides []domain.EmergencyOverrideEntry) []domain.EmergencyOverrideEntry {
	gone := make(map[string]struct{})
	for _, o := range Subsumed(base, overrides) {
		gone[o.PushID+"|"+o.Domain] = struct{}{}
	}
	var out []domain.EmergencyOverrideEntry
	for _, o := range overrides {
		if _, ok := gone[o.PushID+"|"+o.Domain]; !ok {
			out = append(out, o)
		}
	}
	return out
}
