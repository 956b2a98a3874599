package guard

import (
	"time"

	"crisisguard/internal/allowlist"
	"crisisguard/internal/domain"
	"crisisguard/internal/matcher"
	"crisisguard/internal/ports"
)

// Snapshots supplies the allowlist in effect right now.
type Snapshots interface {
	Active() *allowlist.Snapshot
}

// Guard decides whether a monitoring action may observe a URL. It reads the
// active snapshot and performs no I/O of its own. It has no logger.
type Guard struct {
	snapshots Snapshots
	matcher   *matcher.Matcher
	reporter  ports.MatchReporter
	device    domain.DeviceType
	now       func() time.Time
}

// New builds a guard. reporter may be nil, in which case fuzzy hits still
// block but are not reported.
func New(snapshots Snapshots, m *matcher.Matcher, reporter ports.MatchReporter, device domain.DeviceType) *Guard {
	if m == nil {
		m = matcher.New(matcher.DefaultOptions())
	}
	return &Guard{snapshots: snapshots, matcher: m, reporter: reporter, device: device, now: time.Now}
}

// Evaluate is total: it never panics and never returns an error. Any crisis
// URL blocks every action. If evaluation itself fails the action is blocked.
func (g *Guard) Evaluate(rawURL string, action domain.MonitoringAction) (d domain.BlockingDecision) {
	defer func() {
		if recover() != nil {
			d = domain.BlockingDecision{Action: action, Blocked: true, Reason: domain.ReasonCrisisResource}
		}
	}()
	d = domain.BlockingDecision{Action: action}
	if g.isCrisis(rawURL) {
		d.Blocked = true
		d.Reason = domain.ReasonCrisisResource
		d.TriggerURL = rawURL
	}
	return d
}

// IsCrisisURL reports whether rawURL belongs to a crisis resource, including
// near-miss spellings.
func (g *Guard) IsCrisisURL(rawURL string) (crisis bool) {
	defer func() {
		if recover() != nil {
			crisis = true
		}
	}()
	return g.isCrisis(rawURL)
}

func (g *Guard) ShouldBlockScreenshot(rawURL string) bool {
	return g.Evaluate(rawURL, domain.ActionScreenshot).Blocked
}

func (g *Guard) ShouldBlockURLLogging(rawURL string) bool {
	return g.Evaluate(rawURL, domain.ActionURLLogging).Blocked
}

func (g *Guard) ShouldBlockTimeTracking(rawURL string) bool {
	return g.Evaluate(rawURL, domain.ActionTimeTracking).Blocked
}

func (g *Guard) ShouldBlockNotification(rawURL string) bool {
	return g.Evaluate(rawURL, domain.ActionNotification).Blocked
}

func (g *Guard) ShouldBlockAnalytics(rawURL string) bool {
	return g.Evaluate(rawURL, domain.ActionAnalytics).Blocked
}

func (g *Guard) ShouldBlockAll(rawURL string) bool {
	return g.Evaluate(rawURL, domain.ActionAll).Blocked
}

func (g *Guard) isCrisis(rawURL string) bool {
	host := matcher.Normalize(rawURL)
	if host == "" {
		return false
	}
	snap := g.snapshots.Active()
	if _, kind := snap.Lookup(host); kind != allowlist.HitNone {
		return true
	}

	input := host
	m, ok := g.matcher.MatchCandidates(host, snap.Candidates())
	if !ok {
		// a misspelled resource behind a subdomain, e.g. chat.988lifline.org
		if reg := matcher.RegistrableDomain(host); reg != host {
			if _, kind := snap.Lookup(reg); kind != allowlist.HitNone {
				return false
			}
			input = reg
			m, ok = g.matcher.MatchCandidates(reg, snap.Candidates())
		}
	}
	if !ok {
		return false
	}
	if g.reporter != nil {
		g.reporter.Report(domain.FuzzyMatchLogEntry{
			InputDomain:   input,
			MatchedDomain: m.MatchedDomain,
			Distance:      m.Distance,
			DeviceType:    g.device,
			Timestamp:     g.now().UTC(),
		})
	}
	return true
}
