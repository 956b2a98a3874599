package matcher

import (
	"crisisguard/internal/domain"
)

// Tunable thresholds. Distance 0 is an exact hit and is handled by the
// caller's exact/alias/wildcard lookup.
const (
	MaxDistance    = 2
	MinInputLength = 4
)

type Options struct {
	MaxDistance    int
	MinInputLength int
}

func DefaultOptions() Options {
	return Options{MaxDistance: MaxDistance, MinInputLength: MinInputLength}
}

type Match struct {
	MatchedDomain string
	Distance      int
	Confidence    domain.Confidence
}

// Matcher finds the closest canonical domain or alias within a bounded edit
// distance. It holds no state besides its options and is safe for concurrent
// use.
type Matcher struct {
	opts Options
}

func New(opts Options) *Matcher {
	if opts.MaxDistance <= 0 {
		opts.MaxDistance = MaxDistance
	}
	if opts.MinInputLength <= 0 {
		opts.MinInputLength = MinInputLength
	}
	return &Matcher{opts: opts}
}

// Match runs against a full allowlist.
func (m *Matcher) Match(input string, list domain.Allowlist) (Match, bool) {
	return m.MatchCandidates(input, Candidates(list))
}

// Candidates flattens canonical domains and aliases in list order, which is
// the tie-break order for equal distances.
func Candidates(list domain.Allowlist) []string {
	out := make([]string, 0, len(list.Entries)*2)
	for _, e := range list.Entries {
		out = append(out, e.Domain)
		out = append(out, e.Aliases...)
	}
	return out
}

// MatchCandidates is Match over a precomputed candidate list, used on the hot
// path where the snapshot already carries one.
func (m *Matcher) MatchCandidates(input string, candidates []string) (Match, bool) {
	in := Normalize(input)
	if len(in) < m.opts.MinInputLength {
		return Match{}, false
	}
	best := Match{Distance: m.opts.MaxDistance + 1}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		d := boundedLevenshtein(in, c, best.Distance-1)
		if d == 0 {
			// exact hit, not ours to report
			return Match{}, false
		}
		// strict less-than keeps the earliest candidate on ties
		if d < best.Distance {
			best = Match{MatchedDomain: c, Distance: d}
		}
	}
	if best.MatchedDomain == "" {
		return Match{}, false
	}
	best.Confidence = confidence(best.Distance)
	return best, true
}

func confidence(distance int) domain.Confidence {
	if distance <= 1 {
		return domain.ConfidenceHigh
	}
	return domain.ConfidenceMedium
}

// boundedLevenshtein returns the edit distance between a and b, or limit+1 as
// soon as the distance is known to exceed limit. Only a band of width
// 2*limit+1 around the diagonal is computed, so the cost is O(len*limit).
func boundedLevenshtein(a, b string, limit int) int {
	if limit < 0 {
		limit = 0
	}
	la, lb := len(a), len(b)
	if abs(la-lb) > limit {
		return limit + 1
	}
	if a == b {
		return 0
	}
	const inf = 1 << 30
	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		if j <= limit {
			prev[j] = j
		} else {
			prev[j] = inf
		}
	}
	for i := 1; i <= la; i++ {
		lo := max(1, i-limit)
		hi := min(lb, i+limit)
		for j := range cur {
			cur[j] = inf
		}
		if i <= limit {
			cur[0] = i
		}
		rowMin := cur[0]
		for j := lo; j <= hi; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			v := prev[j-1] + cost
			if prev[j]+1 < v {
				v = prev[j] + 1
			}
			if cur[j-1]+1 < v {
				v = cur[j-1] + 1
			}
			cur[j] = v
			if v < rowMin {
				rowMin = v
			}
		}
		if rowMin > limit {
			return limit + 1
		}
		prev, cur = cur, prev
	}
	if prev[lb] > limit {
		return limit + 1
	}
	return prev[lb]
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
