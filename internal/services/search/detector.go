package search

import (
	"regexp"
	"strings"

	"crisisguard/internal/allowlist"
	"crisisguard/internal/domain"
)

const MaxSuggestions = 3

// Snapshots supplies the allowlist suggestions are drawn from.
type Snapshots interface {
	Active() *allowlist.Snapshot
}

type Match struct {
	Category       domain.Category   `json:"category"`
	Confidence     domain.Confidence `json:"confidence"`
	MatchedPattern string            `json:"matchedPattern"`
}

type Result struct {
	ShouldShowInterstitial bool                         `json:"shouldShowInterstitial"`
	Match                  *Match                       `json:"match"`
	SuggestedResources     []domain.CrisisResourceEntry `json:"suggestedResources"`
}

type pattern struct {
	category   domain.Category
	confidence domain.Confidence
	expr       *regexp.Regexp
}

func p(c domain.Category, conf domain.Confidence, expr string) pattern {
	return pattern{category: c, confidence: conf, expr: regexp.MustCompile(expr)}
}

// patterns are checked in order; the first hit at the highest confidence
// wins.
var patterns = []pattern{
	p(domain.CategorySuicide, domain.ConfidenceHigh, `\b(kill(ing)?|hang(ing)?|shoot(ing)?) my ?self\b`),
	p(domain.CategorySuicide, domain.ConfidenceHigh, `\bsuicid(e|al)\b`),
	p(domain.CategorySuicide, domain.ConfidenceHigh, `\b(want(ing)?|going) to die\b`),
	p(domain.CategorySuicide, domain.ConfidenceHigh, `\bend(ing)? (my life|it all)\b`),
	p(domain.CategorySuicide, domain.ConfidenceMedium, `\b(painless|easiest) way to die\b`),
	p(domain.CategorySuicide, domain.ConfidenceMedium, `\bno reason to live\b`),
	p(domain.CategorySelfHarm, domain.ConfidenceHigh, `\bself[- ]?harm(ing)?\b`),
	p(domain.CategorySelfHarm, domain.ConfidenceHigh, `\b(cut(ting)?|burn(ing)?|hurt(ing)?) my ?self\b`),
	p(domain.CategoryAbuse, domain.ConfidenceHigh, `\b(i('m| am)|being|was|got) (sexually )?(abused|molested|raped)\b`),
	p(domain.CategoryAbuse, domain.ConfidenceHigh, `\b(dad|mom|father|mother|stepdad|stepmom|parent|uncle|brother|coach|teacher) (hits|beats|touches|hurts) me\b`),
	p(domain.CategoryDomesticViolence, domain.ConfidenceHigh, `\bdomestic (violence|abuse)\b`),
	p(domain.CategoryDomesticViolence, domain.ConfidenceMedium, `\bscared (to go|of going) home\b`),
	p(domain.CategoryEatingDisorder, domain.ConfidenceHigh, `\b(anorexi[ac]|bulimi[ac]|purging|pro[- ]?ana)\b`),
	p(domain.CategoryEatingDisorder, domain.ConfidenceMedium, `\bhow to (stop eating|make myself throw up)\b`),
	p(domain.CategorySubstance, domain.ConfidenceHigh, `\boverdos(e|ed|ing)\b`),
	p(domain.CategorySubstance, domain.ConfidenceMedium, `\b(addicted to|withdrawal from) (alcohol|drugs|pills|opioids|vaping)\b`),
	p(domain.CategoryLGBTQ, domain.ConfidenceMedium, `\b(coming out|am i (gay|lesbian|bi|trans))\b`),
	p(domain.CategoryMentalHealth, domain.ConfidenceMedium, `\b(i('m| am) (so )?depressed|panic attacks?|can'?t stop crying)\b`),
	p(domain.CategoryCrisis, domain.ConfidenceMedium, `\b(crisis|suicide|help) (hot)?line\b`),
	p(domain.CategoryMentalHealth, domain.ConfidenceLow, `\b(sad|lonely|anxious|stressed)\b`),
}

var rank = map[domain.Confidence]int{
	domain.ConfidenceHigh:   3,
	domain.ConfidenceMedium: 2,
	domain.ConfidenceLow:    1,
}

// Detector recognises crisis searches locally. It never sends or logs the
// query.
type Detector struct {
	snapshots Snapshots
}

func New(snapshots Snapshots) *Detector { return &Detector{snapshots: snapshots} }

// Detect classifies a search query. High and medium confidence matches show
// the interstitial; low confidence matches are reported without one.
func (d *Detector) Detect(query string) Result {
	res := Result{SuggestedResources: []domain.CrisisResourceEntry{}}
	q := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	if q == "" {
		return res
	}

	var best *pattern
	for i := range patterns {
		pt := &patterns[i]
		if best != nil && rank[pt.confidence] <= rank[best.confidence] {
			continue
		}
		if pt.expr.MatchString(q) {
			best = pt
		}
	}
	if best == nil {
		return res
	}

	res.Match = &Match{Category: best.category, Confidence: best.confidence, MatchedPattern: best.expr.String()}
	res.ShouldShowInterstitial = best.confidence != domain.ConfidenceLow
	res.SuggestedResources = d.suggest(best.category)
	return res
}

// suggest prefers resources of the matched category and tops up with
// general crisis and help lines.
func (d *Detector) suggest(c domain.Category) []domain.CrisisResourceEntry {
	snap := d.snapshots.Active()
	out := snap.ByCategory(c, MaxSuggestions)
	for _, fallback := range []domain.Category{domain.CategoryCrisis, domain.CategoryHelp} {
		if len(out) >= MaxSuggestions || fallback == c {
			continue
		}
		out = append(out, snap.ByCategory(fallback, MaxSuggestions-len(out))...)
	}
	if out == nil {
		out = []domain.CrisisResourceEntry{}
	}
	return out
}
