package matcher

import (
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Normalize reduces a URL or bare host to the form allowlist entries are
// stored in: lowercase, no scheme, userinfo, port, path, query, fragment,
// trailing dot or leading "www.". It is total; garbage in yields a (possibly
// empty) string, never a panic.
func Normalize(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	if i := strings.Index(s, "://"); i >= 0 && isScheme(s[:i]) {
		s = s[i+3:]
	} else if strings.HasPrefix(s, "//") {
		s = s[2:]
	}
	if i := strings.IndexAny(s, "/?#\\"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if strings.HasPrefix(s, "[") {
		// IPv6 literal, never an allowlist entry; keep it intact minus port.
		if i := strings.Index(s, "]"); i >= 0 {
			return s[:i+1]
		}
		return s
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSuffix(s, ".")
	s = strings.TrimPrefix(s, "www.")
	return s
}

// isScheme reports whether s is a URL scheme: a letter followed by letters,
// digits, '+', '-' or '.'. A "://" later in a path or query does not count.
func isScheme(s string) bool {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '+', c == '-', c == '.':
		default:
			return false
		}
	}
	return true
}

// RegistrableDomain returns eTLD+1 for host, or host itself when the public
// suffix list cannot answer (bare TLDs, IPs, single labels).
func RegistrableDomain(host string) string {
	r, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return r
}

// MatchGlob matches a domain against a wildcard pattern.
//   - "*.example.com" matches "sub.example.com" and "a.b.example.com" but not "example.com"
//   - "example.com" matches only itself
func MatchGlob(pattern, domain string) bool {
	pattern = strings.ToLower(pattern)
	domain = strings.ToLower(domain)

	if pattern == domain {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:]
		return strings.HasSuffix(domain, suffix) && len(domain) > len(suffix)
	}
	return false
}
