// Package headerscan summarizes observed request headers for a tracker
// firing: cookie names, consent-platform cookies, and identifier-looking
// values that suggest cross-site correlation.
package headerscan

import (
	"sort"
	"strings"

	"github.com/shortontech/consentry/internal/event"
)

// Summary is the distilled view of one request's observed headers. It is
// attached to the firing record and feeds the advisory oracle's request
// summary.
type Summary struct {
	HeaderCount    int      `json:"header_count"`
	HeaderNames    []string `json:"header_names,omitempty"` // lowercased, sorted
	CookieNames    []string `json:"cookie_names,omitempty"`
	ConsentCookies []string `json:"consent_cookies,omitempty"` // names matching known consent patterns
	IDCookieCount  int      `json:"id_cookie_count"`           // opaque values long enough to be stable identifiers
}

// Cookie name fragments set by the consent platforms we recognize.
var consentCookiePatterns = []string{
	"optanonconsent",
	"optanonalertboxclosed",
	"cookieconsent",
	"cookiebotconsent",
	"consent",
}

// Analyze builds a Summary from raw observed headers.
func Analyze(headers []event.Header) Summary {
	s := Summary{HeaderCount: len(headers)}

	for _, h := range headers {
		name := strings.ToLower(strings.TrimSpace(h.Name))
		if name == "" {
			continue
		}
		s.HeaderNames = append(s.HeaderNames, name)
		if name == "cookie" {
			scanCookies(h.Value, &s)
		}
	}
	sort.Strings(s.HeaderNames)
	return s
}

func scanCookies(value string, s *Summary) {
	for _, pair := range strings.Split(value, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, val, _ := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		s.CookieNames = append(s.CookieNames, name)

		lower := strings.ToLower(name)
		for _, p := range consentCookiePatterns {
			if strings.Contains(lower, p) {
				s.ConsentCookies = append(s.ConsentCookies, name)
				break
			}
		}
		if looksLikeIdentifier(strings.TrimSpace(val)) {
			s.IDCookieCount++
		}
	}
}

// looksLikeIdentifier reports whether a cookie value resembles a stable
// opaque identifier: long enough and drawn from a token alphabet.
func looksLikeIdentifier(v string) bool {
	if len(v) < 16 {
		return false
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return false
		}
	}
	return true
}
