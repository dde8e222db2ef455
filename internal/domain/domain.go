// Package domain derives the effective domain identity used for
// first/third-party classification and per-domain retention bucketing.
package domain

import (
	"net/url"
	"strings"
)

// Identity returns the approximate registrable domain for a hostname: the
// literal address for IPv4 hosts, otherwise the last two dot-separated labels
// of the lowercased name. This is deliberately not a public-suffix lookup.
func Identity(hostname string) string {
	host := strings.ToLower(strings.TrimSpace(hostname))
	if host == "" {
		return ""
	}
	if isIPv4(host) {
		return host
	}
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

// FromURL resolves the identity of a URL's host. Unparseable input yields "".
func FromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return Identity(u.Hostname())
}

// ThirdParty reports whether requestURL is third-party relative to pageURL.
// If either URL fails to parse the request is treated as first-party, so
// malformed input is ignored rather than flagged.
func ThirdParty(requestURL, pageURL string) bool {
	req, err := url.Parse(requestURL)
	if err != nil || req.Hostname() == "" {
		return false
	}
	page, err := url.Parse(pageURL)
	if err != nil || page.Hostname() == "" {
		return false
	}
	return Identity(req.Hostname()) != Identity(page.Hostname())
}

// Allowlisted reports whether the URL's host matches an allow-list entry
// exactly or as a subdomain of one.
func Allowlisted(rawURL string, allowlist []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, d := range allowlist {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func isIPv4(host string) bool {
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if len(p) == 0 || len(p) > 3 {
			return false
		}
		for i := 0; i < len(p); i++ {
			if p[i] < '0' || p[i] > '9' {
				return false
			}
		}
	}
	return true
}
