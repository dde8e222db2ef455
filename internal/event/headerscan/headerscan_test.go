package headerscan

import (
	"testing"

	"github.com/shortontech/consentry/internal/event"
)

func TestAnalyze(t *testing.T) {
	headers := []event.Header{
		{Name: "User-Agent", Value: "Mozilla/5.0"},
		{Name: "Cookie", Value: "OptanonConsent=groups%3A1; _ga=GA1.2.1234567890.1699999999; sess=abc"},
		{Name: "Accept", Value: "*/*"},
	}

	s := Analyze(headers)

	if s.HeaderCount != 3 {
		t.Errorf("HeaderCount = %d, want 3", s.HeaderCount)
	}
	if len(s.HeaderNames) != 3 || s.HeaderNames[0] != "accept" {
		t.Errorf("HeaderNames = %v, want sorted lowercase", s.HeaderNames)
	}
	if len(s.CookieNames) != 3 {
		t.Errorf("CookieNames = %v, want 3 entries", s.CookieNames)
	}
	if len(s.ConsentCookies) != 1 || s.ConsentCookies[0] != "OptanonConsent" {
		t.Errorf("ConsentCookies = %v, want [OptanonConsent]", s.ConsentCookies)
	}
	if s.IDCookieCount != 1 {
		// _ga's value is a long token; OptanonConsent's is percent-encoded
		// (contains %), sess is too short.
		t.Errorf("IDCookieCount = %d, want 1", s.IDCookieCount)
	}
}

func TestAnalyzeNoHeaders(t *testing.T) {
	s := Analyze(nil)
	if s.HeaderCount != 0 || len(s.CookieNames) != 0 {
		t.Errorf("empty input produced %+v", s)
	}
}

func TestLooksLikeIdentifier(t *testing.T) {
	tests := []struct {
		name string
		val  string
		want bool
	}{
		{name: "long token", val: "GA1.2.1234567890.1699999999", want: true},
		{name: "short value", val: "abc", want: false},
		{name: "long but spaced", val: "hello world this is prose", want: false},
		{name: "uuid", val: "550e8400-e29b-41d4-a716-446655440000", want: true},
		{name: "percent encoded", val: "groups%3A1%2C2%2C3%2C4%2C5", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := looksLikeIdentifier(tt.val); got != tt.want {
				t.Errorf("looksLikeIdentifier(%q) = %v, want %v", tt.val, got, tt.want)
			}
		})
	}
}

func TestConsentCookieMatchIsSubstring(t *testing.T) {
	s := Analyze([]event.Header{{Name: "cookie", Value: "CybotCookieConsent-ok=1"}})
	if len(s.ConsentCookies) != 1 {
		t.Errorf("ConsentCookies = %v, want substring match", s.ConsentCookies)
	}
}
