package httpapi

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizeIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"192.168.1.1:8080", "192.168.1.1"},
		{"192.168.1.1", "192.168.1.1"},
		{"[::1]:8080", "::1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"::1", "::1"},
		{"localhost:80", "localhost"},
	}
	for _, tc := range tests {
		if got := normalizeIP(tc.in); got != tc.want {
			t.Errorf("normalizeIP(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestHMACVerify(t *testing.T) {
	auth := NewHMACAuth("topsecret", "", true)
	body := []byte(`{"type":"navigation_start","context_id":1,"url":"https://a/"}`)

	req := httptest.NewRequest("POST", "/observe", strings.NewReader(""))
	req.Header.Set(HMACHeader, auth.generateHMAC(body, req.RemoteAddr))
	if !auth.VerifyHMAC(req, body) {
		t.Error("valid signature rejected")
	}

	// Tampered payload.
	if auth.VerifyHMAC(req, append(body, 'x')) {
		t.Error("tampered payload accepted")
	}

	// Signature minted for a different reporter IP.
	req2 := httptest.NewRequest("POST", "/observe", strings.NewReader(""))
	req2.Header.Set(HMACHeader, auth.generateHMAC(body, "10.9.8.7:1234"))
	if auth.VerifyHMAC(req2, body) {
		t.Error("signature from wrong IP accepted")
	}

	// Missing header.
	req3 := httptest.NewRequest("POST", "/observe", strings.NewReader(""))
	if auth.VerifyHMAC(req3, body) {
		t.Error("missing signature accepted")
	}
}

func TestHMACOptional(t *testing.T) {
	auth := NewHMACAuth("topsecret", "", false)
	req := httptest.NewRequest("POST", "/observe", strings.NewReader(""))
	if !auth.VerifyHMAC(req, []byte("anything")) {
		t.Error("optional mode should accept unsigned requests")
	}
}

func TestHMACPublicKeyDerivation(t *testing.T) {
	a := NewHMACAuth("topsecret", "", true)
	b := NewHMACAuth("topsecret", "", true)
	if a.GetPublicKeyBase64() == "" {
		t.Fatal("no derived public key")
	}
	if a.GetPublicKeyBase64() != b.GetPublicKeyBase64() {
		t.Error("derivation should be deterministic")
	}
	c := NewHMACAuth("othersecret", "", true)
	if a.GetPublicKeyBase64() == c.GetPublicKeyBase64() {
		t.Error("different secrets should derive different keys")
	}
}

func TestXForwardedForPrecedence(t *testing.T) {
	req := httptest.NewRequest("POST", "/observe", strings.NewReader(""))
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	if got := getClientIP(req); got != "203.0.113.5" {
		t.Errorf("getClientIP = %q", got)
	}
	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", "203.0.113.9")
	if got := getClientIP(req); got != "203.0.113.9" {
		t.Errorf("getClientIP = %q", got)
	}
}
