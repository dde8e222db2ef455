package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// HMACHeader carries the reporter's payload signature.
const HMACHeader = "X-Consentry-HMAC"

// HMACAuth authenticates observation batches from the browser-side
// collectors. Keys are derived per reporter IP so a leaked signature from one
// network is useless from another.
type HMACAuth struct {
	secret      []byte
	publicKey   []byte
	requireHMAC bool
}

// NewHMACAuth creates a new HMAC authentication handler
func NewHMACAuth(secret, publicKey string, requireHMAC bool) *HMACAuth {
	auth := &HMACAuth{
		secret:      []byte(secret),
		requireHMAC: requireHMAC,
	}

	if publicKey != "" {
		if decoded, err := base64.StdEncoding.DecodeString(publicKey); err == nil {
			auth.publicKey = decoded
		} else {
			log.Warn().Msg("invalid HMAC_PUBLIC_KEY format, using derived key")
		}
	}

	// If no public key provided or invalid, derive from secret
	if len(auth.publicKey) == 0 && len(auth.secret) > 0 {
		auth.publicKey = auth.derivePublicKey(auth.secret)
	}

	return auth
}

// derivePublicKey creates a public key from the secret using HKDF-like derivation
func (h *HMACAuth) derivePublicKey(secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte("consentry-public-key-derivation"))
	return mac.Sum(nil)[:16] // first 16 bytes
}

// GetPublicKeyBase64 returns the base64-encoded public key for collector use
func (h *HMACAuth) GetPublicKeyBase64() string {
	if len(h.publicKey) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(h.publicKey)
}

// generateHMAC creates HMAC for payload using IP-derived key
func (h *HMACAuth) generateHMAC(payload []byte, clientIP string) string {
	if len(h.secret) == 0 {
		return ""
	}

	derivedKey := h.deriveClientKey(clientIP)

	mac := hmac.New(sha256.New, derivedKey)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// deriveClientKey creates a client-specific key from secret + IP
func (h *HMACAuth) deriveClientKey(clientIP string) []byte {
	ip := normalizeIP(clientIP)
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte("client-key:" + ip))
	return mac.Sum(nil)
}

// normalizeIP extracts and normalizes IP address
func normalizeIP(addr string) string {
	// [::1]:8080 -> ::1
	if strings.HasPrefix(addr, "[") {
		if idx := strings.LastIndex(addr, "]"); idx > 0 {
			return addr[1:idx]
		}
	}

	// 192.168.1.1:8080 -> 192.168.1.1
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}

	return addr
}

// VerifyHMAC validates the HMAC signature for a request
func (h *HMACAuth) VerifyHMAC(r *http.Request, payload []byte) bool {
	if !h.requireHMAC {
		return true
	}

	if len(h.secret) == 0 {
		log.Warn().Msg("hmac verification failed: no secret configured")
		return false
	}

	providedHMAC := r.Header.Get(HMACHeader)
	if providedHMAC == "" {
		log.Debug().Msg("hmac verification failed: missing signature header")
		return false
	}

	clientIP := getClientIP(r)
	expectedHMAC := h.generateHMAC(payload, clientIP)

	if !hmac.Equal([]byte(providedHMAC), []byte(expectedHMAC)) {
		log.Debug().Str("ip", clientIP).Msg("hmac verification failed")
		return false
	}

	return true
}

// getClientIP extracts the real client IP considering proxies
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ips := strings.Split(xff, ","); len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	return r.RemoteAddr
}
