package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"net"
	"net/http"
	"strings"

	"github.com/feathermark/crosspost/internal/config"
)

// authenticate implements the precedence chain in order: provider-specific
// HMAC, global HMAC, provider-specific simple secret, global simple secret,
// then no-auth-allowed. Only the first configured mechanism in that order
// is checked; its result decides, and later mechanisms are not tried.
func authenticate(r *http.Request, body []byte, providerAuth *config.WebhookAuthConfig, globalAuth config.WebhookAuthConfig) bool {
	if providerAuth != nil && providerAuth.HMACSecret != "" {
		if verifyHMAC(r, body, *providerAuth) {
			return true
		}
		return false
	}
	if globalAuth.HMACSecret != "" {
		if verifyHMAC(r, body, globalAuth) {
			return true
		}
		return false
	}
	if providerAuth != nil && providerAuth.SimpleToken != "" {
		return verifySimple(r, providerAuth.SimpleToken)
	}
	if globalAuth.SimpleToken != "" {
		return verifySimple(r, globalAuth.SimpleToken)
	}
	return true
}

func verifyHMAC(r *http.Request, body []byte, auth config.WebhookAuthConfig) bool {
	header := auth.HMACHeader
	if header == "" {
		header = "X-Hub-Signature-256"
	}
	alg := auth.HMACAlg
	if alg == "" {
		alg = "sha256"
	}

	got := r.Header.Get(header)
	if got == "" {
		return false
	}

	mac, err := newHMAC(alg, []byte(auth.HMACSecret))
	if err != nil {
		return false
	}
	mac.Write(body)
	want := fmt.Sprintf("%s=%s", alg, hex.EncodeToString(mac.Sum(nil)))

	if len(got) != len(want) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func newHMAC(alg string, secret []byte) (hash.Hash, error) {
	switch strings.ToLower(alg) {
	case "sha1":
		return hmac.New(sha1.New, secret), nil
	case "sha256":
		return hmac.New(sha256.New, secret), nil
	case "sha512":
		return hmac.New(sha512.New, secret), nil
	default:
		return nil, fmt.Errorf("webhook: unsupported hmac algorithm %q", alg)
	}
}

func verifySimple(r *http.Request, secret string) bool {
	got := r.Header.Get("X-Webhook-Secret")
	if len(got) != len(secret) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}

// clientIP derives the request's client address per spec: first entry of
// X-Forwarded-For if present (trimmed), else the socket remote address,
// with IPv6-mapped IPv4 addresses normalized to their dotted form.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		return normalizeIP(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return normalizeIP(r.RemoteAddr)
	}
	return normalizeIP(host)
}

func normalizeIP(s string) string {
	ip := net.ParseIP(s)
	if ip == nil {
		return s
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}

func ipAllowed(ip string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == ip {
			return true
		}
		if _, cidr, err := net.ParseCIDR(a); err == nil {
			if parsed := net.ParseIP(ip); parsed != nil && cidr.Contains(parsed) {
				return true
			}
		}
	}
	return false
}
