package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/feathermark/crosspost/internal/config"
)

func signedRequest(body []byte, secret string) *http.Request {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	r := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	r.Header.Set("X-Hub-Signature-256", sig)
	return r
}

func TestAuthenticateProviderHMACTakesPrecedence(t *testing.T) {
	body := []byte(`{"message":"hi"}`)
	r := signedRequest(body, "provider-secret")

	providerAuth := &config.WebhookAuthConfig{HMACSecret: "provider-secret"}
	global := config.WebhookAuthConfig{HMACSecret: "global-secret"}

	if !authenticate(r, body, providerAuth, global) {
		t.Fatalf("expected provider HMAC to authenticate")
	}
}

func TestAuthenticateRejectsWrongSignature(t *testing.T) {
	body := []byte(`{"message":"hi"}`)
	r := signedRequest(body, "wrong-secret")

	providerAuth := &config.WebhookAuthConfig{HMACSecret: "provider-secret"}
	if authenticate(r, body, providerAuth, config.WebhookAuthConfig{}) {
		t.Fatalf("expected authentication to fail on wrong signature")
	}
}

func TestAuthenticateSimpleSecretFallback(t *testing.T) {
	body := []byte(`{}`)
	r := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	r.Header.Set("X-Webhook-Secret", "shh")

	if !authenticate(r, body, nil, config.WebhookAuthConfig{SimpleToken: "shh"}) {
		t.Fatalf("expected global simple secret to authenticate")
	}
}

func TestAuthenticateNoAuthConfiguredAllows(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	if !authenticate(r, []byte(`{}`), nil, config.WebhookAuthConfig{}) {
		t.Fatalf("expected request to be allowed when no auth is configured anywhere")
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	r.Header.Set("X-Forwarded-For", " 203.0.113.5 , 10.0.0.1")
	r.RemoteAddr = "127.0.0.1:1234"

	if got := clientIP(r); got != "203.0.113.5" {
		t.Fatalf("got %q, want first forwarded-for entry trimmed", got)
	}
}

func TestClientIPFallsBackToRemoteAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	r.RemoteAddr = "198.51.100.7:5555"

	if got := clientIP(r); got != "198.51.100.7" {
		t.Fatalf("got %q, want socket remote address", got)
	}
}

func TestIPAllowedSupportsCIDR(t *testing.T) {
	if !ipAllowed("10.0.0.5", []string{"10.0.0.0/24"}) {
		t.Fatalf("expected CIDR match to allow")
	}
	if ipAllowed("10.0.1.5", []string{"10.0.0.0/24"}) {
		t.Fatalf("expected address outside CIDR to be rejected")
	}
}

func TestIPAllowedEmptyListAllowsAll(t *testing.T) {
	if !ipAllowed("1.2.3.4", nil) {
		t.Fatalf("expected empty allowlist to allow everything")
	}
}
