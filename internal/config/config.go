// Package config loads the typed configuration object the rest of the
// system consumes. File/env parsing and secret-reference indirection is
// handled entirely by chu's loader chain; nothing downstream ever touches
// raw YAML/env.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/rakunlabs/chu/loader/external/loaderconsul"
	_ "github.com/rakunlabs/chu/loader/external/loadervault"
	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/ada/middleware/forwardauth"
	"github.com/rakunlabs/chu"
	"github.com/rakunlabs/tell"
)

// EnvPrefix is the prefix chu's env loader strips when overlaying
// environment variables onto the loaded config (CROSSPOST_WEBHOOK_PORT=...).
const EnvPrefix = "CROSSPOST_"

type Config struct {
	LogLevel string `cfg:"log_level,no_prefix" default:"info"`

	// Accounts is the set of posting identities, keyed by unique name.
	Accounts map[string]Account `cfg:"accounts"`

	// Providers is the set of message sources, keyed by unique name.
	Providers map[string]Provider `cfg:"providers"`

	Secrets   Secrets     `cfg:"secrets"`
	Webhook   Webhook     `cfg:"webhook"`
	Store     Store       `cfg:"store"`
	Telemetry tell.Config `cfg:"telemetry,noprefix"`
}

// Account is a named posting identity.
type Account struct {
	// Kind selects the remote API family: "mastodon" (and Mastodon-family
	// forks: Pleroma, Akkoma, GoToSocial) or "bluesky".
	Kind string `cfg:"kind"`

	BaseURL string `cfg:"base_url"`

	// AccessToken authenticates Mastodon-family accounts. May be a secret
	// reference (see internal/secret) and is re-resolved on rotation.
	AccessToken string `cfg:"access_token" log:"-"`

	// Identifier and Password authenticate Bluesky accounts (handle +
	// app password, exchanged for a session token at first use).
	Identifier string `cfg:"identifier"`
	Password   string `cfg:"password" log:"-"`

	// DefaultVisibility is used when neither the webhook request nor the
	// provider config supplies one. Defaults to "public".
	DefaultVisibility string `cfg:"default_visibility" default:"public"`
}

// Provider describes a single message source.
type Provider struct {
	// Kind selects the provider implementation: ping, command, jsoncommand,
	// multijsoncommand, rssfeed, push.
	Kind string `cfg:"kind"`

	// Cron is a standard 5-field expression, required unless Kind == "push".
	Cron string `cfg:"cron"`

	Enabled bool `cfg:"enabled" default:"true"`

	// Accounts names the target accounts for messages from this provider.
	Accounts []string `cfg:"accounts"`

	// Visibility overrides the account default when set.
	Visibility string `cfg:"visibility"`

	// WebhookPath, when set, exposes this push provider at its own path in
	// addition to the generic webhook path.
	WebhookPath string `cfg:"webhook_path"`

	// Templates maps a name to a template string, selectable from a webhook
	// request's templateName field.
	Templates map[string]string `cfg:"templates"`

	// Template is the default template used when no inline/named template
	// is supplied.
	Template string `cfg:"template"`

	Ping         *PingConfig         `cfg:"ping"`
	Command      *CommandConfig      `cfg:"command"`
	JSONCommand  *JSONCommandConfig  `cfg:"jsoncommand"`
	MultiJSON    *MultiJSONConfig    `cfg:"multijsoncommand"`
	RSSFeed      *RSSFeedConfig      `cfg:"rssfeed"`
	Push         *PushConfig         `cfg:"push"`
	RateLimit    *RateLimitConfig    `cfg:"rate_limit"`
	WebhookAuth  *WebhookAuthConfig  `cfg:"webhook_auth"`
	Middleware   []MiddlewareConfig  `cfg:"middleware"`
}

type PingConfig struct {
	Message string `cfg:"message"`
}

type CommandConfig struct {
	Command string            `cfg:"command"`
	Timeout time.Duration     `cfg:"timeout" default:"30s"`
	Cwd     string            `cfg:"cwd"`
	Env     map[string]string `cfg:"env"`
}

type JSONCommandConfig struct {
	CommandConfig `cfg:",squash"`
}

type MultiJSONConfig struct {
	CommandConfig `cfg:",squash"`
	UniqueKey     string `cfg:"unique_key" default:"id"`
	CachePath     string `cfg:"cache_path"`
	CacheMaxSize  int    `cfg:"cache_max_size" default:"10000"`
	CacheTTL      time.Duration `cfg:"cache_ttl"`
}

type RSSFeedConfig struct {
	URL          string        `cfg:"url"`
	Timeout      time.Duration `cfg:"timeout" default:"30s"`
	UniqueKey    string        `cfg:"unique_key" default:"id"`
	CachePath    string        `cfg:"cache_path"`
	CacheMaxSize int           `cfg:"cache_max_size" default:"10000"`
	CacheTTL     time.Duration `cfg:"cache_ttl"`
}

type PushConfig struct {
	DefaultMessage string `cfg:"default_message"`
	MaxLength      int    `cfg:"max_length"`
}

// RateLimitConfig configures the per-push-provider sliding-window limiter
// consulted by the Dispatch Engine before invoking PostStatus.
type RateLimitConfig struct {
	Limit  int           `cfg:"limit"`
	Window time.Duration `cfg:"window" default:"1m"`
}

// WebhookAuthConfig is the provider-specific authentication override; when
// unset, the global Webhook.Auth applies.
type WebhookAuthConfig struct {
	HMACSecret  string `cfg:"hmac_secret" log:"-"`
	HMACHeader  string `cfg:"hmac_header" default:"X-Hub-Signature-256"`
	HMACAlg     string `cfg:"hmac_alg" default:"sha256"`
	SimpleToken string `cfg:"simple_token" log:"-"`
}

// MiddlewareConfig is one entry of a provider's pipeline. Opts is decoded
// per-kind by the stage's own factory (see internal/pipeline).
type MiddlewareConfig struct {
	Kind string         `cfg:"kind"`
	Opts map[string]any `cfg:"opts"`
}

type Secrets struct {
	// CacheTTL is how long a resolved secret is served from cache before
	// the next Resolve re-hits the backing provider.
	CacheTTL time.Duration `cfg:"cache_ttl" default:"5m"`

	// CacheMaxSize bounds the resolved-secret cache; oldest entries (by
	// createdAt) are evicted first.
	CacheMaxSize int `cfg:"cache_max_size" default:"1000"`

	// Retries/RetryBackoff govern Resolve's retry policy.
	Retries      int           `cfg:"retries" default:"3"`
	RetryBackoff time.Duration `cfg:"retry_backoff" default:"200ms"`

	// Rotation, if set, enables the periodic rotation-detection job.
	Rotation *RotationConfig `cfg:"rotation"`

	Vault VaultConfig `cfg:"vault"`
	AWS   AWSConfig   `cfg:"aws"`
	Azure AzureConfig `cfg:"azure"`
	GCP   GCPConfig   `cfg:"gcp"`
}

type RotationConfig struct {
	Cron              string `cfg:"cron" default:"*/5 * * * *"`
	VerifyOnRotation  bool   `cfg:"verify_on_rotation" default:"true"`
}

type VaultConfig struct {
	Address string `cfg:"address"`
	Token   string `cfg:"token" log:"-"`
}

type AWSConfig struct {
	Region string `cfg:"region" default:"us-east-1"`
}

type AzureConfig struct {
	TenantID     string `cfg:"tenant_id"`
	ClientID     string `cfg:"client_id"`
	ClientSecret string `cfg:"client_secret" log:"-"`
	VaultBaseURL string `cfg:"vault_base_url"`
}

type GCPConfig struct {
	ProjectID string `cfg:"project_id"`
}

type Webhook struct {
	Host           string        `cfg:"host"`
	Port           string        `cfg:"port" default:"8090"`
	Path           string        `cfg:"path" default:"/webhook"`
	MaxPayloadSize int64         `cfg:"max_payload_size" default:"1048576"`
	RequestTimeout time.Duration `cfg:"request_timeout" default:"30s"`
	AllowedIPs     []string      `cfg:"allowed_ips"`
	CORSOrigins    []string      `cfg:"cors_origins"`

	Auth WebhookAuthConfig `cfg:"auth"`

	// AdminToken, if set, protects /api/v1/admin/* with bearer-token auth.
	// If unset, admin endpoints return 403.
	AdminToken string `cfg:"admin_token" log:"-"`

	// ForwardAuth, if set, is installed as server-wide middleware: every
	// request (webhook, /health, /metrics and admin routes alike) is first
	// checked against the external authentication service. Admin routes
	// still require the AdminToken bearer token as well.
	ForwardAuth *forwardauth.ForwardAuth `cfg:"forward_auth"`
}

type Store struct {
	SQLite *StoreSQLite `cfg:"sqlite"`

	// EncryptionKey, if set, enables AES-256-GCM encryption of sensitive
	// admin-store fields (account access tokens and passwords). Provider
	// records, including their webhook secrets, are stored unencrypted.
	EncryptionKey string `cfg:"encryption_key" log:"-"`
}

type StoreSQLite struct {
	TablePrefix *string `cfg:"table_prefix"`
	Datasource  string  `cfg:"datasource" default:"crosspost.db"`
}

func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, path, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix(EnvPrefix)))); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}
