// Package webhook implements the HTTP server that accepts inbound push
// triggers and hands them to the Dispatch Engine, following the same
// rakunlabs/ada mux + middleware chain and response-helper conventions the
// teacher's admin server uses.
package webhook

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rakunlabs/ada"
	mcors "github.com/rakunlabs/ada/middleware/cors"
	mforwardauth "github.com/rakunlabs/ada/middleware/forwardauth"
	mlog "github.com/rakunlabs/ada/middleware/log"
	mrecover "github.com/rakunlabs/ada/middleware/recover"
	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
	mtelemetry "github.com/rakunlabs/ada/middleware/telemetry"

	"github.com/feathermark/crosspost/internal/account"
	"github.com/feathermark/crosspost/internal/adminstore"
	"github.com/feathermark/crosspost/internal/config"
	"github.com/feathermark/crosspost/internal/dispatch"
	"github.com/feathermark/crosspost/internal/telemetry"
)

// Version is the service version reported on /health; set at build time
// via -ldflags where the teacher's own binaries do the same.
var Version = "dev"

// ProviderEntry bundles a push provider's dispatch entry with the config
// fields the webhook handler needs for template resolution and auth.
type ProviderEntry struct {
	Dispatch dispatch.ProviderEntry
	Config   config.Provider
}

// Registry is the set of push providers the webhook server can dispatch
// to, keyed by provider name. Callers build this from the loaded config
// and keep it in sync with any admin-driven hot reload.
type Registry struct {
	entries atomic.Pointer[map[string]ProviderEntry]
}

func NewRegistry(entries map[string]ProviderEntry) *Registry {
	r := &Registry{}
	r.Store(entries)
	return r
}

func (r *Registry) Store(entries map[string]ProviderEntry) {
	snapshot := make(map[string]ProviderEntry, len(entries))
	for k, v := range entries {
		snapshot[k] = v
	}
	r.entries.Store(&snapshot)
}

func (r *Registry) Get(name string) (ProviderEntry, bool) {
	m := *r.entries.Load()
	e, ok := m[name]
	return e, ok
}

// Server is the webhook HTTP server.
type Server struct {
	cfg       config.Webhook
	registry  *Registry
	engine    *dispatch.Engine
	mux       *ada.Server
	startedAt time.Time
	admin     *AdminDeps
}

// AdminDeps wires the admin API's hot-reload side effects back into the
// running system: persisting to adminstore.Store and updating the live
// account.Table / webhook.Registry the Dispatch Engine actually reads
// from, mirroring the teacher's reloadProvider/removeProvider pair.
type AdminDeps struct {
	Store *adminstore.Store

	// Accounts applies a created/updated account to the live account.Table.
	Accounts *account.Table

	// BuildAccountClient constructs the remote Client for a stored account
	// config, used to materialize a fresh account.Record on create/update.
	BuildAccountClient func(adminstore.AccountConfig) (account.Client, error)

	// BuildProviderEntry constructs a full ProviderEntry (pipeline, rate
	// limiter, dispatch routing) from a stored provider config, the same
	// way main's startup wiring does.
	BuildProviderEntry func(name string, cfg adminstore.ProviderConfig) (ProviderEntry, error)

	// Registry is the live webhook registry to update after a provider
	// create/update/delete.
	Registry *Registry
}

// New builds the webhook server and registers its routes. The server is
// not yet listening; call Start. admin may be nil, in which case every
// /api/v1/admin/* route beyond the bearer-token gate returns 503.
func New(cfg config.Webhook, registry *Registry, engine *dispatch.Engine, admin *AdminDeps) (*Server, error) {
	mux := ada.New()
	mux.Use(
		mrecover.Middleware(),
		mrequestid.Middleware(),
		mlog.Middleware(),
		mtelemetry.Middleware(),
	)
	if len(cfg.CORSOrigins) > 0 {
		mux.Use(mcors.Middleware())
	}

	s := &Server{
		cfg:       cfg,
		registry:  registry,
		engine:    engine,
		mux:       mux,
		startedAt: time.Now(),
		admin:     admin,
	}

	if cfg.ForwardAuth != nil {
		mux.Use(mforwardauth.Middleware(mforwardauth.WithConfig(*cfg.ForwardAuth)))
	}

	root := mux.Group("")
	root.GET("/health", s.handleHealth)
	root.HEAD("/health", s.handleHealth)
	root.GET("/metrics", telemetry.Handler())

	path := cfg.Path
	if path == "" {
		path = "/webhook"
	}
	root.POST(path, s.handleGenericWebhook)

	adminGroup := mux.Group("/api/v1/admin")
	adminGroup.Use(s.adminAuthMiddleware())

	adminGroup.GET("/accounts", s.handleListAccounts)
	adminGroup.POST("/accounts", s.handleCreateAccount)
	adminGroup.GET("/accounts/*", s.handleGetAccount)
	adminGroup.PUT("/accounts/*", s.handleUpdateAccount)
	adminGroup.DELETE("/accounts/*", s.handleDeleteAccount)

	adminGroup.GET("/providers", s.handleListProviders)
	adminGroup.POST("/providers", s.handleCreateProvider)
	adminGroup.GET("/providers/*", s.handleGetProvider)
	adminGroup.PUT("/providers/*", s.handleUpdateProvider)
	adminGroup.DELETE("/providers/*", s.handleDeleteProvider)

	adminGroup.POST("/rotate-key", s.handleRotateKey)

	return s, nil
}

func (s *Server) Start(ctx context.Context) error {
	return s.mux.StartWithContext(ctx, net.JoinHostPort(s.cfg.Host, s.cfg.Port))
}

type healthResponse struct {
	Status      string `json:"status"`
	UptimeSecs  int64  `json:"uptimeSeconds"`
	WebhookPath string `json:"webhookPath"`
	Port        string `json:"port"`
	Version     string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	path := s.cfg.Path
	if path == "" {
		path = "/webhook"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		UptimeSecs:  int64(time.Since(s.startedAt).Seconds()),
		WebhookPath: path,
		Port:        s.cfg.Port,
		Version:     Version,
	})
}

// handleGenericWebhook serves the configured generic path; the request
// body must name a provider.
func (s *Server) handleGenericWebhook(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, "")
}

// handlePerProviderWebhook serves one provider's own webhookPath; the
// provider is implicit from the route.
func (s *Server) handlePerProviderWebhook(providerName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.handle(w, r, providerName)
	}
}

// RegisterProviderRoutes adds a POST route for every push provider that
// declares its own WebhookPath. Call after New, once the registry is
// populated, since ada route tables are fixed once Start is called.
func (s *Server) RegisterProviderRoutes() {
	root := s.mux.Group("")
	m := *s.registry.entries.Load()
	for name, e := range m {
		if e.Config.WebhookPath != "" {
			root.POST(e.Config.WebhookPath, s.handlePerProviderWebhook(name))
		}
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request, routedProvider string) {
	defer telemetry.TrackConnection()()

	if len(s.cfg.AllowedIPs) > 0 {
		ip := clientIP(r)
		if !ipAllowed(ip, s.cfg.AllowedIPs) {
			writeError(w, http.StatusForbidden, "ip not allowed")
			return
		}
	}

	maxPayload := s.cfg.MaxPayloadSize
	if maxPayload <= 0 {
		maxPayload = 1048576
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayload+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if int64(len(body)) > maxPayload {
		writeError(w, http.StatusBadRequest, "payload too large")
		return
	}

	req, err := parseRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	providerName := routedProvider
	if providerName == "" {
		providerName = req.Provider
		if providerName == "" {
			writeError(w, http.StatusBadRequest, "provider is required")
			return
		}
	} else if req.Provider != "" && req.Provider != providerName {
		slog.Warn("webhook: request body provider mismatched with route, ignoring", "route_provider", providerName, "body_provider", req.Provider)
	}

	entry, ok := s.registry.Get(providerName)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown provider %q", providerName))
		return
	}
	if entry.Config.Kind != "push" {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("provider %q is not a push provider", providerName))
		return
	}

	providerAuth := entry.Config.WebhookAuth
	if !authenticate(r, body, providerAuth, s.cfg.Auth) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	messages, err := buildMessages(req, entry.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	visibility := parseVisibility(req.Visibility)
	var accountsOverride []string
	if len(req.Accounts) > 0 {
		accountsOverride = req.Accounts
	}

	var warnings []string
	successCount := 0
	var lastAccounts []string

	for _, msg := range messages {
		result, err := s.engine.Dispatch(r.Context(), entry.Dispatch, msg, visibility, accountsOverride)
		if err != nil {
			if rlErr, ok := err.(*dispatch.RateLimitError); ok {
				writeError(w, http.StatusTooManyRequests, rlErr.Error())
				return
			}
			warnings = append(warnings, err.Error())
			continue
		}
		if result.Skipped {
			warnings = append(warnings, fmt.Sprintf("skipped: %s", result.SkipReason))
			continue
		}
		if result.AnySucceeded() {
			successCount++
			lastAccounts = accountsFromOutcomes(result.Outcomes)
		}
		for _, o := range result.Outcomes {
			if o.Err != nil {
				warnings = append(warnings, fmt.Sprintf("account %s: %v", o.Account, o.Err))
			}
		}
	}

	switch {
	case successCount == 0 && len(messages) > 0:
		writeError(w, http.StatusInternalServerError, strings.Join(append([]string{"all messages failed"}, warnings...), "; "))
	case len(warnings) > 0:
		writeSuccess(w, http.StatusOK, "dispatched with warnings", providerName, lastAccounts, warnings)
	default:
		writeSuccess(w, http.StatusOK, "dispatched", providerName, lastAccounts, nil)
	}
}

func accountsFromOutcomes(outcomes []dispatch.Outcome) []string {
	out := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err == nil {
			out = append(out, o.Account)
		}
	}
	return out
}

func (s *Server) adminAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.cfg.AdminToken == "" {
				writeError(w, http.StatusForbidden, "admin token not configured")
				return
			}
			auth := r.Header.Get("Authorization")
			token := strings.TrimPrefix(auth, "Bearer ")
			if token == auth || token == "" || token != s.cfg.AdminToken {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
