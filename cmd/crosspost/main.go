package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/feathermark/crosspost/internal/account"
	"github.com/feathermark/crosspost/internal/adminstore"
	"github.com/feathermark/crosspost/internal/cache"
	"github.com/feathermark/crosspost/internal/config"
	atcrypto "github.com/feathermark/crosspost/internal/crypto"
	"github.com/feathermark/crosspost/internal/dispatch"
	"github.com/feathermark/crosspost/internal/pipeline"
	"github.com/feathermark/crosspost/internal/provider"
	"github.com/feathermark/crosspost/internal/ratelimit"
	"github.com/feathermark/crosspost/internal/scheduler"
	"github.com/feathermark/crosspost/internal/secret"
	"github.com/feathermark/crosspost/internal/telemetry"
	"github.com/feathermark/crosspost/internal/webhook"
)

var (
	name    = "crosspost"
	version = "v0.0.0"
)

func main() {
	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	webhook.Version = version

	secretMgr := buildSecretManager(ctx, cfg.Secrets)

	accounts := account.NewTable()
	accountRecords := make(map[string]*account.Record, len(cfg.Accounts))
	for accName, acfg := range cfg.Accounts {
		client, err := account.NewClient(acfg)
		if err != nil {
			return fmt.Errorf("build account %q: %w", accName, err)
		}
		accountRecords[accName] = &account.Record{
			Name:              accName,
			Kind:              acfg.Kind,
			DefaultVisibility: account.Visibility(acfg.DefaultVisibility),
			Client:            client,
		}
	}
	accounts.Load(accountRecords)

	if cfg.Secrets.Rotation != nil {
		if err := startRotationTracker(ctx, secretMgr, *cfg, accounts); err != nil {
			return fmt.Errorf("start secret rotation tracker: %w", err)
		}
	}

	engine := dispatch.New(accounts)

	pushEntries := make(map[string]webhook.ProviderEntry)
	var schedEntries []scheduler.Entry
	providerByName := make(map[string]provider.Provider, len(cfg.Providers))
	dispatchByName := make(map[string]dispatch.ProviderEntry, len(cfg.Providers))

	for provName, pcfg := range cfg.Providers {
		if !pcfg.Enabled {
			slog.Info("provider disabled, skipping", "provider", provName)
			continue
		}

		prov, dispatchEntry, err := buildProvider(provName, pcfg)
		if err != nil {
			return fmt.Errorf("build provider %q: %w", provName, err)
		}

		if pcfg.Kind == "push" {
			pushEntries[provName] = webhook.ProviderEntry{Dispatch: dispatchEntry, Config: pcfg}
			continue
		}

		if err := scheduler.ValidateCron(provName, pcfg.Cron); err != nil {
			return err
		}
		schedEntries = append(schedEntries, scheduler.Entry{Provider: provName, Cron: pcfg.Cron})
		providerByName[provName] = prov
		dispatchByName[provName] = dispatchEntry
	}

	invoke := func(ctx context.Context, provName string) error {
		prov := providerByName[provName]
		entry := dispatchByName[provName]

		start := time.Now()
		messages, err := prov.Generate(ctx)
		telemetry.ProviderExecutionDuration.WithLabelValues(provName).Observe(time.Since(start).Seconds())
		if err != nil {
			telemetry.ErrorsTotal.WithLabelValues("provider", "generate_failed").Inc()
			return fmt.Errorf("generate: %w", err)
		}

		for _, msg := range messages {
			result, err := engine.Dispatch(ctx, entry, msg, "", nil)
			if err != nil {
				slog.Error("scheduled dispatch failed", "provider", provName, "error", err)
				continue
			}
			if msg.SourceID != "" && result.AnySucceeded() {
				if cb, ok := prov.(provider.CacheBacked); ok {
					if err := cb.MarkProcessed(msg.SourceID); err != nil {
						slog.Error("mark processed failed", "provider", provName, "id", msg.SourceID, "error", err)
					}
				}
			}
		}
		return nil
	}

	var sched *scheduler.Scheduler
	if len(schedEntries) > 0 {
		sched, err = scheduler.New(schedEntries, invoke)
		if err != nil {
			return fmt.Errorf("build scheduler: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	registry := webhook.NewRegistry(pushEntries)

	var adminDeps *webhook.AdminDeps
	var store *adminstore.Store
	if cfg.Store.SQLite != nil {
		var encKey []byte
		if cfg.Store.EncryptionKey != "" {
			encKey, err = atcrypto.DeriveKey(cfg.Store.EncryptionKey)
			if err != nil {
				return fmt.Errorf("derive store encryption key: %w", err)
			}
		}
		tablePrefix := "crosspost_"
		if cfg.Store.SQLite.TablePrefix != nil {
			tablePrefix = *cfg.Store.SQLite.TablePrefix
		}
		store, err = adminstore.Open(ctx, cfg.Store.SQLite.Datasource, tablePrefix, encKey)
		if err != nil {
			return fmt.Errorf("open admin store: %w", err)
		}
		defer store.Close()

		if err := loadStoredAccounts(ctx, store, accounts); err != nil {
			return fmt.Errorf("load stored accounts: %w", err)
		}

		adminDeps = &webhook.AdminDeps{
			Store:    store,
			Accounts: accounts,
			BuildAccountClient: func(cfg adminstore.AccountConfig) (account.Client, error) {
				return account.NewClient(config.Account{
					Kind: cfg.Kind, BaseURL: cfg.BaseURL, AccessToken: cfg.AccessToken,
					Identifier: cfg.Identifier, Password: cfg.Password, DefaultVisibility: cfg.DefaultVisibility,
				})
			},
			BuildProviderEntry: func(provName string, acfg adminstore.ProviderConfig) (webhook.ProviderEntry, error) {
				pcfg, err := adminProviderToConfig(acfg)
				if err != nil {
					return webhook.ProviderEntry{}, err
				}
				_, dispatchEntry, err := buildProvider(provName, pcfg)
				if err != nil {
					return webhook.ProviderEntry{}, err
				}
				return webhook.ProviderEntry{Dispatch: dispatchEntry, Config: pcfg}, nil
			},
			Registry: registry,
		}
	}

	srv, err := webhook.New(cfg.Webhook, registry, engine, adminDeps)
	if err != nil {
		return fmt.Errorf("build webhook server: %w", err)
	}
	srv.RegisterProviderRoutes()

	slog.Info("starting webhook server", "host", cfg.Webhook.Host, "port", cfg.Webhook.Port)
	return srv.Start(ctx)
}

// buildProvider constructs a provider.Provider plus its dispatch routing
// entry from a single config.Provider, the shared path between static
// startup wiring and admin-driven hot reload.
func buildProvider(name string, pcfg config.Provider) (provider.Provider, dispatch.ProviderEntry, error) {
	var prov provider.Provider

	switch pcfg.Kind {
	case "ping":
		if pcfg.Ping == nil {
			return nil, dispatch.ProviderEntry{}, fmt.Errorf("provider %q: ping config required", name)
		}
		prov = provider.NewPingProvider(name, pcfg.Ping.Message)
	case "command":
		if pcfg.Command == nil {
			return nil, dispatch.ProviderEntry{}, fmt.Errorf("provider %q: command config required", name)
		}
		c := pcfg.Command
		prov = provider.NewCommandProvider(name, c.Command, c.Timeout, c.Cwd, c.Env)
	case "jsoncommand":
		if pcfg.JSONCommand == nil {
			return nil, dispatch.ProviderEntry{}, fmt.Errorf("provider %q: jsoncommand config required", name)
		}
		c := pcfg.JSONCommand
		prov = provider.NewJSONCommandProvider(name, c.Command, c.Timeout, c.Cwd, c.Env, pcfg.Template, false, nil)
	case "multijsoncommand":
		if pcfg.MultiJSON == nil {
			return nil, dispatch.ProviderEntry{}, fmt.Errorf("provider %q: multijsoncommand config required", name)
		}
		c := pcfg.MultiJSON
		processedCache, err := cache.Load(cache.Path(cachePathDir(c.CachePath), name), c.CacheMaxSize, c.CacheTTL)
		if err != nil {
			return nil, dispatch.ProviderEntry{}, fmt.Errorf("provider %q: load cache: %w", name, err)
		}
		prov = provider.NewMultiJSONProvider(name, c.Command, c.Timeout, c.Cwd, c.Env, c.UniqueKey, pcfg.Template, false, nil, processedCache)
	case "rssfeed":
		if pcfg.RSSFeed == nil {
			return nil, dispatch.ProviderEntry{}, fmt.Errorf("provider %q: rssfeed config required", name)
		}
		c := pcfg.RSSFeed
		processedCache, err := cache.Load(cache.Path(cachePathDir(c.CachePath), name), c.CacheMaxSize, c.CacheTTL)
		if err != nil {
			return nil, dispatch.ProviderEntry{}, fmt.Errorf("provider %q: load cache: %w", name, err)
		}
		p, err := provider.NewRSSFeedProvider(name, c.URL, c.Timeout, processedCache)
		if err != nil {
			return nil, dispatch.ProviderEntry{}, fmt.Errorf("provider %q: %w", name, err)
		}
		prov = p
	case "push":
		maxLen := 0
		defaultMsg := ""
		if pcfg.Push != nil {
			maxLen = pcfg.Push.MaxLength
			defaultMsg = pcfg.Push.DefaultMessage
		}
		prov = provider.NewPushProvider(name, defaultMsg, maxLen)
	default:
		return nil, dispatch.ProviderEntry{}, fmt.Errorf("provider %q: unsupported kind %q", name, pcfg.Kind)
	}

	stages := make([]pipeline.Stage, 0, len(pcfg.Middleware))
	for _, mw := range pcfg.Middleware {
		stage, err := pipeline.Build(mw.Kind, mw.Opts)
		if err != nil {
			return nil, dispatch.ProviderEntry{}, fmt.Errorf("provider %q: build stage %q: %w", name, mw.Kind, err)
		}
		stages = append(stages, stage)
	}

	var limiter *ratelimit.Limiter
	if pcfg.RateLimit != nil {
		limiter = ratelimit.New(pcfg.RateLimit.Limit, pcfg.RateLimit.Window)
	}

	entry := dispatch.ProviderEntry{
		Name:              name,
		Kind:              pcfg.Kind,
		Pipeline:          pipeline.New(stages),
		Accounts:          pcfg.Accounts,
		DefaultVisibility: account.Visibility(pcfg.Visibility),
		RateLimiter:       limiter,
	}
	return prov, entry, nil
}

func cachePathDir(configured string) string {
	if configured != "" {
		return configured
	}
	return "."
}

// adminProviderToConfig translates an admin-store provider record into the
// config.Provider shape buildProvider expects, decoding the kind-specific
// Opts blob with the same "cfg" struct tags config.Load's loader uses.
func adminProviderToConfig(acfg adminstore.ProviderConfig) (config.Provider, error) {
	pcfg := config.Provider{
		Kind:        acfg.Kind,
		Cron:        acfg.Cron,
		Enabled:     acfg.Enabled,
		Accounts:    acfg.Accounts,
		Visibility:  acfg.Visibility,
		WebhookPath: acfg.WebhookPath,
		Template:    acfg.Template,
		Templates:   acfg.Templates,
	}

	if len(acfg.Opts) == 0 {
		return pcfg, nil
	}

	var raw map[string]any
	if err := json.Unmarshal(acfg.Opts, &raw); err != nil {
		return pcfg, fmt.Errorf("decode provider opts: %w", err)
	}

	decode := func(dst any) error {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result: dst, WeaklyTypedInput: true, TagName: "cfg",
		})
		if err != nil {
			return err
		}
		return dec.Decode(raw)
	}

	switch acfg.Kind {
	case "ping":
		pcfg.Ping = &config.PingConfig{}
		return pcfg, decode(pcfg.Ping)
	case "command":
		pcfg.Command = &config.CommandConfig{}
		return pcfg, decode(pcfg.Command)
	case "jsoncommand":
		pcfg.JSONCommand = &config.JSONCommandConfig{}
		return pcfg, decode(pcfg.JSONCommand)
	case "multijsoncommand":
		pcfg.MultiJSON = &config.MultiJSONConfig{}
		return pcfg, decode(pcfg.MultiJSON)
	case "rssfeed":
		pcfg.RSSFeed = &config.RSSFeedConfig{}
		return pcfg, decode(pcfg.RSSFeed)
	case "push":
		pcfg.Push = &config.PushConfig{}
		return pcfg, decode(pcfg.Push)
	default:
		return pcfg, fmt.Errorf("unsupported provider kind %q", acfg.Kind)
	}
}

func loadStoredAccounts(ctx context.Context, store *adminstore.Store, accounts *account.Table) error {
	records, err := store.ListAccounts(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		client, err := account.NewClient(config.Account{
			Kind: rec.Config.Kind, BaseURL: rec.Config.BaseURL, AccessToken: rec.Config.AccessToken,
			Identifier: rec.Config.Identifier, Password: rec.Config.Password, DefaultVisibility: rec.Config.DefaultVisibility,
		})
		if err != nil {
			slog.Error("skip stored account with invalid config", "account", rec.Name, "error", err)
			continue
		}
		accounts.Swap(rec.Name, &account.Record{
			Name: rec.Name, Kind: rec.Config.Kind,
			DefaultVisibility: account.Visibility(rec.Config.DefaultVisibility), Client: client,
		})
	}
	return nil
}

func buildSecretManager(ctx context.Context, scfg config.Secrets) *secret.Manager {
	var providers []secret.Provider
	providers = append(providers, secret.NewEnvProvider(), secret.NewFileProvider())

	if scfg.Vault.Address != "" {
		if p, err := secret.NewVaultProvider(scfg.Vault.Address, scfg.Vault.Token); err != nil {
			slog.Error("secret: vault provider unavailable", "error", err)
		} else {
			providers = append(providers, p)
		}
	}
	if p, err := secret.NewAWSProvider(ctx, scfg.AWS.Region); err == nil {
		providers = append(providers, p)
	}
	if scfg.Azure.TenantID != "" {
		if p, err := secret.NewAzureProvider(scfg.Azure.TenantID, scfg.Azure.ClientID, scfg.Azure.ClientSecret, scfg.Azure.VaultBaseURL); err != nil {
			slog.Error("secret: azure provider unavailable", "error", err)
		} else {
			providers = append(providers, p)
		}
	}
	if scfg.GCP.ProjectID != "" {
		if p, err := secret.NewGCPProvider(ctx); err != nil {
			slog.Error("secret: gcp provider unavailable", "error", err)
		} else {
			providers = append(providers, p)
		}
	}

	return secret.New(scfg.CacheTTL, scfg.CacheMaxSize, providers, secret.WithRetries(scfg.Retries, scfg.RetryBackoff))
}

func startRotationTracker(ctx context.Context, mgr *secret.Manager, cfg config.Config, accounts *account.Table) error {
	tracker := secret.NewTracker(mgr)
	for accName, a := range cfg.Accounts {
		tracker.Track(accName, "access_token", a.AccessToken)
		tracker.Track(accName, "password", a.Password)
	}

	if err := scheduler.ValidateCron("secret-rotation", cfg.Secrets.Rotation.Cron); err != nil {
		return err
	}
	sched, err := scheduler.New(
		[]scheduler.Entry{{Provider: "secret-rotation", Cron: cfg.Secrets.Rotation.Cron}},
		func(ctx context.Context, _ string) error {
			for _, ev := range tracker.Check(ctx) {
				slog.Info("secret rotated", "account", ev.Account, "reference", secret.Mask(ev.Reference))
				if err := rebindRotatedAccount(ctx, cfg, accounts, ev); err != nil {
					slog.Error("rebind rotated account failed", "account", ev.Account, "error", err)
				}
			}
			return nil
		},
	)
	if err != nil {
		return err
	}
	return sched.Start(ctx)
}

// rebindRotatedAccount rebuilds ev.Account's client with its rotated
// credential field and swaps it into accounts, verifying the new
// credential first when cfg.Secrets.Rotation.VerifyOnRotation is set.
func rebindRotatedAccount(ctx context.Context, cfg config.Config, accounts *account.Table, ev secret.RotationEvent) error {
	acfg, ok := cfg.Accounts[ev.Account]
	if !ok {
		return fmt.Errorf("unknown account %q", ev.Account)
	}

	switch ev.Field {
	case "access_token":
		acfg.AccessToken = ev.NewValue
	case "password":
		acfg.Password = ev.NewValue
	default:
		return fmt.Errorf("unknown rotated field %q", ev.Field)
	}

	client, err := account.NewClient(acfg)
	if err != nil {
		return fmt.Errorf("build client: %w", err)
	}

	if cfg.Secrets.Rotation.VerifyOnRotation {
		if _, err := client.VerifyCredentials(ctx); err != nil {
			return fmt.Errorf("verify rotated credentials: %w", err)
		}
	}

	accounts.Swap(ev.Account, &account.Record{
		Name:              ev.Account,
		Kind:              acfg.Kind,
		DefaultVisibility: account.Visibility(acfg.DefaultVisibility),
		Client:            client,
	})
	return nil
}
