// Package dispatch implements the Dispatch Engine: the single place a
// generated message becomes a MessageContext, runs the middleware
// pipeline, and is posted to its target accounts.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/feathermark/crosspost/internal/account"
	"github.com/feathermark/crosspost/internal/pipeline"
	"github.com/feathermark/crosspost/internal/provider"
	"github.com/feathermark/crosspost/internal/ratelimit"
	"github.com/feathermark/crosspost/internal/telemetry"
)

// RateLimitError is returned when a push provider's own send budget is
// exhausted; webhook maps this to HTTP 429.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("dispatch: provider %q rate limited, retry after %s", e.Provider, e.RetryAfter)
}

// ProviderEntry bundles everything the Dispatch Engine needs to run one
// configured provider's messages: its pipeline, default routing, and
// (for push providers) its own send-rate budget.
type ProviderEntry struct {
	Name              string
	Kind              string
	Pipeline          *pipeline.Pipeline
	Accounts          []string
	DefaultVisibility account.Visibility
	RateLimiter       *ratelimit.Limiter // non-nil only for rate-limited push providers
}

// Outcome is one account's PostStatus result.
type Outcome struct {
	Account string
	PostID  string
	Err     error
}

// Result is the overall outcome of dispatching a single message.
type Result struct {
	Skipped    bool
	SkipReason string
	Outcomes   []Outcome
}

// AnySucceeded reports whether at least one account accepted the post.
func (r Result) AnySucceeded() bool {
	for _, o := range r.Outcomes {
		if o.Err == nil {
			return true
		}
	}
	return false
}

// AllFailed reports whether every account rejected the post (true when
// there were no target accounts at all, since nothing succeeded).
func (r Result) AllFailed() bool {
	for _, o := range r.Outcomes {
		if o.Err == nil {
			return false
		}
	}
	return true
}

// Engine is the Dispatch Engine: it owns no provider state of its own
// (that lives in ProviderEntry/provider.Provider/account.Table) and is
// safe for concurrent use across providers and webhook requests.
type Engine struct {
	accounts *account.Table
}

func New(accounts *account.Table) *Engine {
	return &Engine{accounts: accounts}
}

// mergeVisibility resolves explicit > provider-default > account-default > public.
func mergeVisibility(explicit, providerDefault, accountDefault account.Visibility) account.Visibility {
	if explicit != "" {
		return explicit
	}
	if providerDefault != "" {
		return providerDefault
	}
	if accountDefault != "" {
		return accountDefault
	}
	return account.VisibilityPublic
}

// mergeAccounts resolves explicit-override > provider-config.
func mergeAccounts(explicit, providerAccounts []string) []string {
	if len(explicit) > 0 {
		return explicit
	}
	return providerAccounts
}

// Dispatch builds a MessageContext for msg, runs entry's pipeline, and
// (unless skipped) posts to every target account. Per-account failures
// are isolated: one account failing never aborts the rest. Callers are
// responsible for marking a provider.CacheBacked source processed after
// AnySucceeded(). When entry.RateLimiter is set it is checked before the
// pipeline runs, and Allow records the send on that limiter at the same
// time; callers record nothing themselves.
func (e *Engine) Dispatch(ctx context.Context, entry ProviderEntry, msg provider.Message, visibilityOverride account.Visibility, accountsOverride []string) (Result, error) {
	if entry.RateLimiter != nil {
		allowed, retryAfter := entry.RateLimiter.Allow(entry.Name)
		if !allowed {
			telemetry.RateLimitHits.WithLabelValues(entry.Name).Inc()
			return Result{}, &RateLimitError{Provider: entry.Name, RetryAfter: retryAfter}
		}
	}

	visibility := mergeVisibility(visibilityOverride, entry.DefaultVisibility, "")
	targetAccounts := mergeAccounts(accountsOverride, entry.Accounts)

	mctx := pipeline.NewContext(entry.Name, targetAccounts, visibility, pipeline.Message{
		Text:        msg.Text,
		Attachments: msg.Attachments,
	})

	if entry.Pipeline != nil {
		if err := entry.Pipeline.Run(ctx, mctx); err != nil {
			telemetry.ErrorsTotal.WithLabelValues("pipeline", "stage_failed").Inc()
			return Result{}, fmt.Errorf("dispatch: provider %s: %w", entry.Name, err)
		}
	}

	if mctx.Skip {
		slog.Info("dispatch: message skipped", "provider", entry.Name, "reason", mctx.SkipReason)
		return Result{Skipped: true, SkipReason: mctx.SkipReason}, nil
	}

	// an account's own DefaultVisibility only applies when neither the
	// request nor the provider supplied one; re-resolve per account since
	// that's the last rung of the precedence ladder.
	outcomes := make([]Outcome, 0, len(mctx.Accounts))
	for _, name := range mctx.Accounts {
		rec, ok := e.accounts.Get(name)
		if !ok {
			outcomes = append(outcomes, Outcome{Account: name, Err: fmt.Errorf("dispatch: unknown account %q", name)})
			continue
		}

		finalVisibility := visibility
		if visibilityOverride == "" && entry.DefaultVisibility == "" {
			finalVisibility = mergeVisibility("", "", rec.DefaultVisibility)
		}

		postID, err := rec.Client.PostStatus(ctx, mctx.Message.Text, mctx.Message.Attachments, finalVisibility)
		if err != nil {
			slog.Error("dispatch: post failed", "provider", entry.Name, "account", name, "error", err)
			telemetry.PostsTotal.WithLabelValues(entry.Name, name, "error").Inc()
			telemetry.ErrorsTotal.WithLabelValues("dispatch", "post_failed").Inc()
		} else {
			telemetry.PostsTotal.WithLabelValues(entry.Name, name, "success").Inc()
		}
		outcomes = append(outcomes, Outcome{Account: name, PostID: postID, Err: err})
	}

	return Result{Outcomes: outcomes}, nil
}
