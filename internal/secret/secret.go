// Package secret resolves opaque secret references ("${ENV}", "file://...",
// "vault://...", "aws://...", "azure://...", "gcp://...") to plaintext,
// with TTL caching and optional rotation detection.
package secret

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Result is the outcome of a successful Resolve, including provenance
// metadata for logging and testing.
type Result struct {
	Value        string
	Source       string // provider name that resolved it
	Reference    string
	LastAccessed time.Time
	AccessCount  int
	Cached       bool
}

// Provider is a secret backend. Providers are consulted in registration
// order; the first whose CanHandle returns true resolves the reference.
type Provider interface {
	Name() string
	CanHandle(ref string) bool
	Resolve(ctx context.Context, ref string) (string, error)
	// TestConnection probes the backend non-destructively (e.g. a health
	// check or a no-op API call), without resolving any specific reference.
	TestConnection(ctx context.Context) error
}

// UnresolvedError is returned when no registered provider can handle a
// reference; callers must not fall back to treating ref as a literal value.
type UnresolvedError struct {
	Reference string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("secret: no provider can resolve reference %q", Mask(e.Reference))
}

// ResolveError wraps a provider-level failure after retries are exhausted.
type ResolveError struct {
	Provider  string
	Reference string
	Err       error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("secret: provider %s failed to resolve %q: %v", e.Provider, Mask(e.Reference), e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// Manager resolves references through an ordered provider chain, caching
// results with a TTL and bounding cache size with LRU eviction.
type Manager struct {
	providers []Provider
	cache     *cache
	retries   int
	backoff   time.Duration
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithRetries sets the number of resolve attempts (including the first) and
// the base exponential backoff between them.
func WithRetries(n int, backoff time.Duration) Option {
	return func(m *Manager) {
		if n > 0 {
			m.retries = n
		}
		if backoff > 0 {
			m.backoff = backoff
		}
	}
}

// New builds a Manager. Providers are registered in the given order, which
// is also the order CanHandle is consulted in.
func New(cacheTTL time.Duration, cacheMaxSize int, providers []Provider, opts ...Option) *Manager {
	m := &Manager{
		providers: providers,
		cache:     newCache(cacheTTL, cacheMaxSize),
		retries:   3,
		backoff:   200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Resolve returns the plaintext for ref, consulting the cache first.
func (m *Manager) Resolve(ctx context.Context, ref string) (Result, error) {
	if cached, ok := m.cache.get(ref); ok {
		cached.Cached = true
		cached.AccessCount++
		cached.LastAccessed = time.Now()
		m.cache.touch(ref, cached)
		return cached, nil
	}

	provider := m.find(ref)
	if provider == nil {
		return Result{}, &UnresolvedError{Reference: ref}
	}

	var lastErr error
	for attempt := 0; attempt < m.retries; attempt++ {
		if attempt > 0 {
			wait := m.backoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(wait):
			}
		}

		value, err := provider.Resolve(ctx, ref)
		if err == nil {
			result := Result{
				Value:        value,
				Source:       provider.Name(),
				Reference:    ref,
				LastAccessed: time.Now(),
				AccessCount:  1,
				Cached:       false,
			}
			m.cache.put(ref, result)
			return result, nil
		}
		lastErr = err
		slog.Warn("secret resolve attempt failed", "provider", provider.Name(), "reference", Mask(ref), "attempt", attempt+1, "error", err)
	}

	return Result{}, &ResolveError{Provider: provider.Name(), Reference: ref, Err: lastErr}
}

func (m *Manager) find(ref string) Provider {
	for _, p := range m.providers {
		if p.CanHandle(ref) {
			return p
		}
	}
	return nil
}

// TestConnections probes every registered provider non-destructively.
func (m *Manager) TestConnections(ctx context.Context) map[string]bool {
	out := make(map[string]bool, len(m.providers))
	for _, p := range m.providers {
		out[p.Name()] = p.TestConnection(ctx) == nil
	}
	return out
}

// Mask redacts a secret reference for logging. URL-shaped references keep
// scheme/host/path and drop the query; opaque strings longer than 10
// characters keep the first and last 5, collapsing the middle.
func Mask(ref string) string {
	if ref == "" {
		return ref
	}

	if idx := strings.Index(ref, "://"); idx >= 0 {
		scheme := ref[:idx]
		rest := ref[idx+3:]
		if q := strings.IndexAny(rest, "?#"); q >= 0 {
			rest = rest[:q]
		}
		return scheme + "://" + rest
	}

	if len(ref) > 10 {
		return ref[:5] + "..." + ref[len(ref)-5:]
	}
	return strings.Repeat("*", len(ref))
}

// errUnsupportedScheme is a sentinel for a reference that doesn't belong
// to a provider, distinct from a resolution failure. No code in this
// package returns it.
var errUnsupportedScheme = errors.New("secret: unsupported scheme")
