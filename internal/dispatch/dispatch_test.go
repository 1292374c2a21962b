package dispatch

import (
	"context"
	"fmt"
	"testing"

	"github.com/feathermark/crosspost/internal/account"
	"github.com/feathermark/crosspost/internal/provider"
	"github.com/feathermark/crosspost/internal/ratelimit"
)

type fakeClient struct {
	fail bool
}

func (f *fakeClient) PostStatus(ctx context.Context, text string, attachments []account.Attachment, visibility account.Visibility) (string, error) {
	if f.fail {
		return "", fmt.Errorf("boom")
	}
	return "post-1", nil
}

func (f *fakeClient) VerifyCredentials(ctx context.Context) (account.Info, error) {
	return account.Info{}, nil
}

func newTestEngine(t *testing.T, accounts map[string]bool) *Engine {
	t.Helper()
	table := account.NewTable()
	records := map[string]*account.Record{}
	for name, fail := range accounts {
		records[name] = &account.Record{Name: name, Client: &fakeClient{fail: fail}}
	}
	table.Load(records)
	return New(table)
}

func TestDispatchIsolatesPerAccountFailures(t *testing.T) {
	engine := newTestEngine(t, map[string]bool{"good": false, "bad": true})

	entry := ProviderEntry{Name: "p", Accounts: []string{"good", "bad"}}
	result, err := engine.Dispatch(context.Background(), entry, provider.Message{Text: "hi"}, "", nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(result.Outcomes) != 2 {
		t.Fatalf("got %d outcomes", len(result.Outcomes))
	}
	if result.AllFailed() {
		t.Fatalf("expected partial success, not all failed")
	}
	if !result.AnySucceeded() {
		t.Fatalf("expected at least one success")
	}
}

func TestDispatchVisibilityPrecedence(t *testing.T) {
	if got := mergeVisibility("direct", "unlisted", "public"); got != "direct" {
		t.Fatalf("got %q, want explicit override to win", got)
	}
	if got := mergeVisibility("", "unlisted", "public"); got != "unlisted" {
		t.Fatalf("got %q, want provider default to win over account default", got)
	}
	if got := mergeVisibility("", "", "private"); got != "private" {
		t.Fatalf("got %q, want account default", got)
	}
	if got := mergeVisibility("", "", ""); got != account.VisibilityPublic {
		t.Fatalf("got %q, want public fallback", got)
	}
}

func TestDispatchAccountsPrecedence(t *testing.T) {
	got := mergeAccounts([]string{"override"}, []string{"configured"})
	if len(got) != 1 || got[0] != "override" {
		t.Fatalf("got %v, want explicit override to win", got)
	}

	got = mergeAccounts(nil, []string{"configured"})
	if len(got) != 1 || got[0] != "configured" {
		t.Fatalf("got %v, want provider config fallback", got)
	}
}

func TestDispatchRateLimitedPushProvider(t *testing.T) {
	engine := newTestEngine(t, map[string]bool{"good": false})

	entry := ProviderEntry{
		Name:        "push1",
		Accounts:    []string{"good"},
		RateLimiter: ratelimit.New(1, 1000000000),
	}

	_, err := engine.Dispatch(context.Background(), entry, provider.Message{Text: "1"}, "", nil)
	if err != nil {
		t.Fatalf("first dispatch: %v", err)
	}

	_, err = engine.Dispatch(context.Background(), entry, provider.Message{Text: "2"}, "", nil)
	if err == nil {
		t.Fatalf("expected rate limit error on second dispatch")
	}
	if _, ok := err.(*RateLimitError); !ok {
		t.Fatalf("got %T, want *RateLimitError", err)
	}
}
