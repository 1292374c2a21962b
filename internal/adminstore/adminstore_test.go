package adminstore

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "admin.db")
	store, err := Open(context.Background(), path, "test_", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAccountRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cfg := AccountConfig{Kind: "mastodon", BaseURL: "https://example.social", AccessToken: "tok123"}
	if _, err := store.CreateAccount(ctx, "acct1", cfg); err != nil {
		t.Fatalf("create: %v", err)
	}

	rec, err := store.GetAccount(ctx, "acct1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec == nil || rec.Config.AccessToken != "tok123" {
		t.Fatalf("got %+v, want round-tripped access token", rec)
	}

	list, err := store.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d accounts, want 1", len(list))
	}

	if err := store.DeleteAccount(ctx, "acct1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	rec, err = store.GetAccount(ctx, "acct1")
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil after delete, got %+v", rec)
	}
}

func TestAccountEncryptionRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admin_enc.db")
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	store, err := Open(context.Background(), path, "test_", key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	cfg := AccountConfig{Kind: "bluesky", Identifier: "user.bsky.social", Password: "app-password"}
	if _, err := store.CreateAccount(ctx, "acct2", cfg); err != nil {
		t.Fatalf("create: %v", err)
	}

	rec, err := store.GetAccount(ctx, "acct2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Config.Password != "app-password" {
		t.Fatalf("expected decrypted password on read, got %q", rec.Config.Password)
	}
}

func TestProviderRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cfg := ProviderConfig{Kind: "rssfeed", Cron: "*/5 * * * *", Enabled: true, Accounts: []string{"acct1"}}
	if _, err := store.CreateProvider(ctx, "feed1", cfg); err != nil {
		t.Fatalf("create: %v", err)
	}

	rec, err := store.UpdateProvider(ctx, "feed1", ProviderConfig{Kind: "rssfeed", Cron: "0 * * * *", Enabled: false})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if rec == nil || rec.Config.Cron != "0 * * * *" || rec.Config.Enabled {
		t.Fatalf("got %+v, want updated fields", rec)
	}
}
