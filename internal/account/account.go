// Package account models posting identities and the remote client
// contract the Dispatch Engine depends on. The concrete Mastodon/Bluesky
// HTTP clients are thin, real implementations of that contract — kept
// deliberately small since spec.md treats the remote API surface as an
// external collaborator specified only by PostStatus/VerifyCredentials.
package account

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/feathermark/crosspost/internal/config"
)

// Visibility is one of public|unlisted|private|direct.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPrivate  Visibility = "private"
	VisibilityDirect   Visibility = "direct"
)

// Attachment is the dispatch-time representation of a media item to
// upload alongside a post.
type Attachment struct {
	Data        []byte
	MimeType    string
	Filename    string
	Description string
}

// Info is the subset of remote account metadata VerifyCredentials reports.
type Info struct {
	ID          string
	Username    string
	DisplayName string
}

// Client is the narrow remote-collaborator contract the Dispatch Engine
// depends on. Implementations own all HTTP/auth details for their backend.
type Client interface {
	PostStatus(ctx context.Context, text string, attachments []Attachment, visibility Visibility) (postID string, err error)
	VerifyCredentials(ctx context.Context) (Info, error)
}

// Record is an immutable snapshot of one configured account plus its live
// client. Rotation replaces the whole *Record atomically via Table.Swap so
// readers never observe a half-updated account.
type Record struct {
	Name              string
	Kind              string
	DefaultVisibility Visibility
	Client            Client
}

// Table is the shared, read-mostly account registry. Lookups are lock-free
// reads of an atomic snapshot; rotation swaps the entire map at once.
type Table struct {
	snapshot atomic.Pointer[map[string]*Record]
	mu       sync.Mutex // serializes writers (rotation detector vs admin API)
}

func NewTable() *Table {
	t := &Table{}
	empty := map[string]*Record{}
	t.snapshot.Store(&empty)
	return t
}

// Load replaces the entire table (used at startup and on admin-driven
// config hot-reload).
func (t *Table) Load(records map[string]*Record) {
	snapshot := make(map[string]*Record, len(records))
	for k, v := range records {
		snapshot[k] = v
	}
	t.snapshot.Store(&snapshot)
}

// Get returns the named account record, or false if it doesn't exist.
func (t *Table) Get(name string) (*Record, bool) {
	m := *t.snapshot.Load()
	r, ok := m[name]
	return r, ok
}

// Swap atomically replaces one account's record (used by the rotation
// detector and the admin API), leaving every other entry untouched.
func (t *Table) Swap(name string, record *Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	old := *t.snapshot.Load()
	next := make(map[string]*Record, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[name] = record
	t.snapshot.Store(&next)
}

// Remove atomically deletes an account from the table.
func (t *Table) Remove(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	old := *t.snapshot.Load()
	next := make(map[string]*Record, len(old))
	for k, v := range old {
		if k != name {
			next[k] = v
		}
	}
	t.snapshot.Store(&next)
}

// NewClient builds the backend client for a configured account, dispatched
// on Kind exactly as the data model requires ("mastodon-family | bluesky").
func NewClient(cfg config.Account) (Client, error) {
	switch cfg.Kind {
	case "mastodon", "pleroma", "akkoma", "gotosocial":
		return NewMastodonClient(cfg.BaseURL, cfg.AccessToken)
	case "bluesky":
		return NewBlueskyClient(cfg.BaseURL, cfg.Identifier, cfg.Password)
	default:
		return nil, fmt.Errorf("account: unsupported kind %q", cfg.Kind)
	}
}
