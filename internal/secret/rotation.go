package secret

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
)

// RotationEvent is emitted when a tracked reference's fingerprint changes.
// Account and Field identify which config.Account credential field the new
// value belongs to, so a caller can rebind the account without re-reading
// static config.
type RotationEvent struct {
	Account   string
	Field     string
	Reference string
	NewValue  string
}

type trackedRef struct {
	account string
	field   string
	ref     string
}

// Tracker re-resolves a fixed set of references on each Check call and
// reports which ones rotated since the last observation. Rotation is
// detected by fingerprint (SHA-256 of the plaintext), never by comparing
// plaintext values directly, so the tracker never needs to retain secrets
// longer than a single Check.
type Tracker struct {
	manager *Manager

	mu           sync.Mutex
	references   []trackedRef
	fingerprints map[string]string
}

func NewTracker(manager *Manager) *Tracker {
	return &Tracker{manager: manager, fingerprints: make(map[string]string)}
}

// Track registers a reference for rotation detection, associated with the
// account and credential field it authenticates. Safe to call repeatedly
// with the same (account, field, ref) triple. A blank ref is ignored, since
// not every account configures every credential field.
func (t *Tracker) Track(account, field, ref string) {
	if ref == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, existing := range t.references {
		if existing.account == account && existing.field == field {
			return
		}
	}
	t.references = append(t.references, trackedRef{account: account, field: field, ref: ref})
}

// Check re-resolves every tracked reference and returns the ones whose
// fingerprint changed since the previous Check. The first successful Check
// of a reference only records its baseline fingerprint and reports nothing.
// Resolution failures are logged and skipped, not reported as rotations.
func (t *Tracker) Check(ctx context.Context) []RotationEvent {
	t.mu.Lock()
	refs := append([]trackedRef(nil), t.references...)
	t.mu.Unlock()

	var events []RotationEvent
	for _, tr := range refs {
		result, err := t.manager.Resolve(ctx, tr.ref)
		if err != nil {
			slog.Warn("rotation check: resolve failed", "account", tr.account, "reference", Mask(tr.ref), "error", err)
			continue
		}

		sum := sha256.Sum256([]byte(result.Value))
		fingerprint := hex.EncodeToString(sum[:])

		key := tr.account + "/" + tr.field
		t.mu.Lock()
		prev, seen := t.fingerprints[key]
		t.fingerprints[key] = fingerprint
		t.mu.Unlock()

		if seen && prev != fingerprint {
			slog.Info("secret rotation detected", "account", tr.account, "reference", Mask(tr.ref))
			events = append(events, RotationEvent{
				Account: tr.account, Field: tr.field, Reference: tr.ref, NewValue: result.Value,
			})
		}
	}

	return events
}
