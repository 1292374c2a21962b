// Package provider implements the message-generation side of each
// provider kind: ping, command, jsoncommand, multijsoncommand, rssfeed,
// push. Every provider's Generate is invoked either by a scheduler tick
// or a webhook request, and returns zero or more ready-to-dispatch
// messages.
package provider

import (
	"context"

	"github.com/feathermark/crosspost/internal/account"
)

// Message is a single generated message, ready for the middleware
// pipeline. SourceID is non-empty for multijsoncommand/rssfeed items and
// names the processed-cache entry the scheduled invocation path marks
// after Dispatch reports a successful delivery — never before, preserving at-least-once delivery
// on crash-before-dispatch.
type Message struct {
	Text        string
	Attachments []account.Attachment
	SourceID    string
}

// Provider generates zero or more messages per invocation.
type Provider interface {
	Name() string
	Generate(ctx context.Context) ([]Message, error)
}

// CacheBacked is implemented by providers that track dispatched item IDs
// (multijsoncommand, rssfeed) so the scheduled invocation path can mark
// an item processed only after a successful send.
type CacheBacked interface {
	MarkProcessed(id string) error
}

// Pusher is implemented by the push provider: its current message is set
// externally (webhook or admin API), not generated from a command/feed.
type Pusher interface {
	Provider
	SetCurrent(msg Message)
}
