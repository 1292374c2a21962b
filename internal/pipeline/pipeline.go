// Package pipeline implements the middleware chain-of-responsibility that
// every generated message passes through before dispatch.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/feathermark/crosspost/internal/account"
)

// Message is the mutable payload a pipeline run operates on.
type Message struct {
	Text        string
	Attachments []account.Attachment
}

// Context is the middleware-scoped state threaded through every stage,
// matching the MessageContext data-model entry.
type Context struct {
	Message    Message
	Provider   string
	Accounts   []string
	Visibility account.Visibility

	// Scratch is the stage-to-stage key-value map; the "<stageName>_*"
	// naming convention is left to individual stages.
	Scratch map[string]any

	Skip       bool
	SkipReason string

	StartedAt time.Time

	// OriginalText preserves the message text as first produced by the
	// provider, for stages (e.g. template's "context" data source) that
	// need to refer back to it after earlier stages have mutated Text.
	OriginalText string
}

// NewContext builds a Context ready for a pipeline Run.
func NewContext(provider string, accounts []string, visibility account.Visibility, msg Message) *Context {
	return &Context{
		Message:      msg,
		Provider:     provider,
		Accounts:     accounts,
		Visibility:   visibility,
		Scratch:      make(map[string]any),
		StartedAt:    time.Now(),
		OriginalText: msg.Text,
	}
}

// Next advances the chain to the following stage. A stage halts the chain
// by returning nil without calling Next.
type Next func(ctx context.Context) error

// Stage is a single middleware step. Implementations mutate mctx.Message,
// may set mctx.Skip+SkipReason and return without calling next (halting
// the chain), or return an error (logged and propagated as a
// message-level failure by default).
type Stage interface {
	Name() string
	Execute(ctx context.Context, mctx *Context, next Next) error
}

// Pipeline runs an ordered list of stages single-threaded per message.
type Pipeline struct {
	stages []Stage
}

func New(stages []Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Run executes the chain against mctx. Returns an error if any stage
// failed; callers should treat mctx.Skip as a separate, non-error outcome.
func (p *Pipeline) Run(ctx context.Context, mctx *Context) error {
	return p.runFrom(ctx, mctx, 0)
}

func (p *Pipeline) runFrom(ctx context.Context, mctx *Context, index int) error {
	if index >= len(p.stages) {
		return nil
	}

	stage := p.stages[index]

	next := func(ctx context.Context) error {
		return p.runFrom(ctx, mctx, index+1)
	}

	if err := stage.Execute(ctx, mctx, next); err != nil {
		slog.Error("pipeline stage failed", "stage", stage.Name(), "provider", mctx.Provider, "error", err)
		return fmt.Errorf("stage %s: %w", stage.Name(), err)
	}

	return nil
}
