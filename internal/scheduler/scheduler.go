// Package scheduler drives scheduled (non-push) providers on their
// configured cron expressions, using the same worldline-go/hardloop
// cron runner the teacher's workflow engine uses for its own cron
// triggers.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	cronparse "github.com/robfig/cron/v3"
	"github.com/worldline-go/hardloop"
)

// InvalidCronError names the provider whose cron expression failed
// validation at startup, per the spec's "typed error naming provider on
// invalid cron" requirement.
type InvalidCronError struct {
	Provider string
	Expr     string
	Cause    error
}

func (e *InvalidCronError) Error() string {
	return fmt.Sprintf("scheduler: provider %q has invalid cron expression %q: %v", e.Provider, e.Expr, e.Cause)
}

func (e *InvalidCronError) Unwrap() error { return e.Cause }

var cronParser = cronparse.NewParser(
	cronparse.Minute | cronparse.Hour | cronparse.Dom | cronparse.Month | cronparse.Dow,
)

// ValidateCron parses a standard 5-field cron expression, returning an
// InvalidCronError naming the offending provider on failure.
func ValidateCron(provider, expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return &InvalidCronError{Provider: provider, Expr: expr, Cause: err}
	}
	return nil
}

// Invoker is called on every tick for a provider; it's the Dispatch
// Engine's entry point for scheduled execution.
type Invoker func(ctx context.Context, providerName string) error

// Entry is one scheduled provider.
type Entry struct {
	Provider string
	Cron     string
}

// cronRunner is satisfied by hardloop's unexported runner type (returned
// by hardloop.NewCron), so it can be stored without naming that type
// directly.
type cronRunner interface {
	Start(ctx context.Context) error
	Stop()
}

// Scheduler runs a fixed set of cron-scheduled providers, one
// hardloop.Cron per entry. Overlapping ticks for the same provider are
// dropped, not queued, because a scheduled invocation can outlive its own
// tick interval (a slow command/feed fetch); queuing would let
// invocations pile up unboundedly.
type Scheduler struct {
	cron   cronRunner
	busy   map[string]*atomic.Bool
	cancel context.CancelFunc
}

// New validates every entry's cron expression and builds the runner. The
// returned Scheduler is not yet started; call Start.
func New(entries []Entry, invoke Invoker) (*Scheduler, error) {
	busy := make(map[string]*atomic.Bool, len(entries))
	crons := make([]hardloop.Cron, 0, len(entries))

	for _, e := range entries {
		if err := ValidateCron(e.Provider, e.Cron); err != nil {
			return nil, err
		}

		flag := &atomic.Bool{}
		busy[e.Provider] = flag

		provider := e.Provider
		crons = append(crons, hardloop.Cron{
			Name:  provider,
			Specs: []string{e.Cron},
			Func:  tickFunc(provider, flag, invoke),
		})
	}

	cronJob, err := hardloop.NewCron(crons...)
	if err != nil {
		return nil, fmt.Errorf("scheduler: create cron runner: %w", err)
	}

	return &Scheduler{cron: cronJob, busy: busy}, nil
}

func tickFunc(provider string, busy *atomic.Bool, invoke Invoker) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if !busy.CompareAndSwap(false, true) {
			slog.Warn("scheduler: dropping overlapping tick", "provider", provider)
			return nil
		}
		defer busy.Store(false)

		if err := invoke(ctx, provider); err != nil {
			slog.Error("scheduler: provider invocation failed", "provider", provider, "error", err)
		}
		// hardloop's own cron loop must keep running regardless of a single
		// tick's outcome.
		return nil
	}
}

// Start begins ticking every configured entry.
func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	if err := s.cron.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("scheduler: start cron runner: %w", err)
	}
	return nil
}

// Stop halts ticking. Safe to call after Start only.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.cron.Stop()
}
