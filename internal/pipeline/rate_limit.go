package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/feathermark/crosspost/internal/ratelimit"
	"github.com/feathermark/crosspost/internal/telemetry"
)

type rateLimitOpts struct {
	Scope     string        `opt:"scope"` // global|provider|account_set
	Limit     int           `opt:"limit"`
	Window    time.Duration `opt:"window"`
	Action    string        `opt:"action"` // skip|delay
	DelayCap  time.Duration `opt:"delay_cap"`
}

type rateLimitStage struct {
	opts    rateLimitOpts
	limiter *ratelimit.Limiter
}

func init() {
	RegisterStageKind("rate_limit", func(opts map[string]any) (Stage, error) {
		var o rateLimitOpts
		if err := decodeOpts(opts, &o); err != nil {
			return nil, err
		}
		if o.Scope == "" {
			o.Scope = "global"
		}
		if o.Action == "" {
			o.Action = "skip"
		}
		if o.Limit <= 0 || o.Window <= 0 {
			return nil, fmt.Errorf("rate_limit: limit and window must be positive")
		}
		return &rateLimitStage{
			opts:    o,
			limiter: ratelimit.New(o.Limit, o.Window),
		}, nil
	})
}

func (s *rateLimitStage) Name() string { return "rate_limit" }

func (s *rateLimitStage) key(mctx *Context) string {
	switch s.opts.Scope {
	case "provider":
		return mctx.Provider
	case "account_set":
		accounts := append([]string{}, mctx.Accounts...)
		sort.Strings(accounts)
		return strings.Join(accounts, ",")
	default:
		return "global"
	}
}

func (s *rateLimitStage) Execute(ctx context.Context, mctx *Context, next Next) error {
	allowed, retryAfter := s.limiter.Allow(s.key(mctx))
	if allowed {
		return next(ctx)
	}

	telemetry.RateLimitHits.WithLabelValues(s.opts.Scope).Inc()
	mctx.Scratch["rate_limit_retry_after"] = retryAfter

	switch s.opts.Action {
	case "skip":
		mctx.Skip = true
		mctx.SkipReason = fmt.Sprintf("rate_limit: scope %q over budget, retry after %s", s.opts.Scope, retryAfter)
		return nil
	case "delay":
		wait := retryAfter
		if s.opts.DelayCap > 0 && wait > s.opts.DelayCap {
			mctx.Skip = true
			mctx.SkipReason = fmt.Sprintf("rate_limit: required delay %s exceeds cap %s", wait, s.opts.DelayCap)
			return nil
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		return next(ctx)
	default:
		return fmt.Errorf("rate_limit: unknown action %q", s.opts.Action)
	}
}
