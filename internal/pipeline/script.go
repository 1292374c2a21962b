package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// script is an escape hatch for transforms the built-in stage kinds don't
// cover: a short JavaScript snippet that reads and may rewrite the
// message. The runtime is a fresh goja.Runtime per call; no state or
// timers are shared with the host process.
type scriptOpts struct {
	Source  string        `opt:"source"`
	Timeout time.Duration `opt:"timeout"`
}

type scriptStage struct {
	opts scriptOpts
}

func init() {
	RegisterStageKind("script", func(opts map[string]any) (Stage, error) {
		var o scriptOpts
		if err := decodeOpts(opts, &o); err != nil {
			return nil, err
		}
		if o.Source == "" {
			return nil, fmt.Errorf("script: source is required")
		}
		if o.Timeout == 0 {
			o.Timeout = 5 * time.Second
		}
		return &scriptStage{opts: o}, nil
	})
}

func (s *scriptStage) Name() string { return "script" }

type scriptResult struct {
	Text   string `json:"text"`
	Skip   bool   `json:"skip"`
	Reason string `json:"reason"`
}

func (s *scriptStage) Execute(ctx context.Context, mctx *Context, next Next) error {
	vm := goja.New()

	done := make(chan error, 1)
	var result scriptResult

	go func() {
		if err := vm.Set("text", mctx.Message.Text); err != nil {
			done <- fmt.Errorf("script: set text: %w", err)
			return
		}
		if err := vm.Set("provider", mctx.Provider); err != nil {
			done <- fmt.Errorf("script: set provider: %w", err)
			return
		}

		value, err := vm.RunString(s.opts.Source)
		if err != nil {
			done <- fmt.Errorf("script: run: %w", err)
			return
		}

		if err := vm.ExportTo(value, &result); err != nil {
			// a script that doesn't return {text,skip,reason} is treated
			// as "no change" rather than an error.
			result.Text = mctx.Message.Text
		}
		done <- nil
	}()

	timer := time.NewTimer(s.opts.Timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-timer.C:
		vm.Interrupt("script: timed out")
		return fmt.Errorf("script: timed out after %s", s.opts.Timeout)
	case <-ctx.Done():
		vm.Interrupt("script: cancelled")
		return ctx.Err()
	}

	if result.Skip {
		mctx.Skip = true
		mctx.SkipReason = result.Reason
		return nil
	}

	mctx.Message.Text = result.Text
	return next(ctx)
}
