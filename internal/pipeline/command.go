package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/feathermark/crosspost/internal/pipeline/executil"
)

const defaultCommandTimeout = 30 * time.Second

type commandOpts struct {
	Command    string            `opt:"command"`
	Timeout    time.Duration     `opt:"timeout"`
	Cwd        string            `opt:"cwd"`
	Env        map[string]string `opt:"env"`
	MaxBuffer  int               `opt:"max_buffer"`
	Mode       string            `opt:"mode"` // replace|prepend|append|validate
	Input      string            `opt:"input"` // stdout_only|env|stdin (meaning of the *provider's* message as seen by the command)
	SkipOnFail bool              `opt:"skip_on_fail"`
}

type commandStage struct {
	opts commandOpts
}

func init() {
	RegisterStageKind("command", func(opts map[string]any) (Stage, error) {
		var o commandOpts
		if err := decodeOpts(opts, &o); err != nil {
			return nil, err
		}
		if o.Command == "" {
			return nil, fmt.Errorf("command: command is required")
		}
		if o.Timeout == 0 {
			o.Timeout = defaultCommandTimeout
		}
		if o.Mode == "" {
			o.Mode = "replace"
		}
		if o.Input == "" {
			o.Input = "stdout_only"
		}
		return &commandStage{opts: o}, nil
	})
}

func (s *commandStage) Name() string { return "command" }

func (s *commandStage) Execute(ctx context.Context, mctx *Context, next Next) error {
	env := map[string]string{}
	for k, v := range s.opts.Env {
		env[k] = v
	}

	var stdin string
	switch s.opts.Input {
	case "env":
		env["MESSAGE_TEXT"] = mctx.Message.Text
	case "stdin":
		stdin = mctx.Message.Text
	case "stdout_only":
		// message text isn't fed to the command at all; it only reads
		// whatever the command already knows how to produce.
	default:
		return fmt.Errorf("command: unknown input mode %q", s.opts.Input)
	}

	result, err := executil.Run(ctx, s.opts.Command, s.opts.Timeout, s.opts.Cwd, env, stdin, s.opts.MaxBuffer)
	if err != nil {
		return fmt.Errorf("command: %w", err)
	}

	if result.Stderr != "" {
		// stderr is diagnostic noise, not fatal; surfaced via Scratch for
		// whatever logs the pipeline run.
		mctx.Scratch["command_stderr"] = result.Stderr
	}
	mctx.Scratch["command_exit_code"] = result.ExitCode

	stdout := strings.TrimRight(result.Stdout, "\n")

	switch s.opts.Mode {
	case "validate":
		if result.ExitCode != 0 {
			if s.opts.SkipOnFail {
				mctx.Skip = true
				mctx.SkipReason = fmt.Sprintf("command: validation failed with exit code %d", result.ExitCode)
				return nil
			}
			return fmt.Errorf("command: validation failed with exit code %d", result.ExitCode)
		}
		return next(ctx)
	case "replace":
		if stdout == "" {
			return fmt.Errorf("command: empty stdout in mutating mode %q", s.opts.Mode)
		}
		mctx.Message.Text = stdout
	case "prepend":
		if stdout == "" {
			return fmt.Errorf("command: empty stdout in mutating mode %q", s.opts.Mode)
		}
		mctx.Message.Text = stdout + mctx.Message.Text
	case "append":
		if stdout == "" {
			return fmt.Errorf("command: empty stdout in mutating mode %q", s.opts.Mode)
		}
		mctx.Message.Text = mctx.Message.Text + stdout
	default:
		return fmt.Errorf("command: unknown mode %q", s.opts.Mode)
	}

	if result.ExitCode != 0 {
		return fmt.Errorf("command: exited with code %d", result.ExitCode)
	}

	return next(ctx)
}
