package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/feathermark/crosspost/internal/pipeline/executil"
)

// CommandProvider runs a shell command on every invocation and uses its
// trimmed stdout as the message text. Stderr is surfaced via LastStderr
// for logging but never fails the invocation on its own.
type CommandProvider struct {
	name    string
	command string
	timeout time.Duration
	cwd     string
	env     map[string]string

	LastStderr string
}

func NewCommandProvider(name, command string, timeout time.Duration, cwd string, env map[string]string) *CommandProvider {
	return &CommandProvider{name: name, command: command, timeout: timeout, cwd: cwd, env: env}
}

func (p *CommandProvider) Name() string { return p.name }

func (p *CommandProvider) run(ctx context.Context) (executil.Result, error) {
	return executil.Run(ctx, p.command, p.timeout, p.cwd, p.env, "", 0)
}

func (p *CommandProvider) Generate(ctx context.Context) ([]Message, error) {
	result, err := p.run(ctx)
	if err != nil {
		return nil, fmt.Errorf("command provider %s: %w", p.name, err)
	}

	p.LastStderr = result.Stderr

	text := strings.TrimSpace(result.Stdout)
	if text == "" {
		return nil, fmt.Errorf("command provider %s: empty stdout", p.name)
	}

	return []Message{{Text: text}}, nil
}
