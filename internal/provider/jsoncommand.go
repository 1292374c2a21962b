package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/feathermark/crosspost/internal/template"
)

// JSONCommandProvider runs a shell command whose stdout is a single JSON
// object or array element, then renders a template against it.
type JSONCommandProvider struct {
	name    string
	command string
	timeout time.Duration
	cwd     string
	env     map[string]string

	tmpl          string
	strict        bool
	attachmentCfg *template.AttachmentConfig
}

func NewJSONCommandProvider(name, command string, timeout time.Duration, cwd string, env map[string]string, tmpl string, strict bool, attachmentCfg *template.AttachmentConfig) *JSONCommandProvider {
	return &JSONCommandProvider{
		name: name, command: command, timeout: timeout, cwd: cwd, env: env,
		tmpl: tmpl, strict: strict, attachmentCfg: attachmentCfg,
	}
}

func (p *JSONCommandProvider) Name() string { return p.name }

func (p *JSONCommandProvider) Generate(ctx context.Context) ([]Message, error) {
	cmd := NewCommandProvider(p.name, p.command, p.timeout, p.cwd, p.env)
	result, err := cmd.run(ctx)
	if err != nil {
		return nil, fmt.Errorf("jsoncommand provider %s: %w", p.name, err)
	}

	data := []byte(result.Stdout)

	text, err := template.Render(p.tmpl, data, p.strict)
	if err != nil {
		return nil, fmt.Errorf("jsoncommand provider %s: render template: %w", p.name, err)
	}

	msg := Message{Text: text}

	if p.attachmentCfg != nil {
		attachments, err := template.ExtractAttachments(data, *p.attachmentCfg)
		if err != nil {
			return nil, fmt.Errorf("jsoncommand provider %s: extract attachments: %w", p.name, err)
		}
		msg.Attachments = toAccountAttachments(attachments)
	}

	return []Message{msg}, nil
}
