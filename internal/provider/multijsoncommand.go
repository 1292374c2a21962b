package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/feathermark/crosspost/internal/cache"
	"github.com/feathermark/crosspost/internal/template"
	"github.com/tidwall/gjson"
)

// MultiJSONProvider runs a shell command whose stdout must be a JSON
// array, extracts each element's unique-key ID, and returns the first
// element not already present in its processed-item cache. The ID is
// only added to the cache by MarkProcessed, called by the scheduled
// invocation path once Dispatch reports a successful delivery — never on
// mere generation — so a
// crash between generation and dispatch is retried on the next tick.
type MultiJSONProvider struct {
	name    string
	command string
	timeout time.Duration
	cwd     string
	env     map[string]string

	uniqueKey     string
	tmpl          string
	strict        bool
	attachmentCfg *template.AttachmentConfig

	cache *cache.Set
}

func NewMultiJSONProvider(
	name, command string, timeout time.Duration, cwd string, env map[string]string,
	uniqueKey, tmpl string, strict bool, attachmentCfg *template.AttachmentConfig,
	processedCache *cache.Set,
) *MultiJSONProvider {
	if uniqueKey == "" {
		uniqueKey = "id"
	}
	return &MultiJSONProvider{
		name: name, command: command, timeout: timeout, cwd: cwd, env: env,
		uniqueKey: uniqueKey, tmpl: tmpl, strict: strict, attachmentCfg: attachmentCfg,
		cache: processedCache,
	}
}

func (p *MultiJSONProvider) Name() string { return p.name }

func (p *MultiJSONProvider) MarkProcessed(id string) error {
	p.cache.Add(id)
	return p.cache.Persist()
}

func (p *MultiJSONProvider) Generate(ctx context.Context) ([]Message, error) {
	cmd := NewCommandProvider(p.name, p.command, p.timeout, p.cwd, p.env)
	result, err := cmd.run(ctx)
	if err != nil {
		return nil, fmt.Errorf("multijsoncommand provider %s: %w", p.name, err)
	}

	root := gjson.Parse(result.Stdout)
	if !root.IsArray() {
		return nil, fmt.Errorf("multijsoncommand provider %s: stdout root must be a JSON array", p.name)
	}

	if err := p.cache.Reload(); err != nil {
		return nil, fmt.Errorf("multijsoncommand provider %s: reload cache: %w", p.name, err)
	}

	items := root.Array()

	seenThisBatch := map[string]bool{}
	for _, item := range items {
		id := item.Get(p.uniqueKey).String()
		if id == "" {
			continue
		}
		if seenThisBatch[id] {
			return nil, fmt.Errorf("multijsoncommand provider %s: duplicate id %q within one batch", p.name, id)
		}
		seenThisBatch[id] = true
	}

	for _, item := range items {
		id := item.Get(p.uniqueKey).String()
		if id == "" {
			continue
		}

		if p.cache.Contains(id) {
			continue
		}

		raw := []byte(item.Raw)

		text, err := template.Render(p.tmpl, raw, p.strict)
		if err != nil {
			return nil, fmt.Errorf("multijsoncommand provider %s: render template: %w", p.name, err)
		}

		msg := Message{Text: text, SourceID: id}

		if p.attachmentCfg != nil {
			attachments, err := template.ExtractAttachments(raw, *p.attachmentCfg)
			if err != nil {
				return nil, fmt.Errorf("multijsoncommand provider %s: extract attachments: %w", p.name, err)
			}
			msg.Attachments = toAccountAttachments(attachments)
		}

		return []Message{msg}, nil
	}

	return nil, nil
}
