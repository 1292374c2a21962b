package provider

import (
	"context"
	"sync"
)

// PushProvider holds a message set externally (webhook request or admin
// API) and returns it exactly once on the next Generate call, then
// clears it in favor of the configured default. Optional MaxLength
// truncates with a trailing ellipsis.
type PushProvider struct {
	name           string
	defaultMessage string
	maxLength      int

	mu      sync.Mutex
	current *Message
}

func NewPushProvider(name, defaultMessage string, maxLength int) *PushProvider {
	return &PushProvider{name: name, defaultMessage: defaultMessage, maxLength: maxLength}
}

func (p *PushProvider) Name() string { return p.name }

func (p *PushProvider) SetCurrent(msg Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = &msg
}

func (p *PushProvider) Generate(ctx context.Context) ([]Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var msg Message
	if p.current != nil {
		msg = *p.current
		p.current = nil
	} else {
		if p.defaultMessage == "" {
			return nil, nil
		}
		msg = Message{Text: p.defaultMessage}
	}

	if p.maxLength > 0 {
		msg.Text = truncate(msg.Text, p.maxLength)
	}

	return []Message{msg}, nil
}

func truncate(s string, maxLength int) string {
	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return string(runes[:maxLength])
	}
	return string(runes[:maxLength-3]) + "..."
}
