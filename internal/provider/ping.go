package provider

import "context"

// PingProvider emits a fixed literal message every tick; useful for
// liveness checks of the full pipeline+dispatch path.
type PingProvider struct {
	name    string
	message string
}

func NewPingProvider(name, message string) *PingProvider {
	return &PingProvider{name: name, message: message}
}

func (p *PingProvider) Name() string { return p.name }

func (p *PingProvider) Generate(ctx context.Context) ([]Message, error) {
	return []Message{{Text: p.message}}, nil
}
