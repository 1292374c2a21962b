package webhook

import (
	"encoding/json"
	"testing"

	"github.com/feathermark/crosspost/internal/config"
)

func TestResolveTemplatePriority(t *testing.T) {
	cfg := config.Provider{
		Template:  "default: {{text}}",
		Templates: map[string]string{"greeting": "hello {{text}}"},
	}

	tmpl, ok := resolveTemplate(incomingRequest{Template: "inline: {{text}}"}, cfg)
	if !ok || tmpl != "inline: {{text}}" {
		t.Fatalf("got %q, want inline template to win", tmpl)
	}

	tmpl, ok = resolveTemplate(incomingRequest{TemplateName: "greeting"}, cfg)
	if !ok || tmpl != "hello {{text}}" {
		t.Fatalf("got %q, want named template", tmpl)
	}

	tmpl, ok = resolveTemplate(incomingRequest{}, cfg)
	if !ok || tmpl != "default: {{text}}" {
		t.Fatalf("got %q, want provider default template", tmpl)
	}

	_, ok = resolveTemplate(incomingRequest{TemplateName: "missing"}, cfg)
	if ok {
		t.Fatalf("expected unknown named template to not resolve")
	}
}

func TestBuildMessagesArrayProducesOnePerElement(t *testing.T) {
	req := incomingRequest{
		Template: "{{text}}",
		JSON:     json.RawMessage(`[{"text":"one"},{"text":"two"}]`),
	}
	msgs, err := buildMessages(req, config.Provider{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Text != "one" || msgs[1].Text != "two" {
		t.Fatalf("got %+v", msgs)
	}
}

func TestBuildMessagesObjectProducesOne(t *testing.T) {
	req := incomingRequest{
		Template: "hi {{name}}",
		JSON:     json.RawMessage(`{"name":"world"}`),
	}
	msgs, err := buildMessages(req, config.Provider{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "hi world" {
		t.Fatalf("got %+v", msgs)
	}
}

func TestBuildMessagesFallsBackToLiteralMessage(t *testing.T) {
	req := incomingRequest{Message: "plain text"}
	msgs, err := buildMessages(req, config.Provider{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "plain text" {
		t.Fatalf("got %+v", msgs)
	}
}

func TestBuildMessagesNoTemplateNoMessageErrors(t *testing.T) {
	if _, err := buildMessages(incomingRequest{}, config.Provider{}); err == nil {
		t.Fatalf("expected error when neither template nor message resolves")
	}
}

func TestParseVisibilityRejectsUnknown(t *testing.T) {
	if got := parseVisibility("bogus"); got != "" {
		t.Fatalf("got %q, want empty for unrecognized visibility", got)
	}
	if got := parseVisibility("unlisted"); string(got) != "unlisted" {
		t.Fatalf("got %q", got)
	}
}
