package pipeline

import (
	"context"
	"testing"
)

func TestCommandReplace(t *testing.T) {
	s, err := Build("command", map[string]any{
		"command": "echo hello",
		"mode":    "replace",
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	mctx := NewContext("p", nil, "public", Message{Text: "original"})
	called := false
	next := func(ctx context.Context) error { called = true; return nil }

	if err := s.Execute(context.Background(), mctx, next); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !called {
		t.Fatalf("expected next to be called")
	}
	if mctx.Message.Text != "hello" {
		t.Fatalf("got text %q", mctx.Message.Text)
	}
}

func TestCommandEmptyStdoutFails(t *testing.T) {
	s, err := Build("command", map[string]any{
		"command": "true",
		"mode":    "replace",
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	mctx := NewContext("p", nil, "public", Message{Text: "original"})
	next := func(ctx context.Context) error { return nil }

	if err := s.Execute(context.Background(), mctx, next); err == nil {
		t.Fatalf("expected error on empty stdout")
	}
}

func TestCommandValidateSkipOnFail(t *testing.T) {
	s, err := Build("command", map[string]any{
		"command":      "exit 1",
		"mode":         "validate",
		"skip_on_fail": true,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	mctx := NewContext("p", nil, "public", Message{Text: "original"})
	next := func(ctx context.Context) error { return nil }

	if err := s.Execute(context.Background(), mctx, next); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !mctx.Skip {
		t.Fatalf("expected skip to be set")
	}
}
