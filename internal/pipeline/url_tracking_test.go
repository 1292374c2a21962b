package pipeline

import (
	"context"
	"strings"
	"testing"
)

func TestURLTrackingAppendsUTM(t *testing.T) {
	s, err := Build("url_tracking", map[string]any{
		"utm_source": "crosspost",
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	mctx := NewContext("p", nil, "public", Message{Text: "see https://example.com/post"})
	if err := s.Execute(context.Background(), mctx, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if !strings.Contains(mctx.Message.Text, "utm_source=crosspost") {
		t.Fatalf("got %q, expected utm_source param", mctx.Message.Text)
	}
}

func TestURLTrackingRewriteHTMLKeepsOriginalAsText(t *testing.T) {
	s, err := Build("url_tracking", map[string]any{
		"utm_source":   "crosspost",
		"rewrite_html": true,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	mctx := NewContext("p", nil, "public", Message{Text: "https://example.com/post"})
	if err := s.Execute(context.Background(), mctx, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("execute: %v", err)
	}

	// href carries the normalized (tracked) URL; the anchor text must stay
	// the original, untracked URL.
	if !strings.Contains(mctx.Message.Text, `href="https://example.com/post?utm_source=crosspost"`) {
		t.Fatalf("got %q, href must carry the tracked URL", mctx.Message.Text)
	}
	if !strings.HasSuffix(mctx.Message.Text, ">https://example.com/post</a>") {
		t.Fatalf("got %q, anchor text must stay the original URL", mctx.Message.Text)
	}
}

func TestURLTrackingSkipExistingUTM(t *testing.T) {
	s, err := Build("url_tracking", map[string]any{
		"utm_source":        "crosspost",
		"skip_existing_utm": true,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	original := "https://example.com/post?utm_source=other"
	mctx := NewContext("p", nil, "public", Message{Text: original})
	if err := s.Execute(context.Background(), mctx, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if mctx.Message.Text != original {
		t.Fatalf("got %q, expected no-op when utm already present", mctx.Message.Text)
	}
}
