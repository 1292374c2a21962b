package provider

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/feathermark/crosspost/internal/cache"
)

func newTestCache(t *testing.T) *cache.Set {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test_processed.json")
	set, err := cache.Load(path, 100, 0)
	if err != nil {
		t.Fatalf("load cache: %v", err)
	}
	return set
}

func TestMultiJSONSkipsKnownIDs(t *testing.T) {
	set := newTestCache(t)
	set.Add("1")

	p := NewMultiJSONProvider(
		"feed",
		`echo '[{"id":"1","text":"old"},{"id":"2","text":"new"}]'`,
		5*time.Second, "", nil,
		"id", "{{text}}", false, nil,
		set,
	)

	msgs, err := p.Generate(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "new" || msgs[0].SourceID != "2" {
		t.Fatalf("got %+v, want single message for id 2", msgs)
	}
}

func TestMultiJSONDuplicateIDIsFatal(t *testing.T) {
	set := newTestCache(t)

	p := NewMultiJSONProvider(
		"feed",
		`echo '[{"id":"1","text":"a"},{"id":"1","text":"b"}]'`,
		5*time.Second, "", nil,
		"id", "{{text}}", false, nil,
		set,
	)

	if _, err := p.Generate(context.Background()); err == nil {
		t.Fatalf("expected error on duplicate id within one batch")
	}
}

func TestMultiJSONMarkProcessedPersists(t *testing.T) {
	set := newTestCache(t)
	p := NewMultiJSONProvider("feed", "echo ok", time.Second, "", nil, "id", "{{text}}", false, nil, set)

	if err := p.MarkProcessed("abc"); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if !set.Contains("abc") {
		t.Fatalf("expected cache to contain marked id")
	}
}

func TestPushReturnsCurrentThenDefault(t *testing.T) {
	p := NewPushProvider("push", "default text", 0)

	p.SetCurrent(Message{Text: "set externally"})
	msgs, err := p.Generate(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "set externally" {
		t.Fatalf("got %+v", msgs)
	}

	msgs, err = p.Generate(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "default text" {
		t.Fatalf("expected default after current is cleared, got %+v", msgs)
	}
}

func TestPushTruncatesWithEllipsis(t *testing.T) {
	p := NewPushProvider("push", "", 10)
	p.SetCurrent(Message{Text: "this is a very long message"})

	msgs, err := p.Generate(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if msgs[0].Text != "this is..." {
		t.Fatalf("got %q", msgs[0].Text)
	}
}

func TestCommandProviderEmptyStdoutFails(t *testing.T) {
	p := NewCommandProvider("cmd", "true", time.Second, "", nil)
	if _, err := p.Generate(context.Background()); err == nil {
		t.Fatalf("expected error on empty stdout")
	}
}

func TestDecodeToUTF8PassesThroughValidUTF8(t *testing.T) {
	body := []byte(`<?xml version="1.0" encoding="UTF-8"?><rss></rss>`)
	out, err := decodeToUTF8(body, "application/rss+xml; charset=utf-8")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(out) != string(body) {
		t.Fatalf("expected passthrough for already-utf8 body")
	}
}

func TestPingProviderGenerate(t *testing.T) {
	p := NewPingProvider("ping", "hello")
	msgs, err := p.Generate(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "hello" {
		t.Fatalf("got %+v", msgs)
	}
}
