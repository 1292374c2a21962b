package ratelimit

import (
	"testing"
	"time"
)

func TestOneImmediateSuccessThenRefuse(t *testing.T) {
	l := New(1, time.Minute)

	ok1, _ := l.Allow("p4")
	if !ok1 {
		t.Fatal("first request should be allowed")
	}

	ok2, retryAfter := l.Allow("p4")
	if ok2 {
		t.Fatal("second immediate request should be refused")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected positive retryAfter, got %v", retryAfter)
	}
}

func TestWindowSlidesOut(t *testing.T) {
	l := New(1, 50*time.Millisecond)

	ok1, _ := l.Allow("key")
	if !ok1 {
		t.Fatal("first request should be allowed")
	}

	time.Sleep(60 * time.Millisecond)

	ok2, _ := l.Allow("key")
	if !ok2 {
		t.Fatal("request after window elapsed should be allowed")
	}
}

func TestRemaining(t *testing.T) {
	l := New(3, time.Minute)

	if got := l.Remaining("key"); got != 3 {
		t.Fatalf("got %d, want 3", got)
	}

	l.Allow("key")
	if got := l.Remaining("key"); got != 2 {
		t.Fatalf("got %d, want 2", got)
	}
}
