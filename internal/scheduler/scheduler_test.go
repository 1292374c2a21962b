package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestValidateCronRejectsInvalid(t *testing.T) {
	err := ValidateCron("myprovider", "not a cron")
	if err == nil {
		t.Fatalf("expected error for invalid cron expression")
	}
	invalidErr, ok := err.(*InvalidCronError)
	if !ok {
		t.Fatalf("expected *InvalidCronError, got %T", err)
	}
	if invalidErr.Provider != "myprovider" {
		t.Fatalf("got provider %q", invalidErr.Provider)
	}
}

func TestValidateCronAcceptsStandardExpr(t *testing.T) {
	if err := ValidateCron("myprovider", "*/5 * * * *"); err != nil {
		t.Fatalf("expected valid cron, got %v", err)
	}
}

func TestTickFuncDropsOverlapping(t *testing.T) {
	busy := &atomic.Bool{}
	var running atomic.Int32
	var dropped atomic.Int32

	invoke := func(ctx context.Context, provider string) error {
		running.Add(1)
		time.Sleep(50 * time.Millisecond)
		running.Add(-1)
		return nil
	}

	fn := tickFunc("p", busy, invoke)

	done := make(chan struct{})
	go func() {
		_ = fn(context.Background())
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	if !busy.Load() {
		t.Fatalf("expected busy flag set while first tick runs")
	}

	if !busy.CompareAndSwap(false, true) {
		dropped.Add(1)
	} else {
		busy.Store(false)
	}
	if dropped.Load() != 1 {
		t.Fatalf("expected overlapping tick to be detected as busy")
	}

	<-done
	if busy.Load() {
		t.Fatalf("expected busy flag cleared after tick completes")
	}
}
