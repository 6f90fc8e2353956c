package tasks

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGoReportsSuccess(t *testing.T) {
	h := Go("ok-task", func() error { return nil })
	if err := h.Wait(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if h.Name() != "ok-task" {
		t.Fatalf("unexpected name %q", h.Name())
	}
}

func TestGoReportsFailure(t *testing.T) {
	boom := errors.New("boom")
	h := Go("bad-task", func() error { return boom })
	if err := h.Wait(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestWaitRespectsContext(t *testing.T) {
	block := make(chan struct{})
	h := Go("slow-task", func() error {
		<-block
		return nil
	})
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := h.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestCompletedHandleIsDone(t *testing.T) {
	h := Completed("sync-phase", nil)
	select {
	case <-h.Done():
	default:
		t.Fatal("completed handle must be done immediately")
	}
	if err := h.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
