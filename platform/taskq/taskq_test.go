package taskq

import (
	"context"
	"sync/atomic"
	"testing"

	"wacampaign_backend/platform/logger"
)

func TestSubmitAndDrain(t *testing.T) {
	q := New(8, 2, logger.New("development"))
	defer q.Close()

	var count atomic.Int64
	for i := 0; i < 5; i++ {
		if err := q.Submit(func(ctx context.Context) {
			count.Add(1)
		}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	q.Drain()
	if got := count.Load(); got != 5 {
		t.Fatalf("expected 5 tasks run, got %d", got)
	}
}

func TestSubmitFullQueue(t *testing.T) {
	q := New(1, 1, logger.New("development"))
	defer q.Close()

	release := make(chan struct{})
	// Occupy the single worker.
	if err := q.Submit(func(ctx context.Context) { <-release }); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	// Fill the buffer.
	_ = q.Submit(func(ctx context.Context) {})

	// One of the next submits must report a full queue.
	var sawFull bool
	for i := 0; i < 3; i++ {
		if err := q.Submit(func(ctx context.Context) {}); err == ErrQueueFull {
			sawFull = true
			break
		}
	}
	close(release)
	if !sawFull {
		t.Fatal("expected ErrQueueFull")
	}
}

func TestSubmitAfterClose(t *testing.T) {
	q := New(1, 1, logger.New("development"))
	q.Close()

	if err := q.Submit(func(ctx context.Context) {}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
