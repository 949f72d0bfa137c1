package netagent

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
)

func TestGoSafeRestartsAfterPanic(t *testing.T) {
	group := NewSafeGroup(context.Background())

	var runs int32
	group.GoSafe("panicky", func(ctx context.Context) error {
		if atomic.AddInt32(&runs, 1) == 1 {
			panic("first run blows up")
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		t.Fatalf("expected clean exit after restart, got %v", err)
	}
	if got := atomic.LoadInt32(&runs); got != 2 {
		t.Fatalf("expected the worker to restart once, ran %d times", got)
	}
}

func TestGoSafeErrorCancelsSiblings(t *testing.T) {
	group := NewSafeGroup(context.Background())

	group.GoSafe("failing", func(ctx context.Context) error {
		return errors.New("worker failed")
	})
	group.GoSafe("sibling", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	if err := group.Wait(); err == nil || err.Error() != "worker failed" {
		t.Fatalf("expected the worker error to propagate, got %v", err)
	}
}

func TestGoSafeStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	group := NewSafeGroup(ctx)

	started := make(chan struct{})
	group.GoSafe("loop", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	})

	<-started
	cancel()
	if err := group.Wait(); err != nil {
		t.Fatalf("cancelled group must return nil, got %v", err)
	}
}
