package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/UillB/appointmets-bot-sub003/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
}

func TestNewPool(t *testing.T) {
	pool, err := NewPool(context.Background(), "test", 0)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer pool.Shutdown()

	if got := pool.Metrics()["cap"]; got != DefaultSize {
		t.Errorf("cap = %d, want %d", got, DefaultSize)
	}
}

func TestPool_Submit(t *testing.T) {
	ctx := context.Background()
	pool, err := NewPool(ctx, "test", 4)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer pool.Shutdown()

	var executed atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)

	err = pool.Submit(ctx, func(ctx context.Context) {
		executed.Store(true)
		wg.Done()
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	wg.Wait()
	if !executed.Load() {
		t.Error("Task was not executed")
	}
}

func TestPool_Submit_CancelledContext(t *testing.T) {
	ctx := context.Background()
	pool, err := NewPool(ctx, "test", 4)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer pool.Shutdown()

	cancelledCtx, cancel := context.WithCancel(ctx)
	cancel()

	err = pool.Submit(cancelledCtx, func(ctx context.Context) {
		t.Error("Task should not execute with cancelled context")
	})
	if err != context.Canceled {
		t.Errorf("Submit() error = %v, want context.Canceled", err)
	}
}

func TestPool_SubmitDetached_StopsOnShutdown(t *testing.T) {
	pool, err := NewPool(context.Background(), "test", 2)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	started := make(chan struct{})
	done := make(chan struct{})
	err = pool.SubmitDetached(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(done)
	})
	if err != nil {
		t.Fatalf("SubmitDetached() error = %v", err)
	}

	<-started
	pool.Shutdown()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("detached task did not observe shutdown")
	}

	if err := pool.Submit(context.Background(), func(context.Context) {}); err != ErrPoolClosed {
		t.Errorf("Submit() after Shutdown error = %v, want ErrPoolClosed", err)
	}
}

func TestPool_PanicRecovered(t *testing.T) {
	pool, err := NewPool(context.Background(), "test", 1)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer pool.Shutdown()

	_ = pool.Submit(context.Background(), func(context.Context) { panic("boom") })

	var wg sync.WaitGroup
	wg.Add(1)
	if err := pool.Submit(context.Background(), func(context.Context) { wg.Done() }); err != nil {
		t.Fatalf("Submit() after panic error = %v", err)
	}
	wg.Wait()
}
