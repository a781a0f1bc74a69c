// Package worker provides the goroutine pool used by the realtime sync core.
//
// Socket dials, debounced notification refetches and periodic resyncs run
// here rather than on naked goroutines, so shutdown can wait for them.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/UillB/appointmets-bot-sub003/internal/pkg/logger"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is a context-aware task function.
type Task func(ctx context.Context)

// Pool wraps ants.Pool with context-aware submission.
type Pool struct {
	pool *ants.Pool
	name string

	// serviceCtx is the lifecycle context for detached tasks.
	serviceCtx    context.Context
	serviceCancel context.CancelFunc
}

// DefaultSize is used when a non-positive size is requested.
const DefaultSize = 16

const shutdownTimeout = 10 * time.Second

// NewPool creates a named pool. Detached tasks observe ctx and are
// cancelled by Shutdown.
func NewPool(ctx context.Context, name string, size int) (*Pool, error) {
	if size <= 0 {
		size = DefaultSize
	}
	serviceCtx, serviceCancel := context.WithCancel(ctx)

	panicHandler := func(p interface{}) {
		logger.Error("Worker panic recovered",
			zap.String("pool", name),
			zap.Any("panic", p),
			zap.Stack("stack"),
		)
	}

	ap, err := ants.NewPool(size,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(10*time.Second),
	)
	if err != nil {
		serviceCancel()
		return nil, err
	}

	return &Pool{
		pool:          ap,
		name:          name,
		serviceCtx:    serviceCtx,
		serviceCancel: serviceCancel,
	}, nil
}

// Submit submits a task bound to the caller's context.
// If ctx is already cancelled, returns ctx.Err() without submitting.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	err := p.pool.Submit(func() {
		// May have been cancelled while queued.
		select {
		case <-ctx.Done():
			logger.Debug("Task skipped: context cancelled",
				zap.String("pool", p.name),
				zap.Error(ctx.Err()),
			)
			return
		default:
		}
		task(ctx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// SubmitDetached submits a task bound to the pool's lifecycle context
// instead of a caller context. Used for timer-driven work (refetch,
// resync) that has no caller to inherit from.
func (p *Pool) SubmitDetached(task Task) error {
	return p.Submit(p.serviceCtx, task)
}

// Context returns the pool's lifecycle context.
func (p *Pool) Context() context.Context {
	return p.serviceCtx
}

// Shutdown cancels detached tasks and waits for running tasks.
func (p *Pool) Shutdown() {
	p.serviceCancel()
	if err := p.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		logger.Warn("Worker pool shutdown timeout",
			zap.String("pool", p.name),
			zap.Error(err),
		)
	}
}

// Metrics returns pool metrics for observability.
func (p *Pool) Metrics() map[string]int {
	return map[string]int{
		"running": p.pool.Running(),
		"free":    p.pool.Free(),
		"cap":     p.pool.Cap(),
	}
}
