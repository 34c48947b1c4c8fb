package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/RezaEskandarii/taskrelay/internal/logging"
)

var ErrExecutionTimeout = errors.New("execution timed out")

// Func is one unit of work. It should honour ctx, which carries the execution deadline.
type Func func(ctx context.Context) (any, error)

// Pool bounds how many computations run at once and how long each may take.
type Pool struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	running atomic.Int64
	logger  *zap.Logger
}

func NewPool(workers int, timeout time.Duration, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		sem:     semaphore.NewWeighted(int64(workers)),
		timeout: timeout,
		logger:  logging.Named(logger, "executor"),
	}
}

type outcome struct {
	value any
	err   error
}

// Execute waits for a free slot and runs fn under the pool deadline. A timeout is reported as
// ErrExecutionTimeout even if fn ignores its context; such a fn keeps its slot until it returns.
// A panic inside fn is returned as an error.
func (p *Pool) Execute(ctx context.Context, fn Func) (any, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	p.running.Add(1)
	go func() {
		defer p.sem.Release(1)
		defer p.running.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("execution panicked", zap.String("panic", fmt.Sprint(r)))
				done <- outcome{err: fmt.Errorf("execution panicked: %v", r)}
			}
		}()
		value, err := fn(execCtx)
		done <- outcome{value: value, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", ErrExecutionTimeout, p.timeout)
		}
		return o.value, o.err
	case <-execCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w after %s", ErrExecutionTimeout, p.timeout)
	}
}

// Running returns the number of functions currently holding a slot.
func (p *Pool) Running() int {
	return int(p.running.Load())
}
