package shrink

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool runs the tasks of one phase on a bounded number of goroutines.
// Submit never blocks; Wait is the phase barrier and returns the first task
// error, which also cancels the context handed to the remaining tasks.
// A Pool is used for exactly one phase.
type Pool struct {
	group *errgroup.Group
	ctx   context.Context
	sem   chan struct{}
}

// NewPool creates a pool for one phase
func NewPool(ctx context.Context, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	return &Pool{group: g, ctx: gctx, sem: make(chan struct{}, workers)}
}

// Submit queues task; it starts once a worker slot frees up
func (p *Pool) Submit(task func(ctx context.Context) error) {
	p.group.Go(func() error {
		select {
		case p.sem <- struct{}{}:
		case <-p.ctx.Done():
			return p.ctx.Err()
		}
		defer func() { <-p.sem }()
		if err := p.ctx.Err(); err != nil {
			return err
		}
		return task(p.ctx)
	})
}

// Wait blocks until every submitted task finished or one failed
func (p *Pool) Wait() error {
	return p.group.Wait()
}

// each runs fn for every item on a fresh pool and waits for the barrier
func each[T any](ctx context.Context, workers int, items []T, fn func(ctx context.Context, item T) error) error {
	p := NewPool(ctx, workers)
	for _, item := range items {
		p.Submit(func(ctx context.Context) error {
			return fn(ctx, item)
		})
	}
	return p.Wait()
}
