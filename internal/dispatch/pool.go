package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// pool runs handlers with bounded concurrency. run blocks while every slot is busy.
type pool struct {
	ctx context.Context
	eg  *errgroup.Group
}

func newPool(ctx context.Context, concurrency int) *pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	eg := &errgroup.Group{}
	eg.SetLimit(concurrency)
	return &pool{ctx: ctx, eg: eg}
}

func (p *pool) run(fn func(ctx context.Context)) {
	p.eg.Go(func() error {
		fn(p.ctx)
		return nil
	})
}

func (p *pool) wait() {
	_ = p.eg.Wait()
}
