package render

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many renders run at once. Rendering is by far the most
// expensive step of generation, so the bound is separate from (and usually
// equal to or smaller than) the generation worker concurrency.
type Pool struct {
	renderer Renderer
	sem      *semaphore.Weighted
}

var _ Renderer = (*Pool)(nil)

// NewPool wraps a renderer with a concurrency bound.
func NewPool(renderer Renderer, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		renderer: renderer,
		sem:      semaphore.NewWeighted(int64(size)),
	}
}

// Render blocks until a slot is free, then delegates to the wrapped
// renderer. Context cancellation is honored while waiting for a slot.
func (p *Pool) Render(ctx context.Context, title, layout string) ([]byte, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	return p.renderer.Render(ctx, title, layout)
}
