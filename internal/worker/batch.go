package worker

import (
	"context"
	"fmt"
)

// FlushFunc persists one batch of items.
type FlushFunc[T any] func(ctx context.Context, items []T) error

// Batcher accumulates items and flushes them in fixed-size batches.
// It is not safe for concurrent use; feed it from the goroutine that
// drains Pool.Results.
type Batcher[T any] struct {
	size    int
	flush   FlushFunc[T]
	pending []T
	flushed int
}

// NewBatcher creates a batcher flushing every size items
func NewBatcher[T any](size int, flush FlushFunc[T]) *Batcher[T] {
	if size <= 0 {
		size = 1
	}
	return &Batcher[T]{
		size:    size,
		flush:   flush,
		pending: make([]T, 0, size),
	}
}

// Add appends an item, flushing when the batch is full
func (b *Batcher[T]) Add(ctx context.Context, item T) error {
	b.pending = append(b.pending, item)
	if len(b.pending) < b.size {
		return nil
	}
	return b.Flush(ctx)
}

// Flush writes any pending items
func (b *Batcher[T]) Flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	if err := b.flush(ctx, b.pending); err != nil {
		return fmt.Errorf("flush batch of %d: %w", len(b.pending), err)
	}
	b.flushed += len(b.pending)
	b.pending = make([]T, 0, b.size)
	return nil
}

// Flushed returns the number of items written so far
func (b *Batcher[T]) Flushed() int {
	return b.flushed
}
