package worker

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestBatcher_FlushesFullBatches(t *testing.T) {
	var batches [][]int
	b := NewBatcher(3, func(_ context.Context, items []int) error {
		batches = append(batches, append([]int(nil), items...))
		return nil
	})
	ctx := context.Background()

	for i := 1; i <= 7; i++ {
		if err := b.Add(ctx, i); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	if len(batches) != 2 {
		t.Fatalf("expected 2 flushed batches before Flush, got %d", len(batches))
	}

	if err := b.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	want := [][]int{{1, 2, 3}, {4, 5, 6}, {7}}
	if !reflect.DeepEqual(batches, want) {
		t.Errorf("expected %v, got %v", want, batches)
	}
	if b.Flushed() != 7 {
		t.Errorf("expected 7 flushed, got %d", b.Flushed())
	}

	// Nothing pending: no empty batch.
	if err := b.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(batches) != 3 {
		t.Errorf("expected no extra batch, got %d", len(batches))
	}
}

func TestBatcher_FlushError(t *testing.T) {
	boom := errors.New("boom")
	b := NewBatcher(2, func(context.Context, []string) error { return boom })
	ctx := context.Background()

	if err := b.Add(ctx, "a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := b.Add(ctx, "b")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped flush error, got %v", err)
	}
	if b.Flushed() != 0 {
		t.Errorf("expected 0 flushed, got %d", b.Flushed())
	}
}

func TestNewBatcher_MinimumSize(t *testing.T) {
	calls := 0
	b := NewBatcher(0, func(context.Context, []int) error { calls++; return nil })
	_ = b.Add(context.Background(), 1)
	if calls != 1 {
		t.Errorf("expected size 0 to flush every item, got %d calls", calls)
	}
}
