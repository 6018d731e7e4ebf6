package queue

import (
	"context"
	"testing"
	"time"

	"github.com/fishnet-go/fishnet/internal/model"
)

func TestOfferThenTake(t *testing.T) {
	q := New(1)
	ctx := context.Background()
	job := model.Job{WorkID: "w1"}

	if err := q.OfferJob(ctx, job); err != nil {
		t.Fatalf("offer: %v", err)
	}
	got, err := q.TakeJob(ctx)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if got.WorkID != "w1" {
		t.Fatalf("unexpected job: %+v", got)
	}
}

func TestOfferBlocksWhenFull(t *testing.T) {
	q := New(1)
	ctx := context.Background()
	if err := q.OfferJob(ctx, model.Job{WorkID: "w1"}); err != nil {
		t.Fatalf("first offer: %v", err)
	}

	offerCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := q.OfferJob(offerCtx, model.Job{WorkID: "w2"})
	if err == nil {
		t.Fatal("expected second offer to block until cancelled, not succeed")
	}
}

func TestTakeJobBlocksUntilCancelled(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.TakeJob(ctx)
	if err == nil {
		t.Fatal("expected take to block on empty queue until context cancellation")
	}
}

func TestDeliverThenTakeResult(t *testing.T) {
	q := New(1)
	ctx := context.Background()
	job := model.Job{WorkID: "w1", Moves: nil}
	batch := *model.NewBatch(job)

	done := make(chan error, 1)
	go func() { done <- q.DeliverResult(ctx, batch) }()

	got, err := q.TakeResult(ctx)
	if err != nil {
		t.Fatalf("take result: %v", err)
	}
	if got.Job.WorkID != "w1" {
		t.Fatalf("unexpected batch: %+v", got)
	}
	if err := <-done; err != nil {
		t.Fatalf("deliver: %v", err)
	}
}

func TestInFlightInvariant(t *testing.T) {
	q := New(2)
	ctx := context.Background()

	_ = q.OfferJob(ctx, model.Job{WorkID: "a"})
	_ = q.OfferJob(ctx, model.Job{WorkID: "b"})
	if got := q.InFlight(); got != 2 {
		t.Fatalf("expected 2 in flight, got %d", got)
	}
	if q.InFlight() > q.Capacity() {
		t.Fatalf("in-flight %d exceeds capacity %d", q.InFlight(), q.Capacity())
	}

	jobA, _ := q.TakeJob(ctx)
	_ = q.DeliverResult(ctx, *model.NewBatch(jobA))
	_, _ = q.TakeResult(ctx)

	if got := q.InFlight(); got != 1 {
		t.Fatalf("expected 1 in flight after one report, got %d", got)
	}
}
