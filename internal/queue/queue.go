// Package queue implements the bounded hand-off between the
// coordinator and the worker pool: offer_job, take_job, and
// deliver_result (spec §4.3). It is the one piece of state shared
// between the coordinator goroutine and every worker goroutine.
//
// Grounded on original_source's queue.rs QueueState (an incoming-job
// slot plus a pending-result slot) and on the teacher's channel-based
// primaryserver job queue, but corrected from the teacher's
// blocking-send-with-default-case-drop idiom to the backpressure the
// protocol actually requires: offer_job must block the coordinator
// until a worker is free, never drop a job on the floor.
package queue

import (
	"context"
	"sync"

	"github.com/fishnet-go/fishnet/internal/model"
)

// Queue holds at most `cores` jobs awaiting a worker and at most
// `cores` finished batches awaiting the coordinator, matching the
// invariant "acquired_jobs - submitted_results <= cores" (spec §4.3).
type Queue struct {
	jobs    chan model.Job
	results chan model.Batch

	mu       sync.Mutex
	acquired int
	reported int
}

// New creates a Queue sized for `cores` concurrent workers.
func New(cores int) *Queue {
	if cores < 1 {
		cores = 1
	}
	return &Queue{
		jobs:    make(chan model.Job, cores),
		results: make(chan model.Batch, cores),
	}
}

// OfferJob hands a freshly acquired job to the pool. It blocks until a
// worker slot is free, deliberately providing backpressure so the
// coordinator does not acquire ahead of the pool's capacity.
func (q *Queue) OfferJob(ctx context.Context, job model.Job) error {
	select {
	case q.jobs <- job:
		q.mu.Lock()
		q.acquired++
		q.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TakeJob blocks until a job is available or ctx is cancelled.
func (q *Queue) TakeJob(ctx context.Context) (model.Job, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-ctx.Done():
		return model.Job{}, ctx.Err()
	}
}

// DeliverResult hands a finished batch back to the coordinator. It
// blocks until the coordinator consumes it, so a worker never starts a
// new job while its previous result is unaccounted for.
func (q *Queue) DeliverResult(ctx context.Context, batch model.Batch) error {
	select {
	case q.results <- batch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TakeResult blocks until a finished batch is available or ctx is
// cancelled, and counts it as reported. The coordinator does not call
// it: it reads ResultsChan directly and calls MarkReported itself.
func (q *Queue) TakeResult(ctx context.Context) (model.Batch, error) {
	select {
	case batch := <-q.results:
		q.mu.Lock()
		q.reported++
		q.mu.Unlock()
		return batch, nil
	case <-ctx.Done():
		return model.Batch{}, ctx.Err()
	}
}

// InFlight reports acquired_jobs - submitted_results, for the
// coordinator's "queue has capacity" check before a new acquire.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acquired - q.reported
}

// Capacity is the number of workers this Queue was sized for.
func (q *Queue) Capacity() int {
	return cap(q.jobs)
}

// ResultsChan exposes the raw results channel so the coordinator can
// multiplex waiting for a finished batch with other events (shutdown,
// status-refresh ticks) in one select statement. A caller that reads
// from it directly (bypassing TakeResult) must call MarkReported.
func (q *Queue) ResultsChan() <-chan model.Batch {
	return q.results
}

// MarkReported records that a batch read from ResultsChan has been
// submitted, keeping the acquired/reported invariant accurate for
// InFlight.
func (q *Queue) MarkReported() {
	q.mu.Lock()
	q.reported++
	q.mu.Unlock()
}
