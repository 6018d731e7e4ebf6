package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fishnet-go/fishnet/internal/api"
	"github.com/fishnet-go/fishnet/internal/engine"
	"github.com/fishnet-go/fishnet/internal/model"
	"github.com/fishnet-go/fishnet/internal/queue"
	"github.com/fishnet-go/fishnet/internal/uci"
)

type fakeSearcher struct {
	result     uci.SearchResult
	err        error
	calls      int
	closeCalls int
}

func (f *fakeSearcher) Search(ctx context.Context, p engine.SearchParams) (uci.SearchResult, error) {
	f.calls++
	return f.result, f.err
}

func (f *fakeSearcher) Close(ctx context.Context) error {
	f.closeCalls++
	return nil
}

func cp(v int) *int { return &v }

func TestRunBatchAnalysisSkipsAndComputes(t *testing.T) {
	job := model.Job{
		WorkID:    "w1",
		Kind:      model.KindAnalysis,
		InitialFEN: "",
		Moves:     []string{"e2e4", "e7e5"},
		NodesNNUE: 1000,
		SkipPositions: map[int]bool{1: true},
	}

	fake := &fakeSearcher{result: uci.SearchResult{
		Info:     uci.Info{Depth: 10, CP: cp(25), PV: []string{"g1f3"}},
		BestMove: "g1f3",
	}}

	q := queue.New(1)
	client := api.New("http://example.invalid", "k", "1.0", 5, zerolog.Nop())
	p := newWithEngines(q, client, []searcher{fake}, zerolog.Nop())

	outcome := p.runBatch(context.Background(), context.Background(), fake, job, zerolog.Nop())
	if outcome.kind != outcomeCompleted {
		t.Fatalf("expected completed outcome, got %v (err=%v)", outcome.kind, outcome.err)
	}
	if !outcome.batch.Complete() {
		t.Fatal("expected complete batch")
	}
	if outcome.batch.Results[1].Status != model.Skipped {
		t.Fatalf("expected ply 1 to be skipped, got %+v", outcome.batch.Results[1])
	}
	if outcome.batch.Results[0].Status != model.Computed || outcome.batch.Results[0].Depth != 10 {
		t.Fatalf("expected ply 0 computed at depth 10, got %+v", outcome.batch.Results[0])
	}
	if fake.calls != 2 {
		t.Fatalf("expected 2 searches (plies 0 and 2), got %d", fake.calls)
	}
}

func TestRunBatchEngineFailure(t *testing.T) {
	job := model.Job{WorkID: "w2", Kind: model.KindAnalysis, NodesNNUE: 1000}
	fake := &fakeSearcher{err: errors.New("engine exploded")}

	p := &Pool{}
	outcome := p.runBatch(context.Background(), context.Background(), fake, job, zerolog.Nop())
	if outcome.kind != outcomeFailed {
		t.Fatalf("expected failed outcome, got %v", outcome.kind)
	}
}

func TestRunBatchAbortsUnstartedOnShutdown(t *testing.T) {
	job := model.Job{WorkID: "w3", Kind: model.KindAnalysis, Moves: []string{"e2e4"}, NodesNNUE: 1000}
	fake := &fakeSearcher{}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	cancel() // already shut down before the worker even starts

	p := &Pool{}
	outcome := p.runBatch(context.Background(), shutdownCtx, fake, job, zerolog.Nop())
	if outcome.kind != outcomeAbortedUnstarted {
		t.Fatalf("expected aborted-unstarted outcome, got %v", outcome.kind)
	}
	if fake.calls != 0 {
		t.Fatalf("expected zero searches, got %d", fake.calls)
	}
}

func TestRunBatchMoveJobSearchesOnlyFinalPly(t *testing.T) {
	job := model.Job{
		WorkID: "w4",
		Kind:   model.KindMove,
		Moves:  []string{"e2e4", "e7e5", "g1f3"},
		Level:  3,
	}
	fake := &fakeSearcher{result: uci.SearchResult{BestMove: "b8c6"}}

	p := &Pool{}
	outcome := p.runBatch(context.Background(), context.Background(), fake, job, zerolog.Nop())
	if outcome.kind != outcomeCompleted {
		t.Fatalf("expected completed outcome, got %v (err=%v)", outcome.kind, outcome.err)
	}
	if fake.calls != 1 {
		t.Fatalf("expected exactly 1 search for a move job, got %d", fake.calls)
	}
	move, ok := BestMoveResult(&outcome.batch)
	if !ok || move != "b8c6" {
		t.Fatalf("expected best move b8c6, got %q ok=%v", move, ok)
	}
}

func TestRunWorkerClosesEngineOnExit(t *testing.T) {
	fake := &fakeSearcher{}
	q := queue.New(1)

	runCtx, runCancel := context.WithCancel(context.Background())
	p := newWithEngines(q, nil, []searcher{fake}, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		p.runWorker(runCtx, context.Background(), 0, fake)
		close(done)
	}()

	runCancel() // no jobs ever offered: TakeJob returns on runCtx cancellation
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected runWorker to return once runCtx is cancelled")
	}

	if fake.closeCalls != 1 {
		t.Fatalf("expected engine to be closed exactly once, got %d", fake.closeCalls)
	}
}

func TestWatchShutdownCancelsOnShutdown(t *testing.T) {
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	searchCtx, searchCancel := context.WithCancel(context.Background())
	defer searchCancel()

	stop := watchShutdown(shutdownCtx, searchCancel)
	defer stop()

	shutdownCancel()
	select {
	case <-searchCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("expected search context to be cancelled by shutdown")
	}
}
