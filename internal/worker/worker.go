// Package worker runs the pool of cores concurrent worker loops that
// turn acquired Jobs into finished Batches (spec §4.3's component E).
//
// Grounded on the teacher's worker.Client.WorkLoop (src/worker/worker.go),
// generalized from "one job at a time, one global engine" into "N
// concurrent workers, one Engine stub per worker, ply-by-ply iteration
// with skip-handling", and on other_examples/freeeve-chessgraph's
// tablebase pool worker (__tablebase_pool.go's runWorker) for the
// select-based pull-from-queue-until-cancelled shape.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fishnet-go/fishnet/internal/api"
	"github.com/fishnet-go/fishnet/internal/engine"
	"github.com/fishnet-go/fishnet/internal/model"
	"github.com/fishnet-go/fishnet/internal/position"
	"github.com/fishnet-go/fishnet/internal/progress"
	"github.com/fishnet-go/fishnet/internal/queue"
	"github.com/fishnet-go/fishnet/internal/uci"
)

// engineCloseTimeout bounds how long a worker waits for its engine to
// quit gracefully once its loop exits, mirroring the teacher's
// worker.Client.Close (src/worker/worker.go) closing the engine at the
// end of the work loop (spec §4.4, §5's "forces quit on engines
// afterwards").
const engineCloseTimeout = 5 * time.Second

// searcher is the narrow slice of *engine.Stub a worker needs, factored
// out so tests can bind a fake engine instead of spawning a real
// Stockfish subprocess.
type searcher interface {
	Search(ctx context.Context, p engine.SearchParams) (uci.SearchResult, error)
	Close(ctx context.Context) error
}

// Pool owns `cores` Engine stubs, one per worker slot, and runs the
// ply-by-ply search loop against jobs pulled from the Queue (spec
// §4.3, §5's "each Engine is logically owned by exactly one Worker").
type Pool struct {
	q              *queue.Queue
	client         *api.Client
	engines        []searcher
	progress       *progress.Reporter
	shutdownCancel context.CancelFunc
	logger         zerolog.Logger

	fatalMu  sync.Mutex
	fatalErr error
}

// New builds a Pool with one Engine stub per core, built from cfg. A
// nil reporter disables the progress reports. shutdownCancel is called
// as soon as any worker observes a fatal (auth/update-required) error,
// so the coordinator starts draining immediately rather than waiting
// for its own Acquire/Submit loop to notice independently; the caller
// reads FatalErr() once Run returns to learn why.
func New(q *queue.Queue, client *api.Client, cores int, engineCfg func(workerID int) engine.Config, reporter *progress.Reporter, shutdownCancel context.CancelFunc, logger zerolog.Logger) *Pool {
	engines := make([]searcher, cores)
	for i := range engines {
		engines[i] = engine.New(engineCfg(i))
	}
	return &Pool{q: q, client: client, engines: engines, progress: reporter, shutdownCancel: shutdownCancel, logger: logger}
}

// newWithEngines is used by tests to inject fake searchers directly.
func newWithEngines(q *queue.Queue, client *api.Client, engines []searcher, logger zerolog.Logger) *Pool {
	return &Pool{q: q, client: client, engines: engines, shutdownCancel: func() {}, logger: logger}
}

// FatalErr reports the first fatal error any worker observed (e.g. from
// a progress report classified as model.ErrUpdateRequired/ErrAuth), or
// nil if none occurred. Safe to call only after Run has returned.
func (p *Pool) FatalErr() error {
	p.fatalMu.Lock()
	defer p.fatalMu.Unlock()
	return p.fatalErr
}

func (p *Pool) recordFatal(err error) {
	p.fatalMu.Lock()
	if p.fatalErr == nil {
		p.fatalErr = err
	}
	p.fatalMu.Unlock()
	p.shutdownCancel()
}

// Run starts all worker goroutines and blocks until every one exits.
// A worker exits when runCtx is cancelled, or after it stops or aborts
// a job because shutdownCtx is done; a worker waiting for a job keeps
// waiting after shutdownCtx is done, until runCtx is cancelled.
func (p *Pool) Run(runCtx, shutdownCtx context.Context) {
	done := make(chan struct{}, len(p.engines))
	for i, stub := range p.engines {
		go func(id int, s searcher) {
			p.runWorker(runCtx, shutdownCtx, id, s)
			done <- struct{}{}
		}(i, stub)
	}
	for range p.engines {
		<-done
	}
}

func (p *Pool) runWorker(runCtx, shutdownCtx context.Context, id int, stub searcher) {
	log := p.logger.With().Int("worker", id).Logger()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), engineCloseTimeout)
		defer cancel()
		if err := stub.Close(closeCtx); err != nil {
			log.Warn().Err(err).Msg("failed to close engine cleanly")
		}
	}()
	for {
		job, err := p.q.TakeJob(runCtx)
		if err != nil {
			return
		}
		log.Info().Str("work_id", job.WorkID).Str("kind", job.Kind.String()).Msg("worker took job")

		outcome := p.runBatch(runCtx, shutdownCtx, stub, job, log)
		switch outcome.kind {
		case outcomeCompleted, outcomeStopping:
			if err := p.q.DeliverResult(runCtx, outcome.batch); err != nil {
				log.Warn().Err(err).Str("work_id", job.WorkID).Msg("failed to hand off finished batch")
			}
		case outcomeFailed:
			log.Warn().Err(outcome.err).Str("work_id", job.WorkID).Msg("batch failed, aborting")
			if err := p.client.Abort(runCtx, job.WorkID); err != nil {
				log.Warn().Err(err).Str("work_id", job.WorkID).Msg("failed to report aborted batch")
			}
		case outcomeAbortedUnstarted:
			if err := p.client.Abort(context.Background(), job.WorkID); err != nil {
				log.Warn().Err(err).Str("work_id", job.WorkID).Msg("failed to report aborted batch")
			}
			return
		}
		if outcome.kind == outcomeStopping {
			return
		}
	}
}

type outcomeKind int

const (
	outcomeCompleted outcomeKind = iota
	outcomeFailed
	outcomeAbortedUnstarted
	outcomeStopping
)

type batchOutcome struct {
	kind  outcomeKind
	batch model.Batch
	err   error
}

// runBatch executes spec §4.3's worker inner-loop steps 2-5 for one job.
func (p *Pool) runBatch(runCtx, shutdownCtx context.Context, stub searcher, job model.Job, log zerolog.Logger) batchOutcome {
	if err := job.Validate(); err != nil {
		return batchOutcome{kind: outcomeFailed, err: err}
	}

	derived, err := position.Derive(&job)
	if err != nil {
		return batchOutcome{kind: outcomeFailed, err: err}
	}

	batch := model.NewBatch(job)

	var mu sync.Mutex
	var fatalProgressErr error
	if job.Kind == model.KindAnalysis {
		snapshot := func() []model.PlyResult {
			mu.Lock()
			defer mu.Unlock()
			return append([]model.PlyResult(nil), batch.Results...)
		}
		onFatal := func(err error) {
			mu.Lock()
			fatalProgressErr = err
			mu.Unlock()
			p.recordFatal(err)
		}
		stopTracking := p.progress.Track(runCtx, job.WorkID, snapshot, onFatal)
		defer stopTracking()
	}

	setResult := func(ply int, r model.PlyResult) {
		mu.Lock()
		batch.Results[ply] = r
		mu.Unlock()
	}

	startedAny := false
	for ply := 0; ply < job.PlyCount(); ply++ {
		if job.IsSkipped(ply) {
			continue
		}

		select {
		case <-shutdownCtx.Done():
			if !startedAny {
				return batchOutcome{kind: outcomeAbortedUnstarted, err: shutdownCtx.Err()}
			}
			batch.Stop = true
			return batchOutcome{kind: outcomeStopping, batch: *batch}
		default:
		}

		mu.Lock()
		progressErr := fatalProgressErr
		mu.Unlock()
		if progressErr != nil {
			return batchOutcome{kind: outcomeFailed, err: progressErr}
		}

		if job.Kind == model.KindAnalysis && derived[ply].Terminal {
			setResult(ply, model.PlyResult{Status: model.Terminal, Depth: 0, Score: model.MateScore(0)})
			continue
		}
		if job.Kind == model.KindMove && ply != job.PlyCount()-1 {
			continue // move jobs only search the final position
		}

		searchCtx, cancel := context.WithCancel(runCtx)
		stopWatch := watchShutdown(shutdownCtx, cancel)

		startedAny = true
		result, err := stub.Search(searchCtx, searchParamsFor(job, derived[ply]))
		stopWatch()
		cancel()

		if err != nil {
			if errors.Is(err, context.Canceled) {
				batch.Stop = true
				return batchOutcome{kind: outcomeStopping, batch: *batch}
			}
			return batchOutcome{kind: outcomeFailed, err: fmt.Errorf("ply %d: %w", ply, err)}
		}

		setResult(ply, plyResultFrom(result))
	}

	return batchOutcome{kind: outcomeCompleted, batch: *batch}
}

// watchShutdown cancels searchCancel as soon as shutdownCtx fires,
// giving the in-flight search the tight stop+drain deadline spec §4.3
// step 5 requires instead of severing it outright. The returned func
// stops the watch once the search has already returned.
func watchShutdown(shutdownCtx context.Context, searchCancel context.CancelFunc) func() {
	stop := make(chan struct{})
	go func() {
		select {
		case <-shutdownCtx.Done():
			searchCancel()
		case <-stop:
		}
	}()
	return func() { close(stop) }
}

func searchParamsFor(job model.Job, d position.Derived) engine.SearchParams {
	p := engine.SearchParams{
		Variant: job.Variant,
		FEN:     d.FEN,
	}
	if job.Kind == model.KindMove {
		lvl := uci.Level(job.Level)
		p.MoveTimeMS = lvl.MoveTimeMS
		p.Depth = lvl.Depth
		skill := job.Level
		p.Skill = &skill
		return p
	}
	nodes := job.NodesNNUE
	if nodes == 0 {
		nodes = job.NodesClassical
	}
	p.Nodes = nodes
	return p
}

func plyResultFrom(r uci.SearchResult) model.PlyResult {
	if r.Terminal {
		return model.PlyResult{Status: model.Terminal, Depth: 0, Score: model.MateScore(0)}
	}
	pv := append([]string(nil), r.Info.PV...)
	if r.BestMove != "" && (len(pv) == 0 || pv[0] != r.BestMove) {
		pv = append([]string{r.BestMove}, pv...)
	}
	score := model.Score{CP: r.Info.CP, Mate: r.Info.Mate}
	return model.PlyResult{
		Status: model.Computed,
		PV:     pv,
		Depth:  r.Info.Depth,
		Score:  score,
		TimeMS: r.Info.TimeMS,
		Nodes:  r.Info.Nodes,
		NPS:    r.Info.NPS,
	}
}

// BestMoveResult extracts the single move-job result for the coordinator
// to submit via SubmitMoveAndAcquire.
func BestMoveResult(batch *model.Batch) (string, bool) {
	last, ok := batch.BestMove()
	if !ok || len(last.PV) == 0 {
		return "", ok
	}
	return last.PV[0], true
}
