// Package coordinator runs the single-task state machine spec §4.4
// names component F: it alternates between acquiring new jobs, handing
// finished batches off with a combined submit+acquire call, and
// draining the pool on shutdown.
//
// Grounded on original_source's queue.rs QueueActor::run_inner (the
// tokio::select!-driven pull/backoff/interrupt loop), translated into
// a goroutine driven by Go channels and time.Timer, and on main.rs's
// outer run() loop for how signal receipt and periodic housekeeping
// interleave with worker results.
package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/fishnet-go/fishnet/internal/api"
	fnbackoff "github.com/fishnet-go/fishnet/internal/backoff"
	"github.com/fishnet-go/fishnet/internal/model"
	"github.com/fishnet-go/fishnet/internal/queue"
	"github.com/fishnet-go/fishnet/internal/stats"
	"github.com/fishnet-go/fishnet/internal/worker"
)

// statusRefresh is the maximum staleness of the cached QueueStatus
// before the coordinator polls again (spec §4.3: "refreshed at most
// every 60s").
const statusRefresh = 60 * time.Second

// idleRecheck is how often the coordinator re-evaluates the join
// condition while it has nothing else to do, so a status change or a
// backlog threshold being crossed is noticed promptly without busy
// looping.
const idleRecheck = 5 * time.Second

// Coordinator owns the acquire/submit HTTP traffic and the one
// QueueStatus cache; it is the single writer of that cache (spec §5).
type Coordinator struct {
	client *api.Client
	q      *queue.Queue
	cfg    model.Config
	logger zerolog.Logger
	stats  *stats.Recorder

	status      model.QueueStatus
	statusAt    time.Time
	statusKnown bool

	noWorkBackoff *fnbackoff.Randomized
}

// New builds a Coordinator. stats may be nil when --no-stats-file/
// ENABLE_STATS=false disables the stats file.
func New(client *api.Client, q *queue.Queue, cfg model.Config, logger zerolog.Logger, statsRecorder *stats.Recorder) *Coordinator {
	return &Coordinator{
		client:        client,
		q:             q,
		cfg:           cfg,
		logger:        logger,
		stats:         statsRecorder,
		noWorkBackoff: fnbackoff.New(int(cfg.MaxBackoff / time.Second)),
	}
}

// Run drives the state machine until shutdownCtx is done, then drains
// outstanding work for up to `grace` before returning.
func (c *Coordinator) Run(runCtx, shutdownCtx context.Context, grace time.Duration) error {
	for {
		c.stats.MaybeLogSummary(c.cfg.Version)

		select {
		case <-shutdownCtx.Done():
			return c.drain(runCtx, grace)
		case batch := <-c.q.ResultsChan():
			if fatal := c.handleResult(runCtx, batch); fatal != nil {
				return fatal
			}
			continue
		default:
		}

		if c.q.InFlight() >= c.q.Capacity() {
			if done, fatal := c.idle(runCtx, shutdownCtx, idleRecheck, grace); done {
				return fatal
			}
			continue
		}

		join, slow := c.shouldJoin(runCtx)
		if !join {
			if done, fatal := c.idle(runCtx, shutdownCtx, idleRecheck, grace); done {
				return fatal
			}
			continue
		}

		reply, err := c.client.Acquire(runCtx, "", slow)
		if err != nil {
			if errors.Is(err, model.ErrUpdateRequired) || errors.Is(err, model.ErrAuth) {
				c.logger.Error().Err(err).Msg("fatal error from acquire, shutting down")
				return err
			}
			c.logger.Warn().Err(err).Msg("acquire failed")
			continue
		}
		if !reply.HasJob {
			delay := c.noWorkBackoff.Next()
			c.logger.Debug().Dur("backoff", delay).Msg("no work available")
			if done, fatal := c.idle(runCtx, shutdownCtx, delay, grace); done {
				return fatal
			}
			continue
		}
		c.noWorkBackoff.Reset()
		if err := c.q.OfferJob(runCtx, reply.Job); err != nil {
			return err
		}
	}
}

// idle waits up to d for a worker result or shutdown, whichever comes
// first. done is true if the caller must return (shutdown fired); in
// that case fatal carries the value Run should return.
func (c *Coordinator) idle(runCtx, shutdownCtx context.Context, d time.Duration, grace time.Duration) (done bool, fatal error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-shutdownCtx.Done():
		return true, c.drain(runCtx, grace)
	case batch := <-c.q.ResultsChan():
		if err := c.handleResult(runCtx, batch); err != nil {
			return true, err
		}
		return false, nil
	case <-timer.C:
		return false, nil
	}
}

// handleResult submits a finished batch and offers back whatever job
// the combined call returned. It returns non-nil only for fatal errors
// that should end the coordinator loop.
func (c *Coordinator) handleResult(ctx context.Context, batch model.Batch) error {
	c.q.MarkReported()
	c.recordBatchStats(batch)
	if err := c.submit(ctx, batch); err != nil {
		if errors.Is(err, model.ErrUpdateRequired) || errors.Is(err, model.ErrAuth) {
			c.logger.Error().Err(err).Str("work_id", batch.Job.WorkID).Msg("fatal error from submit, shutting down")
			return err
		}
		c.logger.Warn().Err(err).Str("work_id", batch.Job.WorkID).Msg("submit failed")
	}
	return nil
}

// recordBatchStats folds a finished batch's positions/nodes into the
// stats totals and averages the NNUE nps the engine reported over its
// computed plies (spec §6.2's stats file, original_source's
// record_batch(positions, nodes, nnue_nps) call site).
func (c *Coordinator) recordBatchStats(batch model.Batch) {
	var nodes uint64
	var npsSum, npsCount uint64
	for _, r := range batch.Results {
		if r.Status != model.Computed {
			continue
		}
		nodes += r.Nodes
		if r.NPS > 0 {
			npsSum += r.NPS
			npsCount++
		}
	}
	var avgNPS uint32
	if npsCount > 0 {
		avgNPS = uint32(npsSum / npsCount)
	}
	c.stats.RecordBatch(uint64(len(batch.Results)), nodes, avgNPS)
}

// submit reports a finished batch, combined with the next acquire, and
// offers any returned job back to the queue.
func (c *Coordinator) submit(ctx context.Context, batch model.Batch) error {
	var reply api.AcquireReply
	var err error

	if batch.Job.Kind == model.KindMove {
		bestMove, _ := worker.BestMoveResult(&batch)
		reply, err = c.client.SubmitMoveAndAcquire(ctx, batch.Job.WorkID, bestMove, "")
	} else {
		reply, err = c.client.SubmitAnalysisAndAcquire(ctx, batch.Job.WorkID, batch.Results, "", batch.Stop)
	}
	if err != nil {
		return err
	}
	if batch.Stop {
		// Final submission before shutdown: §4.4 expects 204 and the
		// loop to exit; any job offered here would have nowhere to go.
		return nil
	}
	if reply.HasJob {
		c.noWorkBackoff.Reset()
		return c.q.OfferJob(ctx, reply.Job)
	}
	return nil
}

// drain waits up to grace for in-flight batches to be delivered and
// submitted, then returns. Un-started jobs still sitting in the queue
// are left for the worker pool to abort as it exits. If the grace
// period expires with batches still outstanding, drain returns
// model.ErrForcedShutdown so runCmd exits non-zero (spec §5's "on
// shutdown-drain expiry... the process exits non-zero"); a deadline hit
// with nothing left outstanding is a clean shutdown.
func (c *Coordinator) drain(ctx context.Context, grace time.Duration) error {
	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	for {
		if c.q.InFlight() == 0 {
			return model.ErrShutdown
		}
		select {
		case batch := <-c.q.ResultsChan():
			c.q.MarkReported()
			c.recordBatchStats(batch)
			if err := c.submit(ctx, batch); err != nil {
				c.logger.Warn().Err(err).Str("work_id", batch.Job.WorkID).Msg("submit during shutdown drain failed")
			}
		case <-deadline.C:
			if inFlight := c.q.InFlight(); inFlight > 0 {
				c.logger.Error().Int("in_flight", inFlight).Msg("shutdown grace period expired with work still outstanding")
				return model.ErrForcedShutdown
			}
			return model.ErrShutdown
		}
	}
}

// shouldJoin evaluates spec §4.3's conditional-join rule against the
// cached QueueStatus, refreshing it if stale. It returns whether to
// acquire at all, and whether to pass slow=true.
func (c *Coordinator) shouldJoin(ctx context.Context) (join, slow bool) {
	userSecs := int64(c.cfg.UserBacklog.Duration() / time.Second)
	systemSecs := int64(c.cfg.SystemBacklog.Duration() / time.Second)

	if userSecs == 0 && systemSecs == 0 {
		return true, false
	}

	if !c.statusKnown || time.Since(c.statusAt) > statusRefresh {
		status, err := c.client.Status(ctx)
		if err != nil {
			// Status unavailable: always acquire (spec §4.3, §8's
			// "status returning 404 must not disable acquisition").
			c.logger.Debug().Err(err).Msg("status unavailable, joining unconditionally")
			return true, false
		}
		c.status, c.statusAt, c.statusKnown = status, time.Now(), true
	}

	userExceeded := userSecs > 0 && int64(c.status.User.OldestS) >= userSecs
	systemExceeded := systemSecs > 0 && int64(c.status.System.OldestS) >= systemSecs

	if userExceeded {
		return true, false
	}
	if systemExceeded {
		return true, true
	}
	return false, false
}
