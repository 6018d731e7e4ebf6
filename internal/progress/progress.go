// Package progress implements the optional partial-submission reporter
// spec §4.5 names component G: while a batch is in progress it posts an
// intermediate submission every progress_interval, carrying whatever
// ply results have been computed so far plus the Pending sentinel for
// the rest.
//
// No close example in the pack drives a single per-batch ticker this
// way; grounded directly on spec.md §4.5's description and built with
// the same time.Ticker idiom the teacher's primaryserver package uses
// for its periodic housekeeping loop, reusing internal/api.Client's
// submit-only path (internal/api.Client.SubmitAnalysisAndAcquire).
package progress

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/fishnet-go/fishnet/internal/api"
	"github.com/fishnet-go/fishnet/internal/model"
)

// Reporter posts best-effort partial submissions on a fixed interval.
// The server treats them as best-effort; callers must not rely on a
// Track call completing before shutdown (spec §4.5).
type Reporter struct {
	client   *api.Client
	interval time.Duration
	logger   zerolog.Logger
}

// New builds a Reporter. A non-positive interval disables reporting:
// Track becomes a no-op whose stop function does nothing.
func New(client *api.Client, interval time.Duration, logger zerolog.Logger) *Reporter {
	return &Reporter{client: client, interval: interval, logger: logger}
}

// Track starts posting snapshot() every interval under workID until the
// returned stop function is called or ctx is done. Callers should defer
// stop() as soon as the batch's real (final) submission is ready to go
// out, so a progress tick never races the final submit. A reply that
// classifies as model.ErrUpdateRequired or model.ErrAuth is fatal the
// same way it is for an Acquire/Submit call (spec §7); anything else is
// discarded at Debug since the server treats progress pings as
// best-effort. onFatal is called at most once, from the tracking
// goroutine, with the fatal error; it may be nil.
func (r *Reporter) Track(ctx context.Context, workID string, snapshot func() []model.PlyResult, onFatal func(error)) func() {
	if r == nil || r.interval <= 0 {
		return func() {}
	}

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				results := snapshot()
				_, err := r.client.SubmitAnalysisAndAcquire(ctx, workID, results, "", false)
				if err == nil {
					continue
				}
				if errors.Is(err, model.ErrUpdateRequired) || errors.Is(err, model.ErrAuth) {
					r.logger.Error().Err(err).Str("work_id", workID).Msg("fatal error from progress report")
					if onFatal != nil {
						onFatal(err)
					}
					return
				}
				r.logger.Debug().Err(err).Str("work_id", workID).Msg("progress report failed, ignoring")
			}
		}
	}()

	var stopped bool
	return func() {
		if stopped {
			return
		}
		stopped = true
		close(stop)
	}
}
