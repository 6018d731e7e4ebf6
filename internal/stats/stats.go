// Package stats accumulates lifetime totals and tracks the NNUE search
// speed a worker pool is achieving, mirroring the ~/.fishnet-stats file a
// restarted client resumes from (spec §6.2's --stats-file/--no-stats-file
// and STATS_FILE/ENABLE_STATS).
//
// Grounded on original_source's stats.rs (StatsRecorderFactory,
// StatsRecorder, NpsRecorder), translated from a home::home_dir()+File
// load/save pair into os.UserHomeDir()+encoding/json, and on main.rs's
// outer run() loop for the 120s periodic summary MaybeLogSummary
// reproduces with github.com/rs/zerolog instead of the original's
// line-oriented logger.
package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

const defaultFilename = ".fishnet-stats"

// summaryInterval matches main.rs's "print summary from time to time".
const summaryInterval = 120 * time.Second

// Totals are the lifetime counters persisted across restarts.
type Totals struct {
	TotalBatches   uint64 `json:"total_batches"`
	TotalPositions uint64 `json:"total_positions"`
	TotalNodes     uint64 `json:"total_nodes"`
}

// NpsRecorder tracks a smoothed estimate of the NNUE search speed this
// client is achieving, with a decaying uncertainty that hedges the
// displayed estimate until enough batches have been recorded.
type NpsRecorder struct {
	NPS         uint32
	Uncertainty float64
}

func newNpsRecorder(cores int) NpsRecorder {
	return NpsRecorder{NPS: 500_000 * uint32(cores), Uncertainty: 1.0} // start with a low estimate
}

// Record folds one observed nodes-per-second sample in with exponential
// smoothing, matching the original's NpsRecorder::record.
func (n *NpsRecorder) Record(nps uint32) {
	const alpha = 0.9
	n.Uncertainty *= alpha
	n.NPS = uint32(float64(n.NPS)*alpha + float64(nps)*(1-alpha))
}

// String renders e.g. "734 knps?" -- one '?' per uncertainty threshold
// still crossed, so an operator can see at a glance how little the
// estimate should be trusted yet.
func (n NpsRecorder) String() string {
	s := fmt.Sprintf("%d knps", n.NPS/1000)
	if n.Uncertainty > 0.7 {
		s += "?"
	}
	if n.Uncertainty > 0.4 {
		s += "?"
	}
	if n.Uncertainty > 0.1 {
		s += "?"
	}
	return s
}

// Recorder accumulates Totals and an NNUE nps estimate across the
// process lifetime, persisting to path after every batch so a restart
// resumes from where it left off (spec §6.2).
type Recorder struct {
	path   string
	logger zerolog.Logger

	totals      Totals
	nnueNPS     NpsRecorder
	lastSummary time.Time
}

// Load resolves path (falling back to ~/.fishnet-stats when empty) and
// either resumes an existing file or starts a fresh Recorder. A missing
// or unparsable file is logged and treated as "start from scratch",
// matching the original's try_create_recorder_from_stats_file fallback.
func Load(path string, cores int, logger zerolog.Logger) *Recorder {
	resolved := resolvePath(path)
	r := &Recorder{path: resolved, logger: logger, nnueNPS: newNpsRecorder(cores)}

	raw, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info().Str("path", resolved).Msg("creating a new stats file")
		} else {
			logger.Warn().Err(err).Str("path", resolved).Msg("failed to read stats file, starting from scratch")
		}
		return r
	}
	var totals Totals
	if err := json.Unmarshal(raw, &totals); err != nil {
		logger.Warn().Err(err).Str("path", resolved).Msg("failed to parse stats file, starting from scratch")
		return r
	}
	logger.Info().Str("path", resolved).Msg("found stats file, resuming")
	r.totals = totals
	return r
}

func resolvePath(path string) string {
	if path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultFilename
	}
	return filepath.Join(home, defaultFilename)
}

// RecordBatch folds one finished batch's positions/nodes into the
// running totals and, if the batch reported a search speed, into the
// NNUE nps estimate, then persists the totals to disk. RecordBatch is
// a no-op on a nil Recorder, so callers with stats disabled can call it
// unconditionally.
func (r *Recorder) RecordBatch(positions, nodes uint64, nnueNPS uint32) {
	if r == nil {
		return
	}
	r.totals.TotalBatches++
	r.totals.TotalPositions += positions
	r.totals.TotalNodes += nodes
	if nnueNPS > 0 {
		r.nnueNPS.Record(nnueNPS)
	}
	if err := r.persist(); err != nil {
		r.logger.Warn().Err(err).Str("path", r.path).Msg("failed to write stats file")
	}
}

func (r *Recorder) persist() error {
	raw, err := json.MarshalIndent(r.totals, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.path, raw, 0o644)
}

// Snapshot returns a copy of the current totals and nps estimate.
func (r *Recorder) Snapshot() (Totals, NpsRecorder) {
	if r == nil {
		return Totals{}, NpsRecorder{}
	}
	return r.totals, r.nnueNPS
}

// MinUserBacklog estimates how long this client would take to clear the
// next batch and returns how much user-queue backlog would make joining
// worthwhile anyway, per the original's min_user_backlog fairness rule
// (spec §4.3). A nil Recorder reports zero, i.e. "always worth joining".
func (r *Recorder) MinUserBacklog() time.Duration {
	if r == nil {
		return 0
	}
	// The average batch has 60 positions, analysed with 2_250_000 nodes
	// each. Top end clients take no longer than 35 seconds.
	const bestBatchSeconds = 35

	nps := uint64(r.nnueNPS.NPS)
	if nps == 0 {
		nps = 1
	}
	estimated := 60 * 2_250_000 / nps
	if estimated > 6*60 {
		estimated = 6 * 60
	}
	if estimated <= bestBatchSeconds {
		return 0
	}
	return time.Duration(estimated-bestBatchSeconds) * time.Second
}

// MaybeLogSummary emits a running-totals line every summaryInterval,
// mirroring main.rs's "print summary from time to time". It is a no-op
// before the interval has elapsed or on a nil Recorder.
func (r *Recorder) MaybeLogSummary(version string) {
	if r == nil {
		return
	}
	now := time.Now()
	if !r.lastSummary.IsZero() && now.Sub(r.lastSummary) < summaryInterval {
		return
	}
	r.lastSummary = now
	r.logger.Info().
		Str("version", version).
		Str("nnue_nps", r.nnueNPS.String()).
		Uint64("batches", r.totals.TotalBatches).
		Uint64("positions", r.totals.TotalPositions).
		Uint64("nodes", r.totals.TotalNodes).
		Msg("fishnet stats")
}
