// Command fishnet runs the distributed chess-analysis worker: it pulls
// jobs from a fishnet server, evaluates them with local Stockfish
// subprocesses, and reports results back, subject to §4 of the
// internal component design.
//
// Grounded on the teacher's main.go (src/main.go), generalized from its
// os.Args[1]-switch dispatch ("server"/"client"/"example") into the
// subcommand set spec.md §6.2 requires (run/configure/systemd[-user]/
// benchmark/license), keeping the same "no framework, just a switch"
// shape rather than reaching for a CLI framework the pack never uses.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fishnet-go/fishnet/internal/api"
	"github.com/fishnet-go/fishnet/internal/config"
	"github.com/fishnet-go/fishnet/internal/coordinator"
	"github.com/fishnet-go/fishnet/internal/engine"
	"github.com/fishnet-go/fishnet/internal/model"
	"github.com/fishnet-go/fishnet/internal/progress"
	"github.com/fishnet-go/fishnet/internal/queue"
	"github.com/fishnet-go/fishnet/internal/stats"
	"github.com/fishnet-go/fishnet/internal/worker"
)

// shutdownGrace bounds how long the coordinator waits for in-flight
// batches to drain after a shutdown signal (spec §5).
const shutdownGrace = 60 * time.Second

// forceKillWindow is how long a second SIGINT/SIGTERM within the first
// has to arrive to force an immediate kill (spec §5).
const forceKillWindow = 2 * time.Second

func main() {
	args := os.Args[1:]
	cmd := "run"
	if len(args) > 0 && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = runCmd(args)
	case "configure":
		err = configureCmd(args)
	case "systemd":
		err = systemdCmd(args, false)
	case "systemd-user":
		err = systemdCmd(args, true)
	case "benchmark":
		err = benchmarkCmd(args)
	case "license":
		printLicense()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
}

// runCmd wires components A-G together and drives them until a signal
// or fatal error ends the process (spec §2, §5).
func runCmd(args []string) error {
	// runID tags every log line from this process invocation, so that
	// lines from overlapping restarts (e.g. systemd Restart=always) can
	// be told apart in an aggregated log stream.
	logger := newLogger().With().Str("run_id", uuid.New().String()).Logger()

	cfg, err := config.Load(args)
	if err != nil {
		logger.Error().Err(err).Msg("configuration error")
		return err
	}
	logger.Info().Str("endpoint", cfg.Endpoint).Int("cores", cfg.Cores).Msg("starting fishnet")

	client := api.New(cfg.Endpoint, cfg.Key, cfg.Version, int(cfg.MaxBackoff/time.Second), logger)
	q := queue.New(cfg.Cores)

	var reporter *progress.Reporter
	if cfg.EnableProgress {
		reporter = progress.New(client, cfg.ProgressInterval, logger)
	}

	var statsRecorder *stats.Recorder
	if cfg.EnableStats {
		statsRecorder = stats.Load(cfg.StatsFile, cfg.Cores, logger)
	}

	coord := coordinator.New(client, q, cfg, logger, statsRecorder)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())

	pool := worker.New(q, client, cfg.Cores, func(id int) engine.Config {
		return engine.Config{
			StandardPath: cfg.EnginePath,
			FairyPath:    cfg.FairyEnginePath,
			HashMB:       cfg.HashMB,
			MaxBackoffS:  int(cfg.MaxBackoff / time.Second),
			Nice:         cpuPriorityNice(cfg.CPUPriority),
			Logger:       logger.With().Int("worker", id).Logger(),
		}
	}, reporter, shutdownCancel, logger)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go handleSignals(sigs, &logger, runCancel, shutdownCancel)

	poolDone := make(chan struct{})
	go func() {
		pool.Run(runCtx, shutdownCtx)
		close(poolDone)
	}()

	runErr := coord.Run(runCtx, shutdownCtx, shutdownGrace)

	runCancel()
	<-poolDone

	if fatal := pool.FatalErr(); fatal != nil {
		logger.Error().Err(fatal).Msg("fishnet exiting with error")
		return fatal
	}
	if runErr != nil && runErr != model.ErrShutdown {
		logger.Error().Err(runErr).Msg("fishnet exiting with error")
		return runErr
	}
	logger.Info().Msg("fishnet shut down cleanly")
	return nil
}

// handleSignals implements spec §5's signal policy: first SIGINT/SIGTERM
// starts a graceful shutdown; a second one within forceKillWindow forces
// an immediate process exit; SIGHUP only reloads the log level (a no-op
// here since the level is not dynamically reconfigurable yet).
func handleSignals(sigs <-chan os.Signal, logger *zerolog.Logger, runCancel, shutdownCancel context.CancelFunc) {
	var firstSignalAt time.Time
	for sig := range sigs {
		if sig == syscall.SIGHUP {
			logger.Info().Msg("received SIGHUP, log level reload requested")
			continue
		}
		now := time.Now()
		if !firstSignalAt.IsZero() && now.Sub(firstSignalAt) < forceKillWindow {
			logger.Warn().Msg("second interrupt received, forcing immediate exit")
			runCancel()
			os.Exit(130)
		}
		firstSignalAt = now
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal, draining")
		shutdownCancel()
	}
}

func cpuPriorityNice(p model.CPUPriority) int {
	if p == model.CPUPriorityLow {
		return 10
	}
	return 0
}
