// Package engine supervises one UCI session per worker: spawning it,
// restarting it with exponential backoff after a crash or protocol
// timeout, and swapping between the standard and variant-capable
// backends spec §4.2 and §9 describe as a tagged union rather than
// inheritance.
//
// Grounded on RajanDhamala-go-stockfish's Client/worker restart loop
// (options.go: startEngineWithRetries, shouldRestartEngine) generalized
// from "restart up to N times for one pooled client" into "respawn
// forever with a backing-off delay, one stub per worker", and on
// original_source's stockfish.rs actor for the watchdog-timeout shape.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	fnbackoff "github.com/fishnet-go/fishnet/internal/backoff"
	"github.com/fishnet-go/fishnet/internal/model"
	"github.com/fishnet-go/fishnet/internal/uci"
)

// Backend selects which Stockfish-family binary a Stub spawns, per spec
// §9's "Backend = {Standard, Fairy}" tagged variant.
type Backend int

const (
	Standard Backend = iota
	Fairy
)

// commandTimeout bounds how long the stub waits for any single UCI
// command to complete before treating the engine as crashed (spec
// §4.2: "no response within e.g. 60s of a sent command").
const commandTimeout = 60 * time.Second

// Config configures a Stub. StandardPath/FairyPath are supplied by the
// out-of-scope asset-resolution collaborator (spec §1's "bundled
// Stockfish binaries ... treated as an opaque UCI process").
type Config struct {
	StandardPath string
	FairyPath    string
	HashMB       int
	MaxBackoffS  int
	Nice         int // 0 = unchanged
	Logger       zerolog.Logger
}

// Stub owns exactly one Session at a time and respawns it across
// crashes. It is not safe for concurrent use by more than one worker —
// each worker owns its Stub exclusively (spec §3's Engine ownership
// rule).
type Stub struct {
	cfg     Config
	session *uci.Session
	backend Backend
	variant string // last UCI_Variant applied; "" means unset

	crashes int
	backoff *fnbackoff.Randomized
}

// New creates an unstarted Stub. The first Search call spawns the
// session lazily.
func New(cfg Config) *Stub {
	return &Stub{
		cfg:     cfg,
		backend: Standard,
		backoff: fnbackoff.New(cfg.MaxBackoffS),
	}
}

// SearchParams is the information a worker has about one ply to search.
type SearchParams struct {
	Variant    string // "standard" or a Fairy-Stockfish variant name
	Chess960   bool
	FEN        string
	Moves      []string
	Nodes      uint64 // analysis
	MoveTimeMS int64   // move
	Depth      int     // move
	Skill      *int    // move: skill level 1..8, sets Skill Level/UCI_Elo
}

// Search ensures a ready engine for params.Variant and runs one search.
// On crash or protocol timeout it returns a wrapped model.ErrEngineCrash
// or model.ErrEngineProtocol so the worker can fail the whole batch per
// spec §4.3 step 4, and backs off before the next Search attempts to
// respawn.
func (s *Stub) Search(ctx context.Context, p SearchParams) (uci.SearchResult, error) {
	if err := s.ensureReady(ctx, p); err != nil {
		return uci.SearchResult{}, err
	}

	if err := s.session.NewGame(); err != nil {
		return s.fail(err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	result, err := s.session.Go(searchCtx, uci.GoParams{
		FEN:        p.FEN,
		Moves:      p.Moves,
		Nodes:      p.Nodes,
		MoveTimeMS: p.MoveTimeMS,
		Depth:      p.Depth,
	})
	if err != nil {
		return s.fail(err)
	}
	s.crashes = 0
	s.backoff.Reset()
	return result, nil
}

func (s *Stub) fail(err error) (uci.SearchResult, error) {
	s.crashes++
	if s.session != nil {
		s.session.Kill()
		s.session = nil
	}
	return uci.SearchResult{}, fmt.Errorf("%w: %v", model.ErrEngineCrash, err)
}

// ensureReady spawns a session (backing off after consecutive crashes)
// or re-options an existing one for a variant change.
func (s *Stub) ensureReady(ctx context.Context, p SearchParams) error {
	variant := p.Variant
	if variant == "" {
		variant = "standard"
	}
	wantBackend := Standard
	if variant != "standard" {
		wantBackend = Fairy
	}

	if s.session != nil && s.session.State() != uci.Closed && wantBackend == s.backend && variant == s.variant {
		return nil // already configured for this backend+variant
	}

	if s.session != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		_ = s.session.Close(closeCtx)
		cancel()
		s.session = nil
	}

	if s.crashes > 0 {
		delay := s.backoff.Next()
		s.cfg.Logger.Warn().Int("crashes", s.crashes).Dur("backoff", delay).Msg("backing off before engine respawn")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	path := s.cfg.StandardPath
	if wantBackend == Fairy {
		path = s.cfg.FairyPath
	}

	// spawnID correlates this attempt's log lines before a work_id
	// exists to attach them to (a crash loop may retry several times
	// for the same batch).
	spawnID := uuid.New().String()
	log := s.cfg.Logger.With().Str("spawn_id", spawnID).Logger()
	log.Debug().Str("path", path).Msg("spawning engine")

	spawnCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	session, err := uci.Spawn(spawnCtx, path)
	cancel()
	if err != nil {
		s.crashes++
		log.Warn().Err(err).Msg("engine spawn failed")
		return fmt.Errorf("%w: spawn %s: %v", model.ErrEngineCrash, path, err)
	}

	if s.cfg.Nice != 0 {
		if err := uci.SetPriority(session.PID(), s.cfg.Nice); err != nil {
			s.cfg.Logger.Warn().Err(err).Msg("failed to apply cpu priority")
		}
	}

	if err := session.SetOption("Threads", "1"); err != nil {
		return s.abortSpawn(session, err)
	}
	if s.cfg.HashMB > 0 {
		if err := session.SetOption("Hash", strconv.Itoa(s.cfg.HashMB)); err != nil {
			return s.abortSpawn(session, err)
		}
	}
	if variant != "standard" {
		if err := session.SetOption("UCI_Variant", variant); err != nil {
			return s.abortSpawn(session, err)
		}
	}
	if p.Chess960 {
		if err := session.SetOption("UCI_Chess960", "true"); err != nil {
			return s.abortSpawn(session, err)
		}
	}
	if p.Skill != nil {
		lvl := uci.Level(*p.Skill)
		if err := session.SetOption("UCI_Elo", strconv.Itoa(lvl.Elo)); err != nil {
			return s.abortSpawn(session, err)
		}
		if err := session.SetOption("Skill Level", strconv.Itoa(*p.Skill)); err != nil {
			return s.abortSpawn(session, err)
		}
	}
	if err := session.IsReady(ctx); err != nil {
		return s.abortSpawn(session, err)
	}

	s.session = session
	s.backend = wantBackend
	s.variant = variant
	return nil
}

func (s *Stub) abortSpawn(session *uci.Session, err error) error {
	session.Kill()
	s.crashes++
	return fmt.Errorf("%w: configure engine: %v", model.ErrEngineProtocol, err)
}

// Close shuts down the underlying session, if any.
func (s *Stub) Close(ctx context.Context) error {
	if s.session == nil {
		return nil
	}
	err := s.session.Close(ctx)
	s.session = nil
	return err
}
