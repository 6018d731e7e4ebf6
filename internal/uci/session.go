// Package uci speaks the line-based Universal Chess Interface protocol
// over a subprocess's stdin/stdout. It implements the strict
// request/response state machine from spec §4.2:
//
//	Spawning -> WaitingUci -> WaitingReadyOk -> Idle -> Searching -> Idle -> ... -> Closed
//
// Grounded on RajanDhamala-go-stockfish/engine.go's Engine type (line
// reader goroutine feeding a buffered channel, mutex-serialized writes,
// waitFor predicate matching), generalized from that library's single-shot
// Evaluate call into the full per-position session lifecycle spec.md
// requires (ucinewgame between positions, stop-then-bestmove cancellation,
// terminal-position detection).
package uci

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// State is the session's position in the protocol state machine.
type State int32

const (
	Spawning State = iota
	WaitingUci
	WaitingReadyOk
	Idle
	Searching
	Closed
)

func (s State) String() string {
	switch s {
	case Spawning:
		return "spawning"
	case WaitingUci:
		return "waiting_uci"
	case WaitingReadyOk:
		return "waiting_readyok"
	case Idle:
		return "idle"
	case Searching:
		return "searching"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Info is the accumulated content of the last "info" line seen before a
// "bestmove", per spec §4.2's "the last info line before bestmove
// supplies the recorded values".
type Info struct {
	Depth int
	CP    *int
	Mate  *int
	Nodes uint64
	NPS   uint64
	TimeMS int64
	PV    []string
}

// SearchResult is what a completed (or cancelled) search produced.
type SearchResult struct {
	Info
	BestMove string
	Ponder   string
	Terminal bool // bestmove was "(none)" or "0000": no legal moves
}

// Session owns one engine subprocess and serializes commands sent to it.
type Session struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	lines    chan string
	readErr  chan error
	waitDone chan struct{}

	mu        sync.Mutex
	closeOnce sync.Once
	state     atomic.Int32
	pid       int
}

// Spawn starts binaryPath, isolates it from the parent's signal
// disposition (spec §4.2: the engine must not receive SIGINT/SIGTERM
// delivered to the client process), and performs the uci/isready
// handshake. isolateFromSignals is supplied by the platform-specific file in
// this package (process-group on Unix, nothing on Windows beyond
// CREATE_NEW_PROCESS_GROUP).
func Spawn(ctx context.Context, binaryPath string, args ...string) (*Session, error) {
	cmd := exec.Command(binaryPath, args...)
	isolateFromSignals(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("uci: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("uci: stdout pipe: %w", err)
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("uci: start process: %w", err)
	}

	s := &Session{
		cmd:      cmd,
		stdin:    stdin,
		stdout:   stdout,
		lines:    make(chan string, 1024),
		readErr:  make(chan error, 1),
		waitDone: make(chan struct{}),
		pid:      cmd.Process.Pid,
	}
	s.state.Store(int32(Spawning))

	go s.readLoop()
	go func() {
		err := cmd.Wait()
		if err != nil {
			select {
			case s.readErr <- fmt.Errorf("uci: process exited: %w", err):
			default:
			}
		}
		close(s.waitDone)
	}()

	if err := s.handshake(ctx); err != nil {
		_ = s.Close(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Session) handshake(ctx context.Context) error {
	s.state.Store(int32(WaitingUci))
	if err := s.send("uci"); err != nil {
		return err
	}
	if err := s.waitFor(ctx, func(l string) bool { return l == "uciok" }); err != nil {
		return fmt.Errorf("uci: wait uciok: %w", err)
	}
	s.state.Store(int32(WaitingReadyOk))
	if err := s.IsReady(ctx); err != nil {
		return err
	}
	return nil
}

// SetOption sends a UCI setoption command. Valid any time the engine is
// Idle.
func (s *Session) SetOption(name, value string) error {
	if value == "" {
		return s.send(fmt.Sprintf("setoption name %s", name))
	}
	return s.send(fmt.Sprintf("setoption name %s value %s", name, value))
}

// IsReady sends isready and blocks for readyok, per spec §4.2.
func (s *Session) IsReady(ctx context.Context) error {
	if err := s.send("isready"); err != nil {
		return err
	}
	if err := s.waitFor(ctx, func(l string) bool { return l == "readyok" }); err != nil {
		return fmt.Errorf("uci: wait readyok: %w", err)
	}
	s.state.Store(int32(Idle))
	return nil
}

// NewGame sends ucinewgame, required before searching a new position
// that is unrelated to the previous one (spec §4.2).
func (s *Session) NewGame() error {
	return s.send("ucinewgame")
}

// GoParams configures one search (spec §4.2: "go nodes N" for analysis,
// "go movetime T depth D" for move requests).
type GoParams struct {
	FEN       string
	Moves     []string
	Nodes     uint64 // analysis jobs
	MoveTimeMS int64  // move jobs
	Depth     int     // move jobs
}

// Go runs one search to completion (or until ctx is cancelled, in which
// case "stop" is sent and the session waits for the resulting bestmove
// before returning, per spec §4.2's cancellation rule).
func (s *Session) Go(ctx context.Context, p GoParams) (SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if State(s.state.Load()) == Closed {
		return SearchResult{}, fmt.Errorf("uci: session closed")
	}

	posCmd := "position fen " + p.FEN
	if len(p.Moves) > 0 {
		posCmd += " moves " + strings.Join(p.Moves, " ")
	}
	if err := s.sendLocked(posCmd); err != nil {
		return SearchResult{}, err
	}

	var goCmd string
	if p.Nodes > 0 {
		goCmd = fmt.Sprintf("go nodes %d", p.Nodes)
	} else {
		goCmd = fmt.Sprintf("go movetime %d depth %d", p.MoveTimeMS, p.Depth)
	}
	s.state.Store(int32(Searching))
	if err := s.sendLocked(goCmd); err != nil {
		return SearchResult{}, err
	}

	result, err := s.collectUntilBestMove(ctx)
	s.state.Store(int32(Idle))
	return result, err
}

func (s *Session) collectUntilBestMove(ctx context.Context) (SearchResult, error) {
	var last Info

	for {
		select {
		case <-ctx.Done():
			// Force the engine to finish: send "stop" and keep reading
			// for the resulting bestmove with its own bounded deadline,
			// per spec §4.2 ("sending stop ... the session waits for it
			// before returning to Idle").
			_ = s.sendLocked("stop")
			return s.drainAfterStop(last)
		case err := <-s.readErr:
			return SearchResult{Info: last}, fmt.Errorf("uci: %w", err)
		case <-s.waitDone:
			return SearchResult{Info: last}, fmt.Errorf("uci: process exited during search")
		case line, ok := <-s.lines:
			if !ok {
				return SearchResult{Info: last}, fmt.Errorf("uci: output closed during search")
			}
			if upd, isInfo := parseInfoLine(line); isInfo {
				mergeInfo(&last, upd)
				continue
			}
			if strings.HasPrefix(line, "bestmove") {
				best, ponder, terminal := parseBestMove(line)
				return SearchResult{Info: last, BestMove: best, Ponder: ponder, Terminal: terminal}, nil
			}
		}
	}
}

func (s *Session) drainAfterStop(last Info) (SearchResult, error) {
	deadline := time.NewTimer(drainDeadline)
	defer deadline.Stop()

	for {
		select {
		case <-deadline.C:
			return SearchResult{Info: last}, fmt.Errorf("uci: timed out waiting for bestmove after stop")
		case err := <-s.readErr:
			return SearchResult{Info: last}, fmt.Errorf("uci: %w", err)
		case <-s.waitDone:
			return SearchResult{Info: last}, fmt.Errorf("uci: process exited during search")
		case line, ok := <-s.lines:
			if !ok {
				return SearchResult{Info: last}, fmt.Errorf("uci: output closed during search")
			}
			if upd, isInfo := parseInfoLine(line); isInfo {
				mergeInfo(&last, upd)
				continue
			}
			if strings.HasPrefix(line, "bestmove") {
				best, ponder, terminal := parseBestMove(line)
				return SearchResult{Info: last, BestMove: best, Ponder: ponder, Terminal: terminal}, nil
			}
		}
	}
}

// Close sends quit and waits for the process to exit, killing it if it
// does not within timeout.
func (s *Session) Close(ctx context.Context) error {
	var closeErr error
	s.closeOnce.Do(func() {
		s.state.Store(int32(Closed))
		_ = s.send("quit")

		select {
		case <-s.waitDone:
		case <-ctx.Done():
			if s.cmd.Process != nil {
				_ = s.cmd.Process.Kill()
			}
			<-s.waitDone
			closeErr = ctx.Err()
		}
		_ = s.stdin.Close()
		_ = s.stdout.Close()
	})
	return closeErr
}

// Kill forces immediate termination, used by the engine stub's watchdog
// when a command does not respond within the protocol timeout.
func (s *Session) Kill() {
	s.state.Store(int32(Closed))
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}

func (s *Session) State() State { return State(s.state.Load()) }
func (s *Session) PID() int     { return s.pid }

func (s *Session) send(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendLocked(cmd)
}

func (s *Session) sendLocked(cmd string) error {
	if _, err := io.WriteString(s.stdin, cmd+"\n"); err != nil {
		return fmt.Errorf("uci: write %q: %w", cmd, err)
	}
	return nil
}

func (s *Session) waitFor(ctx context.Context, match func(string) bool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-s.readErr:
			return err
		case <-s.waitDone:
			return fmt.Errorf("process exited")
		case line, ok := <-s.lines:
			if !ok {
				return fmt.Errorf("output closed")
			}
			if match(line) {
				return nil
			}
		}
	}
}

func (s *Session) readLoop() {
	scanner := bufio.NewScanner(s.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		s.lines <- strings.TrimSpace(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		select {
		case s.readErr <- err:
		default:
		}
	}
	close(s.lines)
}

// parseInfoLine extracts the fields spec §4.2 lists from one "info" line.
// Unrecognized tokens are ignored (forward compatible with engine
// extensions the client does not understand).
func parseInfoLine(line string) (Info, bool) {
	if !strings.HasPrefix(line, "info") {
		return Info{}, false
	}
	fields := strings.Fields(line)
	var info Info
	for i := 1; i < len(fields); i++ {
		switch fields[i] {
		case "depth":
			if i+1 < len(fields) {
				if v, err := strconv.Atoi(fields[i+1]); err == nil {
					info.Depth = v
				}
				i++
			}
		case "nodes":
			if i+1 < len(fields) {
				if v, err := strconv.ParseUint(fields[i+1], 10, 64); err == nil {
					info.Nodes = v
				}
				i++
			}
		case "nps":
			if i+1 < len(fields) {
				if v, err := strconv.ParseUint(fields[i+1], 10, 64); err == nil {
					info.NPS = v
				}
				i++
			}
		case "time":
			if i+1 < len(fields) {
				if v, err := strconv.ParseInt(fields[i+1], 10, 64); err == nil {
					info.TimeMS = v
				}
				i++
			}
		case "score":
			if i+2 < len(fields) {
				switch fields[i+1] {
				case "cp":
					if v, err := strconv.Atoi(fields[i+2]); err == nil {
						cp := v
						info.CP, info.Mate = &cp, nil
					}
				case "mate":
					if v, err := strconv.Atoi(fields[i+2]); err == nil {
						mate := v
						info.Mate, info.CP = &mate, nil
					}
				}
				i += 2
			}
		case "pv":
			info.PV = append([]string(nil), fields[i+1:]...)
			i = len(fields)
		}
	}
	return info, true
}

// mergeInfo overwrites dst's fields with any non-zero value present in
// upd, matching spec §4.2's "last info line before bestmove" semantics
// for engines that report depth/score/pv in the same line every time
// (Stockfish does) as well as engines that split them across lines.
func mergeInfo(dst *Info, upd Info) {
	if upd.Depth != 0 {
		dst.Depth = upd.Depth
	}
	if upd.CP != nil {
		dst.CP, dst.Mate = upd.CP, nil
	}
	if upd.Mate != nil {
		dst.Mate, dst.CP = upd.Mate, nil
	}
	if upd.Nodes != 0 {
		dst.Nodes = upd.Nodes
	}
	if upd.NPS != 0 {
		dst.NPS = upd.NPS
	}
	if upd.TimeMS != 0 {
		dst.TimeMS = upd.TimeMS
	}
	if len(upd.PV) > 0 {
		dst.PV = upd.PV
	}
}

// parseBestMove parses "bestmove <uci> [ponder <uci>]", detecting the
// "(none)"/"0000" terminal markers spec §4.2 describes.
func parseBestMove(line string) (best, ponder string, terminal bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", "", false
	}
	best = fields[1]
	if best == "(none)" || best == "0000" {
		terminal = true
	}
	for i := 2; i < len(fields)-1; i++ {
		if fields[i] == "ponder" {
			ponder = fields[i+1]
		}
	}
	return best, ponder, terminal
}

// drainDeadline is the time allowed for a forced "bestmove" to arrive
// after "stop" during cancellation, used by the engine stub.
const drainDeadline = 2 * time.Second
