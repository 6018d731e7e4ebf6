package api

import (
	"strings"

	"github.com/fishnet-go/fishnet/internal/model"
)

// fishnetWire carries the client identity on every request (spec §6.1).
type fishnetWire struct {
	Version string `json:"version"`
	APIKey  string `json:"apikey"`
}

// stockfishWire is the optional flavor hint on acquire.
type stockfishWire struct {
	Flavor string `json:"flavor,omitempty"`
}

type workWire struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type clockWire struct {
	WTime     int64 `json:"wtime"`
	BTime     int64 `json:"btime"`
	Increment int64 `json:"increment"`
}

type nodesWire struct {
	NNUE      uint64 `json:"nnue,omitempty"`
	Classical uint64 `json:"classical,omitempty"`
}

// jobWire mirrors the JSON body of a successful acquire reply, per the
// Job fields listed in spec §3.
type jobWire struct {
	Work          workWire   `json:"work"`
	GameID        string     `json:"game_id,omitempty"`
	Position      string     `json:"position"`
	Variant       string     `json:"variant,omitempty"`
	Moves         string     `json:"moves,omitempty"`
	Nodes         *nodesWire `json:"nodes,omitempty"`
	SkipPositions []int      `json:"skip_positions,omitempty"`
	SkillLevel    *int       `json:"skill_level,omitempty"`
	Clock         *clockWire `json:"clock,omitempty"`
}

func (w jobWire) toJob() model.Job {
	job := model.Job{
		WorkID:     w.Work.ID,
		GameID:     w.GameID,
		InitialFEN: w.Position,
		Variant:    w.Variant,
	}
	if job.Variant == "" {
		job.Variant = "standard"
	}
	if w.Moves != "" {
		job.Moves = strings.Fields(w.Moves)
	}
	switch w.Work.Type {
	case "move":
		job.Kind = model.KindMove
	default:
		job.Kind = model.KindAnalysis
	}
	if w.Nodes != nil {
		job.NodesNNUE = w.Nodes.NNUE
		job.NodesClassical = w.Nodes.Classical
	} else {
		job.NodesNNUE = 4_000_000
	}
	if len(w.SkipPositions) > 0 {
		job.SkipPositions = make(map[int]bool, len(w.SkipPositions))
		for _, p := range w.SkipPositions {
			job.SkipPositions[p] = true
		}
	}
	if w.SkillLevel != nil {
		job.Level = *w.SkillLevel
	}
	if w.Clock != nil {
		job.Clock = &model.Clock{WTimeMS: w.Clock.WTime, BTimeMS: w.Clock.BTime, IncrementMS: w.Clock.Increment}
	}
	return job
}

// acquireRequest is the body for POST /acquire and for the combined
// submit+acquire calls (spec §6.1).
type acquireRequest struct {
	Fishnet   fishnetWire    `json:"fishnet"`
	Stockfish *stockfishWire `json:"stockfish,omitempty"`

	Analysis []model.PlyResult `json:"analysis,omitempty"`
	Move     *moveWire         `json:"move,omitempty"`
}

type moveWire struct {
	BestMove string `json:"bestmove"`
}

// queueStatusWire mirrors GET /status (spec §3's QueueStatus, §6.1).
type queueStatusWire struct {
	User   queueClassWire `json:"user"`
	System queueClassWire `json:"system"`
}

type queueClassWire struct {
	Acquired uint64 `json:"acquired"`
	Queued   uint64 `json:"queued"`
	OldestS  uint64 `json:"oldest_s"`
}

func (w queueStatusWire) toStatus() model.QueueStatus {
	return model.QueueStatus{
		User:   model.QueueClassStatus{Acquired: w.User.Acquired, Queued: w.User.Queued, OldestS: w.User.OldestS},
		System: model.QueueClassStatus{Acquired: w.System.Acquired, Queued: w.System.Queued, OldestS: w.System.OldestS},
	}
}
