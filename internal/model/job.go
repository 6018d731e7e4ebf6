// Package model holds the wire-level and in-memory data types shared by
// every fishnet component: jobs pulled from the coordinator, positions
// derived from them, per-ply results, and the batches that track a job's
// progress through a worker.
package model

import "fmt"

// Kind distinguishes the two job shapes the coordinator can hand out.
type Kind int

const (
	KindAnalysis Kind = iota
	KindMove
)

func (k Kind) String() string {
	switch k {
	case KindAnalysis:
		return "analysis"
	case KindMove:
		return "move"
	default:
		return "unknown"
	}
}

// Clock carries the optional time-control hint attached to a Move job.
type Clock struct {
	WTimeMS     int64
	BTimeMS     int64
	IncrementMS int64
}

// Job is one unit of work received from the coordinator. See spec §3.
type Job struct {
	WorkID  string
	Kind    Kind
	GameID  string // empty if absent

	InitialFEN string
	Moves      []string // UCI, space-delimited on the wire
	Variant    string   // defaults to "standard"

	// Analysis-only.
	NodesNNUE      uint64
	NodesClassical uint64
	SkipPositions  map[int]bool

	// Move-only.
	Level int // 1..8
	Clock *Clock
}

// PlyCount is moves.len()+1, per the invariant in spec §3.
func (j *Job) PlyCount() int {
	return len(j.Moves) + 1
}

// Validate enforces the invariants spec §3 states for a Job: ply_count =
// moves.len()+1 is definitional (so nothing to check there), and every
// skip position must be a valid ply index.
func (j *Job) Validate() error {
	if j.WorkID == "" {
		return fmt.Errorf("job: missing work_id")
	}
	n := j.PlyCount()
	for ply := range j.SkipPositions {
		if ply < 0 || ply >= n {
			return fmt.Errorf("job %s: skip position %d out of range [0,%d)", j.WorkID, ply, n)
		}
	}
	if j.Kind == KindMove {
		if j.Level < 1 || j.Level > 8 {
			return fmt.Errorf("job %s: move level %d out of range [1,8]", j.WorkID, j.Level)
		}
	}
	return nil
}

func (j *Job) IsSkipped(ply int) bool {
	return j.SkipPositions[ply]
}

// Position is a derived entry within an Analysis job: a ply index and the
// board state reached by applying moves[:ply] to the job's initial FEN.
type Position struct {
	WorkID  string
	Ply     int
	FEN     string
	Skipped bool
}
