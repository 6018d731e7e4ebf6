package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Status tags which of the four PlyResult shapes in spec §3 a slot holds.
type Status int

const (
	// Pending is the sentinel used only in progress reports for plies not
	// yet computed. It must never appear in a final submission.
	Pending Status = iota
	Skipped
	Terminal
	Computed
)

// Score is either a centipawn evaluation or a mate-in-N count, never both.
// Exactly one of CP/Mate is set for a Terminal or Computed result.
type Score struct {
	CP   *int
	Mate *int
}

func CPScore(cp int) Score     { v := cp; return Score{CP: &v} }
func MateScore(n int) Score    { v := n; return Score{Mate: &v} }

type scoreWire struct {
	CP   *int `json:"cp,omitempty"`
	Mate *int `json:"mate,omitempty"`
}

func (s Score) MarshalJSON() ([]byte, error) {
	return json.Marshal(scoreWire{CP: s.CP, Mate: s.Mate})
}

func (s *Score) UnmarshalJSON(data []byte) error {
	var w scoreWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.CP, s.Mate = w.CP, w.Mate
	return nil
}

// PlyResult is the per-position analysis output described in spec §3.
// A Computed result with Depth==0 and Score=MateScore(0) is the
// "Terminal" shape for a checkmated/stalemated position (spec §6.1).
type PlyResult struct {
	Status Status

	PV    []string // UCI moves, empty if none reported
	Depth int
	Score Score
	TimeMS int64
	Nodes  uint64
	NPS    uint64
}

// plyResultWire mirrors the exact JSON shape from spec §6.1.
type plyResultWire struct {
	Skipped *bool   `json:"skipped,omitempty"`
	PV      *string `json:"pv,omitempty"`
	Depth   *int    `json:"depth,omitempty"`
	Score   *Score  `json:"score,omitempty"`
	Time    *int64  `json:"time,omitempty"`
	Nodes   *uint64 `json:"nodes,omitempty"`
	NPS     *uint64 `json:"nps,omitempty"`
}

func (r PlyResult) MarshalJSON() ([]byte, error) {
	switch r.Status {
	case Pending:
		return []byte("{}"), nil
	case Skipped:
		t := true
		return json.Marshal(plyResultWire{Skipped: &t})
	case Terminal, Computed:
		w := plyResultWire{Depth: &r.Depth, Score: &r.Score}
		if len(r.PV) > 0 {
			pv := joinUCI(r.PV)
			w.PV = &pv
		}
		terminalShape := r.Depth == 0 && r.Score.Mate != nil && *r.Score.Mate == 0 && len(r.PV) == 0
		if r.Status == Computed && !terminalShape {
			t, n, nps := r.TimeMS, r.Nodes, r.NPS
			w.Time, w.Nodes, w.NPS = &t, &n, &nps
		}
		return json.Marshal(w)
	default:
		return nil, fmt.Errorf("ply result: unknown status %d", r.Status)
	}
}

func (r *PlyResult) UnmarshalJSON(data []byte) error {
	var w plyResultWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch {
	case w.Skipped != nil && *w.Skipped:
		*r = PlyResult{Status: Skipped}
	case w.Depth == nil && w.Score == nil:
		*r = PlyResult{Status: Pending}
	default:
		res := PlyResult{Status: Computed}
		if w.Depth != nil {
			res.Depth = *w.Depth
		}
		if w.Score != nil {
			res.Score = *w.Score
		}
		if w.PV != nil {
			res.PV = splitUCI(*w.PV)
		}
		if w.Time != nil {
			res.TimeMS = *w.Time
		}
		if w.Nodes != nil {
			res.Nodes = *w.Nodes
		}
		if w.NPS != nil {
			res.NPS = *w.NPS
		}
		if res.Depth == 0 && res.Score.Mate != nil && *res.Score.Mate == 0 && len(res.PV) == 0 {
			res.Status = Terminal
		}
		*r = res
	}
	return nil
}

func joinUCI(moves []string) string {
	buf := bytes.Buffer{}
	for i, m := range moves {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(m)
	}
	return buf.String()
}

func splitUCI(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ' ' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
