// Package position derives the FEN for every ply of a Job by replaying
// its UCI move list on top of the initial FEN, and flags plies that are
// already checkmate/stalemate so the worker can report them as Terminal
// without spending any engine time (spec §3, §4.2).
//
// Grounded on the teacher's use of github.com/notnil/chess for PGN/move
// handling (src/primaryserver/handlers.go); generalized here from
// PGN-decoding a whole game to UCI-decoding one move at a time.
package position

import (
	"fmt"

	"github.com/notnil/chess"

	"github.com/fishnet-go/fishnet/internal/model"
)

// Derived is the board state reached at one ply, plus whether the game
// was already decided (checkmate/stalemate) at that point.
type Derived struct {
	FEN      string
	Terminal bool
}

// Derive replays job.Moves over job.InitialFEN and returns one Derived
// entry per ply (length job.PlyCount()).
func Derive(job *model.Job) ([]Derived, error) {
	fen := job.InitialFEN
	if fen == "" {
		fen = chess.StartingPosition().String()
	}
	fenOpt, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("position: invalid FEN %q: %w", fen, err)
	}
	game := chess.NewGame(fenOpt)

	out := make([]Derived, job.PlyCount())
	out[0] = Derived{FEN: game.Position().String(), Terminal: isTerminal(game)}

	notation := chess.UCINotation{}
	for i, uci := range job.Moves {
		mv, err := notation.Decode(game.Position(), uci)
		if err != nil {
			return nil, fmt.Errorf("position: decode move %d (%q): %w", i, uci, err)
		}
		if err := game.Move(mv); err != nil {
			return nil, fmt.Errorf("position: apply move %d (%q): %w", i, uci, err)
		}
		out[i+1] = Derived{FEN: game.Position().String(), Terminal: isTerminal(game)}
	}
	return out, nil
}

func isTerminal(g *chess.Game) bool {
	switch g.Method() {
	case chess.Checkmate, chess.Stalemate:
		return true
	default:
		return false
	}
}
