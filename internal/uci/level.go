package uci

// LevelParams is the (UCI_Elo, movetime, depth) triple a skill level maps
// to, per spec §4.2's "fixed table ... derived from historical Lichess
// settings (move time is bounded to 6s)".
type LevelParams struct {
	Elo       int
	MoveTimeMS int64
	Depth     int
}

// levels is indexed by skill level - 1 (levels run 1..8 per spec §3).
var levels = [8]LevelParams{
	{Elo: 1350, MoveTimeMS: 50, Depth: 1},
	{Elo: 1450, MoveTimeMS: 100, Depth: 1},
	{Elo: 1600, MoveTimeMS: 150, Depth: 2},
	{Elo: 1750, MoveTimeMS: 200, Depth: 3},
	{Elo: 1900, MoveTimeMS: 300, Depth: 5},
	{Elo: 2000, MoveTimeMS: 400, Depth: 8},
	{Elo: 2200, MoveTimeMS: 500, Depth: 13},
	{Elo: 2500, MoveTimeMS: 1000, Depth: 22},
}

const maxLevelMoveTimeMS = 6000

// Level returns the search parameters for skill in [1,8]. Levels outside
// that range clamp to the nearest bound rather than erroring, since the
// caller has already validated the job (spec §3's invariant is enforced
// at Job.Validate, not here).
func Level(skill int) LevelParams {
	if skill < 1 {
		skill = 1
	}
	if skill > 8 {
		skill = 8
	}
	p := levels[skill-1]
	if p.MoveTimeMS > maxLevelMoveTimeMS {
		p.MoveTimeMS = maxLevelMoveTimeMS
	}
	return p
}
