package model

import (
	"encoding/json"
	"testing"
)

func TestPlyResultMarshalPending(t *testing.T) {
	data, err := json.Marshal(PlyResult{Status: Pending})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{}" {
		t.Fatalf("want {}, got %s", data)
	}
}

func TestPlyResultMarshalSkipped(t *testing.T) {
	data, err := json.Marshal(PlyResult{Status: Skipped})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"skipped":true}` {
		t.Fatalf("want skipped marker, got %s", data)
	}
}

func TestPlyResultMarshalComputedCP(t *testing.T) {
	r := PlyResult{
		Status: Computed,
		PV:     []string{"e2e4", "e7e5"},
		Depth:  10,
		Score:  CPScore(34),
		TimeMS: 1200,
		Nodes:  50000,
		NPS:    41000,
	}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}

	var round PlyResult
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatal(err)
	}
	if round.Status != Computed || round.Depth != 10 || *round.Score.CP != 34 {
		t.Fatalf("round trip mismatch: %+v", round)
	}
	if len(round.PV) != 2 || round.PV[0] != "e2e4" {
		t.Fatalf("pv mismatch: %v", round.PV)
	}
}

func TestPlyResultMarshalTerminal(t *testing.T) {
	r := PlyResult{Status: Computed, Depth: 0, Score: MateScore(0)}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"depth":0,"score":{"mate":0}}`
	if string(data) != want {
		t.Fatalf("want %s, got %s", want, data)
	}

	var round PlyResult
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatal(err)
	}
	if round.Status != Terminal {
		t.Fatalf("want Terminal after round trip, got status %d", round.Status)
	}
}

func TestScoreRoundTripBitIdentical(t *testing.T) {
	in := CPScore(128)
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"cp":128}` {
		t.Fatalf("unexpected score wire shape: %s", data)
	}
}

func TestJobValidateSkipPositionOutOfRange(t *testing.T) {
	j := Job{WorkID: "w1", Moves: []string{"e2e4"}, SkipPositions: map[int]bool{5: true}}
	if err := j.Validate(); err == nil {
		t.Fatal("expected out-of-range skip position to fail validation")
	}
}

func TestJobPlyCount(t *testing.T) {
	j := Job{Moves: []string{"e2e4", "e7e5", "g1f3"}}
	if got := j.PlyCount(); got != 4 {
		t.Fatalf("want ply count 4, got %d", got)
	}
}
