package tournament

import (
	"fmt"
	"testing"

	"github.com/agentarena/battle-backend/internal/engine"
)

func tournamentState(format Format, ids ...string) *State {
	t := &State{
		Format:    format,
		Status:    StatusActive,
		standings: map[string]*Standing{},
		met:       map[string]map[string]bool{},
	}
	for _, id := range ids {
		t.Participants = append(t.Participants, engine.Participant{ID: id})
		t.standings[id] = &Standing{ParticipantID: id}
		t.met[id] = map[string]bool{}
	}
	return t
}

// recordRound folds decided results back into the state the way Advance does.
func recordRound(t *State, pairings []Pairing, winner func(Pairing) string) {
	var records []MatchRecord
	for _, p := range pairings {
		rec := MatchRecord{A: p.A.ID, Bye: p.Bye}
		if p.Bye {
			rec.Winner = p.A.ID
		} else {
			rec.B = p.B.ID
			rec.Winner = winner(p)
			rec.Draw = rec.Winner == ""
		}
		records = append(records, rec)
	}
	t.Rounds = append(t.Rounds, records)
	for _, rec := range records {
		applyRecord(t, rec)
	}
}

func TestRoundRobin_EveryPairMeetsExactlyOnce(t *testing.T) {
	for _, n := range []int{2, 3, 4, 5, 6} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			ids := make([]string, n)
			for i := range ids {
				ids[i] = fmt.Sprintf("p%02d", i)
			}
			state := tournamentState(FormatRoundRobin, ids...)
			strat := strategyFor(FormatRoundRobin)

			meetings := map[string]int{}
			rounds := 0
			for {
				pairings := strat.NextRound(state)
				if len(pairings) == 0 {
					break
				}
				rounds++
				if rounds > n {
					t.Fatalf("round robin failed to terminate")
				}
				seenThisRound := map[string]bool{}
				for _, p := range pairings {
					if seenThisRound[p.A.ID] {
						t.Fatalf("round %d schedules %s twice", rounds, p.A.ID)
					}
					seenThisRound[p.A.ID] = true
					if p.Bye {
						continue
					}
					if seenThisRound[p.B.ID] {
						t.Fatalf("round %d schedules %s twice", rounds, p.B.ID)
					}
					seenThisRound[p.B.ID] = true
					key := p.A.ID + "/" + p.B.ID
					if p.B.ID < p.A.ID {
						key = p.B.ID + "/" + p.A.ID
					}
					meetings[key]++
				}
				recordRound(state, pairings, func(p Pairing) string { return p.A.ID })
			}

			wantRounds := n - 1
			if n%2 == 1 {
				wantRounds = n
			}
			if rounds != wantRounds {
				t.Fatalf("want %d rounds, got %d", wantRounds, rounds)
			}
			wantPairs := n * (n - 1) / 2
			if len(meetings) != wantPairs {
				t.Fatalf("want %d distinct pairs, got %d", wantPairs, len(meetings))
			}
			for pair, count := range meetings {
				if count != 1 {
					t.Fatalf("pair %s met %d times", pair, count)
				}
			}
		})
	}
}

func TestElimination_WinnersAdvanceUntilOneRemains(t *testing.T) {
	state := tournamentState(FormatElimination, "p1", "p2", "p3", "p4")
	strat := strategyFor(FormatElimination)

	first := strat.NextRound(state)
	if len(first) != 2 {
		t.Fatalf("4 players should open with 2 battles, got %d", len(first))
	}
	// p1 and p3 win.
	recordRound(state, first, func(p Pairing) string { return p.A.ID })

	second := strat.NextRound(state)
	if len(second) != 1 {
		t.Fatalf("2 survivors should produce 1 battle, got %d", len(second))
	}
	survivors := map[string]bool{second[0].A.ID: true, second[0].B.ID: true}
	if !survivors["p1"] || !survivors["p3"] {
		t.Fatalf("losers advanced: %+v", second[0])
	}
	recordRound(state, second, func(p Pairing) string { return p.A.ID })

	if left := strat.NextRound(state); len(left) != 0 {
		t.Fatalf("single survivor should end the bracket, got %d pairings", len(left))
	}
}

func TestElimination_OddFieldGetsBye(t *testing.T) {
	state := tournamentState(FormatElimination, "p1", "p2", "p3")
	pairings := strategyFor(FormatElimination).NextRound(state)
	if len(pairings) != 2 {
		t.Fatalf("want battle + bye, got %d pairings", len(pairings))
	}
	byes := 0
	for _, p := range pairings {
		if p.Bye {
			byes++
		}
	}
	if byes != 1 {
		t.Fatalf("want exactly 1 bye, got %d", byes)
	}
}

func TestBracket_SeedsStrongestAgainstWeakest(t *testing.T) {
	state := tournamentState(FormatBracket)
	ratings := map[string]int{"p1": 1500, "p2": 1100, "p3": 1300, "p4": 900}
	for id, rating := range ratings {
		state.Participants = append(state.Participants, engine.Participant{ID: id, Rating: rating})
		state.standings[id] = &Standing{ParticipantID: id}
	}

	pairings := strategyFor(FormatBracket).NextRound(state)
	if len(pairings) != 2 {
		t.Fatalf("want 2 pairings, got %d", len(pairings))
	}
	if pairings[0].A.ID != "p1" || pairings[0].B.ID != "p4" {
		t.Fatalf("top seed should meet bottom seed, got %s vs %s", pairings[0].A.ID, pairings[0].B.ID)
	}
	if pairings[1].A.ID != "p3" || pairings[1].B.ID != "p2" {
		t.Fatalf("middle seeds mismatched: %s vs %s", pairings[1].A.ID, pairings[1].B.ID)
	}
}

func TestSwiss_AvoidsRematchesAndBoundsRounds(t *testing.T) {
	state := tournamentState(FormatSwiss, "p1", "p2", "p3", "p4")
	strat := strategyFor(FormatSwiss)

	meetings := map[string]int{}
	rounds := 0
	for {
		pairings := strat.NextRound(state)
		if len(pairings) == 0 {
			break
		}
		rounds++
		for _, p := range pairings {
			if p.Bye {
				continue
			}
			key := p.A.ID + "/" + p.B.ID
			if p.B.ID < p.A.ID {
				key = p.B.ID + "/" + p.A.ID
			}
			meetings[key]++
		}
		recordRound(state, pairings, func(p Pairing) string { return p.A.ID })
	}

	// ceil(log2(4)) = 2 rounds for four players.
	if rounds != 2 {
		t.Fatalf("want 2 swiss rounds, got %d", rounds)
	}
	for pair, count := range meetings {
		if count != 1 {
			t.Fatalf("swiss rematch: %s met %d times", pair, count)
		}
	}
}

func TestSwiss_PairsOnPoints(t *testing.T) {
	state := tournamentState(FormatSwiss, "p1", "p2", "p3", "p4")
	state.TotalRounds = 3
	state.standings["p1"].Wins = 2
	state.standings["p2"].Wins = 2
	state.standings["p3"].Wins = 0
	state.standings["p4"].Wins = 0

	pairings := strategyFor(FormatSwiss).NextRound(state)
	if len(pairings) != 2 {
		t.Fatalf("want 2 pairings, got %d", len(pairings))
	}
	if pairings[0].A.ID != "p1" || pairings[0].B.ID != "p2" {
		t.Fatalf("leaders should meet: %s vs %s", pairings[0].A.ID, pairings[0].B.ID)
	}
}

func TestRankStandings(t *testing.T) {
	state := tournamentState(FormatRoundRobin, "p1", "p2", "p3")
	state.standings["p1"].Wins = 1
	state.standings["p1"].PointDiff = 10
	state.standings["p2"].Wins = 1
	state.standings["p2"].PointDiff = 30
	state.standings["p3"].Wins = 2

	ranked := rankStandings(state)
	if ranked[0].ParticipantID != "p3" {
		t.Fatalf("most wins first, got %s", ranked[0].ParticipantID)
	}
	if ranked[1].ParticipantID != "p2" {
		t.Fatalf("point differential breaks win ties, got %s", ranked[1].ParticipantID)
	}
}
