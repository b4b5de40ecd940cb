package tournament

import (
	"math"
	"sort"

	"github.com/agentarena/battle-backend/internal/engine"
)

// Strategy produces the pairings for a tournament's next round. An empty
// pairing list means the tournament has no rounds left to play.
type Strategy interface {
	NextRound(t *State) []Pairing
}

func strategyFor(f Format) Strategy {
	switch f {
	case FormatRoundRobin:
		return roundRobin{}
	case FormatSwiss:
		return swiss{}
	default:
		// bracket and elimination share advancement; bracket seeds by rating.
		return elimination{seeded: f == FormatBracket}
	}
}

// elimination advances winners and drops losers until one participant
// remains. With seeding, the strongest remaining participant meets the
// weakest each round.
type elimination struct {
	seeded bool
}

func (e elimination) NextRound(t *State) []Pairing {
	var survivors []engine.Participant
	for _, p := range t.Participants {
		if s := t.standings[p.ID]; s == nil || !s.Eliminated {
			survivors = append(survivors, p)
		}
	}
	if len(survivors) < 2 {
		return nil
	}
	if e.seeded {
		sort.SliceStable(survivors, func(i, j int) bool {
			if survivors[i].Rating != survivors[j].Rating {
				return survivors[i].Rating > survivors[j].Rating
			}
			return survivors[i].ID < survivors[j].ID
		})
	}
	var pairings []Pairing
	if e.seeded {
		// 1 vs N, 2 vs N-1, ...
		i, j := 0, len(survivors)-1
		for i < j {
			pairings = append(pairings, Pairing{A: survivors[i], B: survivors[j]})
			i++
			j--
		}
		if i == j {
			pairings = append(pairings, Pairing{A: survivors[i], Bye: true})
		}
		return pairings
	}
	for i := 0; i+1 < len(survivors); i += 2 {
		pairings = append(pairings, Pairing{A: survivors[i], B: survivors[i+1]})
	}
	if len(survivors)%2 == 1 {
		pairings = append(pairings, Pairing{A: survivors[len(survivors)-1], Bye: true})
	}
	return pairings
}

// roundRobin uses the circle method: one seat is fixed and the rest rotate,
// so every pair meets exactly once across n-1 rounds (n even, byes included).
type roundRobin struct{}

func (roundRobin) NextRound(t *State) []Pairing {
	ps := append([]engine.Participant(nil), t.Participants...)
	if len(ps)%2 == 1 {
		ps = append(ps, engine.Participant{}) // bye slot
	}
	n := len(ps)
	if n < 2 || len(t.Rounds) >= n-1 {
		return nil
	}
	r := len(t.Rounds)
	rot := make([]int, n)
	for i := 1; i < n; i++ {
		rot[i] = 1 + (i-1+r)%(n-1)
	}
	var pairings []Pairing
	for i := 0; i < n/2; i++ {
		a, b := ps[rot[i]], ps[rot[n-1-i]]
		switch {
		case a.ID == "" && b.ID == "":
			// both slots empty cannot happen with a single bye
		case b.ID == "":
			pairings = append(pairings, Pairing{A: a, Bye: true})
		case a.ID == "":
			pairings = append(pairings, Pairing{A: b, Bye: true})
		default:
			pairings = append(pairings, Pairing{A: a, B: b})
		}
	}
	return pairings
}

// swiss pairs participants on similar running scores, avoiding rematches
// where possible, for ceil(log2(n)) rounds unless configured otherwise.
type swiss struct{}

func (swiss) NextRound(t *State) []Pairing {
	n := len(t.Participants)
	if n < 2 {
		return nil
	}
	total := t.TotalRounds
	if total <= 0 {
		total = int(math.Ceil(math.Log2(float64(n))))
	}
	if len(t.Rounds) >= total {
		return nil
	}

	ranked := append([]engine.Participant(nil), t.Participants...)
	points := func(id string) int {
		s := t.standings[id]
		if s == nil {
			return 0
		}
		return 2*s.Wins + s.Draws
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		pi, pj := points(ranked[i].ID), points(ranked[j].ID)
		if pi != pj {
			return pi > pj
		}
		return ranked[i].ID < ranked[j].ID
	})

	paired := make([]bool, len(ranked))
	var pairings []Pairing
	for i := range ranked {
		if paired[i] {
			continue
		}
		opponent := -1
		fallback := -1
		for j := i + 1; j < len(ranked); j++ {
			if paired[j] {
				continue
			}
			if fallback < 0 {
				fallback = j
			}
			if !t.met[ranked[i].ID][ranked[j].ID] {
				opponent = j
				break
			}
		}
		if opponent < 0 {
			opponent = fallback
		}
		if opponent < 0 {
			pairings = append(pairings, Pairing{A: ranked[i], Bye: true})
			paired[i] = true
			continue
		}
		paired[i], paired[opponent] = true, true
		pairings = append(pairings, Pairing{A: ranked[i], B: ranked[opponent]})
	}
	return pairings
}

// rankStandings orders by wins, then point differential, then id.
func rankStandings(t *State) []Standing {
	out := make([]Standing, 0, len(t.standings))
	for _, s := range t.standings {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Wins != out[j].Wins {
			return out[i].Wins > out[j].Wins
		}
		if out[i].PointDiff != out[j].PointDiff {
			return out[i].PointDiff > out[j].PointDiff
		}
		return out[i].ParticipantID < out[j].ParticipantID
	})
	return out
}
