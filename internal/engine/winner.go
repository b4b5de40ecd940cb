package engine

import (
	"sort"
	"time"
)

// Standing ranks one participant at a point in the battle. Ordering is fully
// deterministic: higher score first, then responders over non-responders, then
// lower average response time, then smaller participant id.
type Standing struct {
	ParticipantID   string        `json:"participant_id"`
	Score           int           `json:"score"`
	Responses       int           `json:"responses"`
	RoundsWon       int           `json:"rounds_won"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	Active          bool          `json:"active"`
}

func sortStandings(st []Standing) {
	sort.Slice(st, func(i, j int) bool {
		a, b := st[i], st[j]
		if a.Active != b.Active {
			return a.Active
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if (a.Responses > 0) != (b.Responses > 0) {
			return a.Responses > 0
		}
		if a.AvgResponseTime != b.AvgResponseTime {
			return a.AvgResponseTime < b.AvgResponseTime
		}
		return a.ParticipantID < b.ParticipantID
	})
}

// RoundWinner picks the winner of a closed round. A round in which nobody
// responded has no winner.
func RoundWinner(r Round) string {
	if len(r.Responses) == 0 {
		return ""
	}
	st := make([]Standing, 0, len(r.Scores))
	for id, score := range r.Scores {
		s := Standing{ParticipantID: id, Score: score, Active: true}
		if resp, ok := r.Responses[id]; ok {
			s.Responses = 1
			s.AvgResponseTime = resp.TimeUsed
		}
		st = append(st, s)
	}
	sortStandings(st)
	return st[0].ParticipantID
}

// Standings ranks every participant of a battle by running score. Eliminated
// and disconnected participants sort below active ones regardless of score.
func Standings(s State) []Standing {
	st := make([]Standing, 0, len(s.Participants))
	for _, p := range s.Participants {
		entry := Standing{
			ParticipantID: p.ID,
			Score:         p.Score,
			Active:        p.Status == ParticipantActive || p.Status == ParticipantReady,
		}
		var total time.Duration
		for _, r := range s.Rounds {
			if resp, ok := r.Responses[p.ID]; ok {
				entry.Responses++
				total += resp.TimeUsed
			}
			if r.Winner == p.ID {
				entry.RoundsWon++
			}
		}
		if entry.Responses > 0 {
			entry.AvgResponseTime = total / time.Duration(entry.Responses)
		}
		st = append(st, entry)
	}
	sortStandings(st)
	return st
}

// FinalWinner declares the overall outcome of a finished battle. The result
// is a draw only when the top two contenders tie on score and neither ever
// responded; any response, however weak, beats silence.
func FinalWinner(s State) (winner string, draw bool) {
	st := Standings(s)
	if len(st) == 0 {
		return "", true
	}
	top := st[0]
	if len(st) == 1 {
		return top.ParticipantID, false
	}
	second := st[1]
	if top.Active && !second.Active {
		return top.ParticipantID, false
	}
	if top.Score == second.Score && top.Responses == 0 && second.Responses == 0 {
		return "", true
	}
	return top.ParticipantID, false
}
