// Package scoring turns submitted responses into round scores and closed
// battles into final results. Everything here is a pure computation over
// battle state; the natural-language judging itself lives behind the
// challenge provider's rubric.
package scoring

import (
	"context"
	"time"

	"github.com/agentarena/battle-backend/internal/challenge"
	"github.com/agentarena/battle-backend/internal/engine"
)

// ParticipantSummary is the per-participant breakdown of a finished battle.
type ParticipantSummary struct {
	Score           int           `json:"score"`
	AverageScore    float64       `json:"average_score"`
	Responses       int           `json:"responses"`
	Words           int           `json:"words"`
	RoundsWon       int           `json:"rounds_won"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// FinalResult is the immutable outcome record handed to the stats aggregator
// and the persistence store once a battle completes.
type FinalResult struct {
	BattleID       string                        `json:"battle_id"`
	BattleType     engine.BattleType             `json:"battle_type"`
	Ranked         bool                          `json:"ranked"`
	Winner         string                        `json:"winner,omitempty"`
	Draw           bool                          `json:"draw"`
	Scores         map[string]int                `json:"scores"`
	Rankings       []engine.Standing             `json:"rankings"`
	Breakdown      map[string]ParticipantSummary `json:"breakdown"`
	RoundsPlayed   int                           `json:"rounds_played"`
	TotalResponses int                           `json:"total_responses"`
	TotalWords     int                           `json:"total_words"`
	CompletedAt    time.Time                     `json:"completed_at"`
}

// ScoreResponse judges one submission against its challenge. A provider
// failure scores zero rather than surfacing: a flaky judge must never block
// round progression. The returned error is informational only.
func ScoreResponse(ctx context.Context, provider challenge.Provider, text string, timeUsed time.Duration, ch challenge.Challenge) (int, error) {
	score, err := provider.ScoreAgainstRubric(ctx, text, timeUsed, ch)
	if err != nil {
		return 0, err
	}
	if score < 0 {
		score = 0
	}
	if ch.MaxPoints > 0 && score > ch.MaxPoints {
		score = ch.MaxPoints
	}
	return score, nil
}

// AggregateBattle folds a completed battle's rounds into its final result.
// Totals always equal the (weighted) sum of round scores the engine already
// accumulated on each participant.
func AggregateBattle(s engine.State) FinalResult {
	winner, draw := s.Winner, s.Draw
	if s.Status != engine.StatusCompleted {
		winner, draw = engine.FinalWinner(s)
	}

	res := FinalResult{
		BattleID:     s.ID,
		BattleType:   s.Type,
		Ranked:       s.Settings.Ranked,
		Winner:       winner,
		Draw:         draw,
		Scores:       make(map[string]int, len(s.Participants)),
		Rankings:     engine.Standings(s),
		Breakdown:    make(map[string]ParticipantSummary, len(s.Participants)),
		RoundsPlayed: len(s.Rounds),
		CompletedAt:  s.CompletedAt,
	}

	for _, p := range s.Participants {
		res.Scores[p.ID] = p.Score

		summary := ParticipantSummary{Score: p.Score}
		var totalTime time.Duration
		for _, r := range s.Rounds {
			if resp, ok := r.Responses[p.ID]; ok {
				summary.Responses++
				summary.Words += challenge.WordCount(resp.Text)
				totalTime += resp.TimeUsed
			}
			if r.Winner == p.ID {
				summary.RoundsWon++
			}
		}
		if len(s.Rounds) > 0 {
			summary.AverageScore = float64(p.Score) / float64(len(s.Rounds))
		}
		if summary.Responses > 0 {
			summary.AvgResponseTime = totalTime / time.Duration(summary.Responses)
		}
		res.Breakdown[p.ID] = summary
		res.TotalResponses += summary.Responses
		res.TotalWords += summary.Words
	}
	return res
}
