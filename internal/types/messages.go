// Package types defines the wire protocol shared with clients.
//
// Server -> Client events use a `type` discriminator:
//
//	state            - full battle snapshot (sent on join)
//	battle_started   - battle left preparing
//	round_started    - round_number, challenge
//	response_recorded- participant_id acknowledged for the round
//	round_completed  - round_id, scores, winner
//	battle_completed - winner, final_result
//	battle_cancelled - code carries the reason
//	participant_disconnected
//	error            - code, message
//
// Client -> Server commands:
//
//	submit_response  - battle_id, round_id, response
package types

import (
	"time"

	"github.com/agentarena/battle-backend/internal/challenge"
	"github.com/agentarena/battle-backend/internal/engine"
	"github.com/agentarena/battle-backend/internal/scoring"
)

const (
	MsgState            = "state"
	MsgBattleStarted    = "battle_started"
	MsgRoundStarted     = "round_started"
	MsgResponseRecorded = "response_recorded"
	MsgRoundCompleted   = "round_completed"
	MsgBattleCompleted  = "battle_completed"
	MsgBattleCancelled  = "battle_cancelled"
	MsgDisconnected     = "participant_disconnected"
	MsgError            = "error"

	CmdSubmitResponse = "submit_response"
)

type ClientMessage struct {
	Type     string `json:"type"`
	BattleID string `json:"battle_id,omitempty"`
	RoundID  int    `json:"round_id,omitempty"`
	Response string `json:"response,omitempty"`
}

// ChallengeView is the client-safe projection of a challenge: the rubric
// (and any accepted answers) never crosses the wire.
type ChallengeView struct {
	ID           string               `json:"id"`
	Category     challenge.Category   `json:"category"`
	Difficulty   challenge.Difficulty `json:"difficulty"`
	Prompt       string               `json:"prompt"`
	MaxPoints    int                  `json:"max_points"`
	TimeLimitSec int                  `json:"time_limit_sec"`
}

func NewChallengeView(c challenge.Challenge) ChallengeView {
	return ChallengeView{
		ID:           c.ID,
		Category:     c.Category,
		Difficulty:   c.Difficulty,
		Prompt:       c.Prompt,
		MaxPoints:    c.MaxPoints,
		TimeLimitSec: int(c.TimeLimit / time.Second),
	}
}

type ServerMessage struct {
	Type          string               `json:"type"`
	Version       int                  `json:"version,omitempty"`
	Battle        *engine.State        `json:"battle,omitempty"`
	RoundNumber   int                  `json:"round_number,omitempty"`
	RoundID       int                  `json:"round_id,omitempty"`
	Challenge     *ChallengeView       `json:"challenge,omitempty"`
	ParticipantID string               `json:"participant_id,omitempty"`
	Scores        map[string]int       `json:"scores,omitempty"`
	Winner        string               `json:"winner,omitempty"`
	Draw          bool                 `json:"draw,omitempty"`
	FinalResult   *scoring.FinalResult `json:"final_result,omitempty"`
	Code          string               `json:"code,omitempty"`
	Message       string               `json:"message,omitempty"`
}
