package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/agentarena/battle-backend/internal/challenge"
)

var ErrInvalidSettings = errors.New("invalid battle settings")
var ErrInvalidState = errors.New("operation not valid for current battle status")
var ErrNotParticipant = errors.New("unknown participant")
var ErrParticipantInactive = errors.New("participant is not active in this battle")
var ErrAlreadySubmitted = errors.New("participant already responded this round")
var ErrRoundClosed = errors.New("round is closed")
var ErrNoOpenRound = errors.New("no round in progress")
var ErrRoundInProgress = errors.New("a round is already in progress")
var ErrUnsupportedCommand = errors.New("unsupported command")

type BattleType string

const (
	TypeDuel       BattleType = "duel"
	TypeTournament BattleType = "tournament"
	TypePractice   BattleType = "practice"
	TypeRanked     BattleType = "ranked"
)

type Status string

const (
	StatusPreparing Status = "preparing"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

type ParticipantKind string

const (
	KindHuman ParticipantKind = "human"
	KindAgent ParticipantKind = "agent"
)

type ParticipantStatus string

const (
	ParticipantReady        ParticipantStatus = "ready"
	ParticipantActive       ParticipantStatus = "active"
	ParticipantEliminated   ParticipantStatus = "eliminated"
	ParticipantDisconnected ParticipantStatus = "disconnected"
)

type ScoringMode string

const (
	ScoringStandard    ScoringMode = "standard"
	ScoringWeighted    ScoringMode = "weighted"
	ScoringElimination ScoringMode = "elimination"
)

type Participant struct {
	ID      string            `json:"id"`
	AgentID string            `json:"agent_id"`
	Kind    ParticipantKind   `json:"kind"`
	Rating  int               `json:"rating"`
	Score   int               `json:"score"`
	Status  ParticipantStatus `json:"status"`
}

type Response struct {
	ParticipantID string        `json:"participant_id"`
	Text          string        `json:"text"`
	SubmittedAt   time.Time     `json:"submitted_at"`
	TimeUsed      time.Duration `json:"time_used"`
	Score         int           `json:"score"`
}

type Round struct {
	Number      int                 `json:"number"`
	Challenge   challenge.Challenge `json:"challenge"`
	Responses   map[string]Response `json:"responses"`
	Scores      map[string]int      `json:"scores"`
	Winner      string              `json:"winner,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	Deadline    time.Time           `json:"deadline"`
	CompletedAt time.Time           `json:"completed_at,omitempty"`
}

type Settings struct {
	Rounds          int                  `json:"rounds"`
	TimePerRound    time.Duration        `json:"time_per_round"`
	Categories      []challenge.Category `json:"categories,omitempty"`
	Difficulty      challenge.Difficulty `json:"difficulty,omitempty"`
	ScoringMode     ScoringMode          `json:"scoring_mode"`
	Ranked          bool                 `json:"ranked"`
	MaxParticipants int                  `json:"max_participants"`
}

func DefaultSettings() Settings {
	return Settings{
		Rounds:          3,
		TimePerRound:    60 * time.Second,
		ScoringMode:     ScoringStandard,
		MaxParticipants: 2,
	}
}

func (s Settings) Validate() error {
	if s.Rounds < 1 {
		return fmt.Errorf("%w: rounds must be >= 1, got %d", ErrInvalidSettings, s.Rounds)
	}
	if s.TimePerRound < time.Second {
		return fmt.Errorf("%w: time per round must be >= 1s, got %s", ErrInvalidSettings, s.TimePerRound)
	}
	if s.MaxParticipants < 2 {
		return fmt.Errorf("%w: max participants must be >= 2, got %d", ErrInvalidSettings, s.MaxParticipants)
	}
	switch s.ScoringMode {
	case ScoringStandard, ScoringWeighted, ScoringElimination:
	default:
		return fmt.Errorf("%w: unknown scoring mode %q", ErrInvalidSettings, s.ScoringMode)
	}
	return nil
}

// State is the authoritative record of one battle. Only the session actor that
// owns a battle may apply commands to it.
type State struct {
	ID           string        `json:"id"`
	Type         BattleType    `json:"type"`
	Status       Status        `json:"status"`
	Participants []Participant `json:"participants"`
	Rounds       []Round       `json:"rounds"`
	Open         *Round        `json:"open_round,omitempty"`
	CurrentRound int           `json:"current_round"`
	TotalRounds  int           `json:"total_rounds"`
	Winner       string        `json:"winner,omitempty"`
	Draw         bool          `json:"draw,omitempty"`
	Settings     Settings      `json:"settings"`
	StartedAt    time.Time     `json:"started_at,omitempty"`
	CompletedAt  time.Time     `json:"completed_at,omitempty"`
	CancelReason string        `json:"cancel_reason,omitempty"`
}

// NewState builds a battle in the preparing status.
func NewState(id string, battleType BattleType, participants []Participant, settings Settings) (State, error) {
	if err := settings.Validate(); err != nil {
		return State{}, err
	}
	if len(participants) < 2 {
		return State{}, fmt.Errorf("%w: need at least 2 participants, got %d", ErrInvalidSettings, len(participants))
	}
	if len(participants) > settings.MaxParticipants {
		return State{}, fmt.Errorf("%w: %d participants exceeds max %d", ErrInvalidSettings, len(participants), settings.MaxParticipants)
	}
	seen := map[string]bool{}
	ps := make([]Participant, len(participants))
	for i, p := range participants {
		if seen[p.ID] {
			return State{}, fmt.Errorf("%w: duplicate participant %s", ErrInvalidSettings, p.ID)
		}
		seen[p.ID] = true
		p.Score = 0
		p.Status = ParticipantReady
		ps[i] = p
	}
	return State{
		ID:           id,
		Type:         battleType,
		Status:       StatusPreparing,
		Participants: ps,
		TotalRounds:  settings.Rounds,
		Settings:     settings,
	}, nil
}

type CommandType string

const (
	CmdStart          CommandType = "Start"
	CmdBeginRound     CommandType = "BeginRound"
	CmdSubmitResponse CommandType = "SubmitResponse"
	CmdCloseRound     CommandType = "CloseRound"
	CmdDisconnect     CommandType = "Disconnect"
	CmdReconnect      CommandType = "Reconnect"
	CmdCancel         CommandType = "Cancel"
)

// Command carries every mutation a session may request. Response scores are
// computed by the caller (the scoring engine consults the rubric collaborator)
// so Apply stays pure.
type Command struct {
	Type          CommandType
	ParticipantID string
	Text          string
	Score         int
	Challenge     challenge.Challenge
	Reason        string
	Now           time.Time
}

type EventType string

const (
	EvtBattleStarted           EventType = "BattleStarted"
	EvtRoundStarted            EventType = "RoundStarted"
	EvtResponseRecorded        EventType = "ResponseRecorded"
	EvtRoundCompleted          EventType = "RoundCompleted"
	EvtBattleCompleted         EventType = "BattleCompleted"
	EvtBattleCancelled         EventType = "BattleCancelled"
	EvtParticipantDisconnected EventType = "ParticipantDisconnected"
	EvtParticipantEliminated   EventType = "ParticipantEliminated"
)

type Event struct {
	Type          EventType
	RoundNumber   int
	Challenge     *challenge.Challenge
	ParticipantID string
	Scores        map[string]int
	Winner        string
	Draw          bool
	Reason        string
}

// Apply runs one command against a battle state and returns the events it
// produced plus the successor state. The input state is never mutated; on
// error it is returned unchanged.
func Apply(s State, cmd Command) ([]Event, State, error) {
	switch cmd.Type {
	case CmdStart:
		return applyStart(s, cmd)
	case CmdBeginRound:
		return applyBeginRound(s, cmd)
	case CmdSubmitResponse:
		return applySubmit(s, cmd)
	case CmdCloseRound:
		return applyCloseRound(s, cmd)
	case CmdDisconnect:
		return applyDisconnect(s, cmd)
	case CmdReconnect:
		return applyReconnect(s, cmd)
	case CmdCancel:
		return applyCancel(s, cmd)
	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func applyStart(s State, cmd Command) ([]Event, State, error) {
	if s.Status != StatusPreparing {
		return nil, s, fmt.Errorf("%w: start requires preparing, battle is %s", ErrInvalidState, s.Status)
	}
	next := clone(s)
	next.Status = StatusActive
	next.StartedAt = cmd.Now
	for i := range next.Participants {
		next.Participants[i].Status = ParticipantActive
	}
	return []Event{{Type: EvtBattleStarted}}, next, nil
}

func applyBeginRound(s State, cmd Command) ([]Event, State, error) {
	if s.Status != StatusActive {
		return nil, s, fmt.Errorf("%w: begin round requires active, battle is %s", ErrInvalidState, s.Status)
	}
	if s.Open != nil {
		return nil, s, ErrRoundInProgress
	}
	number := len(s.Rounds) + 1
	if number > s.TotalRounds {
		return nil, s, fmt.Errorf("%w: all %d rounds already played", ErrInvalidState, s.TotalRounds)
	}
	next := clone(s)
	round := Round{
		Number:    number,
		Challenge: cmd.Challenge,
		Responses: map[string]Response{},
		Scores:    map[string]int{},
		StartedAt: cmd.Now,
		Deadline:  cmd.Now.Add(s.Settings.TimePerRound),
	}
	next.Open = &round
	next.CurrentRound = number
	ch := round.Challenge
	return []Event{{Type: EvtRoundStarted, RoundNumber: number, Challenge: &ch}}, next, nil
}

func applySubmit(s State, cmd Command) ([]Event, State, error) {
	if s.Status != StatusActive {
		return nil, s, fmt.Errorf("%w: battle is %s", ErrInvalidState, s.Status)
	}
	if s.Open == nil {
		return nil, s, ErrNoOpenRound
	}
	p := findParticipant(s.Participants, cmd.ParticipantID)
	if p == nil {
		return nil, s, ErrNotParticipant
	}
	if p.Status != ParticipantActive {
		return nil, s, fmt.Errorf("%w: participant %s is %s", ErrParticipantInactive, p.ID, p.Status)
	}
	if _, dup := s.Open.Responses[cmd.ParticipantID]; dup {
		return nil, s, ErrAlreadySubmitted
	}
	if cmd.Now.After(s.Open.Deadline) {
		return nil, s, ErrRoundClosed
	}
	next := clone(s)
	score := clampScore(cmd.Score, s.Open.Challenge.MaxPoints)
	next.Open.Responses[cmd.ParticipantID] = Response{
		ParticipantID: cmd.ParticipantID,
		Text:          cmd.Text,
		SubmittedAt:   cmd.Now,
		TimeUsed:      cmd.Now.Sub(s.Open.StartedAt),
		Score:         score,
	}
	next.Open.Scores[cmd.ParticipantID] = score
	ev := Event{Type: EvtResponseRecorded, RoundNumber: next.Open.Number, ParticipantID: cmd.ParticipantID}
	return []Event{ev}, next, nil
}

func applyCloseRound(s State, cmd Command) ([]Event, State, error) {
	if s.Status != StatusActive {
		return nil, s, fmt.Errorf("%w: battle is %s", ErrInvalidState, s.Status)
	}
	if s.Open == nil {
		return nil, s, ErrNoOpenRound
	}
	next := clone(s)
	round := next.Open

	// Anyone eligible who never responded scores zero for the round.
	for _, p := range next.Participants {
		if p.Status != ParticipantActive {
			continue
		}
		if _, ok := round.Scores[p.ID]; !ok {
			round.Scores[p.ID] = 0
		}
	}
	round.Winner = RoundWinner(*round)
	round.CompletedAt = cmd.Now

	weight := 1
	if next.Settings.ScoringMode == ScoringWeighted {
		weight = round.Number
	}
	for i := range next.Participants {
		if sc, ok := round.Scores[next.Participants[i].ID]; ok {
			next.Participants[i].Score += sc * weight
		}
	}

	closed := *round
	next.Rounds = append(next.Rounds, closed)
	next.Open = nil

	events := []Event{{
		Type:        EvtRoundCompleted,
		RoundNumber: closed.Number,
		Scores:      closed.Scores,
		Winner:      closed.Winner,
	}}

	if next.Settings.ScoringMode == ScoringElimination {
		events = append(events, eliminateLowest(&next, closed)...)
	}

	if done, winner, draw := battleOutcome(next); done {
		next.Status = StatusCompleted
		next.Winner = winner
		next.Draw = draw
		next.CompletedAt = cmd.Now
		events = append(events, Event{Type: EvtBattleCompleted, Winner: winner, Draw: draw, Scores: totals(next)})
	}
	return events, next, nil
}

func applyDisconnect(s State, cmd Command) ([]Event, State, error) {
	if s.Status == StatusCompleted || s.Status == StatusCancelled {
		return nil, s, nil
	}
	p := findParticipant(s.Participants, cmd.ParticipantID)
	if p == nil {
		return nil, s, ErrNotParticipant
	}
	next := clone(s)
	for i := range next.Participants {
		if next.Participants[i].ID == cmd.ParticipantID {
			next.Participants[i].Status = ParticipantDisconnected
		}
	}
	events := []Event{{Type: EvtParticipantDisconnected, ParticipantID: cmd.ParticipantID}}

	// Quorum rule: a battle survives disconnects until all-but-one are gone.
	if connected(next) <= 1 {
		next.Status = StatusCancelled
		next.Winner = ""
		next.Draw = false
		next.CancelReason = "quorum lost"
		next.CompletedAt = cmd.Now
		next.Open = nil
		events = append(events, Event{Type: EvtBattleCancelled, Reason: next.CancelReason})
	}
	return events, next, nil
}

func applyReconnect(s State, cmd Command) ([]Event, State, error) {
	if s.Status != StatusActive && s.Status != StatusPreparing {
		return nil, s, fmt.Errorf("%w: battle is %s", ErrInvalidState, s.Status)
	}
	p := findParticipant(s.Participants, cmd.ParticipantID)
	if p == nil {
		return nil, s, ErrNotParticipant
	}
	if p.Status != ParticipantDisconnected {
		return nil, s, nil
	}
	next := clone(s)
	for i := range next.Participants {
		if next.Participants[i].ID == cmd.ParticipantID {
			if next.Status == StatusActive {
				next.Participants[i].Status = ParticipantActive
			} else {
				next.Participants[i].Status = ParticipantReady
			}
		}
	}
	return nil, next, nil
}

func applyCancel(s State, cmd Command) ([]Event, State, error) {
	if s.Status == StatusCompleted || s.Status == StatusCancelled {
		return nil, s, fmt.Errorf("%w: battle already %s", ErrInvalidState, s.Status)
	}
	next := clone(s)
	next.Status = StatusCancelled
	next.CancelReason = cmd.Reason
	next.CompletedAt = cmd.Now
	next.Open = nil
	return []Event{{Type: EvtBattleCancelled, Reason: cmd.Reason}}, next, nil
}

// eliminateLowest drops the unique lowest scorer of a closed round. Tied
// lowest scorers all survive.
func eliminateLowest(s *State, round Round) []Event {
	lowID := ""
	low := 0
	tied := false
	for _, p := range s.Participants {
		if p.Status != ParticipantActive {
			continue
		}
		sc, ok := round.Scores[p.ID]
		if !ok {
			continue
		}
		switch {
		case lowID == "" || sc < low:
			lowID, low, tied = p.ID, sc, false
		case sc == low:
			tied = true
		}
	}
	if lowID == "" || tied {
		return nil
	}
	for i := range s.Participants {
		if s.Participants[i].ID == lowID {
			s.Participants[i].Status = ParticipantEliminated
		}
	}
	return []Event{{Type: EvtParticipantEliminated, ParticipantID: lowID, RoundNumber: round.Number}}
}

// battleOutcome reports whether the battle is over and, if so, the winner.
// An empty winner with draw=true means no participant prevailed.
func battleOutcome(s State) (done bool, winner string, draw bool) {
	remaining := 0
	for _, p := range s.Participants {
		if p.Status == ParticipantActive {
			remaining++
		}
	}
	if len(s.Rounds) < s.TotalRounds && remaining > 1 {
		return false, "", false
	}
	winner, draw = FinalWinner(s)
	return true, winner, draw
}

func connected(s State) int {
	n := 0
	for _, p := range s.Participants {
		if p.Status != ParticipantDisconnected {
			n++
		}
	}
	return n
}

func totals(s State) map[string]int {
	m := make(map[string]int, len(s.Participants))
	for _, p := range s.Participants {
		m[p.ID] = p.Score
	}
	return m
}

func findParticipant(ps []Participant, id string) *Participant {
	for i := range ps {
		if ps[i].ID == id {
			return &ps[i]
		}
	}
	return nil
}

func clampScore(score, max int) int {
	if score < 0 {
		return 0
	}
	if max > 0 && score > max {
		return max
	}
	return score
}
