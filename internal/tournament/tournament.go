// Package tournament composes battles into bracket, round-robin, and swiss
// structures. Bracket variants are interchangeable strategies behind one
// advancement contract, so the engine's control flow never branches on the
// format at call sites.
package tournament

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentarena/battle-backend/internal/analytics"
	"github.com/agentarena/battle-backend/internal/engine"
	"github.com/agentarena/battle-backend/internal/hub"
	"github.com/agentarena/battle-backend/internal/matchmaker"
	"github.com/agentarena/battle-backend/internal/session"
)

var ErrNotFound = errors.New("tournament not found")
var ErrRegistrationClosed = errors.New("tournament registration is closed")
var ErrAlreadyJoined = errors.New("participant already registered")
var ErrAdvanceInProgress = errors.New("tournament round already advancing")
var ErrCompleted = errors.New("tournament already completed")

type Format string

const (
	FormatBracket     Format = "bracket"
	FormatRoundRobin  Format = "round_robin"
	FormatSwiss       Format = "swiss"
	FormatElimination Format = "elimination"
)

type Status string

const (
	StatusRegistration Status = "registration"
	StatusActive       Status = "active"
	StatusCompleted    Status = "completed"
)

// Pairing is one scheduled battle of a tournament round. B is empty for a
// bye, which counts as a win for A without a battle.
type Pairing struct {
	A   engine.Participant
	B   engine.Participant
	Bye bool
}

// MatchRecord is the stored outcome of one tournament battle.
type MatchRecord struct {
	BattleID string `json:"battle_id,omitempty"`
	A        string `json:"a"`
	B        string `json:"b,omitempty"`
	Winner   string `json:"winner,omitempty"`
	Draw     bool   `json:"draw"`
	ScoreA   int    `json:"score_a"`
	ScoreB   int    `json:"score_b"`
	Bye      bool   `json:"bye,omitempty"`
}

// Standing is one participant's running tournament record.
type Standing struct {
	ParticipantID string `json:"participant_id"`
	Wins          int    `json:"wins"`
	Losses        int    `json:"losses"`
	Draws         int    `json:"draws"`
	PointDiff     int    `json:"point_diff"`
	Eliminated    bool   `json:"eliminated"`
}

// State is the full tournament record. Views handed out of the manager are
// deep copies.
type State struct {
	ID                   string               `json:"id"`
	Name                 string               `json:"name"`
	Format               Format               `json:"format"`
	Status               Status               `json:"status"`
	Participants         []engine.Participant `json:"participants"`
	Rounds               [][]MatchRecord      `json:"rounds"`
	CurrentRound         int                  `json:"current_round"`
	TotalRounds          int                  `json:"total_rounds"`
	MaxParticipants      int                  `json:"max_participants"`
	RegistrationDeadline time.Time            `json:"registration_deadline"`
	BattleSettings       engine.Settings      `json:"battle_settings"`
	Winner               string               `json:"winner,omitempty"`

	standings map[string]*Standing
	met       map[string]map[string]bool
	advancing bool
}

type CreateConfig struct {
	Name                 string
	Format               Format
	MaxParticipants      int
	RegistrationDeadline time.Time
	BattleSettings       engine.Settings
	// TotalRounds bounds swiss play; ignored by the other formats, which
	// derive their round count from the roster.
	TotalRounds int
}

type Manager struct {
	mu          sync.Mutex
	tournaments map[string]*State
	hub         *hub.Hub
	matchmaker  *matchmaker.Matchmaker
	sink        analytics.Sink
	log         *zap.Logger
}

func NewManager(h *hub.Hub, m *matchmaker.Matchmaker, sink analytics.Sink, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if sink == nil {
		sink = analytics.NopSink{}
	}
	return &Manager{
		tournaments: map[string]*State{},
		hub:         h,
		matchmaker:  m,
		sink:        sink,
		log:         log.Named("tournament"),
	}
}

func (m *Manager) Create(cfg CreateConfig) (State, error) {
	switch cfg.Format {
	case FormatBracket, FormatRoundRobin, FormatSwiss, FormatElimination:
	default:
		return State{}, fmt.Errorf("%w: unknown format %q", engine.ErrInvalidSettings, cfg.Format)
	}
	if err := cfg.BattleSettings.Validate(); err != nil {
		return State{}, err
	}
	if cfg.MaxParticipants < 2 {
		return State{}, fmt.Errorf("%w: max participants must be >= 2", engine.ErrInvalidSettings)
	}
	t := &State{
		ID:                   uuid.NewString(),
		Name:                 cfg.Name,
		Format:               cfg.Format,
		Status:               StatusRegistration,
		MaxParticipants:      cfg.MaxParticipants,
		RegistrationDeadline: cfg.RegistrationDeadline,
		BattleSettings:       cfg.BattleSettings,
		TotalRounds:          cfg.TotalRounds,
		standings:            map[string]*Standing{},
		met:                  map[string]map[string]bool{},
	}
	m.mu.Lock()
	m.tournaments[t.ID] = t
	m.mu.Unlock()
	return snapshot(t), nil
}

// Join registers a participant while the registration window is open.
func (m *Manager) Join(id string, p engine.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tournaments[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status != StatusRegistration {
		return ErrRegistrationClosed
	}
	if !t.RegistrationDeadline.IsZero() && time.Now().After(t.RegistrationDeadline) {
		return ErrRegistrationClosed
	}
	if len(t.Participants) >= t.MaxParticipants {
		return ErrRegistrationClosed
	}
	for _, existing := range t.Participants {
		if existing.ID == p.ID {
			return ErrAlreadyJoined
		}
	}
	t.Participants = append(t.Participants, p)
	t.standings[p.ID] = &Standing{ParticipantID: p.ID}
	t.met[p.ID] = map[string]bool{}
	m.sink.Emit("tournament_joined", map[string]any{
		"tournament_id": id,
		"participant":   p.ID,
	})
	return nil
}

func (m *Manager) Get(id string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tournaments[id]
	if !ok {
		return State{}, ErrNotFound
	}
	return snapshot(t), nil
}

// Standings returns the current ranking (wins, then point differential).
func (m *Manager) Standings(id string) ([]Standing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tournaments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rankStandings(t), nil
}

// Advance plays the next tournament round: it schedules one battle per
// pairing, waits for every battle to reach a terminal state, folds the
// results into the standings, and marks the tournament completed when its
// strategy has no further rounds. It blocks until the round finishes.
func (m *Manager) Advance(ctx context.Context, id string) error {
	m.mu.Lock()
	t, ok := m.tournaments[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if t.Status == StatusCompleted {
		m.mu.Unlock()
		return ErrCompleted
	}
	if t.advancing {
		m.mu.Unlock()
		return ErrAdvanceInProgress
	}
	if t.Status == StatusRegistration {
		// First advance closes registration.
		if len(t.Participants) < 2 {
			m.mu.Unlock()
			return fmt.Errorf("%w: need at least 2 participants", engine.ErrInvalidSettings)
		}
		t.Status = StatusActive
	}
	strat := strategyFor(t.Format)
	pairings := strat.NextRound(t)
	if len(pairings) == 0 {
		m.complete(t)
		m.mu.Unlock()
		return nil
	}
	t.advancing = true
	t.CurrentRound++
	roundNum := t.CurrentRound
	settings := t.BattleSettings
	m.mu.Unlock()

	records, err := m.playRound(ctx, t.ID, pairings, settings)

	m.mu.Lock()
	defer m.mu.Unlock()
	t.advancing = false
	if err != nil {
		t.CurrentRound--
		return err
	}
	t.Rounds = append(t.Rounds, records)
	for _, rec := range records {
		applyRecord(t, rec)
	}
	m.log.Info("tournament round complete",
		zap.String("tournament_id", t.ID),
		zap.Int("round", roundNum),
		zap.Int("battles", len(records)))
	if len(strat.NextRound(t)) == 0 {
		m.complete(t)
	}
	return nil
}

// playRound runs every pairing's battle to completion in parallel. Byes
// resolve immediately without a battle.
func (m *Manager) playRound(ctx context.Context, tournamentID string, pairings []Pairing, settings engine.Settings) ([]MatchRecord, error) {
	records := make([]MatchRecord, len(pairings))
	g, ctx := errgroup.WithContext(ctx)
	for i, p := range pairings {
		i, p := i, p
		if p.Bye {
			records[i] = MatchRecord{A: p.A.ID, Winner: p.A.ID, Bye: true}
			continue
		}
		g.Go(func() error {
			rec, err := m.playBattle(ctx, p, settings)
			if err != nil {
				return err
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("tournament %s round failed: %w", tournamentID, err)
	}
	return records, nil
}

func (m *Manager) playBattle(ctx context.Context, p Pairing, settings engine.Settings) (MatchRecord, error) {
	createReply := make(chan hub.CreateReply, 1)
	m.matchmaker.Inbox() <- matchmaker.CreateCustom{
		Type:         engine.TypeTournament,
		Participants: []engine.Participant{p.A, p.B},
		Settings:     settings,
		Reply:        createReply,
	}
	var created hub.CreateReply
	select {
	case created = <-createReply:
	case <-ctx.Done():
		return MatchRecord{}, ctx.Err()
	}
	if created.Err != nil {
		return MatchRecord{}, created.Err
	}

	// Subscribe before starting so the completion cannot be missed.
	done := make(chan session.Record, 1)
	m.hub.Inbox() <- hub.SubscribeCompletion{BattleID: created.BattleID, Ch: done}

	startErr := make(chan error, 1)
	created.Session.Inbox() <- session.Start{Reply: startErr}
	select {
	case err := <-startErr:
		if err != nil {
			return MatchRecord{}, err
		}
	case <-created.Session.Done():
		// The actor already wound down; the completion record below settles it.
	case <-ctx.Done():
		return MatchRecord{}, ctx.Err()
	}

	select {
	case rec := <-done:
		out := MatchRecord{BattleID: created.BattleID, A: p.A.ID, B: p.B.ID}
		out.Winner = rec.State.Winner
		out.Draw = rec.State.Draw
		if rec.State.Status == engine.StatusCancelled {
			// A cancelled battle counts as a draw for advancement purposes.
			out.Draw = true
			out.Winner = ""
		}
		if rec.Final != nil {
			out.ScoreA = rec.Final.Scores[p.A.ID]
			out.ScoreB = rec.Final.Scores[p.B.ID]
		}
		return out, nil
	case <-ctx.Done():
		return MatchRecord{}, ctx.Err()
	}
}

func (m *Manager) complete(t *State) {
	t.Status = StatusCompleted
	ranked := rankStandings(t)
	if len(ranked) > 0 {
		t.Winner = ranked[0].ParticipantID
	}
	m.sink.Emit("tournament_completed", map[string]any{
		"tournament_id": t.ID,
		"winner":        t.Winner,
		"rounds":        len(t.Rounds),
	})
}

func applyRecord(t *State, rec MatchRecord) {
	markMet(t, rec.A, rec.B)
	a := t.standings[rec.A]
	var b *Standing
	if rec.B != "" {
		b = t.standings[rec.B]
	}
	if a != nil {
		a.PointDiff += rec.ScoreA - rec.ScoreB
	}
	if b != nil {
		b.PointDiff += rec.ScoreB - rec.ScoreA
	}
	switch {
	case rec.Draw:
		if a != nil {
			a.Draws++
		}
		if b != nil {
			b.Draws++
		}
	case rec.Winner == rec.A:
		if a != nil {
			a.Wins++
		}
		if b != nil {
			b.Losses++
			if t.Format == FormatElimination || t.Format == FormatBracket {
				b.Eliminated = true
			}
		}
	case rec.Winner == rec.B:
		if b != nil {
			b.Wins++
		}
		if a != nil {
			a.Losses++
			if t.Format == FormatElimination || t.Format == FormatBracket {
				a.Eliminated = true
			}
		}
	}
}

func markMet(t *State, a, b string) {
	if a == "" || b == "" {
		return
	}
	if t.met[a] == nil {
		t.met[a] = map[string]bool{}
	}
	if t.met[b] == nil {
		t.met[b] = map[string]bool{}
	}
	t.met[a][b] = true
	t.met[b][a] = true
}

func snapshot(t *State) State {
	out := *t
	out.Participants = append([]engine.Participant(nil), t.Participants...)
	out.Rounds = make([][]MatchRecord, len(t.Rounds))
	for i, r := range t.Rounds {
		out.Rounds[i] = append([]MatchRecord(nil), r...)
	}
	out.standings = nil
	out.met = nil
	return out
}
