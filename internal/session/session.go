// Package session owns the live state of one battle. All mutation flows
// through a single mailbox goroutine, so concurrent submissions for the same
// battle never race; battles in different sessions proceed in parallel.
package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agentarena/battle-backend/internal/challenge"
	"github.com/agentarena/battle-backend/internal/engine"
	"github.com/agentarena/battle-backend/internal/scoring"
)

type Msg interface{ isSessionMsg() }

// Join registers a participant connection. The current state is delivered to
// the outbox immediately so late joiners can render the battle.
type Join struct {
	ParticipantID string
	Outbox        chan Notice
}

func (Join) isSessionMsg() {}

type Leave struct{ ParticipantID string }

func (Leave) isSessionMsg() {}

// Start moves the battle out of preparing and begins round 1.
type Start struct{ Reply chan error }

func (Start) isSessionMsg() {}

// Submit records one participant response for the open round.
type Submit struct {
	ParticipantID string
	RoundNumber   int
	Text          string
	Reply         chan error
}

func (Submit) isSessionMsg() {}

// Disconnect marks a participant as gone. The battle survives until
// all-but-one participants are disconnected.
type Disconnect struct{ ParticipantID string }

func (Disconnect) isSessionMsg() {}

type Reconnect struct{ ParticipantID string }

func (Reconnect) isSessionMsg() {}

type Cancel struct {
	Reason string
	Reply  chan error
}

func (Cancel) isSessionMsg() {}

type GetState struct{ Reply chan View }

func (GetState) isSessionMsg() {}

// Shutdown retires the session. While clients still hold the actor they keep
// getting replies (mutations fail once the battle is terminal); the loop
// exits when the last client leaves.
type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

// roundTimeout is the deadline timer firing. The generation counter drops
// fires armed for rounds that already closed.
type roundTimeout struct{ gen int }

func (roundTimeout) isSessionMsg() {}

// Notice is one ordered event delivered to every connected participant,
// together with the state snapshot that produced it.
type Notice struct {
	Version int
	Event   engine.Event
	State   engine.State
}

type View struct {
	Version    int
	NumClients int
	State      engine.State
}

// Record is handed upward when a battle reaches a terminal status. Final is
// nil for cancelled battles.
type Record struct {
	State engine.State
	Final *scoring.FinalResult
}

type Session struct {
	inbox    chan Msg
	state    engine.State
	version  int
	clients  map[string]chan Notice
	provider challenge.Provider
	log      *zap.Logger
	onDone   func(Record)
	reported bool
	retired  bool
	timer    *time.Timer
	timerGen int
	ctx      context.Context
	cancel   context.CancelFunc
}

// Config carries the collaborators a session needs. Provider calls are
// expected to be bounded already (wrap with challenge.TimeoutProvider).
type Config struct {
	Provider   challenge.Provider
	Logger     *zap.Logger
	OnFinished func(Record)
}

func New(parent context.Context, initial engine.State, cfg Config) *Session {
	ctx, cancel := context.WithCancel(parent)
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Session{
		inbox:    make(chan Msg, 64),
		state:    initial,
		clients:  map[string]chan Notice{},
		provider: cfg.Provider,
		log:      cfg.Logger.With(zap.String("battle_id", initial.ID)),
		onDone:   cfg.OnFinished,
		ctx:      ctx,
		cancel:   cancel,
	}
	go s.loop()
	return s
}

func (s *Session) Inbox() chan<- Msg { return s.inbox }

// Done is closed once the actor goroutine has exited. Senders select on it
// so a command racing the session's retirement fails instead of blocking on
// a reply that will never come.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Join:
				s.clients[msg.ParticipantID] = msg.Outbox
				msg.Outbox <- Notice{Version: s.version, State: engine.Clone(s.state)}

			case Leave:
				delete(s.clients, msg.ParticipantID)
				if s.retired && len(s.clients) == 0 {
					s.shutdown()
					return
				}

			case Start:
				err := s.apply(engine.Command{Type: engine.CmdStart, Now: time.Now()})
				if err == nil {
					s.beginRound()
				}
				reply(msg.Reply, err)

			case Submit:
				reply(msg.Reply, s.handleSubmit(msg))

			case Disconnect:
				if err := s.apply(engine.Command{Type: engine.CmdDisconnect, ParticipantID: msg.ParticipantID, Now: time.Now()}); err != nil {
					s.log.Warn("disconnect ignored", zap.String("participant", msg.ParticipantID), zap.Error(err))
				}
				s.finishIfTerminal()

			case Reconnect:
				if err := s.apply(engine.Command{Type: engine.CmdReconnect, ParticipantID: msg.ParticipantID, Now: time.Now()}); err != nil {
					s.log.Warn("reconnect ignored", zap.String("participant", msg.ParticipantID), zap.Error(err))
				}

			case Cancel:
				err := s.apply(engine.Command{Type: engine.CmdCancel, Reason: msg.Reason, Now: time.Now()})
				s.finishIfTerminal()
				reply(msg.Reply, err)

			case GetState:
				msg.Reply <- View{Version: s.version, NumClients: len(s.clients), State: engine.Clone(s.state)}

			case roundTimeout:
				if msg.gen != s.timerGen {
					break
				}
				s.closeRound()

			case Shutdown:
				s.retired = true
				s.stopTimer()
				switch s.state.Status {
				case engine.StatusCompleted, engine.StatusCancelled:
				default:
					// Retiring a live battle cancels it first so clients hear
					// a terminal event before the actor winds down.
					if err := s.apply(engine.Command{Type: engine.CmdCancel, Reason: "shutdown", Now: time.Now()}); err != nil {
						s.log.Warn("cancel on shutdown failed", zap.Error(err))
					}
					s.finishIfTerminal()
				}
				if len(s.clients) == 0 {
					s.shutdown()
					return
				}
			}
		}
	}
}

func (s *Session) handleSubmit(msg Submit) error {
	switch s.state.Status {
	case engine.StatusCompleted, engine.StatusCancelled:
		return engine.ErrInvalidState
	}
	if s.state.Open == nil {
		return engine.ErrNoOpenRound
	}
	if msg.RoundNumber != 0 && msg.RoundNumber != s.state.Open.Number {
		return engine.ErrRoundClosed
	}
	now := time.Now()
	timeUsed := now.Sub(s.state.Open.StartedAt)
	score, err := scoring.ScoreResponse(s.ctx, s.provider, msg.Text, timeUsed, s.state.Open.Challenge)
	if err != nil {
		// Judging failures score zero; the round must go on.
		s.log.Warn("rubric scoring failed", zap.Int("round", s.state.Open.Number), zap.Error(err))
	}
	if err := s.apply(engine.Command{
		Type:          engine.CmdSubmitResponse,
		ParticipantID: msg.ParticipantID,
		Text:          msg.Text,
		Score:         score,
		Now:           now,
	}); err != nil {
		return err
	}
	if engine.AllResponded(s.state) {
		s.closeRound()
	}
	return nil
}

// beginRound requests a challenge (falling back to the built-in default if
// the provider cannot answer in time), opens the round, and arms the
// deadline timer.
func (s *Session) beginRound() {
	ch, err := s.provider.GetChallenge(s.ctx, s.state.Settings.Categories, s.state.Settings.Difficulty)
	if err != nil {
		s.log.Warn("challenge provider unavailable, using fallback", zap.Error(err))
		ch = challenge.Fallback(s.state.Settings.TimePerRound)
	}
	ch.TimeLimit = s.state.Settings.TimePerRound
	if err := s.apply(engine.Command{Type: engine.CmdBeginRound, Challenge: ch, Now: time.Now()}); err != nil {
		s.log.Error("begin round failed", zap.Error(err))
		return
	}
	s.armTimer(s.state.Settings.TimePerRound)
}

func (s *Session) closeRound() {
	s.stopTimer()
	if err := s.apply(engine.Command{Type: engine.CmdCloseRound, Now: time.Now()}); err != nil {
		s.log.Warn("close round failed", zap.Error(err))
		return
	}
	switch s.state.Status {
	case engine.StatusActive:
		s.beginRound()
	default:
		s.finishIfTerminal()
	}
}

// apply runs a command through the pure engine, then bumps the version and
// broadcasts every emitted event in order.
func (s *Session) apply(cmd engine.Command) error {
	events, next, err := engine.Apply(s.state, cmd)
	if err != nil {
		return err
	}
	s.state = next
	if len(events) == 0 {
		return nil
	}
	s.version++
	for _, ev := range events {
		s.broadcast(Notice{Version: s.version, Event: ev, State: engine.Clone(s.state)})
	}
	return nil
}

func (s *Session) finishIfTerminal() {
	if s.reported {
		return
	}
	switch s.state.Status {
	case engine.StatusCompleted:
		final := scoring.AggregateBattle(s.state)
		s.report(Record{State: engine.Clone(s.state), Final: &final})
	case engine.StatusCancelled:
		s.report(Record{State: engine.Clone(s.state)})
	}
}

func (s *Session) report(rec Record) {
	s.reported = true
	s.stopTimer()
	if s.onDone != nil {
		// Delivered off the actor goroutine so a slow consumer cannot stall
		// the final broadcasts.
		go s.onDone(rec)
	}
}

func (s *Session) armTimer(d time.Duration) {
	s.stopTimer()
	s.timerGen++
	gen := s.timerGen
	s.timer = time.AfterFunc(d, func() {
		select {
		case s.inbox <- roundTimeout{gen: gen}:
		case <-s.ctx.Done():
		}
	})
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) broadcast(n Notice) {
	for id, ch := range s.clients {
		select {
		case ch <- n:
			// ok
		default:
			// Client is slow/full - drop them.
			close(ch)
			delete(s.clients, id)
		}
	}
}

func (s *Session) shutdown() {
	s.stopTimer()
	for id, ch := range s.clients {
		close(ch)
		delete(s.clients, id)
	}
	s.cancel()
}

func reply(ch chan error, err error) {
	if ch != nil {
		ch <- err
	}
}
