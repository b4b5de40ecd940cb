// Package matchmaker pairs waiting participants into new battles. The waiting
// pools are owned by a single actor goroutine; pairing is FIFO within a
// battle type, with a rating band applied for ranked play.
package matchmaker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/agentarena/battle-backend/internal/analytics"
	"github.com/agentarena/battle-backend/internal/engine"
	"github.com/agentarena/battle-backend/internal/hub"
)

type Msg interface{ isMatchmakerMsg() }

// Ticket is one waiting entry in a type-partitioned pool.
type Ticket struct {
	ID          string             `json:"id"`
	Participant engine.Participant `json:"participant"`
	Type        engine.BattleType  `json:"battle_type"`
	Settings    engine.Settings    `json:"settings"`
	EnqueuedAt  time.Time          `json:"enqueued_at"`

	notify chan Match
}

// Match is delivered on a ticket's notify channel once pairing resolves. Err
// is set when battle creation failed; the ticket is gone either way, so the
// waiter must re-enqueue to keep playing.
type Match struct {
	BattleID string
	Session  *hub.CreateReply
	Err      error
}

type Enqueue struct {
	Participant engine.Participant
	Type        engine.BattleType
	Settings    engine.Settings
	Notify      chan Match
	Reply       chan EnqueueReply
}

type EnqueueReply struct {
	Ticket Ticket
	Err    error
}

// CancelTicket removes a pending ticket. Cancelling a ticket that was already
// matched (or never existed) is a no-op, not an error.
type CancelTicket struct {
	TicketID string
	Reply    chan error
}

// CreateCustom bypasses pairing and creates a battle for explicit opponents.
type CreateCustom struct {
	Type         engine.BattleType
	Participants []engine.Participant
	Settings     engine.Settings
	Reply        chan hub.CreateReply
}

// Tick runs one pairing pass. The matchmaker also ticks itself on the
// configured interval.
type Tick struct{}

type Shutdown struct{}

func (Enqueue) isMatchmakerMsg()      {}
func (CancelTicket) isMatchmakerMsg() {}
func (CreateCustom) isMatchmakerMsg() {}
func (Tick) isMatchmakerMsg()         {}
func (Shutdown) isMatchmakerMsg()     {}

type Config struct {
	Hub          *hub.Hub
	Logger       *zap.Logger
	Sink         analytics.Sink
	TickInterval time.Duration
	// RatingBand is the maximum rating gap for ranked pairing.
	RatingBand int
}

type Matchmaker struct {
	inbox  chan Msg
	pools  map[engine.BattleType][]*Ticket
	cfg    Config
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, cfg Config) *Matchmaker {
	ctx, cancel := context.WithCancel(parent)
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Sink == nil {
		cfg.Sink = analytics.NopSink{}
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 2 * time.Second
	}
	if cfg.RatingBand <= 0 {
		cfg.RatingBand = 200
	}
	m := &Matchmaker{
		inbox:  make(chan Msg, 64),
		pools:  make(map[engine.BattleType][]*Ticket),
		cfg:    cfg,
		log:    cfg.Logger.Named("matchmaker"),
		ctx:    ctx,
		cancel: cancel,
	}
	go m.loop()
	return m
}

func (m *Matchmaker) Inbox() chan<- Msg { return m.inbox }

func (m *Matchmaker) loop() {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			m.cancel()
			return

		case <-ticker.C:
			m.tick()

		case msg := <-m.inbox:
			switch msg := msg.(type) {
			case Enqueue:
				msg.Reply <- m.enqueue(msg)
			case CancelTicket:
				m.removeTicket(msg.TicketID)
				if msg.Reply != nil {
					msg.Reply <- nil
				}
			case CreateCustom:
				msg.Reply <- m.createBattle(msg.Type, msg.Participants, msg.Settings)
			case Tick:
				m.tick()
			case Shutdown:
				m.cancel()
				return
			}
		}
	}
}

func (m *Matchmaker) enqueue(msg Enqueue) EnqueueReply {
	if err := msg.Settings.Validate(); err != nil {
		return EnqueueReply{Err: err}
	}
	if msg.Participant.ID == "" {
		return EnqueueReply{Err: fmt.Errorf("%w: participant id required", engine.ErrInvalidSettings)}
	}
	t := &Ticket{
		ID:          xid.New().String(),
		Participant: msg.Participant,
		Type:        msg.Type,
		Settings:    msg.Settings,
		EnqueuedAt:  time.Now(),
		notify:      msg.Notify,
	}
	m.pools[msg.Type] = append(m.pools[msg.Type], t)
	m.cfg.Sink.Emit("matchmaking_started", map[string]any{
		"ticket_id":   t.ID,
		"participant": t.Participant.ID,
		"battle_type": string(t.Type),
	})
	return EnqueueReply{Ticket: *t}
}

// tick pairs compatible tickets FIFO. Earlier tickets get first pick of
// partners; a ticket never pairs with another entry for the same participant.
func (m *Matchmaker) tick() {
	for battleType, pool := range m.pools {
		var remaining []*Ticket
		used := make([]bool, len(pool))
		for i := 0; i < len(pool); i++ {
			if used[i] {
				continue
			}
			matched := -1
			for j := i + 1; j < len(pool); j++ {
				if used[j] {
					continue
				}
				if compatible(pool[i], pool[j], m.cfg.RatingBand) {
					matched = j
					break
				}
			}
			if matched < 0 {
				remaining = append(remaining, pool[i])
				continue
			}
			used[i], used[matched] = true, true
			m.pair(battleType, pool[i], pool[matched])
		}
		if len(remaining) == 0 {
			delete(m.pools, battleType)
		} else {
			m.pools[battleType] = remaining
		}
	}
}

func compatible(a, b *Ticket, band int) bool {
	if a.Participant.ID == b.Participant.ID {
		return false
	}
	if a.Settings.Ranked || b.Settings.Ranked {
		gap := a.Participant.Rating - b.Participant.Rating
		if gap < 0 {
			gap = -gap
		}
		if gap > band {
			return false
		}
	}
	return true
}

func (m *Matchmaker) pair(battleType engine.BattleType, a, b *Ticket) {
	reply := m.createBattle(battleType, []engine.Participant{a.Participant, b.Participant}, a.Settings)
	if reply.Err != nil {
		// Keep both tickets out of the pool; a broken pairing should not
		// retry forever with the same bad settings. Both waiters hear about
		// the failure so they can re-enqueue or give up.
		m.log.Error("pairing failed", zap.Error(reply.Err),
			zap.String("ticket_a", a.ID), zap.String("ticket_b", b.ID))
		m.deliver(a, Match{Err: reply.Err})
		m.deliver(b, Match{Err: reply.Err})
		return
	}
	m.cfg.Sink.Emit("battle_matched", map[string]any{
		"battle_id":    reply.BattleID,
		"battle_type":  string(battleType),
		"participants": []string{a.Participant.ID, b.Participant.ID},
	})
	for _, t := range []*Ticket{a, b} {
		r := reply
		m.deliver(t, Match{BattleID: reply.BattleID, Session: &r})
	}
}

func (m *Matchmaker) deliver(t *Ticket, match Match) {
	if t.notify == nil {
		return
	}
	select {
	case t.notify <- match:
	default:
		m.log.Warn("match notification dropped", zap.String("ticket", t.ID))
	}
}

func (m *Matchmaker) createBattle(battleType engine.BattleType, participants []engine.Participant, settings engine.Settings) hub.CreateReply {
	replyCh := make(chan hub.CreateReply, 1)
	select {
	case m.cfg.Hub.Inbox() <- hub.CreateBattle{
		Type:         battleType,
		Participants: participants,
		Settings:     settings,
		Reply:        replyCh,
	}:
	case <-m.cfg.Hub.Done():
		return hub.CreateReply{Err: hub.ErrClosed}
	case <-m.ctx.Done():
		return hub.CreateReply{Err: m.ctx.Err()}
	}
	select {
	case r := <-replyCh:
		return r
	case <-m.cfg.Hub.Done():
		return hub.CreateReply{Err: hub.ErrClosed}
	case <-m.ctx.Done():
		return hub.CreateReply{Err: m.ctx.Err()}
	}
}

func (m *Matchmaker) removeTicket(id string) {
	for battleType, pool := range m.pools {
		for i, t := range pool {
			if t.ID == id {
				m.pools[battleType] = append(pool[:i], pool[i+1:]...)
				return
			}
		}
	}
}
