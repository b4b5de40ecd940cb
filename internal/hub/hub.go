// Package hub is the battle session manager: the registry of live battle
// actors and the fan-out point for completed battle records. The active-battle
// table is only ever touched from the hub's own goroutine.
package hub

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentarena/battle-backend/internal/challenge"
	"github.com/agentarena/battle-backend/internal/engine"
	"github.com/agentarena/battle-backend/internal/session"
)

var (
	ErrNotFound = errors.New("battle not found")
	ErrClosed   = errors.New("battle hub is shut down")
)

type HubMsg interface{ isHubMsg() }

// CreateBattle builds a new battle in the preparing status and spins up its
// session actor.
type CreateBattle struct {
	Type         engine.BattleType
	Participants []engine.Participant
	Settings     engine.Settings
	Reply        chan CreateReply
}

type CreateReply struct {
	BattleID string
	Session  *session.Session
	Err      error
}

// GetSession fetches the live session for a battle; nil if the battle is not
// active (unknown or already finished).
type GetSession struct {
	BattleID string
	Reply    chan *session.Session
}

// GetRecord fetches the terminal record of a finished battle; nil if unknown
// or still running.
type GetRecord struct {
	BattleID string
	Reply    chan *session.Record
}

// SubscribeCompletion delivers the battle's terminal record on Ch. If the
// battle already finished the record is delivered immediately; the channel
// must have capacity 1.
type SubscribeCompletion struct {
	BattleID string
	Ch       chan session.Record
}

type RemoveBattle struct{ BattleID string }

type ShutdownHub struct{}

// battleFinished is posted by a session actor when its battle reaches a
// terminal status.
type battleFinished struct{ rec session.Record }

func (CreateBattle) isHubMsg()        {}
func (GetSession) isHubMsg()          {}
func (GetRecord) isHubMsg()           {}
func (SubscribeCompletion) isHubMsg() {}
func (RemoveBattle) isHubMsg()        {}
func (ShutdownHub) isHubMsg()         {}
func (battleFinished) isHubMsg()      {}

// Config wires the collaborators every battle shares. OnFinished consumers
// (stats, persistence, analytics) are invoked off the hub goroutine,
// fire-and-forget.
type Config struct {
	Provider   challenge.Provider
	Logger     *zap.Logger
	OnFinished []func(session.Record)
}

type Hub struct {
	inbox    chan HubMsg
	sessions map[string]*session.Session
	records  map[string]session.Record
	subs     map[string][]chan session.Record
	cfg      Config
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewHub(parent context.Context, cfg Config) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[string]*session.Session),
		records:  make(map[string]session.Record),
		subs:     make(map[string][]chan session.Record),
		cfg:      cfg,
		log:      cfg.Logger.Named("hub"),
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed once the hub goroutine has exited; senders select on it so
// requests cannot block on a hub that is gone.
func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateBattle:
				msg.Reply <- h.create(msg)

			case GetSession:
				msg.Reply <- h.sessions[msg.BattleID]

			case GetRecord:
				if rec, ok := h.records[msg.BattleID]; ok {
					r := rec
					msg.Reply <- &r
					break
				}
				msg.Reply <- nil

			case SubscribeCompletion:
				if rec, ok := h.records[msg.BattleID]; ok {
					msg.Ch <- rec
					break
				}
				h.subs[msg.BattleID] = append(h.subs[msg.BattleID], msg.Ch)

			case battleFinished:
				h.finish(msg.rec)

			case RemoveBattle:
				if sess := h.sessions[msg.BattleID]; sess != nil {
					sess.Inbox() <- session.Shutdown{}
				}
				delete(h.sessions, msg.BattleID)
				delete(h.records, msg.BattleID)

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) create(msg CreateBattle) CreateReply {
	id := uuid.NewString()
	state, err := engine.NewState(id, msg.Type, msg.Participants, msg.Settings)
	if err != nil {
		return CreateReply{Err: err}
	}
	sess := session.New(h.ctx, state, session.Config{
		Provider: h.cfg.Provider,
		Logger:   h.cfg.Logger,
		OnFinished: func(rec session.Record) {
			select {
			case h.inbox <- battleFinished{rec: rec}:
			case <-h.ctx.Done():
			}
		},
	})
	h.sessions[id] = sess
	h.log.Info("battle created",
		zap.String("battle_id", id),
		zap.String("type", string(msg.Type)),
		zap.Int("participants", len(msg.Participants)))
	return CreateReply{BattleID: id, Session: sess}
}

// finish records the terminal state, notifies subscribers and global
// consumers, and retires the session actor.
func (h *Hub) finish(rec session.Record) {
	id := rec.State.ID
	h.records[id] = rec
	if sess := h.sessions[id]; sess != nil {
		sess.Inbox() <- session.Shutdown{}
		delete(h.sessions, id)
	}
	for _, ch := range h.subs[id] {
		select {
		case ch <- rec:
		default:
			h.log.Warn("completion subscriber not ready, dropping", zap.String("battle_id", id))
		}
	}
	delete(h.subs, id)
	for _, fn := range h.cfg.OnFinished {
		go fn(rec)
	}
	h.log.Info("battle finished",
		zap.String("battle_id", id),
		zap.String("status", string(rec.State.Status)))
}

func (h *Hub) shutdown() {
	for id, sess := range h.sessions {
		sess.Inbox() <- session.Shutdown{}
		delete(h.sessions, id)
	}
	h.cancel()
}
