// Package ws is the transport gateway: one duplex connection per participant
// per battle. Inbound commands are dispatched through a typed handler table;
// a dropped connection is reported to the session as a disconnect.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/agentarena/battle-backend/internal/auth"
	"github.com/agentarena/battle-backend/internal/engine"
	"github.com/agentarena/battle-backend/internal/hub"
	"github.com/agentarena/battle-backend/internal/scoring"
	"github.com/agentarena/battle-backend/internal/session"
	"github.com/agentarena/battle-backend/internal/types"
)

const writeTimeout = 3 * time.Second

// commandHandler processes one inbound client command. Returning an error
// sends an error envelope; the connection stays open.
type commandHandler func(ctx context.Context, sess *session.Session, participantID string, msg types.ClientMessage) error

// dispatch is the command table keyed by message type. Each handler is
// independently testable without a live connection.
var dispatch = map[string]commandHandler{
	types.CmdSubmitResponse: handleSubmitResponse,
}

func handleSubmitResponse(ctx context.Context, sess *session.Session, participantID string, msg types.ClientMessage) error {
	reply := make(chan error, 1)
	select {
	case sess.Inbox() <- session.Submit{
		ParticipantID: participantID,
		RoundNumber:   msg.RoundID,
		Text:          msg.Response,
		Reply:         reply,
	}:
	case <-sess.Done():
		return engine.ErrInvalidState
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-sess.Done():
		// The battle finished while the command was in flight.
		return engine.ErrInvalidState
	case <-ctx.Done():
		return ctx.Err()
	}
}

// send posts to the session mailbox unless the actor already exited.
func send(sess *session.Session, m session.Msg) bool {
	select {
	case sess.Inbox() <- m:
		return true
	case <-sess.Done():
		return false
	}
}

func Handler(h *hub.Hub, identity auth.Identity, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		battleID := r.URL.Query().Get("battle")
		if battleID == "" {
			http.Error(w, "missing battle", http.StatusBadRequest)
			return
		}
		participantID, err := identity.ParticipantID(r)
		if err != nil {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}

		reply := make(chan *session.Session, 1)
		h.Inbox() <- hub.GetSession{BattleID: battleID, Reply: reply}
		sess := <-reply
		if sess == nil {
			http.Error(w, "battle not active", http.StatusNotFound)
			return
		}

		if !isParticipant(sess, participantID) {
			http.Error(w, "not a participant", http.StatusForbidden)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan session.Notice, 16)
		if !send(sess, session.Join{ParticipantID: participantID, Outbox: out}) {
			writeError(r.Context(), conn, types.CodeInvalidState, "battle is over")
			return
		}
		defer func() {
			// Connection gone: the session decides whether losing this
			// participant cancels the battle.
			send(sess, session.Leave{ParticipantID: participantID})
			send(sess, session.Disconnect{ParticipantID: participantID})
		}()
		send(sess, session.Reconnect{ParticipantID: participantID})

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for notice := range out {
				payload, err := json.Marshal(toWire(notice))
				if err != nil {
					log.Warn("encode notice", zap.Error(err))
					continue
				}
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeError(r.Context(), conn, types.CodeValidation, "bad json")
				continue
			}
			handler, ok := dispatch[cm.Type]
			if !ok {
				writeError(r.Context(), conn, types.CodeValidation, "unknown command type")
				continue
			}
			if err := handler(r.Context(), sess, participantID, cm); err != nil {
				writeError(r.Context(), conn, types.ErrorCode(err), err.Error())
			}
		}
	}
}

func isParticipant(sess *session.Session, participantID string) bool {
	reply := make(chan session.View, 1)
	if !send(sess, session.GetState{Reply: reply}) {
		return false
	}
	select {
	case view := <-reply:
		for _, p := range view.State.Participants {
			if p.ID == participantID {
				return true
			}
		}
		return false
	case <-sess.Done():
		return false
	}
}

// toWire translates one ordered session notice into its client envelope.
func toWire(n session.Notice) types.ServerMessage {
	msg := types.ServerMessage{Version: n.Version}
	switch n.Event.Type {
	case engine.EvtBattleStarted:
		msg.Type = types.MsgBattleStarted
		state := n.State
		msg.Battle = &state
	case engine.EvtRoundStarted:
		msg.Type = types.MsgRoundStarted
		msg.RoundNumber = n.Event.RoundNumber
		if n.Event.Challenge != nil {
			view := types.NewChallengeView(*n.Event.Challenge)
			msg.Challenge = &view
		}
	case engine.EvtResponseRecorded:
		msg.Type = types.MsgResponseRecorded
		msg.RoundNumber = n.Event.RoundNumber
		msg.ParticipantID = n.Event.ParticipantID
	case engine.EvtRoundCompleted:
		msg.Type = types.MsgRoundCompleted
		msg.RoundID = n.Event.RoundNumber
		msg.Scores = n.Event.Scores
		msg.Winner = n.Event.Winner
	case engine.EvtBattleCompleted:
		msg.Type = types.MsgBattleCompleted
		msg.Winner = n.Event.Winner
		msg.Draw = n.Event.Draw
		final := scoring.AggregateBattle(n.State)
		msg.FinalResult = &final
	case engine.EvtBattleCancelled:
		msg.Type = types.MsgBattleCancelled
		msg.Code = n.Event.Reason
	case engine.EvtParticipantDisconnected:
		msg.Type = types.MsgDisconnected
		msg.ParticipantID = n.Event.ParticipantID
	default:
		msg.Type = types.MsgState
		state := n.State
		msg.Battle = &state
	}
	return msg
}

func writeError(ctx context.Context, conn *websocket.Conn, code, message string) {
	payload, _ := json.Marshal(types.ServerMessage{Type: types.MsgError, Code: code, Message: message})
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(ctx, websocket.MessageText, payload)
}
