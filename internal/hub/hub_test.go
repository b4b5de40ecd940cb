package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentarena/battle-backend/internal/challenge"
	"github.com/agentarena/battle-backend/internal/engine"
	"github.com/agentarena/battle-backend/internal/session"
)

func recvCreate(t *testing.T, ch <-chan CreateReply, within time.Duration) CreateReply {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(within):
		t.Fatalf("timed out waiting for create reply")
		return CreateReply{} // unreachable
	}
}

func recvCompletion(t *testing.T, ch <-chan session.Record, within time.Duration) session.Record {
	t.Helper()
	select {
	case rec := <-ch:
		return rec
	case <-time.After(within):
		t.Fatalf("timed out waiting for completion record")
		return session.Record{} // unreachable
	}
}

func duelParticipants() []engine.Participant {
	return []engine.Participant{{ID: "alice"}, {ID: "bob"}}
}

func createBattle(t *testing.T, h *Hub) CreateReply {
	t.Helper()
	reply := make(chan CreateReply, 1)
	h.Inbox() <- CreateBattle{
		Type:         engine.TypeDuel,
		Participants: duelParticipants(),
		Settings:     engine.DefaultSettings(),
		Reply:        reply,
	}
	created := recvCreate(t, reply, 200*time.Millisecond)
	if created.Err != nil {
		t.Fatalf("create battle: %v", created.Err)
	}
	return created
}

func TestHub_CreateAndGetSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(ctx, Config{Provider: challenge.NewStaticProvider()})
	defer func() { h.Inbox() <- ShutdownHub{} }()

	created := createBattle(t, h)
	if created.BattleID == "" || created.Session == nil {
		t.Fatalf("incomplete create reply: %+v", created)
	}

	get := make(chan *session.Session, 1)
	h.Inbox() <- GetSession{BattleID: created.BattleID, Reply: get}
	if sess := <-get; sess != created.Session {
		t.Fatalf("GetSession should return the created actor")
	}

	h.Inbox() <- GetSession{BattleID: "nope", Reply: get}
	if sess := <-get; sess != nil {
		t.Fatalf("unknown battle should resolve to nil session")
	}
}

func TestHub_InvalidSettingsRejected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(ctx, Config{Provider: challenge.NewStaticProvider()})
	defer func() { h.Inbox() <- ShutdownHub{} }()

	reply := make(chan CreateReply, 1)
	h.Inbox() <- CreateBattle{
		Type:         engine.TypeDuel,
		Participants: []engine.Participant{{ID: "alice"}},
		Settings:     engine.DefaultSettings(),
		Reply:        reply,
	}
	created := recvCreate(t, reply, 200*time.Millisecond)
	if !errors.Is(created.Err, engine.ErrInvalidSettings) {
		t.Fatalf("want ErrInvalidSettings, got %v", created.Err)
	}
}

func TestHub_CompletionRecordAndSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	global := make(chan session.Record, 1)
	h := NewHub(ctx, Config{
		Provider: challenge.NewStaticProvider(),
		OnFinished: []func(session.Record){
			func(rec session.Record) { global <- rec },
		},
	})
	defer func() { h.Inbox() <- ShutdownHub{} }()

	created := createBattle(t, h)

	sub := make(chan session.Record, 1)
	h.Inbox() <- SubscribeCompletion{BattleID: created.BattleID, Ch: sub}

	// Cancel the battle; the terminal record must fan out everywhere.
	cancelReply := make(chan error, 1)
	created.Session.Inbox() <- session.Cancel{Reason: "test over", Reply: cancelReply}
	if err := <-cancelReply; err != nil {
		t.Fatalf("cancel: %v", err)
	}

	rec := recvCompletion(t, sub, 500*time.Millisecond)
	if rec.State.Status != engine.StatusCancelled {
		t.Fatalf("want cancelled record, got %s", rec.State.Status)
	}
	if rec.Final != nil {
		t.Fatalf("cancelled battle must not carry a final result")
	}

	grec := recvCompletion(t, global, 500*time.Millisecond)
	if grec.State.ID != created.BattleID {
		t.Fatalf("global consumer got wrong battle: %s", grec.State.ID)
	}

	// The session is retired; the record remains queryable.
	get := make(chan *session.Session, 1)
	h.Inbox() <- GetSession{BattleID: created.BattleID, Reply: get}
	if sess := <-get; sess != nil {
		t.Fatalf("finished battle should have no live session")
	}
	recReply := make(chan *session.Record, 1)
	h.Inbox() <- GetRecord{BattleID: created.BattleID, Reply: recReply}
	if got := <-recReply; got == nil || got.State.ID != created.BattleID {
		t.Fatalf("record lookup failed: %+v", got)
	}

	// A late subscriber gets the record immediately.
	late := make(chan session.Record, 1)
	h.Inbox() <- SubscribeCompletion{BattleID: created.BattleID, Ch: late}
	_ = recvCompletion(t, late, 200*time.Millisecond)
}

func TestHub_SubmitAfterBattleFinishedFailsFast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(ctx, Config{Provider: challenge.NewStaticProvider()})
	defer func() { h.Inbox() <- ShutdownHub{} }()

	created := createBattle(t, h)

	// A transport client keeps the session pointer for its whole connection.
	out := make(chan session.Notice, 16)
	created.Session.Inbox() <- session.Join{ParticipantID: "alice", Outbox: out}

	sub := make(chan session.Record, 1)
	h.Inbox() <- SubscribeCompletion{BattleID: created.BattleID, Ch: sub}

	cancelReply := make(chan error, 1)
	created.Session.Inbox() <- session.Cancel{Reason: "over", Reply: cancelReply}
	if err := <-cancelReply; err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_ = recvCompletion(t, sub, 500*time.Millisecond)

	// The hub has retired the session by now, but this client still holds
	// it. The command must come back with an error, not hang.
	submit := make(chan error, 1)
	created.Session.Inbox() <- session.Submit{ParticipantID: "alice", Text: "late", Reply: submit}
	select {
	case err := <-submit:
		if !errors.Is(err, engine.ErrInvalidState) {
			t.Fatalf("want ErrInvalidState, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("submit to a finished battle never answered")
	}
}
