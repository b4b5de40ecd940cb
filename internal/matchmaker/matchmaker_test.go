package matchmaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentarena/battle-backend/internal/challenge"
	"github.com/agentarena/battle-backend/internal/engine"
	"github.com/agentarena/battle-backend/internal/hub"
)

func recvMatch(t *testing.T, ch <-chan Match, within time.Duration) Match {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(within):
		t.Fatalf("timed out waiting for match")
		return Match{} // unreachable
	}
}

func recvNoMatch(t *testing.T, ch <-chan Match, within time.Duration) {
	t.Helper()
	select {
	case m := <-ch:
		t.Fatalf("expected no match within %v, got battle %s", within, m.BattleID)
	case <-time.After(within):
		// good: still waiting
	}
}

func newMatchmaker(t *testing.T) (*Matchmaker, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := hub.NewHub(ctx, hub.Config{Provider: challenge.NewStaticProvider()})
	// A long tick keeps pairing under test control via explicit Tick messages.
	m := New(ctx, Config{Hub: h, TickInterval: time.Hour, RatingBand: 200})
	return m, func() {
		m.Inbox() <- Shutdown{}
		h.Inbox() <- hub.ShutdownHub{}
		cancel()
	}
}

func enqueue(t *testing.T, m *Matchmaker, p engine.Participant, battleType engine.BattleType, ranked bool, notify chan Match) Ticket {
	t.Helper()
	settings := engine.DefaultSettings()
	settings.Ranked = ranked
	reply := make(chan EnqueueReply, 1)
	m.Inbox() <- Enqueue{Participant: p, Type: battleType, Settings: settings, Notify: notify, Reply: reply}
	select {
	case r := <-reply:
		if r.Err != nil {
			t.Fatalf("enqueue %s: %v", p.ID, r.Err)
		}
		return r.Ticket
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timed out enqueueing %s", p.ID)
		return Ticket{} // unreachable
	}
}

func TestMatchmaker_PairsTwoCompatibleTickets(t *testing.T) {
	m, shutdown := newMatchmaker(t)
	defer shutdown()

	aliceCh := make(chan Match, 1)
	bobCh := make(chan Match, 1)
	enqueue(t, m, engine.Participant{ID: "alice", Rating: 1200}, engine.TypeDuel, false, aliceCh)
	enqueue(t, m, engine.Participant{ID: "bob", Rating: 1200}, engine.TypeDuel, false, bobCh)

	m.Inbox() <- Tick{}

	got := recvMatch(t, aliceCh, 500*time.Millisecond)
	if got.BattleID == "" || got.Session == nil || got.Session.Session == nil {
		t.Fatalf("incomplete match: %+v", got)
	}
	other := recvMatch(t, bobCh, 500*time.Millisecond)
	if other.BattleID != got.BattleID {
		t.Fatalf("tickets paired into different battles: %s vs %s", got.BattleID, other.BattleID)
	}
}

func TestMatchmaker_NeverPairsParticipantWithSelf(t *testing.T) {
	m, shutdown := newMatchmaker(t)
	defer shutdown()

	ch := make(chan Match, 2)
	enqueue(t, m, engine.Participant{ID: "alice"}, engine.TypeDuel, false, ch)
	enqueue(t, m, engine.Participant{ID: "alice"}, engine.TypeDuel, false, ch)

	m.Inbox() <- Tick{}
	recvNoMatch(t, ch, 300*time.Millisecond)
}

func TestMatchmaker_PoolsArePerBattleType(t *testing.T) {
	m, shutdown := newMatchmaker(t)
	defer shutdown()

	duelCh := make(chan Match, 1)
	practiceCh := make(chan Match, 1)
	enqueue(t, m, engine.Participant{ID: "alice"}, engine.TypeDuel, false, duelCh)
	enqueue(t, m, engine.Participant{ID: "bob"}, engine.TypePractice, false, practiceCh)

	m.Inbox() <- Tick{}
	recvNoMatch(t, duelCh, 300*time.Millisecond)
	recvNoMatch(t, practiceCh, 100*time.Millisecond)
}

func TestMatchmaker_RankedRespectsRatingBand(t *testing.T) {
	m, shutdown := newMatchmaker(t)
	defer shutdown()

	lowCh := make(chan Match, 1)
	highCh := make(chan Match, 1)
	midCh := make(chan Match, 1)

	enqueue(t, m, engine.Participant{ID: "low", Rating: 1000}, engine.TypeRanked, true, lowCh)
	enqueue(t, m, engine.Participant{ID: "high", Rating: 1600}, engine.TypeRanked, true, highCh)

	m.Inbox() <- Tick{}
	// 600 apart with a 200 band: no pairing yet.
	recvNoMatch(t, lowCh, 300*time.Millisecond)

	enqueue(t, m, engine.Participant{ID: "mid", Rating: 1150}, engine.TypeRanked, true, midCh)
	m.Inbox() <- Tick{}

	got := recvMatch(t, lowCh, 500*time.Millisecond)
	mid := recvMatch(t, midCh, 500*time.Millisecond)
	if got.BattleID != mid.BattleID {
		t.Fatalf("low should pair with mid: %s vs %s", got.BattleID, mid.BattleID)
	}
	recvNoMatch(t, highCh, 100*time.Millisecond)
}

func TestMatchmaker_EnqueueValidation(t *testing.T) {
	m, shutdown := newMatchmaker(t)
	defer shutdown()

	reply := make(chan EnqueueReply, 1)
	bad := engine.DefaultSettings()
	bad.Rounds = 0
	m.Inbox() <- Enqueue{Participant: engine.Participant{ID: "alice"}, Type: engine.TypeDuel, Settings: bad, Reply: reply}
	if r := <-reply; !errors.Is(r.Err, engine.ErrInvalidSettings) {
		t.Fatalf("want ErrInvalidSettings, got %v", r.Err)
	}

	m.Inbox() <- Enqueue{Participant: engine.Participant{}, Type: engine.TypeDuel, Settings: engine.DefaultSettings(), Reply: reply}
	if r := <-reply; !errors.Is(r.Err, engine.ErrInvalidSettings) {
		t.Fatalf("missing participant id must be rejected, got %v", r.Err)
	}
}

func TestMatchmaker_CancelledTicketNeverMatches(t *testing.T) {
	m, shutdown := newMatchmaker(t)
	defer shutdown()

	aliceCh := make(chan Match, 1)
	ticket := enqueue(t, m, engine.Participant{ID: "alice"}, engine.TypeDuel, false, aliceCh)
	enqueue(t, m, engine.Participant{ID: "bob"}, engine.TypeDuel, false, nil)

	cancelReply := make(chan error, 1)
	m.Inbox() <- CancelTicket{TicketID: ticket.ID, Reply: cancelReply}
	if err := <-cancelReply; err != nil {
		t.Fatalf("cancel: %v", err)
	}

	m.Inbox() <- Tick{}
	recvNoMatch(t, aliceCh, 300*time.Millisecond)

	// Cancelling an unknown ticket is a quiet no-op.
	m.Inbox() <- CancelTicket{TicketID: "gone", Reply: cancelReply}
	if err := <-cancelReply; err != nil {
		t.Fatalf("cancel unknown ticket: %v", err)
	}
}

func TestMatchmaker_CreateCustomBypassesQueue(t *testing.T) {
	m, shutdown := newMatchmaker(t)
	defer shutdown()

	reply := make(chan hub.CreateReply, 1)
	m.Inbox() <- CreateCustom{
		Type:         engine.TypePractice,
		Participants: []engine.Participant{{ID: "alice"}, {ID: "trainer"}},
		Settings:     engine.DefaultSettings(),
		Reply:        reply,
	}
	select {
	case r := <-reply:
		if r.Err != nil {
			t.Fatalf("create custom: %v", r.Err)
		}
		if r.BattleID == "" || r.Session == nil {
			t.Fatalf("incomplete reply: %+v", r)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for custom battle")
	}
}

func TestMatchmaker_PairingFailureNotifiesBothWaiters(t *testing.T) {
	// A hub built on an already-cancelled context refuses battle creation.
	hubCtx, hubCancel := context.WithCancel(context.Background())
	hubCancel()
	h := hub.NewHub(hubCtx, hub.Config{Provider: challenge.NewStaticProvider()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := New(ctx, Config{Hub: h, TickInterval: time.Hour, RatingBand: 200})
	defer func() { m.Inbox() <- Shutdown{} }()

	notifyA := make(chan Match, 1)
	notifyB := make(chan Match, 1)
	enqueue(t, m, engine.Participant{ID: "alice"}, engine.TypeDuel, false, notifyA)
	enqueue(t, m, engine.Participant{ID: "bob"}, engine.TypeDuel, false, notifyB)
	m.Inbox() <- Tick{}

	for _, ch := range []chan Match{notifyA, notifyB} {
		match := recvMatch(t, ch, time.Second)
		if match.Err == nil {
			t.Fatalf("pairing against a closed hub should deliver the failure")
		}
		if match.BattleID != "" {
			t.Fatalf("failed match should carry no battle id, got %s", match.BattleID)
		}
	}
}
