package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/agentarena/battle-backend/internal/auth"
	"github.com/agentarena/battle-backend/internal/challenge"
	"github.com/agentarena/battle-backend/internal/engine"
	"github.com/agentarena/battle-backend/internal/hub"
	"github.com/agentarena/battle-backend/internal/matchmaker"
	"github.com/agentarena/battle-backend/internal/stats"
	"github.com/agentarena/battle-backend/internal/storage"
	"github.com/agentarena/battle-backend/internal/tournament"
	"github.com/agentarena/battle-backend/internal/types"
)

func testServer(t *testing.T) (*httptest.Server, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	store := storage.NewMemoryStore()
	provider := challenge.NewStaticProvider()
	h := hub.NewHub(ctx, hub.Config{Provider: provider})
	mm := matchmaker.New(ctx, matchmaker.Config{Hub: h, TickInterval: time.Hour})
	tm := tournament.NewManager(h, mm, nil, nil)

	identity := auth.NewTokenIdentity()
	identity.Register("alice-token", "alice")

	api := &API{
		Hub:         h,
		Matchmaker:  mm,
		Tournaments: tm,
		Stats:       stats.NewAggregator(store, 32, nil),
		Store:       store,
		Identity:    identity,
		Log:         zap.NewNop(),
	}
	srv := httptest.NewServer(SetupRoutes(api, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotImplemented)
	}))
	return srv, func() {
		srv.Close()
		mm.Inbox() <- matchmaker.Shutdown{}
		h.Inbox() <- hub.ShutdownHub{}
		cancel()
	}
}

func do(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	srv, shutdown := testServer(t)
	defer shutdown()

	resp := do(t, "GET", srv.URL+"/healthz", "", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
}

func TestBattleLifecycleOverHTTP(t *testing.T) {
	srv, shutdown := testServer(t)
	defer shutdown()

	resp := do(t, "POST", srv.URL+"/battles", "alice-token",
		`{"battle_type":"practice","agent_id":"agent-a","opponent":{"id":"sparring-bot","agent_id":"bot-1"},"settings":{"rounds":1,"time_per_round_sec":30}}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create battle: want 201, got %d", resp.StatusCode)
	}
	var created struct {
		BattleID string `json:"battle_id"`
	}
	decode(t, resp, &created)
	if created.BattleID == "" {
		t.Fatalf("missing battle id")
	}

	resp = do(t, "GET", srv.URL+"/battles/"+created.BattleID, "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get battle: want 200, got %d", resp.StatusCode)
	}
	var battle engine.State
	decode(t, resp, &battle)
	if battle.Status != engine.StatusPreparing || len(battle.Participants) != 2 {
		t.Fatalf("unexpected battle: status=%s participants=%d", battle.Status, len(battle.Participants))
	}

	resp = do(t, "POST", srv.URL+"/battles/"+created.BattleID+"/start", "alice-token", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("start: want 204, got %d", resp.StatusCode)
	}

	resp = do(t, "DELETE", srv.URL+"/battles/"+created.BattleID, "alice-token", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("cancel: want 204, got %d", resp.StatusCode)
	}
}

func TestErrorMapping(t *testing.T) {
	srv, shutdown := testServer(t)
	defer shutdown()

	// No credentials.
	resp := do(t, "POST", srv.URL+"/matchmaking/tickets", "", `{"battle_type":"duel"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", resp.StatusCode)
	}
	var msg types.ServerMessage
	decode(t, resp, &msg)
	if msg.Code != types.CodeUnauthenticated {
		t.Fatalf("want %s, got %s", types.CodeUnauthenticated, msg.Code)
	}

	// Unknown battle.
	resp = do(t, "GET", srv.URL+"/battles/does-not-exist", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("want 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Invalid settings.
	resp = do(t, "POST", srv.URL+"/matchmaking/tickets", "alice-token",
		`{"battle_type":"duel","settings":{"rounds":-1}}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", resp.StatusCode)
	}
	decode(t, resp, &msg)
	if msg.Code != types.CodeValidation {
		t.Fatalf("want %s, got %s", types.CodeValidation, msg.Code)
	}
}

func TestMatchmakingTicketsOverHTTP(t *testing.T) {
	srv, shutdown := testServer(t)
	defer shutdown()

	resp := do(t, "POST", srv.URL+"/matchmaking/tickets", "alice-token",
		`{"battle_type":"duel","agent_id":"agent-a"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("enqueue: want 202, got %d", resp.StatusCode)
	}
	var ticket matchmaker.Ticket
	decode(t, resp, &ticket)
	if ticket.ID == "" || ticket.Participant.ID != "alice" {
		t.Fatalf("bad ticket: %+v", ticket)
	}

	resp = do(t, "DELETE", srv.URL+"/matchmaking/tickets/"+ticket.ID, "alice-token", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("cancel ticket: want 204, got %d", resp.StatusCode)
	}
}

func TestTournamentEndpoints(t *testing.T) {
	srv, shutdown := testServer(t)
	defer shutdown()

	resp := do(t, "POST", srv.URL+"/tournaments", "",
		`{"name":"weekly","format":"round_robin","max_participants":4,"settings":{"rounds":1,"time_per_round_sec":1}}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create tournament: want 201, got %d", resp.StatusCode)
	}
	var created tournament.State
	decode(t, resp, &created)

	resp = do(t, "POST", srv.URL+"/tournaments/"+created.ID+"/join", "alice-token", `{"agent_id":"agent-a"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("join: want 204, got %d", resp.StatusCode)
	}

	// Joining twice conflicts.
	resp = do(t, "POST", srv.URL+"/tournaments/"+created.ID+"/join", "alice-token", `{}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("rejoin: want 409, got %d", resp.StatusCode)
	}

	resp = do(t, "GET", srv.URL+"/tournaments/"+created.ID, "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: want 200, got %d", resp.StatusCode)
	}
	var got tournament.State
	decode(t, resp, &got)
	if len(got.Participants) != 1 || got.Participants[0].ID != "alice" {
		t.Fatalf("roster wrong: %+v", got.Participants)
	}

	resp = do(t, "GET", srv.URL+"/tournaments/"+created.ID+"/standings", "", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("standings: want 200, got %d", resp.StatusCode)
	}
}

func TestLeaderboardAndHistoryEndpoints(t *testing.T) {
	srv, shutdown := testServer(t)
	defer shutdown()

	resp := do(t, "GET", srv.URL+"/leaderboard?limit=5", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("leaderboard: want 200, got %d", resp.StatusCode)
	}
	var board []storage.LeaderboardEntry
	decode(t, resp, &board)
	if len(board) != 0 {
		t.Fatalf("fresh leaderboard should be empty, got %d", len(board))
	}

	resp = do(t, "GET", srv.URL+"/participants/alice/history", "", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history: want 200, got %d", resp.StatusCode)
	}
}
