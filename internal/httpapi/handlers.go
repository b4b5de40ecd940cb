package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/agentarena/battle-backend/internal/auth"
	"github.com/agentarena/battle-backend/internal/challenge"
	"github.com/agentarena/battle-backend/internal/engine"
	"github.com/agentarena/battle-backend/internal/hub"
	"github.com/agentarena/battle-backend/internal/matchmaker"
	"github.com/agentarena/battle-backend/internal/session"
	"github.com/agentarena/battle-backend/internal/stats"
	"github.com/agentarena/battle-backend/internal/storage"
	"github.com/agentarena/battle-backend/internal/tournament"
	"github.com/agentarena/battle-backend/internal/types"
)

type API struct {
	Hub         *hub.Hub
	Matchmaker  *matchmaker.Matchmaker
	Tournaments *tournament.Manager
	Stats       *stats.Aggregator
	Store       storage.Store
	Identity    auth.Identity
	Log         *zap.Logger
}

type settingsRequest struct {
	Rounds          int      `json:"rounds"`
	TimePerRoundSec int      `json:"time_per_round_sec"`
	Categories      []string `json:"categories"`
	Difficulty      string   `json:"difficulty"`
	ScoringMode     string   `json:"scoring_mode"`
	Ranked          bool     `json:"ranked"`
	MaxParticipants int      `json:"max_participants"`
}

func (r settingsRequest) toSettings() engine.Settings {
	s := engine.DefaultSettings()
	if r.Rounds != 0 {
		s.Rounds = r.Rounds
	}
	if r.TimePerRoundSec != 0 {
		s.TimePerRound = time.Duration(r.TimePerRoundSec) * time.Second
	}
	for _, c := range r.Categories {
		s.Categories = append(s.Categories, challenge.Category(c))
	}
	s.Difficulty = challenge.Difficulty(r.Difficulty)
	if r.ScoringMode != "" {
		s.ScoringMode = engine.ScoringMode(r.ScoringMode)
	}
	s.Ranked = r.Ranked
	if r.MaxParticipants != 0 {
		s.MaxParticipants = r.MaxParticipants
	}
	return s
}

type participantRequest struct {
	ID      string `json:"id"`
	AgentID string `json:"agent_id"`
	Kind    string `json:"kind"`
}

func (a *API) participant(id, agentID, kind string) engine.Participant {
	p := engine.Participant{ID: id, AgentID: agentID, Kind: engine.ParticipantKind(kind)}
	if p.Kind == "" {
		p.Kind = engine.KindAgent
	}
	if entry, ok := a.Stats.Entry(id); ok {
		p.Rating = entry.Rating
	} else {
		p.Rating = 1200
	}
	return p
}

// CreateBattle services direct battle creation for explicit opponents, e.g.
// practice against a fixed agent.
func (a *API) CreateBattle(w http.ResponseWriter, r *http.Request) {
	me, err := a.Identity.ParticipantID(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var body struct {
		BattleType string             `json:"battle_type"`
		AgentID    string             `json:"agent_id"`
		Opponent   participantRequest `json:"opponent"`
		Settings   settingsRequest    `json:"settings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeCode(w, http.StatusBadRequest, types.CodeValidation, "bad json")
		return
	}
	battleType := engine.BattleType(body.BattleType)
	if battleType == "" {
		battleType = engine.TypePractice
	}
	participants := []engine.Participant{
		a.participant(me, body.AgentID, string(engine.KindHuman)),
		a.participant(body.Opponent.ID, body.Opponent.AgentID, body.Opponent.Kind),
	}
	reply := make(chan hub.CreateReply, 1)
	a.Matchmaker.Inbox() <- matchmaker.CreateCustom{
		Type:         battleType,
		Participants: participants,
		Settings:     body.Settings.toSettings(),
		Reply:        reply,
	}
	created := <-reply
	if created.Err != nil {
		writeErr(w, created.Err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"battle_id": created.BattleID})
}

func (a *API) StartBattle(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.liveSession(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	reply := make(chan error, 1)
	if err := command(sess, session.Start{Reply: reply}, reply); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) GetBattle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sessReply := make(chan *session.Session, 1)
	a.Hub.Inbox() <- hub.GetSession{BattleID: id, Reply: sessReply}
	if sess := <-sessReply; sess != nil {
		view := make(chan session.View, 1)
		select {
		case sess.Inbox() <- session.GetState{Reply: view}:
			select {
			case v := <-view:
				writeJSON(w, http.StatusOK, v.State)
				return
			case <-sess.Done():
				// Finished under us; fall through to the record.
			}
		case <-sess.Done():
		}
	}
	recReply := make(chan *session.Record, 1)
	a.Hub.Inbox() <- hub.GetRecord{BattleID: id, Reply: recReply}
	if rec := <-recReply; rec != nil {
		writeJSON(w, http.StatusOK, rec.State)
		return
	}
	writeErr(w, hub.ErrNotFound)
}

func (a *API) CancelBattle(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.liveSession(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	reply := make(chan error, 1)
	if err := command(sess, session.Cancel{Reason: "withdrawn", Reply: reply}, reply); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) Enqueue(w http.ResponseWriter, r *http.Request) {
	me, err := a.Identity.ParticipantID(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var body struct {
		BattleType string          `json:"battle_type"`
		AgentID    string          `json:"agent_id"`
		Settings   settingsRequest `json:"settings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeCode(w, http.StatusBadRequest, types.CodeValidation, "bad json")
		return
	}
	battleType := engine.BattleType(body.BattleType)
	if battleType == "" {
		battleType = engine.TypeDuel
	}
	reply := make(chan matchmaker.EnqueueReply, 1)
	a.Matchmaker.Inbox() <- matchmaker.Enqueue{
		Participant: a.participant(me, body.AgentID, string(engine.KindHuman)),
		Type:        battleType,
		Settings:    body.Settings.toSettings(),
		Reply:       reply,
	}
	res := <-reply
	if res.Err != nil {
		writeErr(w, res.Err)
		return
	}
	writeJSON(w, http.StatusAccepted, res.Ticket)
}

func (a *API) CancelTicket(w http.ResponseWriter, r *http.Request) {
	reply := make(chan error, 1)
	a.Matchmaker.Inbox() <- matchmaker.CancelTicket{TicketID: chi.URLParam(r, "id"), Reply: reply}
	<-reply
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) CreateTournament(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name                string          `json:"name"`
		Format              string          `json:"format"`
		MaxParticipants     int             `json:"max_participants"`
		RegistrationMinutes int             `json:"registration_minutes"`
		TotalRounds         int             `json:"total_rounds"`
		Settings            settingsRequest `json:"settings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeCode(w, http.StatusBadRequest, types.CodeValidation, "bad json")
		return
	}
	cfg := tournament.CreateConfig{
		Name:            body.Name,
		Format:          tournament.Format(body.Format),
		MaxParticipants: body.MaxParticipants,
		TotalRounds:     body.TotalRounds,
		BattleSettings:  body.Settings.toSettings(),
	}
	if body.RegistrationMinutes > 0 {
		cfg.RegistrationDeadline = time.Now().Add(time.Duration(body.RegistrationMinutes) * time.Minute)
	}
	t, err := a.Tournaments.Create(cfg)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (a *API) JoinTournament(w http.ResponseWriter, r *http.Request) {
	me, err := a.Identity.ParticipantID(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var body struct {
		AgentID string `json:"agent_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if err := a.Tournaments.Join(chi.URLParam(r, "id"), a.participant(me, body.AgentID, string(engine.KindHuman))); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AdvanceTournament kicks off the next round. The round runs asynchronously;
// poll GET /tournaments/{id} for progress.
func (a *API) AdvanceTournament(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.Tournaments.Get(id); err != nil {
		writeErr(w, err)
		return
	}
	go func() {
		if err := a.Tournaments.Advance(context.Background(), id); err != nil {
			a.Log.Warn("tournament advance failed", zap.String("tournament_id", id), zap.Error(err))
		}
	}()
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) GetTournament(w http.ResponseWriter, r *http.Request) {
	t, err := a.Tournaments.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) TournamentStandings(w http.ResponseWriter, r *http.Request) {
	st, err := a.Tournaments.Standings(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, a.Stats.Top(limit))
}

func (a *API) History(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := a.Store.LoadHistory(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// command posts to a live session and waits for its reply. A session that
// retires mid-flight reports the battle as already over instead of leaving
// the request hanging.
func command(sess *session.Session, msg session.Msg, reply chan error) error {
	select {
	case sess.Inbox() <- msg:
	case <-sess.Done():
		return engine.ErrInvalidState
	}
	select {
	case err := <-reply:
		return err
	case <-sess.Done():
		return engine.ErrInvalidState
	}
}

func (a *API) liveSession(w http.ResponseWriter, id string) (*session.Session, bool) {
	reply := make(chan *session.Session, 1)
	a.Hub.Inbox() <- hub.GetSession{BattleID: id, Reply: reply}
	sess := <-reply
	if sess == nil {
		writeErr(w, hub.ErrNotFound)
		return nil, false
	}
	return sess, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	code := types.ErrorCode(err)
	writeCode(w, statusFor(code), code, err.Error())
}

func writeCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, types.ServerMessage{Type: types.MsgError, Code: code, Message: message})
}

func statusFor(code string) int {
	switch code {
	case types.CodeValidation:
		return http.StatusBadRequest
	case types.CodeNotFound:
		return http.StatusNotFound
	case types.CodeConflict, types.CodeInvalidState, types.CodeRoundClosed, types.CodeRegistrationClosed:
		return http.StatusConflict
	case types.CodeUnauthenticated:
		return http.StatusUnauthorized
	case types.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
