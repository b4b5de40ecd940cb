// Package storage is the durable record of finished battles and leaderboard
// state. Live battle state never lives here; ownership transfers to this
// layer only once a battle reaches a terminal status.
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentarena/battle-backend/internal/engine"
	"github.com/agentarena/battle-backend/internal/scoring"
)

// BattleRecord is the immutable summary persisted for a finished battle.
type BattleRecord struct {
	BattleID     string               `json:"battle_id"`
	Type         engine.BattleType    `json:"type"`
	Status       engine.Status        `json:"status"`
	Winner       string               `json:"winner,omitempty"`
	Draw         bool                 `json:"draw"`
	RoundsPlayed int                  `json:"rounds_played"`
	Scores       map[string]int       `json:"scores"`
	Final        *scoring.FinalResult `json:"final,omitempty"`
	CompletedAt  time.Time            `json:"completed_at"`
}

// LeaderboardEntry is one participant's durable standing. Only the stats
// aggregator writes these.
type LeaderboardEntry struct {
	ParticipantID string    `json:"participant_id"`
	Rating        int       `json:"rating"`
	Wins          int       `json:"wins"`
	Losses        int       `json:"losses"`
	Draws         int       `json:"draws"`
	Streak        int       `json:"streak"`
	LastActive    time.Time `json:"last_active"`
	Rank          int       `json:"rank,omitempty"`
}

type Store interface {
	SaveBattle(ctx context.Context, rec BattleRecord) error
	LoadHistory(ctx context.Context, participantID string, limit int) ([]BattleRecord, error)
	UpsertLeaderboardEntry(ctx context.Context, e LeaderboardEntry) error
	LoadLeaderboard(ctx context.Context) ([]LeaderboardEntry, error)
}

// MemoryStore keeps everything in process. Used in tests and for running the
// server without a database.
type MemoryStore struct {
	mu      sync.RWMutex
	battles map[string]BattleRecord
	board   map[string]LeaderboardEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		battles: map[string]BattleRecord{},
		board:   map[string]LeaderboardEntry{},
	}
}

func (s *MemoryStore) SaveBattle(_ context.Context, rec BattleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.battles[rec.BattleID] = rec
	return nil
}

func (s *MemoryStore) LoadHistory(_ context.Context, participantID string, limit int) ([]BattleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []BattleRecord
	for _, rec := range s.battles {
		if _, ok := rec.Scores[participantID]; ok {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.After(out[j].CompletedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpsertLeaderboardEntry(_ context.Context, e LeaderboardEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.board[e.ParticipantID] = e
	return nil
}

func (s *MemoryStore) LoadLeaderboard(_ context.Context) ([]LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LeaderboardEntry, 0, len(s.board))
	for _, e := range s.board {
		out = append(out, e)
	}
	return out, nil
}
