// Package stats folds completed battles into durable per-participant
// statistics and rankings. It is the only writer of leaderboard entries.
package stats

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentarena/battle-backend/internal/scoring"
	"github.com/agentarena/battle-backend/internal/storage"
)

const defaultRating = 1200

// Aggregator applies battle results at most once per battle id and
// recomputes rank ordering lazily on read, so writes stay O(participants).
type Aggregator struct {
	mu      sync.Mutex
	entries map[string]*storage.LeaderboardEntry
	applied map[string]bool
	ranked  []storage.LeaderboardEntry
	dirty   bool
	k       int
	store   storage.Store
	log     *zap.Logger
}

func NewAggregator(store storage.Store, k int, log *zap.Logger) *Aggregator {
	if k <= 0 {
		k = 32
	}
	if log == nil {
		log = zap.NewNop()
	}
	a := &Aggregator{
		entries: map[string]*storage.LeaderboardEntry{},
		applied: map[string]bool{},
		k:       k,
		store:   store,
		log:     log.Named("stats"),
	}
	a.bootstrap()
	return a
}

func (a *Aggregator) bootstrap() {
	if a.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entries, err := a.store.LoadLeaderboard(ctx)
	if err != nil {
		a.log.Warn("leaderboard bootstrap failed", zap.Error(err))
		return
	}
	for _, e := range entries {
		entry := e
		a.entries[e.ParticipantID] = &entry
	}
	a.dirty = true
}

// RecordBattleResult applies one final result. Results for battle ids seen
// before are ignored; cancelled battles never produce a final result, so
// they never touch stats.
func (a *Aggregator) RecordBattleResult(final scoring.FinalResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if final.BattleID == "" || a.applied[final.BattleID] {
		return
	}
	a.applied[final.BattleID] = true

	ids := make([]string, 0, len(final.Scores))
	for id := range final.Scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	before := make(map[string]int, len(ids))
	for _, id := range ids {
		before[id] = a.entry(id).Rating
	}

	now := final.CompletedAt
	if now.IsZero() {
		now = time.Now()
	}
	for _, id := range ids {
		e := a.entry(id)
		e.LastActive = now
		switch {
		case final.Draw:
			e.Draws++
			e.Streak = 0
		case final.Winner == id:
			e.Wins++
			if e.Streak < 0 {
				e.Streak = 0
			}
			e.Streak++
		default:
			e.Losses++
			if e.Streak > 0 {
				e.Streak = 0
			}
			e.Streak--
		}
		if final.Ranked {
			e.Rating += a.ratingDelta(id, ids, before, final)
		}
	}
	a.dirty = true
	a.persist(ids)
}

// ratingDelta is a pairwise fixed-K Elo update computed against pre-battle
// ratings, so apply order does not matter.
func (a *Aggregator) ratingDelta(id string, ids []string, before map[string]int, final scoring.FinalResult) int {
	var delta float64
	for _, other := range ids {
		if other == id {
			continue
		}
		expected := 1 / (1 + math.Pow(10, float64(before[other]-before[id])/400))
		var outcome float64
		switch {
		case final.Scores[id] > final.Scores[other]:
			outcome = 1
		case final.Scores[id] < final.Scores[other]:
			outcome = 0
		default:
			outcome = 0.5
		}
		delta += float64(a.k) * (outcome - expected)
	}
	return int(math.Round(delta))
}

func (a *Aggregator) entry(id string) *storage.LeaderboardEntry {
	e, ok := a.entries[id]
	if !ok {
		e = &storage.LeaderboardEntry{ParticipantID: id, Rating: defaultRating}
		a.entries[id] = e
	}
	return e
}

func (a *Aggregator) persist(ids []string) {
	if a.store == nil {
		return
	}
	for _, id := range ids {
		e := *a.entries[id]
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.store.UpsertLeaderboardEntry(ctx, e); err != nil {
				a.log.Warn("leaderboard persist failed",
					zap.String("participant", e.ParticipantID), zap.Error(err))
			}
		}()
	}
}

// rank rebuilds the ordered leaderboard if any write happened since the last
// read. Callers must hold the lock.
func (a *Aggregator) rank() {
	if !a.dirty {
		return
	}
	a.ranked = a.ranked[:0]
	for _, e := range a.entries {
		a.ranked = append(a.ranked, *e)
	}
	sort.Slice(a.ranked, func(i, j int) bool {
		x, y := a.ranked[i], a.ranked[j]
		if x.Rating != y.Rating {
			return x.Rating > y.Rating
		}
		if x.Wins != y.Wins {
			return x.Wins > y.Wins
		}
		return x.ParticipantID < y.ParticipantID
	})
	for i := range a.ranked {
		a.ranked[i].Rank = i + 1
	}
	a.dirty = false
}

// Top returns the first n leaderboard entries in rank order.
func (a *Aggregator) Top(n int) []storage.LeaderboardEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rank()
	if n <= 0 || n > len(a.ranked) {
		n = len(a.ranked)
	}
	return append([]storage.LeaderboardEntry(nil), a.ranked[:n]...)
}

// Entry returns one participant's current standing.
func (a *Aggregator) Entry(id string) (storage.LeaderboardEntry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rank()
	for _, e := range a.ranked {
		if e.ParticipantID == id {
			return e, true
		}
	}
	return storage.LeaderboardEntry{}, false
}
