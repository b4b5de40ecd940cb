package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/agentarena/battle-backend/internal/analytics"
	"github.com/agentarena/battle-backend/internal/auth"
	"github.com/agentarena/battle-backend/internal/challenge"
	"github.com/agentarena/battle-backend/internal/config"
	"github.com/agentarena/battle-backend/internal/httpapi"
	"github.com/agentarena/battle-backend/internal/hub"
	"github.com/agentarena/battle-backend/internal/matchmaker"
	"github.com/agentarena/battle-backend/internal/session"
	"github.com/agentarena/battle-backend/internal/stats"
	"github.com/agentarena/battle-backend/internal/storage"
	"github.com/agentarena/battle-backend/internal/tournament"
	"github.com/agentarena/battle-backend/internal/ws"
)

func main() {
	_ = godotenv.Load()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}

	var store storage.Store
	if cfg.Postgres.DSN != "" {
		pg, err := storage.OpenPostgres(cfg.Postgres.DSN)
		if err != nil {
			log.Fatal("open postgres", zap.Error(err))
		}
		store = pg
		log.Info("using postgres store")
	} else {
		store = storage.NewMemoryStore()
		log.Info("using in-memory store")
	}

	provider := challenge.TimeoutProvider{
		Inner:   challenge.NewStaticProvider(),
		Timeout: cfg.Provider.Timeout,
	}

	aggregator := stats.NewAggregator(store, cfg.Rating.K, log.Named("stats"))
	sink := analytics.NewZapSink(log)

	ctx := context.Background()
	h := hub.NewHub(ctx, hub.Config{
		Provider: provider,
		Logger:   log.Named("hub"),
		OnFinished: []func(session.Record){
			func(rec session.Record) {
				if rec.Final != nil {
					aggregator.RecordBattleResult(*rec.Final)
				}
			},
			func(rec session.Record) {
				saveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				defer cancel()
				if err := store.SaveBattle(saveCtx, recordToBattle(rec)); err != nil {
					log.Warn("save battle", zap.String("battle_id", rec.State.ID), zap.Error(err))
				}
			},
			func(rec session.Record) {
				sink.Emit("battle_finished", map[string]any{
					"battle_id": rec.State.ID,
					"status":    string(rec.State.Status),
					"winner":    rec.State.Winner,
				})
			},
		},
	})

	mm := matchmaker.New(ctx, matchmaker.Config{
		Hub:          h,
		Logger:       log.Named("matchmaker"),
		Sink:         sink,
		TickInterval: cfg.Matching.TickInterval,
		RatingBand:   cfg.Matching.RatingBand,
	})

	tournaments := tournament.NewManager(h, mm, sink, log.Named("tournament"))

	identity := auth.NewTokenIdentity()
	for token, participantID := range cfg.Tokens {
		identity.Register(token, participantID)
	}

	api := &httpapi.API{
		Hub:         h,
		Matchmaker:  mm,
		Tournaments: tournaments,
		Stats:       aggregator,
		Store:       store,
		Identity:    identity,
		Log:         log.Named("api"),
	}
	handler := httpapi.SetupRoutes(api, ws.Handler(h, identity, log.Named("ws")))

	log.Info("listening", zap.String("addr", cfg.Addr))
	if err := http.ListenAndServe(cfg.Addr, handler); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func recordToBattle(rec session.Record) storage.BattleRecord {
	b := storage.BattleRecord{
		BattleID:     rec.State.ID,
		Type:         rec.State.Type,
		Status:       rec.State.Status,
		Winner:       rec.State.Winner,
		Draw:         rec.State.Draw,
		RoundsPlayed: len(rec.State.Rounds),
		Scores:       map[string]int{},
		Final:        rec.Final,
		CompletedAt:  rec.State.CompletedAt,
	}
	if b.CompletedAt.IsZero() {
		b.CompletedAt = time.Now()
	}
	for _, p := range rec.State.Participants {
		b.Scores[p.ID] = p.Score
	}
	return b
}
