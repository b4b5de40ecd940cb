package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type battleRow struct {
	ID           string `gorm:"primaryKey;size:36"`
	BattleType   string `gorm:"size:16"`
	Status       string `gorm:"size:16"`
	Winner       string `gorm:"size:64"`
	Draw         bool
	RoundsPlayed int
	Payload      []byte
	CompletedAt  time.Time `gorm:"index"`
	CreatedAt    time.Time
}

func (battleRow) TableName() string { return "battles" }

type battleParticipantRow struct {
	ID            uint   `gorm:"primaryKey"`
	BattleID      string `gorm:"size:36;index"`
	ParticipantID string `gorm:"size:64;index"`
	Score         int
	Won           bool
}

func (battleParticipantRow) TableName() string { return "battle_participants" }

type leaderboardRow struct {
	ParticipantID string `gorm:"primaryKey;size:64"`
	Rating        int
	Wins          int
	Losses        int
	Draws         int
	Streak        int
	LastActive    time.Time
	UpdatedAt     time.Time
}

func (leaderboardRow) TableName() string { return "leaderboard_entries" }

// PostgresStore persists battle records and leaderboard entries through gorm.
type PostgresStore struct {
	db *gorm.DB
}

// OpenPostgres connects and migrates the schema.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&battleRow{}, &battleParticipantRow{}, &leaderboardRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveBattle(ctx context.Context, rec BattleRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode battle %s: %w", rec.BattleID, err)
	}
	row := battleRow{
		ID:           rec.BattleID,
		BattleType:   string(rec.Type),
		Status:       string(rec.Status),
		Winner:       rec.Winner,
		Draw:         rec.Draw,
		RoundsPlayed: rec.RoundsPlayed,
		Payload:      payload,
		CompletedAt:  rec.CompletedAt,
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return err
		}
		for id, score := range rec.Scores {
			pr := battleParticipantRow{
				BattleID:      rec.BattleID,
				ParticipantID: id,
				Score:         score,
				Won:           rec.Winner == id,
			}
			if err := tx.Create(&pr).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) LoadHistory(ctx context.Context, participantID string, limit int) ([]BattleRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []battleRow
	err := s.db.WithContext(ctx).
		Joins("JOIN battle_participants ON battle_participants.battle_id = battles.id").
		Where("battle_participants.participant_id = ?", participantID).
		Order("battles.completed_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]BattleRecord, 0, len(rows))
	for _, row := range rows {
		var rec BattleRecord
		if err := json.Unmarshal(row.Payload, &rec); err != nil {
			return nil, fmt.Errorf("decode battle %s: %w", row.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *PostgresStore) UpsertLeaderboardEntry(ctx context.Context, e LeaderboardEntry) error {
	row := leaderboardRow{
		ParticipantID: e.ParticipantID,
		Rating:        e.Rating,
		Wins:          e.Wins,
		Losses:        e.Losses,
		Draws:         e.Draws,
		Streak:        e.Streak,
		LastActive:    e.LastActive,
		UpdatedAt:     time.Now(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "participant_id"}},
			UpdateAll: true,
		}).
		Create(&row).Error
}

func (s *PostgresStore) LoadLeaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	var rows []leaderboardRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]LeaderboardEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, LeaderboardEntry{
			ParticipantID: row.ParticipantID,
			Rating:        row.Rating,
			Wins:          row.Wins,
			Losses:        row.Losses,
			Draws:         row.Draws,
			Streak:        row.Streak,
			LastActive:    row.LastActive,
		})
	}
	return out, nil
}
