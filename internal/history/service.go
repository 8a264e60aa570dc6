// Package history records every finished round in Postgres for aggregate
// statistics. Writes ride the event bus, so a failed insert is logged and
// swallowed: the round already has its outcome whether or not it was recorded.
package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bchewy/canyoubeatgroq/internal/domain"
	"github.com/bchewy/canyoubeatgroq/internal/event"
)

type Config struct {
	EventBus *event.Bus
	DB       *pgxpool.Pool
}

type Service struct {
	eb *event.Bus
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	s := &Service{
		eb: c.EventBus,
		db: c.DB,
	}

	s.eb.Subscribe(domain.EventNameRoundFinished, func(ctx context.Context, e event.Event) error {
		return s.Insert(ctx, e.(domain.EventRoundFinished).Entry)
	})

	return s
}

func (s *Service) Insert(ctx context.Context, e domain.HistoryEntry) error {
	const stmt = `
INSERT INTO history_entries (user_handle, game_type, score_value, create_time)
VALUES ($1, $2, $3, $4);`

	_, err := s.db.Exec(ctx, stmt, e.UserHandle, string(e.GameType), e.ScoreValue, e.CreateTime)
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}

	return nil
}

// Stats aggregates play counts across game variants.
type Stats struct {
	TotalChallenges int64           `json:"totalChallenges"`
	TotalPlayers    int64           `json:"totalPlayers"`
	PuzzleRounds    int64           `json:"puzzleRounds"`
	OneWordRounds   int64           `json:"onewordRounds"`
	TypeRacerRaces  int64           `json:"typeracerRaces"`
	AvgScoreMs      decimal.Decimal `json:"avgScoreMs"`
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	const stmt = `
SELECT
	COUNT(*),
	COUNT(DISTINCT user_handle),
	COUNT(*) FILTER (WHERE game_type = 'puzzle'),
	COUNT(*) FILTER (WHERE game_type = 'oneword'),
	COUNT(*) FILTER (WHERE game_type = 'typeracer'),
	COALESCE(AVG(score_value), 0)
FROM history_entries;`

	var st Stats
	err := s.db.QueryRow(ctx, stmt).Scan(
		&st.TotalChallenges,
		&st.TotalPlayers,
		&st.PuzzleRounds,
		&st.OneWordRounds,
		&st.TypeRacerRaces,
		&st.AvgScoreMs,
	)
	if err != nil {
		return nil, fmt.Errorf("history: stats: %w", err)
	}

	return &st, nil
}
