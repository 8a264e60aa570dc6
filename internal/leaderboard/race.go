package leaderboard

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RaceEntry is a typing-race record. Lower time is better, so the race board
// uses ZADD LT where the puzzle board uses GT.
type RaceEntry struct {
	UserHandle   string   `json:"userHandle"`
	Word         string   `json:"word"`
	UserTimeMs   int64    `json:"userTimeMs"`
	ModelsBeaten []string `json:"aiModelsBeaten"`
	CreatedAt    int64    `json:"createdAt"`
}

const raceBoard = "typeracer"

// UpsertRace records a race result if it beats the user's stored best time.
func (s *Service) UpsertRace(ctx context.Context, e RaceEntry) (bool, error) {
	changed, err := s.redis.ZAddArgs(ctx, s.boardKey(raceBoard), redis.ZAddArgs{
		LT: true,
		Ch: true,
		Members: []redis.Z{
			{Score: float64(e.UserTimeMs), Member: e.UserHandle},
		},
	}).Result()
	if err != nil {
		return false, fmt.Errorf("leaderboard: race zadd: %w", err)
	}

	if changed == 0 {
		return false, nil
	}

	if err := s.redis.HSet(ctx, s.entryKey(raceBoard, e.UserHandle), map[string]any{
		"word":       e.Word,
		"models":     strings.Join(e.ModelsBeaten, ","),
		"created_at": e.CreatedAt,
	}).Err(); err != nil {
		return false, fmt.Errorf("leaderboard: race hset: %w", err)
	}

	return true, nil
}

// GetRace returns the fastest race times, ascending.
func (s *Service) GetRace(ctx context.Context, limit int) ([]RaceEntry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	zs, err := s.redis.ZRangeWithScores(ctx, s.boardKey(raceBoard), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("leaderboard: race zrange: %w", err)
	}

	out := make([]RaceEntry, 0, len(zs))
	for _, z := range zs {
		user, _ := z.Member.(string)

		entry := RaceEntry{
			UserHandle: user,
			UserTimeMs: int64(z.Score),
		}

		detail, err := s.redis.HGetAll(ctx, s.entryKey(raceBoard, user)).Result()
		if err == nil {
			entry.Word = detail["word"]
			if m := detail["models"]; m != "" {
				entry.ModelsBeaten = strings.Split(m, ",")
			}
			entry.CreatedAt = parseInt(detail["created_at"])
		}

		out = append(out, entry)
	}

	return out, nil
}
