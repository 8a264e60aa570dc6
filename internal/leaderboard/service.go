// Package leaderboard stores win margins in Redis sorted sets. One logical
// entry exists per (user, problem, solver) triple; ZADD GT gives the
// monotonic-best semantics (a better margin supersedes, a worse one never
// regresses) without application-level locking.
package leaderboard

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bchewy/canyoubeatgroq/internal/domain"
	"github.com/bchewy/canyoubeatgroq/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond

	defaultLimit = 50
	maxLimit     = 100
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	return &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}
}

// Upsert records an entry if it beats the stored margin for its
// (user, problem, solver) key. Returns whether anything was written.
// Replaying a still-valid round token re-runs this harmlessly: GT keeps the
// stored margin monotone.
func (s *Service) Upsert(ctx context.Context, seed string, e domain.LeaderboardEntry) (bool, error) {
	member := memberKey(e.UserHandle, e.ProblemID, e.AIModel)

	changed, err := s.redis.ZAddArgs(ctx, s.boardKey(seed), redis.ZAddArgs{
		GT: true,
		Ch: true,
		Members: []redis.Z{
			{Score: float64(e.WinMarginMs), Member: member},
		},
	}).Result()
	if err != nil {
		return false, fmt.Errorf("leaderboard: zadd: %w", err)
	}

	if changed == 0 {
		return false, nil
	}

	if err := s.redis.HSet(ctx, s.entryKey(seed, member), map[string]any{
		"user_time_ms": e.UserTimeMs,
		"ai_time_ms":   e.AITimeMs,
		"created_at":   e.CreatedAt,
	}).Err(); err != nil {
		return false, fmt.Errorf("leaderboard: hset entry: %w", err)
	}

	if err := s.schedulePublish(ctx, seed); err != nil {
		return true, err
	}

	return true, nil
}

// Get returns the board for a seed: the best entry per user, with every
// model that user has beaten aggregated into the AIModel field, sorted by
// margin desc, then user time asc, then recency.
func (s *Service) Get(ctx context.Context, seed string, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	zs, err := s.redis.ZRevRangeWithScores(ctx, s.boardKey(seed), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("leaderboard: zrevrange: %w", err)
	}

	perUser := make(map[string][]domain.LeaderboardEntry)
	for _, z := range zs {
		member, _ := z.Member.(string)
		user, problemID, model, ok := splitMember(member)
		if !ok {
			continue
		}

		entry := domain.LeaderboardEntry{
			UserHandle:  user,
			ProblemID:   problemID,
			AIModel:     model,
			WinMarginMs: int64(z.Score),
		}

		detail, err := s.redis.HGetAll(ctx, s.entryKey(seed, member)).Result()
		if err == nil {
			entry.UserTimeMs = parseInt(detail["user_time_ms"])
			entry.AITimeMs = parseInt(detail["ai_time_ms"])
			entry.CreatedAt = parseInt(detail["created_at"])
		}

		perUser[user] = append(perUser[user], entry)
	}

	out := make([]domain.LeaderboardEntry, 0, len(perUser))
	for _, entries := range perUser {
		sort.Slice(entries, func(i, j int) bool { return better(entries[i], entries[j]) })

		best := entries[0]
		models := make([]string, 0, len(entries))
		seen := map[string]bool{}
		for _, e := range entries {
			if !seen[e.AIModel] {
				seen[e.AIModel] = true
				models = append(models, e.AIModel)
			}
		}
		sort.Strings(models)
		best.AIModel = strings.Join(models, ",")

		out = append(out, best)
	}

	sort.Slice(out, func(i, j int) bool { return better(out[i], out[j]) })

	if len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func better(a, b domain.LeaderboardEntry) bool {
	if a.WinMarginMs != b.WinMarginMs {
		return a.WinMarginMs > b.WinMarginMs
	}
	if a.UserTimeMs != b.UserTimeMs {
		return a.UserTimeMs < b.UserTimeMs
	}
	return a.CreatedAt > b.CreatedAt
}

// schedulePublish publishes the refreshed board at most once per interval.
// Submissions cluster around the daily seed, so this caps pubsub traffic while
// keeping viewers close to live.
func (s *Service) schedulePublish(ctx context.Context, seed string) error {
	ok, err := s.redis.SetNX(ctx, s.timeKey(seed), time.Now().UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("leaderboard: setnx: %w", err)
	}
	if !ok {
		return nil
	}

	entries, err := s.Get(ctx, seed, defaultLimit)
	if err != nil {
		return err
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Seed:    seed,
		Entries: entries,
	})

	return nil
}

func memberKey(user, problemID, model string) string {
	return user + "|" + problemID + "|" + model
}

func splitMember(member string) (user, problemID, model string, ok bool) {
	parts := strings.SplitN(member, "|", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func (s *Service) boardKey(seed string) string {
	return fmt.Sprintf("%s:%s:leaderboard", s.prefix, seed)
}

func (s *Service) entryKey(seed, member string) string {
	return fmt.Sprintf("%s:%s:entry:%s", s.prefix, seed, member)
}

func (s *Service) timeKey(seed string) string {
	return fmt.Sprintf("%s:%s:time", s.prefix, seed)
}
