package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/bchewy/canyoubeatgroq/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	LeaderboardData struct {
		Seed    string             `json:"seed"`
		Entries []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		UserHandle  string `json:"userHandle"`
		WinMarginMs int64  `json:"winMarginMs"`
		AIModel     string `json:"aiModel"`
	}
)

// PublishLeaderboardUpdated pushes the fresh standings to every user on the
// board over per-user Redis channels, so open clients refresh without polling.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	data := LeaderboardData{
		Seed:    e.Seed,
		Entries: make([]LeaderboardEntry, 0, len(e.Entries)),
	}

	for _, entry := range e.Entries {
		data.Entries = append(data.Entries, LeaderboardEntry{
			UserHandle:  entry.UserHandle,
			WinMarginMs: entry.WinMarginMs,
			AIModel:     entry.AIModel,
		})
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, entry := range data.Entries {
		entry := entry
		eg.Go(func() error {
			return a.publishNotification(ctx, entry.UserHandle, e.Name(), data)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, user, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, fmt.Sprintf("%s:user:%s", a.prefix, user), b).Err()
}
