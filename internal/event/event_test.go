package event_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bchewy/canyoubeatgroq/internal/domain"
	"github.com/bchewy/canyoubeatgroq/internal/event"
)

func TestBus_PublishSubscribe(t *testing.T) {
	finished := func(handle string) event.Event {
		return domain.EventRoundFinished{Entry: domain.HistoryEntry{UserHandle: handle}}
	}
	updated := func(seed string) event.Event {
		return domain.EventLeaderboardUpdated{Seed: seed}
	}

	type received struct {
		mu     sync.Mutex
		events map[string][]event.Event
	}

	collect := func(r *received, name string) event.Handler {
		return func(_ context.Context, e event.Event) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events[name] = append(r.events[name], e)
			return nil
		}
	}

	t.Run("handlers only see their event", func(t *testing.T) {
		r := &received{events: make(map[string][]event.Event)}

		b := event.NewBus()
		b.Subscribe(domain.EventNameRoundFinished, collect(r, "history"))
		b.Subscribe(domain.EventNameLeaderboardUpdated, collect(r, "pubsub"))

		b.Publish(context.Background(), finished("alice"))
		b.Publish(context.Background(), updated("s1"))
		b.Publish(context.Background(), finished("bob"))
		b.Stop()

		assert.ElementsMatch(t, []event.Event{finished("alice"), finished("bob")}, r.events["history"])
		assert.ElementsMatch(t, []event.Event{updated("s1")}, r.events["pubsub"])
	})

	t.Run("every subscriber of an event receives it", func(t *testing.T) {
		r := &received{events: make(map[string][]event.Event)}

		b := event.NewBus()
		b.Subscribe(domain.EventNameRoundFinished, collect(r, "first"))
		b.Subscribe(domain.EventNameRoundFinished, collect(r, "second"))

		b.Publish(context.Background(), finished("alice"))
		b.Stop()

		assert.ElementsMatch(t, []event.Event{finished("alice")}, r.events["first"])
		assert.ElementsMatch(t, []event.Event{finished("alice")}, r.events["second"])
	})

	t.Run("panicking handler does not take down the others", func(t *testing.T) {
		r := &received{events: make(map[string][]event.Event)}

		b := event.NewBus()
		b.Subscribe(domain.EventNameRoundFinished, func(_ context.Context, _ event.Event) error {
			panic("boom")
		})
		b.Subscribe(domain.EventNameRoundFinished, collect(r, "survivor"))

		b.Publish(context.Background(), finished("alice"))
		b.Stop()

		assert.ElementsMatch(t, []event.Event{finished("alice")}, r.events["survivor"])
	})

	t.Run("handlers outlive a canceled publish context", func(t *testing.T) {
		r := &received{events: make(map[string][]event.Event)}

		done := make(chan struct{})
		b := event.NewBus()
		b.Subscribe(domain.EventNameRoundFinished, func(ctx context.Context, e event.Event) error {
			<-done
			if err := ctx.Err(); err != nil {
				return err
			}
			return collect(r, "detached")(ctx, e)
		})

		ctx, cancel := context.WithCancel(context.Background())
		b.Publish(ctx, finished("alice"))
		cancel()
		close(done)
		b.Stop()

		assert.ElementsMatch(t, []event.Event{finished("alice")}, r.events["detached"])
	})
}
