// Package event is the in-process pub/sub seam between the game services and
// their best-effort collaborators: history persistence and the leaderboard
// pubsub fan-out hang off it. Publishing never blocks on a handler's outcome;
// a failing or panicking handler is logged and dropped.
package event

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	// maxInflight bounds concurrently running handlers across all events.
	maxInflight = 10000

	// handlerTimeout detaches handlers from the publisher's request context,
	// so an HTTP response going out does not cancel a history write.
	handlerTimeout = 30 * time.Second
)

type Event interface {
	Name() string
}

type Handler func(ctx context.Context, e Event) error

// Bus is an in-memory event bus. Callers own its lifecycle: Stop drains the
// in-flight handlers on shutdown.
type Bus struct {
	sem chan struct{}
	wg  sync.WaitGroup

	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewBus() *Bus {
	return &Bus{
		sem:      make(chan struct{}, maxInflight),
		handlers: make(map[string][]Handler),
	}
}

// Subscribe registers h for every published event with the given name.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[name] = append(b.handlers[name], h)
}

// Publish hands e to every subscribed handler asynchronously.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, h := range b.handlers[e.Name()] {
		b.run(ctx, h, e)
	}
}

func (b *Bus) run(ctx context.Context, h Handler, e Event) {
	b.wg.Add(1)

	b.sem <- struct{}{}

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handlerTimeout)
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(ctx, "event: handler panic",
					"event", e.Name(),
					"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
				)
			}

			cancel()
			<-b.sem
			b.wg.Done()
		}()

		if err := h(ctx, e); err != nil {
			slog.ErrorContext(ctx, "event: handle event failed",
				"event", e.Name(),
				"error", err,
			)
		}
	}()
}

// Stop blocks until every dispatched handler has returned.
func (b *Bus) Stop() {
	b.wg.Wait()
}
