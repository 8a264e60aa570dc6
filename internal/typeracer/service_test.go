package typeracer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bchewy/canyoubeatgroq/internal/domain"
	"github.com/bchewy/canyoubeatgroq/internal/errors"
	"github.com/bchewy/canyoubeatgroq/internal/event"
	"github.com/bchewy/canyoubeatgroq/internal/leaderboard"
)

type fakeRacer struct {
	results []domain.SolverResult
	word    string
}

func (f *fakeRacer) RaceWord(_ context.Context, word string) []domain.SolverResult {
	f.word = word
	return f.results
}

type fakeBoard struct {
	mu      sync.Mutex
	entries []leaderboard.RaceEntry
	err     error
}

func (f *fakeBoard) UpsertRace(_ context.Context, e leaderboard.RaceEntry) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	f.entries = append(f.entries, e)
	return true, nil
}

func makeService(t *testing.T) (*Service, *fakeRacer, *fakeBoard, *event.Bus) {
	t.Helper()

	racer := &fakeRacer{}
	board := &fakeBoard{}
	eb := event.NewBus()
	t.Cleanup(eb.Stop)

	svc := NewService(Config{
		Racer:    racer,
		Board:    board,
		EventBus: eb,
		Now:      func() time.Time { return time.UnixMilli(1_700_000_000_000) },
	})
	return svc, racer, board, eb
}

func TestRace(t *testing.T) {
	svc, racer, _, _ := makeService(t)
	racer.results = []domain.SolverResult{{Model: "llama-3.3-70b", TimeMs: 800}}

	got, err := svc.Race(context.Background(), "  keyboard ")
	require.NoError(t, err)
	assert.Equal(t, racer.results, got)
	assert.Equal(t, "keyboard", racer.word)

	_, err = svc.Race(context.Background(), "   ")
	require.Error(t, err)
	assert.Equal(t, "missing_params", errors.Convert(err).Tag)
}

func TestSubmit(t *testing.T) {
	ai := []domain.SolverResult{
		{Model: "llama-3.3-70b", TimeMs: 900},
		{Model: "gpt-4o", TimeMs: 400},
	}

	t.Run("beaten models saved", func(t *testing.T) {
		svc, _, board, _ := makeService(t)

		resp, err := svc.Submit(context.Background(), SubmitRequest{
			UserHandle: "racer1",
			Word:       "keyboard",
			UserTimeMs: 600,
			AIResults:  ai,
		})
		require.NoError(t, err)

		assert.Equal(t, []string{"llama-3.3-70b"}, resp.ModelsBeaten)
		assert.True(t, resp.SavedToLeaderboard)
		require.Len(t, board.entries, 1)
		assert.Equal(t, "racer1", board.entries[0].UserHandle)
		assert.EqualValues(t, 600, board.entries[0].UserTimeMs)
	})

	t.Run("nothing beaten, nothing saved", func(t *testing.T) {
		svc, _, board, _ := makeService(t)

		resp, err := svc.Submit(context.Background(), SubmitRequest{
			Word:       "keyboard",
			UserTimeMs: 2000,
			AIResults:  ai,
		})
		require.NoError(t, err)

		assert.Empty(t, resp.ModelsBeaten)
		assert.False(t, resp.SavedToLeaderboard)
		assert.Empty(t, board.entries)
	})

	t.Run("board failure swallowed", func(t *testing.T) {
		svc, _, board, _ := makeService(t)
		board.err = assert.AnError

		resp, err := svc.Submit(context.Background(), SubmitRequest{
			Word:       "keyboard",
			UserTimeMs: 600,
			AIResults:  ai,
		})
		require.NoError(t, err)
		assert.False(t, resp.SavedToLeaderboard)
	})

	t.Run("history published for every race", func(t *testing.T) {
		svc, _, _, eb := makeService(t)

		got := make(chan domain.HistoryEntry, 1)
		eb.Subscribe(domain.EventNameRoundFinished, func(_ context.Context, e event.Event) error {
			got <- e.(domain.EventRoundFinished).Entry
			return nil
		})

		_, err := svc.Submit(context.Background(), SubmitRequest{
			UserHandle: "flâneur 99",
			Word:       "keyboard",
			UserTimeMs: 9999,
			AIResults:  ai,
		})
		require.NoError(t, err)

		select {
		case e := <-got:
			assert.Equal(t, "flâneur 99", e.UserHandle)
			assert.Equal(t, domain.GameTypeTypeRacer, e.GameType)
			assert.EqualValues(t, 9999, e.ScoreValue)
		case <-time.After(time.Second):
			t.Fatal("no history event published")
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		svc, _, _, _ := makeService(t)

		_, err := svc.Submit(context.Background(), SubmitRequest{UserTimeMs: 100})
		require.Error(t, err)
		assert.Equal(t, "missing_params", errors.Convert(err).Tag)
	})
}

func TestSanitizeHandle(t *testing.T) {
	tests := map[string]string{
		"  Ada Lovelace  ": "Ada Lovelace",
		"flâneur_99":       "flâneur_99",
		"<b>x</b>":         "bxb",
		"!!!":              "anon",
		"":                 "anon",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeHandle(in), "input %q", in)
	}

	long := make([]rune, 0, 40)
	for i := 0; i < 40; i++ {
		long = append(long, 'é')
	}
	assert.Equal(t, 32, len([]rune(SanitizeHandle(string(long)))))
}
