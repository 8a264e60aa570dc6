package round

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bchewy/canyoubeatgroq/internal/domain"
	"github.com/bchewy/canyoubeatgroq/internal/errors"
	"github.com/bchewy/canyoubeatgroq/internal/event"
	"github.com/bchewy/canyoubeatgroq/internal/token"
)

type fakeSolver struct {
	mu      sync.Mutex
	results []domain.SolverResult
	calls   int
}

func (f *fakeSolver) SolveAll(_ context.Context, _ domain.Problem, _ bool) []domain.SolverResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.results
}

type fakeLeaderboard struct {
	mu      sync.Mutex
	entries []domain.LeaderboardEntry
	err     error
	// errWritten reports the write as landed even when err is set, the way
	// a real upsert does when only its follow-up publish fails.
	errWritten bool
}

func (f *fakeLeaderboard) Upsert(_ context.Context, _ string, e domain.LeaderboardEntry) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.errWritten, f.err
	}
	f.entries = append(f.entries, e)
	return true, nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc *Service
	sv  *fakeSolver
	lb  *fakeLeaderboard
	eb  *event.Bus
	clk *clock
}

func makeService(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		sv:  &fakeSolver{},
		lb:  &fakeLeaderboard{},
		eb:  event.NewBus(),
		clk: &clock{t: time.UnixMilli(1_700_000_000_000)},
	}
	f.svc = NewService(Config{
		Codec:       token.NewCodec("test-secret"),
		Solver:      f.sv,
		Leaderboard: f.lb,
		EventBus:    f.eb,
		Now:         f.clk.now,
	})

	t.Cleanup(f.eb.Stop)

	return f
}

func TestStart(t *testing.T) {
	t.Run("daily seed when empty", func(t *testing.T) {
		f := makeService(t)

		got, err := f.svc.Start(context.Background(), StartRequest{})
		require.NoError(t, err)

		want := DailySeed(f.clk.now())
		assert.Equal(t, want, got.Seed)
		assert.True(t, strings.HasPrefix(got.Seed, "daily-"))
		assert.Equal(t, got.Problem.ID, f.svc.codec.Verify(got.Token).ProblemID)
		assert.Equal(t, f.clk.now().UnixMilli()+WindowMs, got.ExpiresAt)
	})

	t.Run("mixed is deterministic per seed", func(t *testing.T) {
		f := makeService(t)

		a, err := f.svc.Start(context.Background(), StartRequest{Seed: "daily-2024-05-01"})
		require.NoError(t, err)
		b, err := f.svc.Start(context.Background(), StartRequest{Seed: "daily-2024-05-01"})
		require.NoError(t, err)

		assert.Equal(t, a.Problem, b.Problem)
	})

	t.Run("topic round survives a restart", func(t *testing.T) {
		f := makeService(t)

		got, err := f.svc.Start(context.Background(), StartRequest{Seed: "s1", Topic: "math"})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(got.Problem.ID, "gen-math-"))

		// A fresh service with the same secret must accept the round.
		f2 := makeService(t)
		f2.sv.results = []domain.SolverResult{{Model: "m", Answer: "x", TimeMs: 5000}}
		f2.clk.advance(4 * time.Second)

		resp, err := f2.svc.Submit(context.Background(), SubmitRequest{
			ProblemID:  got.Problem.ID,
			Token:      got.Token,
			UserAnswer: "whatever",
		})
		require.NoError(t, err)
		assert.NotEqual(t, "", resp.CorrectAnswer)
	})
}

func TestSubmitRejections(t *testing.T) {
	f := makeService(t)
	start, err := f.svc.Start(context.Background(), StartRequest{Seed: "s1"})
	require.NoError(t, err)

	tests := map[string]struct {
		req     SubmitRequest
		wantTag string
	}{
		"missing problem id": {
			req:     SubmitRequest{Token: start.Token},
			wantTag: "missing_params",
		},
		"missing token": {
			req:     SubmitRequest{ProblemID: start.Problem.ID},
			wantTag: "missing_params",
		},
		"garbage token": {
			req:     SubmitRequest{ProblemID: start.Problem.ID, Token: "v1.garbage.token"},
			wantTag: "invalid_token",
		},
		"problem id mismatch": {
			req:     SubmitRequest{ProblemID: "q-mental-01", Token: start.Token},
			wantTag: "mismatch_problem",
		},
	}

	// The catalog entry chosen for seed s1 is what the token binds; a
	// different catalog id must be rejected. Guard the assumption.
	require.NotEqual(t, "q-mental-01", start.Problem.ID)

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Submit(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.wantTag, errors.Convert(err).Tag)
		})
	}
}

func TestSubmitNotFound(t *testing.T) {
	f := makeService(t)

	// A validly signed token for an id that neither the catalog nor the
	// generator recognizes.
	tok, err := token.NewCodec("test-secret").Issue(token.Payload{
		IssuedAtMs: f.clk.now().UnixMilli(),
		Seed:       "s1",
		ProblemID:  "gen-nosuch-abc_def",
	})
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), SubmitRequest{
		ProblemID:  "gen-nosuch-abc_def",
		Token:      tok,
		UserAnswer: "55",
	})
	require.Error(t, err)
	assert.Equal(t, "not_found", errors.Convert(err).Tag)
	assert.Equal(t, 404, errors.Convert(err).HTTPStatusCode())
}

func TestSubmitOutcomes(t *testing.T) {
	start := func(t *testing.T, f *fixture) *StartResponse {
		t.Helper()
		got, err := f.svc.Start(context.Background(), StartRequest{Seed: "s1"})
		require.NoError(t, err)
		return got
	}

	correctAnswer := func(t *testing.T, f *fixture, id string) string {
		t.Helper()
		// Submitting blank yields the ground truth without spending the round.
		probe, err := f.svc.Submit(context.Background(), SubmitRequest{
			ProblemID: id, Token: mustToken(t, f, id), UserAnswer: "",
		})
		require.NoError(t, err)
		return probe.CorrectAnswer
	}

	t.Run("win with margin", func(t *testing.T) {
		f := makeService(t)
		st := start(t, f)
		answer := correctAnswer(t, f, st.Problem.ID)
		f.sv.results = []domain.SolverResult{
			{Model: "llama-3.3-70b", Provider: "Groq", Answer: answer, TimeMs: 5000},
		}

		// Countdown plus 100ms of answering.
		f.clk.advance(3100 * time.Millisecond)

		resp, err := f.svc.Submit(context.Background(), SubmitRequest{
			ProblemID:     st.Problem.ID,
			Token:         st.Token,
			UserAnswer:    answer,
			DesiredHandle: "speedy",
		})
		require.NoError(t, err)

		assert.Equal(t, domain.OutcomeWin, resp.Outcome)
		assert.EqualValues(t, 100, resp.UserTimeMs)
		require.Len(t, resp.ModelResults, 1)
		assert.True(t, resp.ModelResults[0].Beaten)
		assert.EqualValues(t, 4900, resp.ModelResults[0].WinMarginMs)
		assert.True(t, resp.SavedToLeaderboard)

		require.Len(t, f.lb.entries, 1)
		assert.Equal(t, "speedy", f.lb.entries[0].UserHandle)
		assert.EqualValues(t, 4900, f.lb.entries[0].WinMarginMs)
		assert.Equal(t, "llama-3.3-70b", f.lb.entries[0].AIModel)
	})

	t.Run("loss when every model is faster", func(t *testing.T) {
		f := makeService(t)
		st := start(t, f)
		answer := correctAnswer(t, f, st.Problem.ID)
		f.sv.results = []domain.SolverResult{
			{Model: "llama-3.3-70b", Answer: answer, TimeMs: 3000},
		}

		f.clk.advance(8 * time.Second) // 5000ms of answering

		resp, err := f.svc.Submit(context.Background(), SubmitRequest{
			ProblemID: st.Problem.ID, Token: st.Token, UserAnswer: answer,
		})
		require.NoError(t, err)

		assert.Equal(t, domain.OutcomeLoss, resp.Outcome)
		assert.EqualValues(t, 5000, resp.UserTimeMs)
		assert.False(t, resp.ModelResults[0].Beaten)
		assert.False(t, resp.SavedToLeaderboard)
		assert.Empty(t, f.lb.entries)
	})

	t.Run("wrong answer", func(t *testing.T) {
		f := makeService(t)
		st := start(t, f)
		f.sv.results = []domain.SolverResult{{Model: "m", Answer: "x", TimeMs: 5000}}

		f.clk.advance(4 * time.Second)

		resp, err := f.svc.Submit(context.Background(), SubmitRequest{
			ProblemID: st.Problem.ID, Token: st.Token, UserAnswer: "definitely wrong",
		})
		require.NoError(t, err)

		assert.Equal(t, domain.OutcomeWrong, resp.Outcome)
		assert.NotEmpty(t, resp.CorrectAnswer)
		require.Len(t, resp.ModelResults, 1)
		assert.False(t, resp.ModelResults[0].Beaten)
	})

	t.Run("timeout past the window", func(t *testing.T) {
		f := makeService(t)
		st := start(t, f)
		answer := correctAnswer(t, f, st.Problem.ID)
		f.sv.results = []domain.SolverResult{{Model: "m", Answer: answer, TimeMs: 5000}}

		f.clk.advance(36 * time.Second)

		resp, err := f.svc.Submit(context.Background(), SubmitRequest{
			ProblemID: st.Problem.ID, Token: st.Token, UserAnswer: answer,
		})
		require.NoError(t, err)

		assert.Equal(t, domain.OutcomeTimeout, resp.Outcome)
		require.Len(t, resp.ModelResults, 1)
		assert.False(t, resp.ModelResults[0].Beaten)
		assert.Empty(t, f.lb.entries)
	})

	t.Run("submission before countdown ends clamps to zero", func(t *testing.T) {
		f := makeService(t)
		st := start(t, f)
		answer := correctAnswer(t, f, st.Problem.ID)
		f.sv.results = []domain.SolverResult{{Model: "m", Answer: answer, TimeMs: 5000}}

		f.clk.advance(time.Second)

		resp, err := f.svc.Submit(context.Background(), SubmitRequest{
			ProblemID: st.Problem.ID, Token: st.Token, UserAnswer: answer,
		})
		require.NoError(t, err)
		assert.EqualValues(t, 0, resp.UserTimeMs)
	})
}

func TestSolvePrefetch(t *testing.T) {
	f := makeService(t)
	f.sv.results = []domain.SolverResult{{Model: "m", Answer: "x", TimeMs: 1200}}

	st, err := f.svc.Start(context.Background(), StartRequest{Seed: "s1"})
	require.NoError(t, err)

	got, err := f.svc.Solve(context.Background(), SolveRequest{ProblemID: st.Problem.ID, Token: st.Token})
	require.NoError(t, err)
	assert.Equal(t, f.sv.results, got)

	_, err = f.svc.Solve(context.Background(), SolveRequest{ProblemID: st.Problem.ID, Token: "bogus"})
	require.Error(t, err)
	assert.Equal(t, "invalid_token", errors.Convert(err).Tag)
}

func TestSubmitCachedResults(t *testing.T) {
	f := makeService(t)
	st, err := f.svc.Start(context.Background(), StartRequest{Seed: "s1"})
	require.NoError(t, err)

	f.clk.advance(4 * time.Second)

	cached := []domain.SolverResult{
		{Model: "cached-model", Provider: "Groq", Answer: "whatever", TimeMs: 7777},
	}
	resp, err := f.svc.Submit(context.Background(), SubmitRequest{
		ProblemID:     st.Problem.ID,
		Token:         st.Token,
		UserAnswer:    "",
		CachedResults: cached,
	})
	require.NoError(t, err)

	require.Len(t, resp.ModelResults, 1)
	assert.Equal(t, "cached-model", resp.ModelResults[0].Model)
	assert.EqualValues(t, 7777, resp.ModelResults[0].TimeMs)
	assert.Equal(t, 0, f.sv.calls, "solvers must not run when results were pre-fetched")
}

func TestSubmitLeaderboardFailureSwallowed(t *testing.T) {
	f := makeService(t)
	st, err := f.svc.Start(context.Background(), StartRequest{Seed: "s1"})
	require.NoError(t, err)

	probe, err := f.svc.Submit(context.Background(), SubmitRequest{
		ProblemID: st.Problem.ID, Token: st.Token, UserAnswer: "",
	})
	require.NoError(t, err)
	answer := probe.CorrectAnswer

	f.lb.err = assert.AnError
	f.sv.results = []domain.SolverResult{{Model: "m", Answer: answer, TimeMs: 9000}}
	f.clk.advance(4 * time.Second)

	resp, err := f.svc.Submit(context.Background(), SubmitRequest{
		ProblemID: st.Problem.ID, Token: st.Token, UserAnswer: answer,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeWin, resp.Outcome)
	assert.False(t, resp.SavedToLeaderboard)
}

func TestSubmitSavedDespitePublishError(t *testing.T) {
	f := makeService(t)
	st, err := f.svc.Start(context.Background(), StartRequest{Seed: "s1"})
	require.NoError(t, err)

	probe, err := f.svc.Submit(context.Background(), SubmitRequest{
		ProblemID: st.Problem.ID, Token: st.Token, UserAnswer: "",
	})
	require.NoError(t, err)

	// The entry lands but the follow-up publish fails. The round must still
	// report the entry as saved.
	f.lb.err = assert.AnError
	f.lb.errWritten = true
	f.sv.results = []domain.SolverResult{{Model: "m", Answer: probe.CorrectAnswer, TimeMs: 9000}}
	f.clk.advance(4 * time.Second)

	resp, err := f.svc.Submit(context.Background(), SubmitRequest{
		ProblemID: st.Problem.ID, Token: st.Token, UserAnswer: probe.CorrectAnswer,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeWin, resp.Outcome)
	assert.True(t, resp.SavedToLeaderboard)
}

func TestSubmitPublishesHistory(t *testing.T) {
	f := makeService(t)

	got := make(chan domain.HistoryEntry, 1)
	f.eb.Subscribe(domain.EventNameRoundFinished, func(_ context.Context, e event.Event) error {
		got <- e.(domain.EventRoundFinished).Entry
		return nil
	})

	st, err := f.svc.Start(context.Background(), StartRequest{Seed: "s1"})
	require.NoError(t, err)

	probe, err := f.svc.Submit(context.Background(), SubmitRequest{
		ProblemID: st.Problem.ID, Token: st.Token, UserAnswer: "",
	})
	require.NoError(t, err)

	f.sv.results = []domain.SolverResult{{Model: "m", Answer: "x", TimeMs: 100}}
	f.clk.advance(7 * time.Second)

	_, err = f.svc.Submit(context.Background(), SubmitRequest{
		ProblemID:     st.Problem.ID,
		Token:         st.Token,
		UserAnswer:    probe.CorrectAnswer,
		DesiredHandle: "  <script>bob!  ",
	})
	require.NoError(t, err)

	select {
	case e := <-got:
		assert.Equal(t, "scriptbob", e.UserHandle)
		assert.Equal(t, domain.GameTypePuzzle, e.GameType)
		assert.EqualValues(t, 4000, e.ScoreValue)
	case <-time.After(time.Second):
		t.Fatal("no history event published")
	}
}

func TestSanitizeHandle(t *testing.T) {
	tests := map[string]string{
		"  speedy  ":                   "speedy",
		"":                             "anon",
		"!!!":                          "anon",
		"a b c":                        "abc",
		"user.name_1-x":                "user.name_1-x",
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaa": "aaaaaaaaaaaaaaaaaaaa",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeHandle(in), "input %q", in)
	}

	// The cap counts runes, not bytes: the multi-byte prefix must not eat
	// into the ASCII tail's budget twice.
	in := strings.Repeat("é", 10) + "abcdefghijklmno"
	assert.Equal(t, "abcdefghij", SanitizeHandle(in))
}

func mustToken(t *testing.T, f *fixture, problemID string) string {
	t.Helper()
	tok, err := f.svc.codec.Issue(token.Payload{
		IssuedAtMs: f.clk.now().UnixMilli(),
		Seed:       "s1",
		ProblemID:  problemID,
	})
	require.NoError(t, err)
	return tok
}
