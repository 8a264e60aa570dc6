// Package round runs the stateless round lifecycle: issue a signed start
// token, then verify, time and classify the submission. Every round is fully
// reconstructible from the token plus seed, so nothing is stored between
// start and submit.
package round

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bchewy/canyoubeatgroq/internal/domain"
	"github.com/bchewy/canyoubeatgroq/internal/errors"
	"github.com/bchewy/canyoubeatgroq/internal/event"
	"github.com/bchewy/canyoubeatgroq/internal/normalize"
	"github.com/bchewy/canyoubeatgroq/internal/problem"
	"github.com/bchewy/canyoubeatgroq/internal/token"
)

const (
	// CountdownMs accounts for the client-side pre-round countdown: the user
	// is considered to start answering this long after issuance.
	CountdownMs = 3_000

	// WindowMs is the validity ceiling. Past it the round is a timeout no
	// matter what was submitted.
	WindowMs = 35_000
)

// Solver produces the AI side of the race.
type Solver interface {
	SolveAll(ctx context.Context, p domain.Problem, allowExpanded bool) []domain.SolverResult
}

// Leaderboard is the persistence collaborator for win margins.
type Leaderboard interface {
	Upsert(ctx context.Context, seed string, e domain.LeaderboardEntry) (bool, error)
}

type Config struct {
	Codec       *token.Codec
	Solver      Solver
	Leaderboard Leaderboard
	EventBus    *event.Bus

	// Now is the clock; nil means time.Now. Tests pin it.
	Now func() time.Time
}

type Service struct {
	codec *token.Codec
	sv    Solver
	lb    Leaderboard
	eb    *event.Bus
	now   func() time.Time
}

func NewService(c Config) *Service {
	if c.Now == nil {
		c.Now = time.Now
	}
	return &Service{
		codec: c.Codec,
		sv:    c.Solver,
		lb:    c.Leaderboard,
		eb:    c.EventBus,
		now:   c.Now,
	}
}

// DailySeed is the default rotation key: one seed per UTC day.
func DailySeed(t time.Time) string {
	return "daily-" + t.UTC().Format("2006-01-02")
}

type StartRequest struct {
	Seed  string
	Topic string
}

type StartResponse struct {
	Problem   domain.SanitizedProblem `json:"problem"`
	Token     string                  `json:"startToken"`
	Seed      string                  `json:"seed"`
	Topic     problem.Topic           `json:"topic"`
	ExpiresAt int64                   `json:"expiresAt"`
}

// Start issues a round: a deterministic problem choice for the seed and a
// signed token binding its identity to the issue time. The problem's answer
// never leaves the server.
func (s *Service) Start(ctx context.Context, req StartRequest) (*StartResponse, error) {
	seed := strings.TrimSpace(req.Seed)
	if seed == "" {
		seed = DailySeed(s.now())
	}
	topic := problem.ParseTopic(req.Topic)

	var p domain.Problem
	if topic == problem.TopicMixed {
		p = problem.SelectForSeed(seed)
	} else {
		// A nonce diversifies repeat plays under one seed. It rides inside
		// the public id, so submit can regenerate the exact problem later.
		nonce := uuid.NewString()[:8]
		p = problem.GenerateForSeed(seed+":"+nonce, topic)
		p.ID = problem.GeneratedID(p, nonce)
	}

	issuedAt := s.now().UnixMilli()
	tok, err := s.codec.Issue(token.Payload{
		IssuedAtMs: issuedAt,
		Seed:       seed,
		ProblemID:  p.ID,
	})
	if err != nil {
		return nil, errors.Internal(err)
	}

	return &StartResponse{
		Problem:   p.Sanitized(),
		Token:     tok,
		Seed:      seed,
		Topic:     topic,
		ExpiresAt: issuedAt + WindowMs,
	}, nil
}

type SolveRequest struct {
	ProblemID     string
	Token         string
	AllowExpanded bool
}

// Solve runs the solver fan-out ahead of submission so the client can race
// the user against results it already holds. Token checks are the same as
// Submit's; timing is unaffected since solver clocks are independent of the
// user's.
func (s *Service) Solve(ctx context.Context, req SolveRequest) ([]domain.SolverResult, error) {
	p, _, err := s.resolve(req.ProblemID, req.Token)
	if err != nil {
		return nil, err
	}
	return s.sv.SolveAll(ctx, p, req.AllowExpanded), nil
}

// resolve verifies the token against the problem id and rebuilds the problem.
func (s *Service) resolve(problemID, tok string) (domain.Problem, *token.Payload, error) {
	if problemID == "" || tok == "" {
		return domain.Problem{}, nil, errors.New(errors.CodeInvalidArgument, "missing_params")
	}

	// Verification failure and a garbage token are deliberately the same
	// error: no oracle about why a token was rejected.
	payload := s.codec.Verify(tok)
	if payload == nil {
		return domain.Problem{}, nil, errors.New(errors.CodeInvalidArgument, "invalid_token")
	}
	if payload.ProblemID != problemID {
		return domain.Problem{}, nil, errors.New(errors.CodeInvalidArgument, "mismatch_problem")
	}

	p, ok := problem.ByID(problemID)
	if !ok {
		p, ok = problem.ReconstructFromID(problemID, payload.Seed)
	}
	if !ok {
		return domain.Problem{}, nil, errors.New(errors.CodeNotFound, "not_found")
	}

	return p, payload, nil
}

type SubmitRequest struct {
	ProblemID     string
	Token         string
	UserAnswer    string
	DesiredHandle string

	// CachedResults carries solver results the client already pre-fetched.
	// The client racing ahead of the fan-out is tolerated: an empty list just
	// means the solvers run here instead.
	CachedResults []domain.SolverResult
	AllowExpanded bool
}

type SubmitResponse struct {
	Outcome            domain.Outcome           `json:"outcome"`
	UserTimeMs         int64                    `json:"userTimeMs"`
	CorrectAnswer      string                   `json:"correctAnswer"`
	ModelResults       []domain.ModelComparison `json:"modelResults"`
	SavedToLeaderboard bool                     `json:"savedToLb"`
}

// Submit verifies the token, recomputes elapsed time from its issue stamp and
// classifies the round. The server only measures wall-clock arrival; network
// jitter and a client that delays its request are accepted limitations.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	p, payload, err := s.resolve(req.ProblemID, req.Token)
	if err != nil {
		return nil, err
	}

	now := s.now().UnixMilli()
	userElapsed := now - (payload.IssuedAtMs + CountdownMs)
	if userElapsed < 0 {
		userElapsed = 0
	}

	correct := normalize.Answer(p.Answer)

	results := req.CachedResults
	if len(results) == 0 {
		results = s.sv.SolveAll(ctx, p, req.AllowExpanded)
	}

	if now-payload.IssuedAtMs > WindowMs {
		// Outcome is fixed; solver results still go back for display.
		return &SubmitResponse{
			Outcome:       domain.OutcomeTimeout,
			UserTimeMs:    userElapsed,
			CorrectAnswer: correct,
			ModelResults:  compareNone(results),
		}, nil
	}

	user := normalize.Answer(req.UserAnswer)
	if user == "" || user != correct {
		return &SubmitResponse{
			Outcome:       domain.OutcomeWrong,
			UserTimeMs:    userElapsed,
			CorrectAnswer: correct,
			ModelResults:  compareNone(results),
		}, nil
	}

	// Correct answer: per-solver comparison. Beating any one competitor
	// makes the round a win even while losing to others.
	comparisons := make([]domain.ModelComparison, 0, len(results))
	anyBeaten := false
	for _, r := range results {
		beaten := userElapsed < r.TimeMs
		anyBeaten = anyBeaten || beaten
		comparisons = append(comparisons, domain.ModelComparison{
			Model:       r.Model,
			Provider:    r.Provider,
			Answer:      r.Answer,
			TimeMs:      r.TimeMs,
			Beaten:      beaten,
			WinMarginMs: r.TimeMs - userElapsed,
		})
	}

	outcome := domain.OutcomeLoss
	saved := false
	if anyBeaten {
		outcome = domain.OutcomeWin
		saved = s.saveWins(ctx, payload.Seed, req.ProblemID, req.DesiredHandle, userElapsed, now, comparisons)
	}

	// History records every correct round, win or loss, best-effort.
	s.eb.Publish(ctx, domain.EventRoundFinished{
		Entry: domain.HistoryEntry{
			UserHandle: SanitizeHandle(req.DesiredHandle),
			GameType:   domain.GameTypePuzzle,
			ScoreValue: userElapsed,
			CreateTime: time.UnixMilli(now),
		},
	})

	return &SubmitResponse{
		Outcome:            outcome,
		UserTimeMs:         userElapsed,
		CorrectAnswer:      correct,
		ModelResults:       comparisons,
		SavedToLeaderboard: saved,
	}, nil
}

// saveWins upserts one leaderboard entry per beaten solver with a strictly
// positive margin. Store failures are logged and swallowed: the round outcome
// stands whether or not it could be recorded.
func (s *Service) saveWins(ctx context.Context, seed, problemID, desiredHandle string, userElapsed, now int64, comparisons []domain.ModelComparison) bool {
	handle := SanitizeHandle(desiredHandle)

	saved := false
	for _, c := range comparisons {
		if !c.Beaten || c.WinMarginMs <= 0 {
			continue
		}

		written, err := s.lb.Upsert(ctx, seed, domain.LeaderboardEntry{
			UserHandle:  handle,
			WinMarginMs: c.WinMarginMs,
			UserTimeMs:  userElapsed,
			AITimeMs:    c.TimeMs,
			AIModel:     c.Model,
			ProblemID:   problemID,
			CreatedAt:   now,
		})
		if err != nil {
			slog.ErrorContext(ctx, "round: leaderboard upsert failed",
				"seed", seed, "model", c.Model, "error", err)
		}
		// An error after the write landed (the throttled publish, say) must
		// not hide that the entry was recorded.
		saved = saved || written
	}

	return saved
}

func compareNone(results []domain.SolverResult) []domain.ModelComparison {
	out := make([]domain.ModelComparison, 0, len(results))
	for _, r := range results {
		out = append(out, domain.ModelComparison{
			Model:    r.Model,
			Provider: r.Provider,
			Answer:   r.Answer,
			TimeMs:   r.TimeMs,
		})
	}
	return out
}

var handleAllowed = regexp.MustCompile(`[^a-zA-Z0-9_\-.]+`)

// SanitizeHandle trims a user-supplied display name, caps it at 20 runes
// and strips everything outside letters, digits, underscore, hyphen and dot.
// An empty result falls back to an anonymous placeholder.
func SanitizeHandle(raw string) string {
	s := strings.TrimSpace(raw)
	if r := []rune(s); len(r) > 20 {
		s = string(r[:20])
	}
	s = handleAllowed.ReplaceAllString(s, "")
	if s == "" {
		return "anon"
	}
	return s
}
