// Package typeracer runs the typing-race variant: the user races AI models on
// how fast a single word gets typed back. No answers are graded, only times.
package typeracer

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/bchewy/canyoubeatgroq/internal/domain"
	"github.com/bchewy/canyoubeatgroq/internal/errors"
	"github.com/bchewy/canyoubeatgroq/internal/event"
	"github.com/bchewy/canyoubeatgroq/internal/leaderboard"
)

// Racer is the AI side of a race, satisfied by solver.Service.
type Racer interface {
	RaceWord(ctx context.Context, word string) []domain.SolverResult
}

// RaceBoard persists best race times, satisfied by leaderboard.Service.
type RaceBoard interface {
	UpsertRace(ctx context.Context, e leaderboard.RaceEntry) (bool, error)
}

type Config struct {
	Racer    Racer
	Board    RaceBoard
	EventBus *event.Bus

	Now func() time.Time
}

type Service struct {
	racer Racer
	board RaceBoard
	eb    *event.Bus
	now   func() time.Time
}

func NewService(c Config) *Service {
	if c.Now == nil {
		c.Now = time.Now
	}
	return &Service{
		racer: c.Racer,
		board: c.Board,
		eb:    c.EventBus,
		now:   c.Now,
	}
}

// Race times every racing model on the word and returns their times.
func (s *Service) Race(ctx context.Context, word string) ([]domain.SolverResult, error) {
	word = strings.TrimSpace(word)
	if word == "" {
		return nil, errors.New(errors.CodeInvalidArgument, "missing_params")
	}
	return s.racer.RaceWord(ctx, word), nil
}

type SubmitRequest struct {
	UserHandle string
	Word       string
	UserTimeMs int64
	AIResults  []domain.SolverResult
}

type SubmitResponse struct {
	ModelsBeaten       []string `json:"aiModelsBeaten"`
	SavedToLeaderboard bool     `json:"savedToLb"`
}

// Submit records a finished race. The best time reaches the leaderboard only
// when at least one model was beaten; history records every race either way.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	if req.Word == "" || req.UserTimeMs <= 0 {
		return nil, errors.New(errors.CodeInvalidArgument, "missing_params")
	}

	handle := SanitizeHandle(req.UserHandle)

	var beaten []string
	for _, r := range req.AIResults {
		if req.UserTimeMs < r.TimeMs {
			beaten = append(beaten, r.Model)
		}
	}

	now := s.now()
	saved := false
	if len(beaten) > 0 {
		written, err := s.board.UpsertRace(ctx, leaderboard.RaceEntry{
			UserHandle:   handle,
			Word:         req.Word,
			UserTimeMs:   req.UserTimeMs,
			ModelsBeaten: beaten,
			CreatedAt:    now.UnixMilli(),
		})
		if err != nil {
			slog.ErrorContext(ctx, "typeracer: leaderboard upsert failed",
				"handle", handle, "error", err)
		} else {
			saved = written
		}
	}

	s.eb.Publish(ctx, domain.EventRoundFinished{
		Entry: domain.HistoryEntry{
			UserHandle: handle,
			GameType:   domain.GameTypeTypeRacer,
			ScoreValue: req.UserTimeMs,
			CreateTime: now,
		},
	})

	return &SubmitResponse{
		ModelsBeaten:       beaten,
		SavedToLeaderboard: saved,
	}, nil
}

// SanitizeHandle is the race variant of display-name cleanup: any Unicode
// letter or digit plus space, underscore and hyphen, capped at 32 runes.
func SanitizeHandle(raw string) string {
	s := strings.TrimSpace(raw)

	var b strings.Builder
	n := 0
	for _, r := range s {
		if n == 32 {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '_' || r == '-' {
			b.WriteRune(r)
			n++
		}
	}

	out := strings.TrimSpace(b.String())
	if out == "" {
		return "anon"
	}
	return out
}
