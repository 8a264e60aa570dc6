package domain

import "time"

// ProblemType distinguishes multiple-choice from free-text problems.
type ProblemType string

const (
	ProblemTypeMCQ   ProblemType = "mcq"
	ProblemTypeShort ProblemType = "short"
)

// Problem is a single puzzle. Answer is never sent to the client before
// submission; SanitizedProblem is the only client-visible form.
type Problem struct {
	ID      string
	Type    ProblemType
	Prompt  string
	Choices []string
	Answer  string
}

// SanitizedProblem is the client-visible projection of a Problem.
type SanitizedProblem struct {
	ID      string      `json:"id"`
	Type    ProblemType `json:"type"`
	Prompt  string      `json:"prompt"`
	Choices []string    `json:"choices,omitempty"`
}

func (p Problem) Sanitized() SanitizedProblem {
	return SanitizedProblem{
		ID:      p.ID,
		Type:    p.Type,
		Prompt:  p.Prompt,
		Choices: p.Choices,
	}
}

// SolverResult is one model's answer to a problem, timed independently.
type SolverResult struct {
	Model    string `json:"model"`
	Provider string `json:"provider,omitempty"`
	Answer   string `json:"answer"`
	TimeMs   int64  `json:"timeMs"`
}

// Outcome classifies a finished round.
type Outcome string

const (
	OutcomeWin     Outcome = "win"
	OutcomeLoss    Outcome = "loss"
	OutcomeWrong   Outcome = "wrong"
	OutcomeTimeout Outcome = "timeout"
)

// ModelComparison is a SolverResult compared against the user's time.
type ModelComparison struct {
	Model       string `json:"model"`
	Provider    string `json:"provider,omitempty"`
	Answer      string `json:"answer"`
	TimeMs      int64  `json:"timeMs"`
	Beaten      bool   `json:"beaten"`
	WinMarginMs int64  `json:"winMarginMs,omitempty"`
}

// LeaderboardEntry is one (user, problem, solver) record. A better win margin
// for the same triple supersedes the stored one; a worse one never regresses it.
type LeaderboardEntry struct {
	UserHandle  string `json:"userHandle"`
	WinMarginMs int64  `json:"winMarginMs"`
	UserTimeMs  int64  `json:"userTimeMs"`
	AITimeMs    int64  `json:"aiTimeMs"`
	AIModel     string `json:"aiModel"`
	ProblemID   string `json:"problemId"`
	CreatedAt   int64  `json:"createdAt"`
}

// GameType tags history entries by game variant.
type GameType string

const (
	GameTypePuzzle    GameType = "puzzle"
	GameTypeOneWord   GameType = "oneword"
	GameTypeTypeRacer GameType = "typeracer"
)

// HistoryEntry records one finished round for aggregate statistics.
type HistoryEntry struct {
	UserHandle string
	GameType   GameType
	ScoreValue int64
	CreateTime time.Time
}
