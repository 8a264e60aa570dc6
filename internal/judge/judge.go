// Package judge generates trivia questions and grades answers with an LLM
// judge, degrading to plain string equality whenever the judge's reply is
// unusable. The judge's word is advisory: the winner rule is computed here,
// never delegated to the model.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/bchewy/canyoubeatgroq/internal/errors"
)

const (
	generatorModel = "groq/compound-mini"
	judgeModel     = "groq/compound"

	generatorSystem = "You write trivia questions whose answer is exactly one word. Respond with JSON only, no prose: {\"question\": \"...\", \"expectedAnswer\": \"...\"}. The expectedAnswer must be a single word."

	judgeSystem = "You are a lenient trivia judge. An answer is correct if it names the same thing as the expected answer, allowing spelling variants, synonyms and missing articles. Respond with JSON only: {\"userCorrect\": true|false, \"models\": [{\"model\": \"...\", \"correct\": true|false}], \"reasoning\": \"one sentence\"}."
)

// Completer is the LLM dependency, satisfied by solver.Service.
type Completer interface {
	Complete(ctx context.Context, modelID, system, prompt string, temperature float32, maxTokens int) (string, error)
}

type Service struct {
	llm Completer
}

func NewService(llm Completer) *Service {
	return &Service{llm: llm}
}

// Question is a generated trivia round. The expected answer stays server-side
// until judging.
type Question struct {
	Question       string `json:"question"`
	ExpectedAnswer string `json:"expectedAnswer"`
}

// GenerateQuestion asks the generator model for a one-word-answer trivia
// question on the given topic. Generation has no deterministic fallback: an
// unusable reply is an error.
func (s *Service) GenerateQuestion(ctx context.Context, topic string) (*Question, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = "general knowledge"
	}

	prompt := fmt.Sprintf("Write one trivia question about %s. The answer must be a single word.", topic)

	text, err := s.llm.Complete(ctx, generatorModel, generatorSystem, prompt, 0.9, 200)
	if err != nil {
		return nil, errors.New(errors.CodeUnavailable, "invalid_ai_response", errors.WithCause(err))
	}

	var q Question
	if err := unmarshalBlob(text, &q); err != nil || q.Question == "" || q.ExpectedAnswer == "" {
		return nil, errors.New(errors.CodeUnavailable, "invalid_ai_response",
			errors.WithMessagef("generator returned no usable question"))
	}

	return &q, nil
}

// AIAnswer is one candidate model answer submitted for judging.
type AIAnswer struct {
	Model  string `json:"model"`
	Answer string `json:"answer"`
	TimeMs int64  `json:"timeMs"`
}

type JudgeRequest struct {
	Question   string
	Expected   string
	UserAnswer string
	UserTimeMs int64
	AIAnswers  []AIAnswer
}

// ModelVerdict is one candidate's grade, in candidate order.
type ModelVerdict struct {
	Model   string `json:"model"`
	Answer  string `json:"answer"`
	TimeMs  int64  `json:"timeMs"`
	Correct bool   `json:"correct"`
}

// Winner values for a judged round.
const (
	WinnerUser = "user"
	WinnerAI   = "ai"
	WinnerTie  = "tie"
)

type Verdict struct {
	UserCorrect bool           `json:"userCorrect"`
	Models      []ModelVerdict `json:"models"`
	Winner      string         `json:"winner"`
	Reasoning   string         `json:"reasoning,omitempty"`
}

// judgeReply is the JSON shape requested from the judge model.
type judgeReply struct {
	UserCorrect bool `json:"userCorrect"`
	Models      []struct {
		Model   string `json:"model"`
		Correct bool   `json:"correct"`
	} `json:"models"`
	Reasoning string `json:"reasoning"`
}

// Judge grades the user's answer and every candidate model answer. The LLM
// verdict is reconciled against the candidate list: names the judge invented
// are dropped, candidates it skipped get the equality fallback. A dead or
// incoherent judge downgrades the whole round to equality grading rather than
// failing it.
func (s *Service) Judge(ctx context.Context, req JudgeRequest) *Verdict {
	reply, err := s.askJudge(ctx, req)
	if err != nil {
		slog.WarnContext(ctx, "judge: falling back to string equality", "error", err)
		return s.fallbackVerdict(req)
	}

	byModel := make(map[string]bool, len(reply.Models))
	for _, m := range reply.Models {
		byModel[m.Model] = m.Correct
	}

	v := &Verdict{
		UserCorrect: reply.UserCorrect,
		Reasoning:   reply.Reasoning,
	}
	for _, a := range req.AIAnswers {
		correct, ok := byModel[a.Model]
		if !ok {
			correct = answersMatch(a.Answer, req.Expected)
		}
		v.Models = append(v.Models, ModelVerdict{
			Model:   a.Model,
			Answer:  a.Answer,
			TimeMs:  a.TimeMs,
			Correct: correct,
		})
	}

	v.Winner = winner(v, req.UserTimeMs)
	return v
}

func (s *Service) askJudge(ctx context.Context, req JudgeRequest) (*judgeReply, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", req.Question)
	fmt.Fprintf(&b, "Expected answer: %s\n", req.Expected)
	fmt.Fprintf(&b, "User answered: %s\n", req.UserAnswer)
	b.WriteString("Model answers:\n")
	for _, a := range req.AIAnswers {
		fmt.Fprintf(&b, "- %s: %s\n", a.Model, a.Answer)
	}

	text, err := s.llm.Complete(ctx, judgeModel, judgeSystem, b.String(), 0.2, 500)
	if err != nil {
		return nil, err
	}

	var reply judgeReply
	if err := unmarshalBlob(text, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// fallbackVerdict grades by lowercased trimmed equality.
func (s *Service) fallbackVerdict(req JudgeRequest) *Verdict {
	v := &Verdict{
		UserCorrect: answersMatch(req.UserAnswer, req.Expected),
	}
	for _, a := range req.AIAnswers {
		v.Models = append(v.Models, ModelVerdict{
			Model:   a.Model,
			Answer:  a.Answer,
			TimeMs:  a.TimeMs,
			Correct: answersMatch(a.Answer, req.Expected),
		})
	}
	v.Winner = winner(v, req.UserTimeMs)
	return v
}

// winner applies the round rule: when both sides are correct the user wins by
// beating at least one correct model on time, otherwise the round is a tie. A
// one-sided round goes to whoever was correct; nobody correct is a tie.
func winner(v *Verdict, userTimeMs int64) string {
	anyAI := false
	fasterThanOne := false
	for _, m := range v.Models {
		if !m.Correct {
			continue
		}
		anyAI = true
		if userTimeMs < m.TimeMs {
			fasterThanOne = true
		}
	}

	switch {
	case v.UserCorrect && anyAI:
		if fasterThanOne {
			return WinnerUser
		}
		return WinnerTie
	case v.UserCorrect:
		return WinnerUser
	case anyAI:
		return WinnerAI
	default:
		return WinnerTie
	}
}

func answersMatch(a, b string) bool {
	return strings.ToLower(strings.TrimSpace(a)) == strings.ToLower(strings.TrimSpace(b))
}

var jsonBlob = regexp.MustCompile(`(?s)\{.*\}`)

// unmarshalBlob pulls the outermost JSON object out of a possibly chatty
// completion and unmarshals it.
func unmarshalBlob(text string, out any) error {
	blob := jsonBlob.FindString(text)
	if blob == "" {
		return fmt.Errorf("no JSON object in reply")
	}
	if err := json.Unmarshal([]byte(blob), out); err != nil {
		return fmt.Errorf("decode judge JSON: %w", err)
	}
	return nil
}
