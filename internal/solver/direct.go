package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// The compound and gpt-oss models need request fields the OpenAI-compatible
// client does not model (Groq's compound_custom tool block, unset temperature
// for reasoning models), and the responses endpoint has its own shape
// entirely. Both go over plain HTTP here.

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type compoundTools struct {
	Tools struct {
		EnabledTools []string `json:"enabled_tools"`
	} `json:"tools"`
}

type directChatRequest struct {
	Model               string         `json:"model"`
	Messages            []chatMessage  `json:"messages"`
	Temperature         *float32       `json:"temperature,omitempty"`
	MaxCompletionTokens int            `json:"max_completion_tokens"`
	CompoundCustom      *compoundTools `json:"compound_custom,omitempty"`
}

type directChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type directOpts struct {
	temperature    float32
	hasTemperature bool
	maxTokens      int
}

// chatDirect is the grading convention for compound and gpt-oss models.
func (s *Service) chatDirect(ctx context.Context, mc ModelConfig, system, prompt string) (string, error) {
	opts := directOpts{maxTokens: maxTokens(mc)}
	if !mc.Reasoning {
		// Reasoning models reject an explicit temperature.
		opts.temperature = 0
		opts.hasTemperature = true
	}
	return s.chatDirectOpts(ctx, mc, system, prompt, opts)
}

func (s *Service) chatDirectOpts(ctx context.Context, mc ModelConfig, system, prompt string, opts directOpts) (string, error) {
	body := directChatRequest{
		Model: mc.ModelID,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		MaxCompletionTokens: opts.maxTokens,
	}
	if opts.hasTemperature {
		t := opts.temperature
		body.Temperature = &t
	}
	if mc.Compound && !mc.Reasoning {
		cc := &compoundTools{}
		cc.Tools.EnabledTools = []string{"web_search", "code_interpreter", "visit_website"}
		body.CompoundCustom = cc
	}

	var resp directChatResponse
	if err := s.postJSON(ctx, s.c.GroqBaseURL+"/chat/completions", s.c.GroqAPIKey, body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completions: no choices")
	}

	return resp.Choices[0].Message.Content, nil
}

type responsesRequest struct {
	Model     string `json:"model"`
	Input     string `json:"input"`
	Reasoning *struct {
		Effort string `json:"effort"`
	} `json:"reasoning,omitempty"`
}

type responsesResponse struct {
	Output struct {
		Text string `json:"text"`
	} `json:"output"`
}

// responses calls OpenAI's responses endpoint with low reasoning effort.
// gpt-4o predates the reasoning parameter and rejects it.
func (s *Service) responses(ctx context.Context, mc ModelConfig, prompt string) (string, error) {
	body := responsesRequest{
		Model: mc.ModelID,
		Input: prompt,
	}
	if mc.ModelID != "gpt-4o" {
		body.Reasoning = &struct {
			Effort string `json:"effort"`
		}{Effort: "low"}
	}

	var resp responsesResponse
	if err := s.postJSON(ctx, s.c.OpenAIBaseURL+"/responses", s.c.OpenAIAPIKey, body, &resp); err != nil {
		return "", err
	}

	return resp.Output.Text, nil
}

func (s *Service) postJSON(ctx context.Context, url, apiKey string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post %s: status %d: %s", url, resp.StatusCode, msg)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
