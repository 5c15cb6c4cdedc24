// Package llm produces advisory score suggestions for free-text answers.
// A suggestion never writes a score anywhere; the trainer remains the only
// source of free-text grades.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/formedic/examproctor/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// Suggestion is the LLM's advisory assessment of one free-text answer.
type Suggestion struct {
	Score     float64 `json:"score"`
	MaxScore  float64 `json:"max_score"`
	Rationale string  `json:"rationale"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new LLM client. An empty baseURL uses the default OpenAI
// endpoint.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// SuggestScore asks the LLM to assess a free-text answer against the
// question's grading guidelines. Only free-text questions are eligible;
// choice questions are scored deterministically and need no suggestion.
func (c *Client) SuggestScore(ctx context.Context, q model.Question, a model.Answer) (*Suggestion, error) {
	if q.Type != model.FreeText {
		return nil, fmt.Errorf("question %s is %s, suggestions apply to free text only", q.ID, q.Type)
	}
	if a.IsEmpty() {
		return &Suggestion{Score: 0, MaxScore: q.MaxScore, Rationale: "No answer was given."}, nil
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildSuggestPrompt(q)},
			{Role: openai.ChatMessageRoleUser, Content: a.Text},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM suggestion response", "question_id", q.ID, "raw", raw)

	var s Suggestion
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}

	// Clamp rather than reject: the suggestion is advisory anyway.
	if s.Score < 0 {
		s.Score = 0
	}
	if s.Score > q.MaxScore {
		s.Score = q.MaxScore
	}
	s.MaxScore = q.MaxScore
	return &s, nil
}

func buildSuggestPrompt(q model.Question) string {
	var sb strings.Builder
	sb.WriteString("You assist a medical trainer in grading a trainee's free-text exam answer. ")
	sb.WriteString("Your score is a suggestion only; the trainer decides the final grade.\n\n")
	sb.WriteString("QUESTION: " + q.Prompt + "\n\n")
	sb.WriteString(fmt.Sprintf("MAX SCORE: %g\n\n", q.MaxScore))

	if len(q.Guidelines) > 0 {
		sb.WriteString("GRADING GUIDELINES:\n")
		for _, g := range q.Guidelines {
			sb.WriteString("- " + g + "\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Assess the trainee's answer for correctness and completeness.\n")
	sb.WriteString("Respond ONLY with a JSON object:\n")
	sb.WriteString(`{"score": <number 0 to max score>, "max_score": <max score>, "rationale": "<one or two sentences>"}`)
	sb.WriteString("\n")

	return sb.String()
}
