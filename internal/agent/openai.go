package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/arbiterhq/arbiter/internal/domain"
)

const (
	defaultAssessModel  = openai.GPT4oMini
	assessTemperature   = 0.2
	explainTemperature  = 0.3
	assessMaxTokens     = 1024
	openAIClientTimeout = 30 * time.Second
)

var jsonObjectRe = regexp.MustCompile(`\{[\s\S]*\}`)

const assessSystemPrompt = `You are an expert fact-checking analyst for a prediction market oracle.
Given a market question and evidence, determine the most likely outcome.
Respond with ONLY a JSON object in this exact format:
{"outcome": "YES|NO|UNCERTAIN", "probability": 0.85, "confidence_interval": [0.75, 0.95], "reasoning": "brief explanation"}`

const explainSystemPrompt = `You are an oracle explaining a prediction market resolution to traders.
Write a clear 2-3 paragraph explanation. State the outcome plainly, cite the strongest
evidence, and acknowledge any uncertainty. Be objective and factual.`

// OpenAIClient produces structured assessments via chat completions.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

var _ domain.AssessmentClient = (*OpenAIClient)(nil)

func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	if model == "" {
		model = defaultAssessModel
	}
	cfg := openai.DefaultConfig(apiKey)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (c *OpenAIClient) Assess(ctx context.Context, prompt string) (*domain.Assessment, error) {
	ctx, cancel := context.WithTimeout(ctx, openAIClientTimeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: assessSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: assessTemperature,
		MaxTokens:   assessMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	assessment, err := parseAssessment(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	assessment.Model = c.model
	return assessment, nil
}

func (c *OpenAIClient) Explain(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, openAIClientTimeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: explainSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: explainTemperature,
		MaxTokens:   assessMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// parseAssessment extracts the first JSON object from a model response and
// validates it. Models occasionally wrap JSON in prose or code fences.
func parseAssessment(text string) (*domain.Assessment, error) {
	raw := jsonObjectRe.FindString(text)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in model response")
	}

	var a domain.Assessment
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("parse assessment: %w", err)
	}
	if !domain.ValidOutcome(string(a.Outcome)) {
		a.Outcome = domain.OutcomeUncertain
	}
	if a.Probability < 0 {
		a.Probability = 0
	}
	if a.Probability > 1 {
		a.Probability = 1
	}
	if a.ConfidenceInterval == [2]float64{} {
		a.ConfidenceInterval = [2]float64{0.3, 0.7}
	}
	return &a, nil
}
