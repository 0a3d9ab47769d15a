package agent

import (
	"fmt"

	"github.com/arbiterhq/arbiter/internal/domain"
)

// Provider constants
const (
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// NewAssessmentClient creates an assessment client based on the provider name.
// Returns an error if the provider is unknown or the API key is empty (except for mock).
func NewAssessmentClient(provider, apiKey, model string) (domain.AssessmentClient, error) {
	switch provider {
	case ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for OpenAI provider")
		}
		return NewOpenAIClient(apiKey, model), nil

	case ProviderMock:
		return NewMockAssessmentClient(), nil

	default:
		return nil, fmt.Errorf("unknown assessment provider: %s (valid options: openai, mock)", provider)
	}
}
