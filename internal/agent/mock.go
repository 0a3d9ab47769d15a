package agent

import (
	"context"
	"sync"

	"github.com/arbiterhq/arbiter/internal/domain"
)

// MockAssessmentClient is a configurable assessment client for testing.
// Set the response fields to control what each method returns. The ensemble
// fans assessments out concurrently against a shared client, so all field
// access goes through the mutex.
type MockAssessmentClient struct {
	mu sync.Mutex

	AssessResponse  *domain.Assessment
	AssessError     error
	ExplainResponse string
	ExplainError    error

	// Call tracking for assertions
	AssessCalls  []string
	ExplainCalls []string
}

var _ domain.AssessmentClient = (*MockAssessmentClient)(nil)

func NewMockAssessmentClient() *MockAssessmentClient {
	return &MockAssessmentClient{
		AssessResponse: &domain.Assessment{
			Outcome:            domain.OutcomeUncertain,
			Probability:        0.5,
			ConfidenceInterval: [2]float64{0.3, 0.7},
			Reasoning:          "Mock assessment",
			Model:              "mock",
		},
		ExplainResponse: "Mock explanation",
	}
}

func (c *MockAssessmentClient) Assess(ctx context.Context, prompt string) (*domain.Assessment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.AssessCalls = append(c.AssessCalls, prompt)
	if c.AssessError != nil {
		return nil, c.AssessError
	}
	out := *c.AssessResponse
	return &out, nil
}

func (c *MockAssessmentClient) Explain(ctx context.Context, prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ExplainCalls = append(c.ExplainCalls, prompt)
	if c.ExplainError != nil {
		return "", c.ExplainError
	}
	return c.ExplainResponse, nil
}

// AssessCallCount returns how many assessments were requested so far.
func (c *MockAssessmentClient) AssessCallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.AssessCalls)
}

// Reset clears all recorded calls and resets responses to defaults.
func (c *MockAssessmentClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.AssessResponse = &domain.Assessment{
		Outcome:            domain.OutcomeUncertain,
		Probability:        0.5,
		ConfidenceInterval: [2]float64{0.3, 0.7},
		Reasoning:          "Mock assessment",
		Model:              "mock",
	}
	c.AssessError = nil
	c.ExplainResponse = "Mock explanation"
	c.ExplainError = nil
	c.AssessCalls = nil
	c.ExplainCalls = nil
}
