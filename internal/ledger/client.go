// Package ledger talks to the settlement service that moves dispute bonds,
// challenger rewards, and treasury fees.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

// HTTPClient posts bond movements to the ledger service. Every operation is
// a single POST; the ledger is the source of truth for balances, so failures
// must surface to the caller rather than being retried blindly.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

type movementRequest struct {
	AccountID string  `json:"account_id,omitempty"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
}

func (c *HTTPClient) post(ctx context.Context, path string, req movementRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode ledger request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build ledger request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ledger request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("ledger %s returned status %d", path, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) HoldBond(ctx context.Context, accountID string, amount float64, currency string) error {
	return c.post(ctx, "/v1/bonds/hold", movementRequest{AccountID: accountID, Amount: amount, Currency: currency})
}

func (c *HTTPClient) ReleaseBond(ctx context.Context, accountID string, amount float64, currency string) error {
	return c.post(ctx, "/v1/bonds/release", movementRequest{AccountID: accountID, Amount: amount, Currency: currency})
}

func (c *HTTPClient) PayReward(ctx context.Context, accountID string, amount float64, currency string) error {
	return c.post(ctx, "/v1/rewards", movementRequest{AccountID: accountID, Amount: amount, Currency: currency})
}

func (c *HTTPClient) TreasuryDeposit(ctx context.Context, amount float64, currency string) error {
	return c.post(ctx, "/v1/treasury/deposits", movementRequest{Amount: amount, Currency: currency})
}

// NoopClient records movements in the log only. Used when no ledger service
// is configured (local development).
type NoopClient struct {
	logger *zap.Logger
}

func NewNoopClient(logger *zap.Logger) *NoopClient {
	return &NoopClient{logger: logger}
}

func (c *NoopClient) HoldBond(ctx context.Context, accountID string, amount float64, currency string) error {
	c.logger.Info("ledger noop: hold bond", zap.String("account", accountID), zap.Float64("amount", amount), zap.String("currency", currency))
	return nil
}

func (c *NoopClient) ReleaseBond(ctx context.Context, accountID string, amount float64, currency string) error {
	c.logger.Info("ledger noop: release bond", zap.String("account", accountID), zap.Float64("amount", amount), zap.String("currency", currency))
	return nil
}

func (c *NoopClient) PayReward(ctx context.Context, accountID string, amount float64, currency string) error {
	c.logger.Info("ledger noop: pay reward", zap.String("account", accountID), zap.Float64("amount", amount), zap.String("currency", currency))
	return nil
}

func (c *NoopClient) TreasuryDeposit(ctx context.Context, amount float64, currency string) error {
	c.logger.Info("ledger noop: treasury deposit", zap.Float64("amount", amount), zap.String("currency", currency))
	return nil
}
