// Package accounts is the client for the internal account-service API. All
// calls are service-to-service, authenticated with a shared internal key
// rather than an end-user token.
package accounts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// ErrServiceUnavailable marks transport-level failures talking to the
// account service. It is distinct from a user simply not existing.
var ErrServiceUnavailable = errors.New("accounts: service unavailable")

// BankingDetails are the account identifiers and balance of one user.
type BankingDetails struct {
	Agency      string  `json:"agency"`
	Account     string  `json:"account"`
	AccountType string  `json:"accountType"`
	Balance     float64 `json:"balance"`
}

// UserBankingInfo is the read-only projection the account service exposes.
type UserBankingInfo struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Email          string         `json:"email"`
	BankingDetails BankingDetails `json:"bankingDetails"`
}

// Client is the account-service contract the transfer flow depends on.
// GetBankingInfo returns (nil, nil) when the user does not exist.
type Client interface {
	GetBankingInfo(ctx context.Context, userID string) (*UserBankingInfo, error)
	Withdraw(ctx context.Context, userID string, amount float64) error
	Deposit(ctx context.Context, userID string, amount float64) error
}

// Config holds account-service client settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPClient is the production Client implementation.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates an account-service client.
func NewHTTPClient(cfg Config) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type userEnvelope struct {
	Success bool            `json:"success"`
	Data    UserBankingInfo `json:"data"`
	Error   string          `json:"error"`
}

type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

type amountBody struct {
	Amount float64 `json:"amount"`
}

// GetBankingInfo fetches one user's banking projection.
func (c *HTTPClient) GetBankingInfo(ctx context.Context, userID string) (*UserBankingInfo, error) {
	url := fmt.Sprintf("%s/api/internal/users/%s", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("accounts: build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrServiceUnavailable, resp.StatusCode)
	}

	var envelope userEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrServiceUnavailable, err)
	}
	if !envelope.Success {
		return nil, nil
	}
	return &envelope.Data, nil
}

// Withdraw debits a user's balance. The account service re-validates the
// balance server-side; an insufficient-funds rejection surfaces here as an
// ordinary error.
func (c *HTTPClient) Withdraw(ctx context.Context, userID string, amount float64) error {
	return c.postAmount(ctx, userID, "withdraw", amount)
}

// Deposit credits a user's balance.
func (c *HTTPClient) Deposit(ctx context.Context, userID string, amount float64) error {
	return c.postAmount(ctx, userID, "deposit", amount)
}

func (c *HTTPClient) postAmount(ctx context.Context, userID, operation string, amount float64) error {
	body, err := json.Marshal(amountBody{Amount: amount})
	if err != nil {
		return fmt.Errorf("accounts: marshal body: %w", err)
	}

	url := fmt.Sprintf("%s/api/internal/users/%s/%s", c.baseURL, userID, operation)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("accounts: build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("accounts: %s for user %s: %w", operation, userID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var envelope errorEnvelope
	if decodeErr := json.NewDecoder(resp.Body).Decode(&envelope); decodeErr == nil && envelope.Error != "" {
		return fmt.Errorf("accounts: %s rejected for user %s: %s", operation, userID, envelope.Error)
	}
	return fmt.Errorf("accounts: %s failed for user %s: status %d", operation, userID, resp.StatusCode)
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Api-Key", c.apiKey)
	otel.GetTextMapPropagator().Inject(req.Context(), propagation.HeaderCarrier(req.Header))
}
