// Package collab implements the outbound HTTP clients for the external
// accounting collaborators. Reward credits and risk-session updates are
// posted as JSON to a collaborator service; the bridge never interprets the
// responses beyond success or failure.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kestrelfx/sigbridge/internal/domain"
)

// Client talks to the collaborator service. One instance implements both the
// reward and risk accounting contracts.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

var (
	_ domain.RewardAccounting = (*Client)(nil)
	_ domain.RiskAccounting   = (*Client)(nil)
)

// NewClient creates a Client for the collaborator service at baseURL. token
// is sent as a bearer token when non-empty. timeout bounds each request; zero
// means 10 seconds.
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("component", "collab")),
	}
}

// AwardReward credits one closed trade. The collaborator deduplicates on
// ticket, but the reconciler already guarantees at-most-once delivery here.
func (c *Client) AwardReward(ctx context.Context, correlationID, ticket string, outcome domain.TradeOutcome, pnl float64) error {
	payload := map[string]any{
		"correlation_id": correlationID,
		"ticket":         ticket,
		"outcome":        string(outcome),
		"pnl":            pnl,
	}
	return c.post(ctx, "/rewards", payload)
}

// UpdateRiskSession reports a realized P/L delta for an account.
func (c *Client) UpdateRiskSession(ctx context.Context, accountID string, pnlDelta float64) error {
	payload := map[string]any{
		"account_id": accountID,
		"pnl_delta":  pnlDelta,
	}
	return c.post(ctx, "/risk/sessions", payload)
}

// AccountSnapshot forwards a raw balance/equity/margin reading.
func (c *Client) AccountSnapshot(ctx context.Context, accountID string, balance, equity, margin float64) error {
	payload := map[string]any{
		"account_id": accountID,
		"balance":    balance,
		"equity":     equity,
		"margin":     margin,
	}
	return c.post(ctx, "/risk/snapshots", payload)
}

func (c *Client) post(ctx context.Context, path string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("collab: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("collab: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("collab: post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("collab: post %s: unexpected status %d: %s", path, resp.StatusCode, string(respBody))
	}

	c.logger.DebugContext(ctx, "collaborator call succeeded", slog.String("path", path))
	return nil
}
