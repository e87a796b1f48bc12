// Package riskguard provides a Go client for the riskguard admin API.
package riskguard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Client talks to a running riskguard daemon.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the daemon at baseURL, e.g.
// "http://localhost:8090".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// AccountSummary is one row of the account list.
type AccountSummary struct {
	Account       string  `json:"account"`
	NetContracts  int     `json:"net_contracts"`
	RealizedPnL   float64 `json:"realized_pnl"`
	SessionTrades int     `json:"session_trades"`
	Locked        bool    `json:"locked"`
	Degraded      bool    `json:"degraded"`
}

// Lockout is an active trading lockout on one account.
type Lockout struct {
	Account    string    `json:"Account"`
	Reason     string    `json:"Reason"`
	Severity   int       `json:"Severity"`
	Expiry     time.Time `json:"Expiry"`
	UntilReset bool      `json:"UntilReset"`
	SetAt      time.Time `json:"SetAt"`
}

// SeverityName returns the lockout severity as a readable string.
func (l Lockout) SeverityName() string {
	switch l.Severity {
	case 1:
		return "cooldown"
	case 2:
		return "daily"
	case 3:
		return "hard"
	default:
		return fmt.Sprintf("%d", l.Severity)
	}
}

// AuditEntry is one record of the enforcement audit trail.
type AuditEntry struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Account string    `json:"account"`
	Event   string    `json:"event"`
	Rule    string    `json:"rule"`
	Reason  string    `json:"reason"`
	Action  string    `json:"action"`
	Outcome string    `json:"outcome"`
	Detail  string    `json:"detail"`
}

// Health checks the daemon's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	var out map[string]string
	return c.get(ctx, "/healthz", &out)
}

// Accounts lists every monitored account.
func (c *Client) Accounts(ctx context.Context) ([]AccountSummary, error) {
	var out []AccountSummary
	if err := c.get(ctx, "/api/accounts", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Account returns the full view of one account as raw JSON.
func (c *Client) Account(ctx context.Context, id string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.get(ctx, "/api/accounts/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Lockouts lists the currently active lockouts.
func (c *Client) Lockouts(ctx context.Context) ([]Lockout, error) {
	var out []Lockout
	if err := c.get(ctx, "/api/lockouts", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Audit returns up to limit recent audit entries, newest first.
func (c *Client) Audit(ctx context.Context, limit int) ([]AuditEntry, error) {
	var out []AuditEntry
	if err := c.get(ctx, fmt.Sprintf("/api/audit?limit=%d", limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("GET %s: %s", path, apiErr.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
