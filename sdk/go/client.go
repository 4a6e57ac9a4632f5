// Package updocksdk is a minimal client for the updock HTTP API.
package updocksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal updock HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Intent represents the API intent model.
type Intent struct {
	ID          string   `json:"id"`
	Description string   `json:"description,omitempty"`
	Enabled     bool     `json:"enabled"`
	Criteria    Criteria `json:"criteria"`
	CreatedAt   string   `json:"created_at"`
}

// Criteria is the intent's matching rule; exactly one variant is populated.
type Criteria struct {
	Kind          string `json:"kind"`
	ImageRepo     string `json:"image_repo,omitempty"`
	StackName     string `json:"stack_name,omitempty"`
	ServiceName   string `json:"service_name,omitempty"`
	ContainerName string `json:"container_name,omitempty"`
}

// MatchResult is the outcome of a dry-run evaluation.
type MatchResult struct {
	IntentID         string             `json:"intent_id"`
	MatchedCount     int                `json:"matched_count"`
	WithUpdatesCount int                `json:"with_updates_count"`
	Matches          []MatchedContainer `json:"matched_containers"`
}

type MatchedContainer struct {
	ContainerID     string `json:"container_id"`
	Name            string `json:"name"`
	ImageRepo       string `json:"image_repo"`
	EndpointName    string `json:"endpoint_name"`
	HasUpdate       bool   `json:"has_update"`
	UpdateAvailable string `json:"update_available,omitempty"`
}

// UpgradeRecord is one ledger row.
type UpgradeRecord struct {
	ID            string `json:"id"`
	ContainerID   string `json:"container_id"`
	ContainerName string `json:"container_name"`
	EndpointName  string `json:"endpoint_name"`
	OldImage      string `json:"old_image,omitempty"`
	OldVersion    string `json:"old_version,omitempty"`
	NewImage      string `json:"new_image,omitempty"`
	NewVersion    string `json:"new_version,omitempty"`
	Status        string `json:"status"`
	StartedAt     string `json:"started_at"`
	EndedAt       string `json:"ended_at"`
	DurationMs    int64  `json:"duration_ms"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateIntentRequest selects a criteria variant by which field is set.
type CreateIntentRequest struct {
	ImageRepo     *string `json:"image_repo,omitempty"`
	StackName     *string `json:"stack_name,omitempty"`
	ServiceName   *string `json:"service_name,omitempty"`
	ContainerName *string `json:"container_name,omitempty"`
	Description   *string `json:"description,omitempty"`
	Enabled       *bool   `json:"enabled,omitempty"`
}

// CreateIntent submits a new intent.
func (c *Client) CreateIntent(ctx context.Context, req CreateIntentRequest) (Intent, error) {
	var resp Intent
	err := c.do(ctx, http.MethodPost, "intents", req, &resp)
	return resp, err
}

// ListIntents returns all intents in creation order.
func (c *Client) ListIntents(ctx context.Context) ([]Intent, error) {
	var resp struct {
		Intents []Intent `json:"intents"`
	}
	err := c.do(ctx, http.MethodGet, "intents", nil, &resp)
	return resp.Intents, err
}

// TestMatch runs a dry-run evaluation without side effects.
func (c *Client) TestMatch(ctx context.Context, intentID string) (MatchResult, error) {
	var resp MatchResult
	endpoint := fmt.Sprintf("intents/%s/test-match", url.PathEscape(intentID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// EnableIntent turns the intent on and returns its updated state.
func (c *Client) EnableIntent(ctx context.Context, intentID string) (Intent, error) {
	var resp Intent
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("intents/%s/enable", url.PathEscape(intentID)), nil, &resp)
	return resp, err
}

// DisableIntent turns the intent off and returns its updated state.
func (c *Client) DisableIntent(ctx context.Context, intentID string) (Intent, error) {
	var resp Intent
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("intents/%s/disable", url.PathEscape(intentID)), nil, &resp)
	return resp, err
}

// DeleteIntent removes the intent permanently.
func (c *Client) DeleteIntent(ctx context.Context, intentID string) error {
	return c.do(ctx, http.MethodDelete, "intents/"+url.PathEscape(intentID), nil, nil)
}

// HistoryQuery narrows a ledger listing.
type HistoryQuery struct {
	Limit         int
	Offset        int
	ContainerName string
	Status        string
}

// UpgradeHistory lists ledger records in insertion order.
func (c *Client) UpgradeHistory(ctx context.Context, q HistoryQuery) ([]UpgradeRecord, error) {
	params := url.Values{}
	if q.Limit > 0 {
		params.Set("limit", fmt.Sprint(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", fmt.Sprint(q.Offset))
	}
	if q.ContainerName != "" {
		params.Set("containerName", q.ContainerName)
	}
	if q.Status != "" {
		params.Set("status", q.Status)
	}
	endpoint := "upgrade-history"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp struct {
		History []UpgradeRecord `json:"history"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.History, err
}

// UpgradeRecordByID fetches one ledger record.
func (c *Client) UpgradeRecordByID(ctx context.Context, id string) (UpgradeRecord, error) {
	var resp UpgradeRecord
	err := c.do(ctx, http.MethodGet, "upgrade-history/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Stats returns the aggregate statistics object as raw JSON-decoded data.
func (c *Client) Stats(ctx context.Context) (map[string]any, error) {
	var resp map[string]any
	err := c.do(ctx, http.MethodGet, "upgrade-history/stats", nil, &resp)
	return resp, err
}

// RunPass triggers one evaluation pass.
func (c *Client) RunPass(ctx context.Context) (map[string]any, error) {
	var resp map[string]any
	err := c.do(ctx, http.MethodPost, "run", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
