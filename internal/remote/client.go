package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is an HTTP client for the campaign service API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new campaign service client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// request performs an HTTP request to the campaign service API.
func (c *Client) request(ctx context.Context, method, path string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("API error: %s", errResp.Error)
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// action performs a pause/resume/stop style command.
func (c *Client) action(ctx context.Context, path string) error {
	var resp ActionResponse
	if err := c.request(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("campaign service: %s", resp.Error)
	}
	return nil
}

// Health checks service health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.request(ctx, http.MethodGet, "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateAndStart creates a campaign and starts sending it.
func (c *Client) CreateAndStart(ctx context.Context, req *CreateCampaignRequest) (*CreateCampaignResponse, error) {
	var resp CreateCampaignResponse
	if err := c.request(ctx, http.MethodPost, "/api/v1/campaigns", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pause pauses a running campaign.
func (c *Client) Pause(ctx context.Context, campaignID string) error {
	return c.action(ctx, "/api/v1/campaigns/"+url.PathEscape(campaignID)+"/pause")
}

// Resume resumes a paused campaign.
func (c *Client) Resume(ctx context.Context, campaignID string) error {
	return c.action(ctx, "/api/v1/campaigns/"+url.PathEscape(campaignID)+"/resume")
}

// Stop halts a campaign without deleting its records.
func (c *Client) Stop(ctx context.Context, campaignID string) error {
	return c.action(ctx, "/api/v1/campaigns/"+url.PathEscape(campaignID)+"/stop")
}

// GetStatus fetches the authoritative campaign status.
func (c *Client) GetStatus(ctx context.Context, campaignID string) (*CampaignStatus, error) {
	var resp CampaignStatus
	if err := c.request(ctx, http.MethodGet, "/api/v1/campaigns/"+url.PathEscape(campaignID)+"/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetActiveForAccount returns the account's running or paused campaign,
// or nil when there is none.
func (c *Client) GetActiveForAccount(ctx context.Context, accountID string) (*CampaignSnapshot, error) {
	var resp ActiveCampaignResponse
	path := "/api/v1/campaigns/active?account_id=" + url.QueryEscape(accountID)
	if err := c.request(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Campaign, nil
}

// DeleteCampaign removes a campaign and its recipient records.
func (c *Client) DeleteCampaign(ctx context.Context, campaignID string) error {
	return c.request(ctx, http.MethodDelete, "/api/v1/campaigns/"+url.PathEscape(campaignID), nil, nil)
}

// TriggerWorker nudges the remote worker to advance the send queue.
func (c *Client) TriggerWorker(ctx context.Context) error {
	var resp TriggerResponse
	return c.request(ctx, http.MethodPost, "/api/v1/worker/trigger", nil, &resp)
}
