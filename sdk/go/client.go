package gtmqsdk

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

// Client is a minimal gtmq HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
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

// Signal represents the API signal model.
type Signal struct {
	ID         string `json:"id"`
	Source     string `json:"source"`
	EventType  string `json:"event_type"`
	EntityID   string `json:"entity_id"`
	DetectedAt string `json:"detected_at"`
	DedupKey   string `json:"dedup_key"`
	Processed  bool   `json:"processed"`
}

// Driver records one scoring factor's contribution.
type Driver struct {
	Subscore float64 `json:"subscore"`
	Weight   float64 `json:"weight"`
	Reason   string  `json:"reason"`
}

// QueueItem represents the API queue item model.
type QueueItem struct {
	ID            string            `json:"id"`
	Title         string            `json:"title"`
	Description   string            `json:"description,omitempty"`
	ActionType    string            `json:"action_type"`
	Status        string            `json:"status"`
	PriorityScore float64           `json:"priority_score"`
	Drivers       map[string]Driver `json:"drivers,omitempty"`
	SnoozeUntil   *string           `json:"snooze_until,omitempty"`
	CreatedAt     string            `json:"created_at"`
	UpdatedAt     string            `json:"updated_at"`
}

// IngestResult is the ingestion response.
type IngestResult struct {
	Signal    Signal    `json:"signal"`
	Item      QueueItem `json:"queue_item"`
	Duplicate bool      `json:"duplicate"`
}

// ActionResult is the execution response.
type ActionResult struct {
	Success         bool    `json:"success"`
	Status          string  `json:"status"`
	ExternalRef     string  `json:"external_ref,omitempty"`
	RollbackToken   string  `json:"rollback_token,omitempty"`
	Message         string  `json:"message,omitempty"`
	CooldownSeconds float64 `json:"cooldown_seconds,omitempty"`
}

// AuditEvent is one entry of the append-only log.
type AuditEvent struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts"`
	Actor    string `json:"actor"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Status   string `json:"status"`
	Details  string `json:"details_json,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Ingest submits a raw event.
func (c *Client) Ingest(ctx context.Context, source, eventType, entityID string, payload map[string]any) (IngestResult, error) {
	body := map[string]any{
		"source":     source,
		"event_type": eventType,
		"entity_id":  entityID,
		"payload":    payload,
	}
	var resp IngestResult
	err := c.do(ctx, http.MethodPost, "v0/signals", body, &resp)
	return resp, err
}

// Queue lists queue items by priority, optionally filtered by status.
func (c *Client) Queue(ctx context.Context, status string, limit int) ([]QueueItem, error) {
	endpoint := "v0/queue"
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprint(limit))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []QueueItem
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetItem fetches one queue item.
func (c *Client) GetItem(ctx context.Context, id string) (QueueItem, error) {
	var resp QueueItem
	err := c.do(ctx, http.MethodGet, "v0/queue/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Accept transitions an item to accepted.
func (c *Client) Accept(ctx context.Context, id string) (QueueItem, error) {
	var resp QueueItem
	err := c.do(ctx, http.MethodPost, "v0/queue/"+url.PathEscape(id)+"/accept", nil, &resp)
	return resp, err
}

// Dismiss transitions an item to dismissed.
func (c *Client) Dismiss(ctx context.Context, id string) (QueueItem, error) {
	var resp QueueItem
	err := c.do(ctx, http.MethodPost, "v0/queue/"+url.PathEscape(id)+"/dismiss", nil, &resp)
	return resp, err
}

// Snooze hides an item until the wake time.
func (c *Client) Snooze(ctx context.Context, id string, until time.Time) (QueueItem, error) {
	body := map[string]any{"until": until.UTC().Format(time.RFC3339)}
	var resp QueueItem
	err := c.do(ctx, http.MethodPost, "v0/queue/"+url.PathEscape(id)+"/snooze", body, &resp)
	return resp, err
}

// ExecuteOptions tune one execution request.
type ExecuteOptions struct {
	Context        map[string]any
	DryRun         bool
	IdempotencyKey string
}

// Execute runs the item's recommended action through the guard stack.
func (c *Client) Execute(ctx context.Context, id string, opts ExecuteOptions) (ActionResult, error) {
	body := map[string]any{
		"context": opts.Context,
		"dry_run": opts.DryRun,
	}
	if opts.IdempotencyKey != "" {
		body["idempotency_key"] = opts.IdempotencyKey
	}
	var resp ActionResult
	err := c.do(ctx, http.MethodPost, "v0/queue/"+url.PathEscape(id)+"/execute", body, &resp)
	return resp, err
}

// Rollback redeems a rollback token, reporting whether the inverse
// operation ran.
func (c *Client) Rollback(ctx context.Context, token string) (bool, error) {
	var resp struct {
		RolledBack bool `json:"rolled_back"`
	}
	err := c.do(ctx, http.MethodPost, "v0/rollback", map[string]any{"token": token}, &resp)
	return resp.RolledBack, err
}

// Audit returns recent audit events newest-first.
func (c *Client) Audit(ctx context.Context, limit int) ([]AuditEvent, error) {
	endpoint := "v0/audit"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []AuditEvent
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
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
