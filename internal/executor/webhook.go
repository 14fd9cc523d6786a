package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"gtmq/internal/config"
	"gtmq/internal/domain"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookHandler dispatches an action to a configured HTTP endpoint. The
// collaborator behind the endpoint owns the domain side effect; this core
// only relays the opaque context payload.
//
// Response contract: 2xx with {"external_ref": "...", "rollback_token": "..."}.
// 408/429/5xx are transient, other 4xx permanent.
type WebhookHandler struct {
	ActionType string
	Endpoint   string
	UndoSuffix string
	Reversible bool
	Client     *http.Client
}

func NewWebhookHandler(actionType string, hc config.HandlerConfig) *WebhookHandler {
	suffix := hc.UndoSuffix
	if suffix == "" {
		suffix = "/undo"
	}
	return &WebhookHandler{
		ActionType: actionType,
		Endpoint:   hc.Endpoint,
		UndoSuffix: suffix,
		Reversible: hc.Reversible,
		Client:     &http.Client{Timeout: defaultWebhookTimeout},
	}
}

type webhookRequest struct {
	QueueItemID string         `json:"queue_item_id"`
	ActionType  string         `json:"action_type"`
	Context     map[string]any `json:"context,omitempty"`
}

type webhookResponse struct {
	ExternalRef   string `json:"external_ref"`
	RollbackToken string `json:"rollback_token,omitempty"`
}

func (h *WebhookHandler) Handle(ctx context.Context, item domain.QueueItem, actionCtx map[string]any) (Outcome, error) {
	payload, err := json.Marshal(webhookRequest{
		QueueItemID: item.ID,
		ActionType:  h.ActionType,
		Context:     actionCtx,
	})
	if err != nil {
		return Outcome{}, Permanent(fmt.Errorf("marshal webhook payload: %w", err))
	}
	body, err := h.post(ctx, h.Endpoint, payload)
	if err != nil {
		return Outcome{}, err
	}
	var resp webhookResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Outcome{}, Permanent(fmt.Errorf("decode webhook response: %w", err))
	}
	if resp.ExternalRef == "" {
		return Outcome{}, Permanent(fmt.Errorf("webhook response missing external_ref"))
	}
	out := Outcome{ExternalRef: resp.ExternalRef}
	if h.Reversible {
		out.RollbackToken = resp.RollbackToken
	}
	return out, nil
}

// Undo implements Reverser for reversible endpoints.
func (h *WebhookHandler) Undo(ctx context.Context, rollbackToken string) (bool, error) {
	if !h.Reversible {
		return false, nil
	}
	payload, err := json.Marshal(map[string]string{"rollback_token": rollbackToken})
	if err != nil {
		return false, err
	}
	if _, err := h.post(ctx, h.Endpoint+h.UndoSuffix, payload); err != nil {
		return false, err
	}
	return true, nil
}

func (h *WebhookHandler) post(ctx context.Context, url string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := h.Client.Do(req)
	if err != nil {
		// Network errors and timeouts are recoverable.
		return nil, Transient(err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, Transient(err)
	}
	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return body, nil
	case res.StatusCode == http.StatusRequestTimeout || res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		return nil, Transient(fmt.Errorf("webhook %s: status %d", url, res.StatusCode))
	default:
		return nil, Permanent(fmt.Errorf("webhook %s: status %d", url, res.StatusCode))
	}
}

// RegistryFromConfig builds a handler registry from configured endpoints.
func RegistryFromConfig(cfg *config.Config) (*Registry, error) {
	reg := NewRegistry()
	for actionType, hc := range cfg.Handlers {
		if err := reg.Register(actionType, NewWebhookHandler(actionType, hc)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
