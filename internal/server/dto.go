package server

import (
	"gtmq/internal/domain"
)

type IngestRequest struct {
	Source     string         `json:"source,omitempty" enum:"crm,email,calendar,manual,social"`
	EventType  string         `json:"event_type"`
	EntityID   string         `json:"entity_id"`
	DetectedAt string         `json:"detected_at,omitempty" format:"date-time"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type IngestResponse struct {
	Signal    domain.Signal    `json:"signal"`
	Item      domain.QueueItem `json:"queue_item"`
	Duplicate bool             `json:"duplicate"`
}

type SnoozeRequest struct {
	Until string `json:"until" format:"date-time"`
}

type ExecuteRequest struct {
	Context        map[string]any `json:"context,omitempty"`
	DryRun         bool           `json:"dry_run,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

type RollbackRequest struct {
	Token string `json:"token"`
}

type RollbackResponse struct {
	RolledBack bool `json:"rolled_back"`
}

type KillSwitchRequest struct {
	Active bool   `json:"active"`
	Reason string `json:"reason,omitempty"`
}

type GuardStatusResponse struct {
	KillSwitchActive bool               `json:"kill_switch_active"`
	Reason           string             `json:"reason,omitempty"`
	RateBuckets      map[string]float64 `json:"rate_buckets,omitempty"`
}

type QueueStatusResponse struct {
	Queue       string         `json:"queue"`
	ItemCounts  map[string]int `json:"item_counts"`
	ActionTypes []string       `json:"action_types"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type CreateAPIKeyResponse struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	// Key is returned exactly once at creation; only its hash is stored.
	Key string `json:"key"`
}
