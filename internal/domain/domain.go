package domain

// RawEvent is what an external collector hands to ingestion. The collector
// has already translated its source payload into these fields.
type RawEvent struct {
	Source     string         `json:"source" enum:"crm,email,calendar,manual,social"`
	EventType  string         `json:"event_type"`
	EntityID   string         `json:"entity_id"`
	DetectedAt string         `json:"detected_at,omitempty" format:"date-time"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type Signal struct {
	ID          string `json:"id"`
	Source      string `json:"source" enum:"crm,email,calendar,manual,social"`
	EventType   string `json:"event_type"`
	EntityID    string `json:"entity_id"`
	DetectedAt  string `json:"detected_at" format:"date-time"`
	DedupKey    string `json:"dedup_key"`
	PayloadJSON string `json:"payload_json,omitempty"`
	Processed   bool   `json:"processed"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Driver records one scoring factor's contribution.
type Driver struct {
	Subscore float64 `json:"subscore"`
	Weight   float64 `json:"weight"`
	Reason   string  `json:"reason"`
}

type QueueItem struct {
	ID            string            `json:"id"`
	Title         string            `json:"title"`
	Description   string            `json:"description,omitempty"`
	ActionType    string            `json:"action_type" enum:"send-message,schedule-meeting,update-record,create-followup,custom"`
	Status        string            `json:"status" enum:"pending,accepted,dismissed,snoozed,executed"`
	PriorityScore float64           `json:"priority_score"`
	Drivers       map[string]Driver `json:"drivers,omitempty"`
	ContextJSON   string            `json:"context_json,omitempty"`
	SignalIDs     []string          `json:"signal_ids,omitempty"`
	SnoozeUntil   *string           `json:"snooze_until,omitempty" format:"date-time"`
	CreatedAt     string            `json:"created_at" format:"date-time"`
	UpdatedAt     string            `json:"updated_at" format:"date-time"`
	CompletedAt   *string           `json:"completed_at,omitempty" format:"date-time"`
}

// ActionRequest is the execution envelope handed to the executor.
type ActionRequest struct {
	QueueItemID    string         `json:"queue_item_id"`
	ActionType     string         `json:"action_type" enum:"send-message,schedule-meeting,update-record,create-followup,custom"`
	Context        map[string]any `json:"context,omitempty"`
	DryRun         bool           `json:"dry_run,omitempty"`
	Operator       string         `json:"operator"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// Result statuses returned by the executor. Callers branch on Status,
// never on message text.
const (
	ResultExecuted    = "executed"
	ResultBlocked     = "blocked"
	ResultRateLimited = "rate_limited"
	ResultDuplicate   = "duplicate"
	ResultDryRun      = "dry_run"
	ResultFailed      = "failed"
)

type ActionResult struct {
	Success       bool   `json:"success"`
	Status        string `json:"status" enum:"executed,blocked,rate_limited,duplicate,dry_run,failed"`
	ExternalRef   string `json:"external_ref,omitempty"`
	RollbackToken string `json:"rollback_token,omitempty"`
	Message       string `json:"message,omitempty"`
	// CooldownSeconds is set on rate_limited results.
	CooldownSeconds float64 `json:"cooldown_seconds,omitempty"`
}

// IdempotencyRecord is the durable ledger row enforcing at-most-once
// execution per key.
type IdempotencyRecord struct {
	Key           string `json:"key"`
	QueueItemID   string `json:"queue_item_id"`
	ActionType    string `json:"action_type"`
	Status        string `json:"status" enum:"in_flight,executed,failed"`
	Success       bool   `json:"success"`
	ExternalRef   string `json:"external_ref,omitempty"`
	RollbackToken string `json:"rollback_token,omitempty"`
	Message       string `json:"message,omitempty"`
	Operator      string `json:"operator"`
	CreatedAt     string `json:"created_at" format:"date-time"`
	UpdatedAt     string `json:"updated_at" format:"date-time"`
}

type RollbackToken struct {
	Token       string  `json:"token"`
	QueueItemID string  `json:"queue_item_id"`
	ActionType  string  `json:"action_type"`
	ExternalRef string  `json:"external_ref"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UsedAt      *string `json:"used_at,omitempty" format:"date-time"`
}

type AuditEvent struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts" format:"date-time"`
	Actor    string `json:"actor"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Status   string `json:"status"`
	Details  string `json:"details_json,omitempty"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Operator is a registered actor. Role gates privileged boundaries.
type Operator struct {
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Role      string `json:"role" enum:"admin,operator"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
