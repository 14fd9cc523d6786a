package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"gtmq/internal/domain"
)

// Config models gtmq.yml. It is stored in the database and imported or
// exported explicitly via the CLI.
type Config struct {
	Queue struct {
		Name string `yaml:"name"`
	} `yaml:"queue"`

	Scoring ScoringConfig `yaml:"scoring"`

	// Signals maps event types to dedup bucket widths and playbooks.
	Signals struct {
		// DefaultBucket applies to event types missing from Buckets.
		DefaultBucket string            `yaml:"default_bucket"`
		Buckets       map[string]string `yaml:"buckets"`
	} `yaml:"signals"`

	Playbooks map[string]Playbook `yaml:"playbooks"`

	Guards GuardConfig `yaml:"guards"`

	Execution ExecutionConfig `yaml:"execution"`

	// Handlers maps action types to outbound endpoints. Empty means the
	// action type has no default HTTP handler and must be registered in
	// code.
	Handlers map[string]HandlerConfig `yaml:"handlers"`

	Admins []string `yaml:"admins"`
}

type ScoringConfig struct {
	Weights struct {
		Revenue   float64 `yaml:"revenue"`
		Urgency   float64 `yaml:"urgency"`
		Effort    float64 `yaml:"effort"`
		Strategic float64 `yaml:"strategic"`
	} `yaml:"weights"`
}

// Playbook turns a signal of a given event type into a queue item
// recommendation.
type Playbook struct {
	ActionType  string `yaml:"action_type"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

type GuardConfig struct {
	Recipient struct {
		Actions int    `yaml:"actions"`
		Window  string `yaml:"window"`
	} `yaml:"recipient"`
	Global struct {
		Actions int    `yaml:"actions"`
		Window  string `yaml:"window"`
	} `yaml:"global"`
	// PerAction overrides the global bucket per action type.
	PerAction map[string]struct {
		Actions int    `yaml:"actions"`
		Window  string `yaml:"window"`
	} `yaml:"per_action"`
}

type ExecutionConfig struct {
	MaxAttempts    int    `yaml:"max_attempts"`
	BackoffBase    string `yaml:"backoff_base"`
	AttemptTimeout string `yaml:"attempt_timeout"`
}

type HandlerConfig struct {
	Endpoint   string `yaml:"endpoint"`
	UndoSuffix string `yaml:"undo_suffix"`
	Reversible bool   `yaml:"reversible"`
}

// BucketWidth returns the dedup time-bucket width for an event type.
// Callers must not guess widths; this table is the single source.
func (c *Config) BucketWidth(eventType string) time.Duration {
	name := c.Signals.Buckets[eventType]
	if name == "" {
		name = c.Signals.DefaultBucket
	}
	switch name {
	case "weekly":
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// PlaybookFor returns the playbook for an event type, falling back to a
// generic custom-action playbook for unknown types.
func (c *Config) PlaybookFor(eventType string) Playbook {
	if pb, ok := c.Playbooks[eventType]; ok {
		return pb
	}
	return Playbook{
		ActionType:  domain.ActionCustom,
		Title:       "Review signal {event_type} for {entity_id}",
		Description: "No playbook configured for {event_type}; review manually.",
	}
}

// GlobalBucket returns the global rate bucket for an action type.
func (c *Config) GlobalBucket(actionType string) (int, time.Duration) {
	if b, ok := c.Guards.PerAction[actionType]; ok {
		return b.Actions, parseWindow(b.Window, 24*time.Hour)
	}
	return c.Guards.Global.Actions, parseWindow(c.Guards.Global.Window, 24*time.Hour)
}

// RecipientBucket returns the per-recipient rate bucket.
func (c *Config) RecipientBucket() (int, time.Duration) {
	return c.Guards.Recipient.Actions, parseWindow(c.Guards.Recipient.Window, 7*24*time.Hour)
}

func (c *Config) RetryPolicy() (attempts int, base, timeout time.Duration) {
	attempts = c.Execution.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	base = parseWindow(c.Execution.BackoffBase, 100*time.Millisecond)
	timeout = parseWindow(c.Execution.AttemptTimeout, 10*time.Second)
	return attempts, base, timeout
}

func (c *Config) IsAdmin(actorID string) bool {
	for _, a := range c.Admins {
		if a == actorID {
			return true
		}
	}
	return false
}

func parseWindow(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Queue.Name == "" {
		return fmt.Errorf("config.queue.name is required")
	}
	switch c.Signals.DefaultBucket {
	case "", "daily", "weekly":
	default:
		return fmt.Errorf("config.signals.default_bucket must be daily or weekly")
	}
	for evt, bucket := range c.Signals.Buckets {
		if evt == "" {
			return fmt.Errorf("config.signals.buckets contains empty event type")
		}
		if bucket != "daily" && bucket != "weekly" {
			return fmt.Errorf("bucket for %s must be daily or weekly", evt)
		}
	}
	for evt, pb := range c.Playbooks {
		if evt == "" {
			return fmt.Errorf("config.playbooks contains empty event type")
		}
		if !domain.KnownActionType(pb.ActionType) {
			return fmt.Errorf("playbook %s has unknown action type %s", evt, pb.ActionType)
		}
		if pb.Title == "" {
			return fmt.Errorf("playbook %s missing title", evt)
		}
	}
	w := c.Scoring.Weights
	if w.Revenue < 0 || w.Urgency < 0 || w.Effort < 0 || w.Strategic < 0 {
		return fmt.Errorf("config.scoring.weights must be non-negative")
	}
	sum := w.Revenue + w.Urgency + w.Effort + w.Strategic
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("config.scoring.weights must sum to 1.0, got %.3f", sum)
	}
	if c.Guards.Recipient.Actions <= 0 {
		return fmt.Errorf("config.guards.recipient.actions must be positive")
	}
	if c.Guards.Global.Actions <= 0 {
		return fmt.Errorf("config.guards.global.actions must be positive")
	}
	for at := range c.Guards.PerAction {
		if !domain.KnownActionType(at) {
			return fmt.Errorf("config.guards.per_action has unknown action type %s", at)
		}
	}
	for at, h := range c.Handlers {
		if !domain.KnownActionType(at) {
			return fmt.Errorf("config.handlers has unknown action type %s", at)
		}
		if h.Endpoint == "" {
			return fmt.Errorf("handler for %s missing endpoint", at)
		}
	}
	return nil
}

// Default returns the default Config struct for a queue.
func Default(name string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	cfg.Queue.Name = name
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// ToYAML serializes config for export.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `queue:
  name: default

scoring:
  weights:
    revenue: 0.40
    urgency: 0.25
    effort: 0.15
    strategic: 0.20

signals:
  default_bucket: daily
  buckets:
    reply_received: daily
    deal_stalled_7d: daily
    meeting_no_followup: daily
    inactive_90d: weekly
    renewal_window: weekly
    champion_changed_jobs: weekly

playbooks:
  reply_received:
    action_type: send-message
    title: "Reply to {entity_id}"
    description: "A reply came in; respond while the thread is warm."
  deal_stalled_7d:
    action_type: send-message
    title: "Re-engage stalled deal {entity_id}"
    description: "No movement for 7 days; send a nudge."
  meeting_no_followup:
    action_type: create-followup
    title: "Send follow-up for meeting with {entity_id}"
    description: "Meeting happened without a recorded follow-up."
  inactive_90d:
    action_type: schedule-meeting
    title: "Check in with {entity_id}"
    description: "No activity in 90 days; schedule a touchpoint."
  renewal_window:
    action_type: update-record
    title: "Prepare renewal for {entity_id}"
    description: "Renewal window opened; update the record and plan outreach."
  champion_changed_jobs:
    action_type: send-message
    title: "Congratulate champion at {entity_id}"
    description: "Champion changed roles; reconnect early."

guards:
  recipient:
    actions: 2
    window: 168h
  global:
    actions: 20
    window: 24h
  per_action:
    send-message:
      actions: 20
      window: 1h
    schedule-meeting:
      actions: 10
      window: 1h

execution:
  max_attempts: 3
  backoff_base: 100ms
  attempt_timeout: 10s

admins: [admin]
`
