package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default("sales")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Queue.Name != "sales" {
		t.Fatalf("queue name = %q", cfg.Queue.Name)
	}
	w := cfg.Scoring.Weights
	if w.Revenue != 0.40 || w.Urgency != 0.25 || w.Effort != 0.15 || w.Strategic != 0.20 {
		t.Fatalf("default weights: %+v", w)
	}
}

func TestValidateQueueName(t *testing.T) {
	cfg := Default("x")
	cfg.Queue.Name = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty queue name should fail")
	}
}

func TestValidateWeightsSum(t *testing.T) {
	cfg := Default("x")
	cfg.Scoring.Weights.Revenue = 0.9
	err := cfg.Validate()
	if err == nil {
		t.Fatal("weights summing past 1.0 should fail")
	}
	if !strings.Contains(err.Error(), "sum to 1.0") {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.Scoring.Weights.Revenue = -0.1
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative weight should fail")
	}
}

func TestValidatePlaybooks(t *testing.T) {
	cfg := Default("x")
	cfg.Playbooks["bad_event"] = Playbook{ActionType: "launch-rocket", Title: "t"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown playbook action type should fail")
	}
	cfg.Playbooks["bad_event"] = Playbook{ActionType: "send-message"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("playbook without title should fail")
	}
}

func TestValidateBuckets(t *testing.T) {
	cfg := Default("x")
	cfg.Signals.Buckets["custom_event"] = "monthly"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown bucket width should fail")
	}
}

func TestBucketWidth(t *testing.T) {
	cfg := Default("x")
	if got := cfg.BucketWidth("reply_received"); got != 24*time.Hour {
		t.Fatalf("reply_received width = %v", got)
	}
	if got := cfg.BucketWidth("renewal_window"); got != 7*24*time.Hour {
		t.Fatalf("renewal_window width = %v", got)
	}
	// Unknown event types fall back to the default bucket.
	if got := cfg.BucketWidth("never_seen"); got != 24*time.Hour {
		t.Fatalf("fallback width = %v", got)
	}
}

func TestPlaybookForFallback(t *testing.T) {
	cfg := Default("x")
	pb := cfg.PlaybookFor("reply_received")
	if pb.ActionType != "send-message" {
		t.Fatalf("reply_received playbook: %+v", pb)
	}
	fallback := cfg.PlaybookFor("never_seen")
	if fallback.ActionType != "custom" || fallback.Title == "" {
		t.Fatalf("fallback playbook: %+v", fallback)
	}
}

func TestRetryPolicyDefaults(t *testing.T) {
	var cfg Config
	attempts, base, timeout := cfg.RetryPolicy()
	if attempts != 3 || base != 100*time.Millisecond || timeout != 10*time.Second {
		t.Fatalf("zero-value retry policy: %d %v %v", attempts, base, timeout)
	}
	cfg.Execution.MaxAttempts = 5
	cfg.Execution.BackoffBase = "250ms"
	cfg.Execution.AttemptTimeout = "30s"
	attempts, base, timeout = cfg.RetryPolicy()
	if attempts != 5 || base != 250*time.Millisecond || timeout != 30*time.Second {
		t.Fatalf("configured retry policy: %d %v %v", attempts, base, timeout)
	}
}

func TestBucketWindows(t *testing.T) {
	cfg := Default("x")
	actions, window := cfg.RecipientBucket()
	if actions != 2 || window != 168*time.Hour {
		t.Fatalf("recipient bucket: %d %v", actions, window)
	}
	actions, window = cfg.GlobalBucket("send-message")
	if actions != 20 || window != time.Hour {
		t.Fatalf("send-message bucket: %d %v", actions, window)
	}
	// Action types without an override use the global bucket.
	gActions, gWindow := cfg.GlobalBucket("custom")
	if gActions != cfg.Guards.Global.Actions || gWindow != 24*time.Hour {
		t.Fatalf("custom bucket: %d %v", gActions, gWindow)
	}
}

func TestIsAdmin(t *testing.T) {
	cfg := Default("x")
	cfg.Admins = []string{"alice"}
	if !cfg.IsAdmin("alice") || cfg.IsAdmin("bob") {
		t.Fatal("admin lookup wrong")
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	cfg := Default("sales")
	cfg.Admins = []string{"alice"}
	data, err := cfg.ToYAML()
	if err != nil {
		t.Fatalf("to yaml: %v", err)
	}
	back, err := FromYAML(data)
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if back.Queue.Name != "sales" {
		t.Fatalf("queue name lost: %q", back.Queue.Name)
	}
	if back.Scoring.Weights != cfg.Scoring.Weights {
		t.Fatalf("weights lost: %+v", back.Scoring.Weights)
	}
	if len(back.Admins) != 1 || back.Admins[0] != "alice" {
		t.Fatalf("admins lost: %v", back.Admins)
	}
	if back.BucketWidth("renewal_window") != 7*24*time.Hour {
		t.Fatal("buckets lost in round trip")
	}
}

func TestFromYAMLRejectsInvalid(t *testing.T) {
	if _, err := FromYAML([]byte("queue:\n  name: ''\n")); err == nil {
		t.Fatal("invalid config should be rejected")
	}
	if _, err := FromYAML([]byte("{not yaml")); err == nil {
		t.Fatal("malformed yaml should be rejected")
	}
}
