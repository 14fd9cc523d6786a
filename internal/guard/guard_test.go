package guard_test

import (
	"context"
	"testing"
	"time"

	"gtmq/internal/config"
	"gtmq/internal/db"
	"gtmq/internal/domain"
	"gtmq/internal/guard"
	"gtmq/internal/migrate"
	"gtmq/internal/repo"
)

func limiterConfig() *config.Config {
	cfg := config.Default("test")
	cfg.Guards.Recipient.Actions = 2
	cfg.Guards.Recipient.Window = "168h"
	cfg.Guards.Global.Actions = 3
	cfg.Guards.Global.Window = "24h"
	cfg.Guards.PerAction = nil
	return cfg
}

func TestRateLimiterRecipientBudget(t *testing.T) {
	l := guard.NewRateLimiter(limiterConfig())
	now := time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })

	for i := 0; i < 2; i++ {
		ok, _, _ := l.Acquire(domain.ActionSendMessage, "a@example.com")
		if !ok {
			t.Fatalf("acquire %d should pass", i+1)
		}
	}
	ok, cooldown, scope := l.Acquire(domain.ActionSendMessage, "a@example.com")
	if ok {
		t.Fatal("third acquire for the same recipient should be denied")
	}
	if scope != "recipient" {
		t.Fatalf("scope = %q, want recipient", scope)
	}
	if cooldown <= 0 {
		t.Fatalf("denied acquire should report a cooldown, got %v", cooldown)
	}
}

func TestRateLimiterDenialConsumesNothing(t *testing.T) {
	l := guard.NewRateLimiter(limiterConfig())
	now := time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })

	l.Acquire(domain.ActionSendMessage, "a@example.com")
	l.Acquire(domain.ActionSendMessage, "a@example.com")
	// The recipient bucket is empty but the global bucket still has a
	// token. A denied acquire must not burn it.
	if ok, _, _ := l.Acquire(domain.ActionSendMessage, "a@example.com"); ok {
		t.Fatal("expected recipient denial")
	}
	if ok, _, _ := l.Acquire(domain.ActionSendMessage, "b@example.com"); !ok {
		t.Fatal("global token was consumed by a denied acquire")
	}
}

func TestRateLimiterGlobalBudget(t *testing.T) {
	l := guard.NewRateLimiter(limiterConfig())
	now := time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })

	recipients := []string{"a@x", "b@x", "c@x"}
	for _, r := range recipients {
		if ok, _, _ := l.Acquire(domain.ActionSendMessage, r); !ok {
			t.Fatalf("acquire for %s should pass", r)
		}
	}
	ok, cooldown, scope := l.Acquire(domain.ActionSendMessage, "d@x")
	if ok {
		t.Fatal("fourth action should exhaust the global bucket")
	}
	if scope != "global" {
		t.Fatalf("scope = %q, want global", scope)
	}
	if cooldown <= 0 {
		t.Fatal("global denial should report a cooldown")
	}
}

func TestRateLimiterRefills(t *testing.T) {
	l := guard.NewRateLimiter(limiterConfig())
	now := time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })

	l.Acquire(domain.ActionSendMessage, "a@x")
	l.Acquire(domain.ActionSendMessage, "a@x")
	if ok, _, _ := l.Acquire(domain.ActionSendMessage, "a@x"); ok {
		t.Fatal("bucket should be empty")
	}
	// 2 tokens per 168h refills one token in 84h.
	now = now.Add(90 * time.Hour)
	if ok, _, _ := l.Acquire(domain.ActionSendMessage, "a@x"); !ok {
		t.Fatal("bucket should refill after the window elapses")
	}
}

func TestRateLimiterEmptyRecipient(t *testing.T) {
	l := guard.NewRateLimiter(limiterConfig())
	now := time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		if ok, _, _ := l.Acquire(domain.ActionUpdateRecord, ""); !ok {
			t.Fatalf("acquire %d without recipient should only hit the global bucket", i+1)
		}
	}
	if ok, _, scope := l.Acquire(domain.ActionUpdateRecord, ""); ok || scope != "global" {
		t.Fatalf("expected global denial, got ok=%v scope=%q", ok, scope)
	}
}

func TestRateLimiterSummary(t *testing.T) {
	l := guard.NewRateLimiter(limiterConfig())
	now := time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })

	l.Acquire(domain.ActionSendMessage, "a@x")
	sum := l.Summary()
	if got := sum["recipient:a@x"]; got < 0.99 || got > 1.01 {
		t.Fatalf("recipient tokens = %v, want ~1", got)
	}
	if got := sum["global:"+domain.ActionSendMessage]; got < 1.99 || got > 2.01 {
		t.Fatalf("global tokens = %v, want ~2", got)
	}
}

func openGuardDB(t *testing.T) *guard.State {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st := guard.NewState(conn)
	st.Now = func() time.Time { return time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC) }
	if err := st.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return st
}

func TestKillSwitchDefaultsOff(t *testing.T) {
	st := openGuardDB(t)
	if active, _ := st.KillSwitchActive(); active {
		t.Fatal("kill switch should start inactive")
	}
}

func TestKillSwitchPersists(t *testing.T) {
	st := openGuardDB(t)
	ctx := context.Background()
	if err := st.SetKillSwitch(ctx, true, "incident 42", "admin"); err != nil {
		t.Fatalf("set: %v", err)
	}
	active, reason := st.KillSwitchActive()
	if !active || reason != "incident 42" {
		t.Fatalf("switch not set: active=%v reason=%q", active, reason)
	}

	// A fresh State over the same database must see the persisted switch.
	reloaded := guard.NewState(st.DB)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	active, reason = reloaded.KillSwitchActive()
	if !active || reason != "incident 42" {
		t.Fatalf("persisted switch lost: active=%v reason=%q", active, reason)
	}

	if err := st.SetKillSwitch(ctx, false, "", "admin"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if active, _ := st.KillSwitchActive(); active {
		t.Fatal("switch should clear")
	}
}

func TestKillSwitchCrossProcessRefresh(t *testing.T) {
	writer := openGuardDB(t)
	ctx := context.Background()

	// A second State over the same database stands in for another
	// process, e.g. a running server while the CLI flips the switch.
	observer := guard.NewState(writer.DB)
	observer.RefreshEvery = time.Nanosecond
	if err := observer.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if active, _ := observer.KillSwitchActive(); active {
		t.Fatal("switch should start inactive")
	}

	if err := writer.SetKillSwitch(ctx, true, "incident 7", "admin"); err != nil {
		t.Fatalf("set: %v", err)
	}
	active, reason := observer.KillSwitchActive()
	if !active || reason != "incident 7" {
		t.Fatalf("toggle not observed: active=%v reason=%q", active, reason)
	}

	if err := writer.SetKillSwitch(ctx, false, "", "admin"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if active, _ := observer.KillSwitchActive(); active {
		t.Fatal("clear not observed")
	}
}

func TestKillSwitchToggleAudited(t *testing.T) {
	st := openGuardDB(t)
	ctx := context.Background()
	if err := st.SetKillSwitch(ctx, true, "maintenance", "admin"); err != nil {
		t.Fatalf("set: %v", err)
	}
	r := repo.Repo{DB: st.DB}
	events, err := r.ListAuditEvents(ctx, repo.AuditFilters{Action: "kill_switch.activated"})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one activation event, got %d", len(events))
	}
	if events[0].Actor != "admin" {
		t.Fatalf("actor = %q", events[0].Actor)
	}
}
