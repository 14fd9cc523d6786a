package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"gtmq/internal/config"
	"gtmq/internal/db"
	"gtmq/internal/domain"
	"gtmq/internal/engine"
	"gtmq/internal/migrate"
	"gtmq/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("default")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func ingestReply(t *testing.T, env testEnv, entityID string) engine.IngestResult {
	t.Helper()
	res, err := env.Engine.Ingest(env.Ctx, "tester", domain.RawEvent{
		EventType: "reply_received",
		EntityID:  entityID,
		Payload: map[string]any{
			"estimated_value": 40000,
			"win_rate":        0.6,
			"effort_minutes":  20,
			"profile_fit":     0.8,
			"recipient":       entityID + "@example.com",
		},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return res
}

func TestIngestCreatesSignalAndItem(t *testing.T) {
	env := newTestEnv(t)
	res := ingestReply(t, env, "acct-1")
	if !res.Created || !res.ItemAdded {
		t.Fatalf("first ingest should create signal and item: %+v", res)
	}
	if res.Item.Status != domain.StatusPending {
		t.Fatalf("new item should be pending, got %s", res.Item.Status)
	}
	if res.Item.Title != "Reply to acct-1" {
		t.Fatalf("playbook title not rendered: %q", res.Item.Title)
	}
	if res.Item.ActionType != domain.ActionSendMessage {
		t.Fatalf("playbook action type: %s", res.Item.ActionType)
	}
	if res.Item.PriorityScore <= 0 || res.Item.PriorityScore > 100 {
		t.Fatalf("score out of range: %v", res.Item.PriorityScore)
	}
	if len(res.Item.Drivers) != 4 {
		t.Fatalf("expected 4 drivers, got %d", len(res.Item.Drivers))
	}
	if len(res.Item.SignalIDs) != 1 || res.Item.SignalIDs[0] != res.Signal.ID {
		t.Fatalf("signal not linked: %v", res.Item.SignalIDs)
	}
	sig, err := env.Engine.Repo.GetSignal(env.Ctx, res.Signal.ID)
	if err != nil {
		t.Fatalf("get signal: %v", err)
	}
	if !sig.Processed {
		t.Fatal("ingested signal should be marked processed")
	}
}

func TestIngestDeduplicates(t *testing.T) {
	env := newTestEnv(t)
	first := ingestReply(t, env, "acct-1")
	second := ingestReply(t, env, "acct-1")
	if second.Created {
		t.Fatal("second ingest in the same bucket should be a duplicate")
	}
	if second.Signal.ID != first.Signal.ID {
		t.Fatal("duplicate ingest should return the stored signal")
	}
	if second.Item.ID != first.Item.ID {
		t.Fatal("duplicate ingest should map to the same queue item")
	}
	signals, err := env.Engine.Repo.ListSignals(env.Ctx, repo.SignalFilters{EntityID: "acct-1"})
	if err != nil {
		t.Fatalf("list signals: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("expected exactly one stored signal, got %d", len(signals))
	}
	items, err := env.Engine.Repo.ListQueueItems(env.Ctx, repo.QueueFilters{})
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected exactly one queue item, got %d", len(items))
	}
}

func TestIngestNewBucketNewItem(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.Ingest(env.Ctx, "tester", domain.RawEvent{
		EventType: "reply_received", EntityID: "acct-1", DetectedAt: "2024-03-06T09:00:00Z",
	})
	if err != nil {
		t.Fatalf("ingest day one: %v", err)
	}
	second, err := env.Engine.Ingest(env.Ctx, "tester", domain.RawEvent{
		EventType: "reply_received", EntityID: "acct-1", DetectedAt: "2024-03-07T09:00:00Z",
	})
	if err != nil {
		t.Fatalf("ingest day two: %v", err)
	}
	if !second.Created || second.Item.ID == first.Item.ID {
		t.Fatal("a new bucket should mint a new signal and item")
	}
}

func TestTransitions(t *testing.T) {
	env := newTestEnv(t)
	item := ingestReply(t, env, "acct-1").Item

	it, err := env.Engine.Transition(env.Ctx, item.ID, domain.StatusAccepted, "tester", nil)
	if err != nil || it.Status != domain.StatusAccepted {
		t.Fatalf("accept: %v (status %s)", err, it.Status)
	}
	it, err = env.Engine.Transition(env.Ctx, item.ID, domain.StatusExecuted, "tester", nil)
	if err != nil || it.Status != domain.StatusExecuted {
		t.Fatalf("execute: %v (status %s)", err, it.Status)
	}
	if it.CompletedAt == nil {
		t.Fatal("executed item should record completed_at")
	}
	// executed is terminal
	if _, err := env.Engine.Transition(env.Ctx, item.ID, domain.StatusPending, "tester", nil); !errors.Is(err, repo.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestDismissedIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	item := ingestReply(t, env, "acct-1").Item
	if _, err := env.Engine.Transition(env.Ctx, item.ID, domain.StatusDismissed, "tester", nil); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if _, err := env.Engine.Transition(env.Ctx, item.ID, domain.StatusAccepted, "tester", nil); !errors.Is(err, repo.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition after dismiss, got %v", err)
	}
}

func TestSnoozeRequiresUntil(t *testing.T) {
	env := newTestEnv(t)
	item := ingestReply(t, env, "acct-1").Item
	if _, err := env.Engine.Transition(env.Ctx, item.ID, domain.StatusSnoozed, "tester", nil); err == nil {
		t.Fatal("snooze without until should fail")
	}
	until := time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC)
	if _, err := env.Engine.Transition(env.Ctx, item.ID, domain.StatusAccepted, "tester", &until); err == nil {
		t.Fatal("until on a non-snooze transition should fail")
	}
}

func TestWakeSnoozed(t *testing.T) {
	env := newTestEnv(t)
	item := ingestReply(t, env, "acct-1").Item
	past := time.Date(2024, 3, 6, 11, 0, 0, 0, time.UTC)
	if _, err := env.Engine.Transition(env.Ctx, item.ID, domain.StatusSnoozed, "tester", &past); err != nil {
		t.Fatalf("snooze: %v", err)
	}
	woken, err := env.Engine.WakeSnoozed(env.Ctx, "system")
	if err != nil {
		t.Fatalf("wake: %v", err)
	}
	if len(woken) != 1 || woken[0] != item.ID {
		t.Fatalf("expected to wake %s, got %v", item.ID, woken)
	}
	it, err := env.Engine.Repo.GetQueueItem(env.Ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if it.Status != domain.StatusPending {
		t.Fatalf("woken item should be pending, got %s", it.Status)
	}
}

func TestSnoozeSweeperWakesInBackground(t *testing.T) {
	env := newTestEnv(t)
	item := ingestReply(t, env, "acct-1").Item
	past := time.Date(2024, 3, 6, 11, 0, 0, 0, time.UTC)
	if _, err := env.Engine.Transition(env.Ctx, item.ID, domain.StatusSnoozed, "tester", &past); err != nil {
		t.Fatalf("snooze: %v", err)
	}

	ctx, cancel := context.WithCancel(env.Ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		env.Engine.RunSnoozeSweeper(ctx, 5*time.Millisecond, "system", func(err error) {
			t.Errorf("sweep: %v", err)
		})
	}()

	deadline := time.After(2 * time.Second)
	for {
		it, err := env.Engine.Repo.GetQueueItem(env.Ctx, item.ID)
		if err != nil {
			t.Fatalf("get item: %v", err)
		}
		if it.Status == domain.StatusPending {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("sweeper never woke the item, status %s", it.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestWakeSkipsFutureSnoozes(t *testing.T) {
	env := newTestEnv(t)
	item := ingestReply(t, env, "acct-1").Item
	future := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
	if _, err := env.Engine.Transition(env.Ctx, item.ID, domain.StatusSnoozed, "tester", &future); err != nil {
		t.Fatalf("snooze: %v", err)
	}
	woken, err := env.Engine.WakeSnoozed(env.Ctx, "system")
	if err != nil {
		t.Fatalf("wake: %v", err)
	}
	if len(woken) != 0 {
		t.Fatalf("future snooze woke early: %v", woken)
	}
}

func TestRescoreIdempotent(t *testing.T) {
	env := newTestEnv(t)
	item := ingestReply(t, env, "acct-1").Item
	first, err := env.Engine.Rescore(env.Ctx, item.ID, "tester")
	if err != nil {
		t.Fatalf("rescore: %v", err)
	}
	second, err := env.Engine.Rescore(env.Ctx, item.ID, "tester")
	if err != nil {
		t.Fatalf("rescore again: %v", err)
	}
	if first.PriorityScore != second.PriorityScore {
		t.Fatalf("rescore not idempotent: %v vs %v", first.PriorityScore, second.PriorityScore)
	}
	if second.ID != item.ID || second.Status != item.Status {
		t.Fatal("rescore must not touch identity or status")
	}
}

func TestQueueOrdering(t *testing.T) {
	env := newTestEnv(t)
	low, err := env.Engine.Ingest(env.Ctx, "tester", domain.RawEvent{
		EventType: "reply_received", EntityID: "small",
		Payload: map[string]any{"estimated_value": 1000, "effort_minutes": 400},
	})
	if err != nil {
		t.Fatal(err)
	}
	high, err := env.Engine.Ingest(env.Ctx, "tester", domain.RawEvent{
		EventType: "reply_received", EntityID: "big",
		Payload: map[string]any{"estimated_value": 200000, "win_rate": 0.9, "effort_minutes": 10, "profile_fit": 1.0},
	})
	if err != nil {
		t.Fatal(err)
	}
	items, err := env.Engine.Repo.ListQueueItems(env.Ctx, repo.QueueFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ID != high.Item.ID || items[1].ID != low.Item.ID {
		t.Fatalf("queue not ordered by score: %v then %v", items[0].PriorityScore, items[1].PriorityScore)
	}
}

func TestAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	item := ingestReply(t, env, "acct-1").Item
	if _, err := env.Engine.Transition(env.Ctx, item.ID, domain.StatusAccepted, "tester", nil); err != nil {
		t.Fatalf("accept: %v", err)
	}
	events, err := env.Engine.Repo.ListAuditEvents(env.Ctx, repo.AuditFilters{})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	var sawIngest, sawAccept bool
	for _, ev := range events {
		switch ev.Action {
		case "signal.ingested":
			sawIngest = true
		case "queue_item.accepted":
			sawAccept = true
		}
	}
	if !sawIngest || !sawAccept {
		t.Fatalf("missing audit events: ingest=%v accept=%v", sawIngest, sawAccept)
	}
}
