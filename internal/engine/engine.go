// Package engine implements the ingestion and queue lifecycle operations
// on top of the store. All mutating operations run in a transaction with
// their audit event.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gtmq/internal/audit"
	"gtmq/internal/config"
	"gtmq/internal/domain"
	"gtmq/internal/normalize"
	"gtmq/internal/repo"
	"gtmq/internal/scoring"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Audit:  audit.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// IngestResult reports what one ingestion call did. Duplicate submissions
// return the signal and item that already exist.
type IngestResult struct {
	Signal    domain.Signal
	Item      domain.QueueItem
	Created   bool
	ItemAdded bool
}

// Ingest normalizes a raw event, stores the signal unless its dedup key is
// already present in the bucket, and materializes the corresponding queue
// item. Re-submitting the same event is a no-op that returns the existing
// records.
func (e Engine) Ingest(ctx context.Context, actor string, raw domain.RawEvent) (IngestResult, error) {
	n := normalize.Normalizer{Config: e.Config, Now: e.Now}
	sig, err := n.Normalize(raw)
	if err != nil {
		return IngestResult{}, err
	}
	itemID := normalize.ItemID(sig.DedupKey)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return IngestResult{}, err
	}
	defer tx.Rollback()

	stored, created, err := e.Repo.InsertSignalIfAbsent(ctx, tx, sig)
	if err != nil {
		return IngestResult{}, err
	}
	res := IngestResult{Signal: stored, Created: created}
	if !created {
		// Duplicate in the same bucket. The item already exists; nothing
		// to write, nothing to audit.
		if err := tx.Commit(); err != nil {
			return IngestResult{}, err
		}
		res.Item, err = e.Repo.GetQueueItem(ctx, itemID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return IngestResult{}, err
		}
		return res, nil
	}

	pb := e.Config.PlaybookFor(stored.EventType)
	now := e.now().UTC().Format(time.RFC3339)
	item := domain.QueueItem{
		ID:          itemID,
		Title:       renderTemplate(pb.Title, stored),
		Description: renderTemplate(pb.Description, stored),
		ActionType:  pb.ActionType,
		Status:      domain.StatusPending,
		ContextJSON: stored.PayloadJSON,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	in := scoring.FromContext(item.ContextJSON, e.now().UTC())
	item.PriorityScore, item.Drivers = scoring.Score(in, scoring.WeightsFromConfig(e.Config.Scoring))

	itemAdded, err := e.Repo.InsertQueueItemIfAbsent(ctx, tx, item)
	if err != nil {
		return IngestResult{}, err
	}
	if err := e.Repo.LinkSignal(ctx, tx, itemID, stored.ID); err != nil {
		return IngestResult{}, err
	}
	if err := e.Repo.MarkSignalProcessed(ctx, tx, stored.ID); err != nil {
		return IngestResult{}, err
	}
	if err := e.Audit.Append(ctx, tx, actor, "signal", "signal.ingested", "ok", audit.Details{
		"signal_id":     stored.ID,
		"event_type":    stored.EventType,
		"entity_id":     stored.EntityID,
		"queue_item_id": itemID,
		"item_created":  itemAdded,
	}); err != nil {
		return IngestResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return IngestResult{}, err
	}
	res.ItemAdded = itemAdded
	res.Item, err = e.Repo.GetQueueItem(ctx, itemID)
	return res, err
}

// transitions encodes the queue item lifecycle. Executed and dismissed are
// terminal.
var transitions = map[string]map[string]bool{
	domain.StatusPending: {
		domain.StatusAccepted:  true,
		domain.StatusDismissed: true,
		domain.StatusSnoozed:   true,
	},
	domain.StatusAccepted: {
		domain.StatusExecuted:  true,
		domain.StatusDismissed: true,
		domain.StatusSnoozed:   true,
	},
	domain.StatusSnoozed: {
		domain.StatusPending:   true,
		domain.StatusAccepted:  true,
		domain.StatusDismissed: true,
	},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to string) bool {
	return transitions[from][to]
}

// Transition moves an item to a new status. Snoozing requires until; every
// other target status must leave it nil. The status check and update are a
// single compare-and-swap, so two concurrent transitions cannot both win.
func (e Engine) Transition(ctx context.Context, itemID, to, actor string, until *time.Time) (domain.QueueItem, error) {
	if to == domain.StatusSnoozed && until == nil {
		return domain.QueueItem{}, fmt.Errorf("snooze requires snooze_until")
	}
	if to != domain.StatusSnoozed && until != nil {
		return domain.QueueItem{}, fmt.Errorf("snooze_until only applies to snoozed")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.QueueItem{}, err
	}
	defer tx.Rollback()

	item, err := e.Repo.GetQueueItemTx(ctx, tx, itemID)
	if err != nil {
		return domain.QueueItem{}, err
	}
	if !CanTransition(item.Status, to) {
		return domain.QueueItem{}, fmt.Errorf("%w: %s -> %s", repo.ErrInvalidTransition, item.Status, to)
	}
	now := e.now().UTC().Format(time.RFC3339)
	var snoozeUntil, completedAt *string
	if until != nil {
		s := until.UTC().Format(time.RFC3339)
		snoozeUntil = &s
	}
	if to == domain.StatusExecuted {
		completedAt = &now
	}
	if err := e.Repo.TransitionStatus(ctx, tx, itemID, item.Status, to, now, snoozeUntil, completedAt); err != nil {
		return domain.QueueItem{}, err
	}
	details := audit.Details{"queue_item_id": itemID, "from": item.Status, "to": to}
	if snoozeUntil != nil {
		details["snooze_until"] = *snoozeUntil
	}
	if err := e.Audit.Append(ctx, tx, actor, "queue_item", "queue_item."+to, "ok", details); err != nil {
		return domain.QueueItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.QueueItem{}, err
	}
	return e.Repo.GetQueueItem(ctx, itemID)
}

// Rescore recomputes the priority score from the item's current context.
// Identity and status are untouched; re-scoring the same context is
// idempotent.
func (e Engine) Rescore(ctx context.Context, itemID, actor string) (domain.QueueItem, error) {
	item, err := e.Repo.GetQueueItem(ctx, itemID)
	if err != nil {
		return domain.QueueItem{}, err
	}
	in := scoring.FromContext(item.ContextJSON, e.now().UTC())
	score, drivers := scoring.Score(in, scoring.WeightsFromConfig(e.Config.Scoring))

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.QueueItem{}, err
	}
	defer tx.Rollback()
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateScore(ctx, tx, itemID, score, drivers, now); err != nil {
		return domain.QueueItem{}, err
	}
	if err := e.Audit.Append(ctx, tx, actor, "queue_item", "queue_item.rescored", "ok", audit.Details{
		"queue_item_id": itemID,
		"old_score":     item.PriorityScore,
		"new_score":     score,
	}); err != nil {
		return domain.QueueItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.QueueItem{}, err
	}
	return e.Repo.GetQueueItem(ctx, itemID)
}

// WakeSnoozed returns expired snoozes to pending. Items that raced into
// another status since the listing are skipped.
func (e Engine) WakeSnoozed(ctx context.Context, actor string) ([]string, error) {
	now := e.now().UTC().Format(time.RFC3339)
	ids, err := e.Repo.ExpiredSnoozes(ctx, now)
	if err != nil {
		return nil, err
	}
	var woken []string
	for _, id := range ids {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return woken, err
		}
		err = e.Repo.TransitionStatus(ctx, tx, id, domain.StatusSnoozed, domain.StatusPending, now, nil, nil)
		if errors.Is(err, repo.ErrInvalidTransition) {
			tx.Rollback()
			continue
		}
		if err != nil {
			tx.Rollback()
			return woken, err
		}
		if err := e.Audit.Append(ctx, tx, actor, "queue_item", "queue_item.woken", "ok", audit.Details{"queue_item_id": id}); err != nil {
			tx.Rollback()
			return woken, err
		}
		if err := tx.Commit(); err != nil {
			return woken, err
		}
		woken = append(woken, id)
	}
	return woken, nil
}

// RunSnoozeSweeper wakes expired snoozes every interval until ctx is
// cancelled. Sweep errors are reported through onErr (which may be nil)
// and do not stop the loop.
func (e Engine) RunSnoozeSweeper(ctx context.Context, interval time.Duration, actor string, onErr func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.WakeSnoozed(ctx, actor); err != nil && onErr != nil {
				onErr(err)
			}
		}
	}
}

func renderTemplate(tpl string, sig domain.Signal) string {
	r := strings.NewReplacer("{entity_id}", sig.EntityID, "{event_type}", sig.EventType)
	return r.Replace(tpl)
}
