// Package executor dispatches guard-cleared action requests to pluggable
// handlers, enforcing at-most-once execution per idempotency key.
package executor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gtmq/internal/audit"
	"gtmq/internal/config"
	"gtmq/internal/domain"
	"gtmq/internal/guard"
	"gtmq/internal/repo"
)

type Executor struct {
	DB       *sql.DB
	Repo     repo.Repo
	Audit    audit.Writer
	State    *guard.State
	Limits   *guard.RateLimiter
	Config   *config.Config
	Handlers *Registry
	Now      func() time.Time
	// Sleep is the backoff wait; injected for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func New(db *sql.DB, cfg *config.Config, state *guard.State, limits *guard.RateLimiter, handlers *Registry) *Executor {
	return &Executor{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Audit:    audit.Writer{DB: db},
		State:    state,
		Limits:   limits,
		Config:   cfg,
		Handlers: handlers,
		Now:      time.Now,
		Sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// IdempotencyKey derives the default execution key.
func IdempotencyKey(queueItemID, actionType string) string {
	return queueItemID + ":" + actionType
}

// Execute runs the guard stack in order (kill switch, rate limit,
// idempotency) and dispatches to the handler on success. Every
// non-dry-run outcome emits exactly one audit event.
func (e *Executor) Execute(ctx context.Context, req domain.ActionRequest) (domain.ActionResult, error) {
	if req.QueueItemID == "" {
		return domain.ActionResult{}, fmt.Errorf("%w: queue_item_id required", ErrInvalidInput)
	}
	if req.Operator == "" {
		return domain.ActionResult{}, fmt.Errorf("%w: operator required", ErrInvalidInput)
	}
	handler, err := e.Handlers.Get(req.ActionType)
	if err != nil {
		return domain.ActionResult{}, err
	}
	item, err := e.Repo.GetQueueItem(ctx, req.QueueItemID)
	if err != nil {
		return domain.ActionResult{}, err
	}

	// Guard 1: kill switch. Applies to dry runs too.
	if active, reason := e.State.KillSwitchActive(); active {
		res := domain.ActionResult{
			Status:  domain.ResultBlocked,
			Message: "kill switch active: " + reason,
		}
		if !req.DryRun {
			if err := e.auditResult(ctx, req, res, nil); err != nil {
				return res, err
			}
		}
		return res, nil
	}

	// Only pending and accepted items may be dispatched; executed items
	// pass through so a caller-supplied key can surface its prior result.
	if !executableStatus(item.Status) {
		return domain.ActionResult{}, fmt.Errorf("%w: item %s is %s", repo.ErrInvalidTransition, item.ID, item.Status)
	}

	actionCtx := mergeContext(item.ContextJSON, req.Context)
	recipient := contextString(actionCtx, "recipient")

	if req.DryRun {
		// Preview only: no tokens consumed, no ledger write, handler
		// never invoked.
		return domain.ActionResult{
			Status:  domain.ResultDryRun,
			Success: true,
			Message: fmt.Sprintf("would dispatch %s for item %s%s", req.ActionType, item.ID, recipientSuffix(recipient)),
		}, nil
	}

	// Guard 2: idempotency ledger. Insert-if-absent makes the ledger the
	// arbiter under concurrency: exactly one of N attempts for the same
	// key wins the claim, and losers never reach the rate limiter, so
	// duplicates cannot drain a recipient's budget.
	key := req.IdempotencyKey
	if key == "" {
		key = IdempotencyKey(req.QueueItemID, req.ActionType)
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	won, prior, err := e.Repo.ReserveIdempotency(ctx, domain.IdempotencyRecord{
		Key:         key,
		QueueItemID: req.QueueItemID,
		ActionType:  req.ActionType,
		Operator:    req.Operator,
		CreatedAt:   nowStr,
	})
	if err != nil {
		return domain.ActionResult{}, err
	}
	if !won {
		prior = e.awaitLedger(ctx, key, prior)
		res := duplicateResult(prior)
		if err := e.auditResult(ctx, req, res, audit.Details{"key": key, "prior_status": prior.Status}); err != nil {
			return res, err
		}
		return res, nil
	}

	// Guard 3: rate limits. Only the claim winner spends tokens; a denial
	// releases the claim so a later retry can run once the window opens.
	if ok, cooldown, scope := e.Limits.Acquire(req.ActionType, recipient); !ok {
		if err := e.Repo.ReleaseIdempotency(ctx, key); err != nil {
			return domain.ActionResult{}, err
		}
		res := domain.ActionResult{
			Status:          domain.ResultRateLimited,
			Message:         fmt.Sprintf("%s rate limit exhausted, retry in %s", scope, cooldown.Round(time.Second)),
			CooldownSeconds: cooldown.Seconds(),
		}
		if err := e.auditResult(ctx, req, res, audit.Details{"scope": scope}); err != nil {
			return res, err
		}
		return res, nil
	}

	res, err := e.dispatch(ctx, req, item, handler, actionCtx, key)
	if err != nil {
		return res, err
	}
	if err := e.auditResult(ctx, req, res, audit.Details{"key": key}); err != nil {
		return res, err
	}
	return res, nil
}

// awaitLedger gives an in-flight winner a bounded window to finish so the
// duplicate response can carry its result. Returns the latest record seen;
// still-in-flight after the window is reported as such, never blocked on
// indefinitely.
func (e *Executor) awaitLedger(ctx context.Context, key string, prior domain.IdempotencyRecord) domain.IdempotencyRecord {
	const (
		pollInterval = 50 * time.Millisecond
		maxPolls     = 40
	)
	for i := 0; prior.Status == repo.LedgerInFlight && i < maxPolls; i++ {
		if err := e.Sleep(ctx, pollInterval); err != nil {
			return prior
		}
		rec, err := e.Repo.GetIdempotency(ctx, key)
		if err != nil {
			return prior
		}
		prior = rec
	}
	return prior
}

// dispatch owns a reserved idempotency claim: it must complete the ledger
// entry whatever happens.
func (e *Executor) dispatch(ctx context.Context, req domain.ActionRequest, item domain.QueueItem, handler Handler, actionCtx map[string]any, key string) (domain.ActionResult, error) {
	attempts, base, timeout := e.Config.RetryPolicy()
	var outcome Outcome
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		outcome, lastErr = handler.Handle(attemptCtx, item, actionCtx)
		cancel()
		if lastErr == nil {
			break
		}
		lastErr = attemptError(attempt, lastErr)
		if !IsTransient(lastErr) || attempt == attempts {
			break
		}
		if err := e.Sleep(ctx, base<<uint(attempt-1)); err != nil {
			lastErr = attemptError(attempt, err)
			break
		}
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	if lastErr != nil {
		res := domain.ActionResult{
			Status:  domain.ResultFailed,
			Message: lastErr.Error(),
		}
		if err := e.Repo.CompleteIdempotency(ctx, nil, key, repo.LedgerFailed, false, "", "", lastErr.Error(), nowStr); err != nil {
			return res, err
		}
		return res, nil
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ActionResult{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.CompleteIdempotency(ctx, tx, key, repo.LedgerExecuted, true, outcome.ExternalRef, outcome.RollbackToken, "", nowStr); err != nil {
		return domain.ActionResult{}, err
	}
	if outcome.RollbackToken != "" {
		if err := e.Repo.InsertRollbackToken(ctx, tx, domain.RollbackToken{
			Token:       outcome.RollbackToken,
			QueueItemID: item.ID,
			ActionType:  req.ActionType,
			ExternalRef: outcome.ExternalRef,
			CreatedAt:   nowStr,
		}); err != nil {
			return domain.ActionResult{}, err
		}
	}
	// The handler already ran, so a concurrent transition (say a dismiss
	// racing the dispatch) must not unwind the ledger entry: commit it
	// anyway and report the race instead of stranding the claim in flight.
	var raceMsg string
	if err := e.markExecuted(ctx, tx, item.ID, nowStr); err != nil {
		if !errors.Is(err, repo.ErrInvalidTransition) {
			return domain.ActionResult{}, err
		}
		raceMsg = "item status changed during execution; action was performed and recorded"
	}
	if err := tx.Commit(); err != nil {
		return domain.ActionResult{}, err
	}
	return domain.ActionResult{
		Success:       true,
		Status:        domain.ResultExecuted,
		Message:       raceMsg,
		ExternalRef:   outcome.ExternalRef,
		RollbackToken: outcome.RollbackToken,
	}, nil
}

func executableStatus(status string) bool {
	if domain.TerminalStatus(status) {
		// Executed passes through so a prior result can be surfaced.
		return status == domain.StatusExecuted
	}
	return status == domain.StatusPending || status == domain.StatusAccepted
}

// markExecuted walks the item to executed: pending items pass through
// accepted first since executing is an implicit accept.
func (e *Executor) markExecuted(ctx context.Context, tx *sql.Tx, itemID, now string) error {
	cur, err := e.Repo.GetQueueItemTx(ctx, tx, itemID)
	if err != nil {
		return err
	}
	if cur.Status == domain.StatusPending {
		if err := e.Repo.TransitionStatus(ctx, tx, itemID, domain.StatusPending, domain.StatusAccepted, now, nil, nil); err != nil {
			return err
		}
		cur.Status = domain.StatusAccepted
	}
	if cur.Status == domain.StatusExecuted {
		// Re-execution under an explicit caller key; the side effect
		// already happened, nothing left to transition.
		return nil
	}
	if cur.Status != domain.StatusAccepted {
		return fmt.Errorf("%w: item %s is %s", repo.ErrInvalidTransition, itemID, cur.Status)
	}
	return e.Repo.TransitionStatus(ctx, tx, itemID, domain.StatusAccepted, domain.StatusExecuted, now, nil, &now)
}

// Rollback redeems a rollback token at most once, invoking the inverse
// operation registered for the original action type. Returns false for
// unknown, used, or irreversible tokens.
func (e *Executor) Rollback(ctx context.Context, token, actor string) (bool, error) {
	rec, err := e.Repo.GetRollbackToken(ctx, token)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if rec.UsedAt != nil {
		return false, nil
	}
	handler, err := e.Handlers.Get(rec.ActionType)
	if err != nil {
		return false, nil
	}
	rev, ok := handler.(Reverser)
	if !ok {
		return false, nil
	}
	undone, err := rev.Undo(ctx, token)
	if err != nil {
		return false, err
	}
	if !undone {
		return false, nil
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	used, err := e.Repo.MarkRollbackUsed(ctx, token, nowStr)
	if err != nil {
		return false, err
	}
	if err := e.Audit.Append(ctx, nil, actor, "queue_item/"+rec.QueueItemID, "rollback", "ok", audit.Details{
		"action_type":  rec.ActionType,
		"external_ref": rec.ExternalRef,
	}); err != nil {
		return used, err
	}
	return used, nil
}

func (e *Executor) auditResult(ctx context.Context, req domain.ActionRequest, res domain.ActionResult, extra audit.Details) error {
	details := audit.Details{"action_type": req.ActionType}
	for k, v := range extra {
		details[k] = v
	}
	if res.Message != "" {
		details["message"] = res.Message
	}
	if res.ExternalRef != "" {
		details["external_ref"] = res.ExternalRef
	}
	return e.Audit.Append(ctx, nil, req.Operator, "queue_item/"+req.QueueItemID, "execute", res.Status, details)
}

func duplicateResult(prior domain.IdempotencyRecord) domain.ActionResult {
	msg := "prior execution result returned"
	if prior.Status == repo.LedgerInFlight {
		msg = "execution already in flight"
	}
	return domain.ActionResult{
		Success:       prior.Success,
		Status:        domain.ResultDuplicate,
		ExternalRef:   prior.ExternalRef,
		RollbackToken: prior.RollbackToken,
		Message:       msg,
	}
}

func mergeContext(itemContextJSON string, overrides map[string]any) map[string]any {
	merged := map[string]any{}
	if itemContextJSON != "" {
		_ = json.Unmarshal([]byte(itemContextJSON), &merged)
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

func contextString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func recipientSuffix(recipient string) string {
	if recipient == "" {
		return ""
	}
	return " to " + recipient
}
