// Package guard implements the pre-execution checks: kill switch, rate
// limits, and the idempotency ledger boundary. Guards are evaluated in a
// fixed order and the first failure short-circuits execution.
package guard

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"gtmq/internal/audit"
	"gtmq/internal/repo"
)

// defaultRefresh bounds how long a kill switch toggled by another process
// (say the CLI against a running server) can go unnoticed.
const defaultRefresh = 2 * time.Second

// State is the process-wide guard state. It is injected explicitly into
// every execution path; there is no package-level singleton. The kill
// switch has a single writer path (SetKillSwitch) guarded by the mutex and
// persisted, so an in-process toggle is visible to every subsequent
// request immediately; cross-process toggles are picked up within
// RefreshEvery.
type State struct {
	DB    *sql.DB
	Repo  repo.Repo
	Audit audit.Writer
	Now   func() time.Time

	// RefreshEvery is the maximum cache age before KillSwitchActive
	// re-reads the persisted row. Zero means defaultRefresh.
	RefreshEvery time.Duration

	mu         sync.Mutex
	killActive bool
	killReason string
	refreshed  time.Time
}

func NewState(db *sql.DB) *State {
	return &State{
		DB:    db,
		Repo:  repo.Repo{DB: db},
		Audit: audit.Writer{DB: db},
		Now:   time.Now,
	}
}

func (s *State) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Load restores the persisted kill switch, so a restart cannot silently
// clear an active stop.
func (s *State) Load(ctx context.Context) error {
	row, err := s.Repo.GetGuardState(ctx)
	if err != nil {
		return fmt.Errorf("load guard state: %w", err)
	}
	s.mu.Lock()
	s.killActive = row.KillSwitchActive
	s.killReason = row.Reason
	s.refreshed = s.now()
	s.mu.Unlock()
	return nil
}

// KillSwitchActive reads the current switch under the mutex. A cache
// entry older than RefreshEvery is re-read from the store first; when the
// re-read fails the last known state answers, an unreadable store never
// flips the switch off.
func (s *State) KillSwitchActive() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	refreshEvery := s.RefreshEvery
	if refreshEvery == 0 {
		refreshEvery = defaultRefresh
	}
	if s.now().Sub(s.refreshed) >= refreshEvery {
		if row, err := s.Repo.GetGuardState(context.Background()); err == nil {
			s.killActive = row.KillSwitchActive
			s.killReason = row.Reason
		}
		s.refreshed = s.now()
	}
	return s.killActive, s.killReason
}

// SetKillSwitch toggles the switch. The toggle persists, emits its own
// audit event in the same transaction, and takes effect for all subsequent
// requests before this call returns.
func (s *State) SetKillSwitch(ctx context.Context, active bool, reason, actor string) error {
	now := s.now().UTC().Format(time.RFC3339)
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.Repo.SetGuardState(ctx, tx, active, reason, actor, now); err != nil {
		return fmt.Errorf("persist kill switch: %w", err)
	}
	status := "deactivated"
	if active {
		status = "activated"
	}
	if err := s.Audit.Append(ctx, tx, actor, "guard", "kill_switch."+status, "ok", audit.Details{"reason": reason}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.mu.Lock()
	s.killActive = active
	s.killReason = reason
	s.refreshed = s.now()
	s.mu.Unlock()
	return nil
}
