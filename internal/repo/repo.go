package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gtmq/internal/config"
	"gtmq/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when a queue item status change is not
// allowed by the lifecycle state machine, or the compare-and-swap on status
// lost against a concurrent transition.
var ErrInvalidTransition = errors.New("invalid status transition")

// --- signals ---

// InsertSignalIfAbsent atomically inserts a signal unless one with the same
// dedup key exists. The unique index on dedup_key closes the ingestion race
// at the store layer. Returns the stored signal and whether this call
// created it.
func (r Repo) InsertSignalIfAbsent(ctx context.Context, tx *sql.Tx, s domain.Signal) (domain.Signal, bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO signals(id,source,event_type,entity_id,detected_at,dedup_key,payload_json,processed,created_at)
VALUES (?,?,?,?,?,?,?,?,?) ON CONFLICT(dedup_key) DO NOTHING`,
		s.ID, s.Source, s.EventType, s.EntityID, s.DetectedAt, s.DedupKey, nullable(s.PayloadJSON), boolInt(s.Processed), s.CreatedAt)
	if err != nil {
		return domain.Signal{}, false, fmt.Errorf("insert signal: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return s, true, nil
	}
	existing, err := r.getSignalByDedupKeyTx(ctx, tx, s.DedupKey)
	if err != nil {
		return domain.Signal{}, false, err
	}
	return existing, false, nil
}

func scanSignal(scan func(...any) error) (domain.Signal, error) {
	var s domain.Signal
	var payload sql.NullString
	var processed int
	err := scan(&s.ID, &s.Source, &s.EventType, &s.EntityID, &s.DetectedAt, &s.DedupKey, &payload, &processed, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if payload.Valid {
		s.PayloadJSON = payload.String
	}
	s.Processed = processed != 0
	return s, nil
}

const signalCols = `id,source,event_type,entity_id,detected_at,dedup_key,payload_json,processed,created_at`

func (r Repo) GetSignal(ctx context.Context, id string) (domain.Signal, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+signalCols+` FROM signals WHERE id=?`, id)
	return scanSignal(row.Scan)
}

func (r Repo) getSignalByDedupKeyTx(ctx context.Context, tx *sql.Tx, key string) (domain.Signal, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+signalCols+` FROM signals WHERE dedup_key=?`, key)
	return scanSignal(row.Scan)
}

func (r Repo) MarkSignalProcessed(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `UPDATE signals SET processed=1 WHERE id=?`, id)
	return err
}

type SignalFilters struct {
	Source    string
	EventType string
	EntityID  string
	Limit     int
}

func (r Repo) ListSignals(ctx context.Context, f SignalFilters) ([]domain.Signal, error) {
	var clauses []string
	var args []any
	if f.Source != "" {
		clauses = append(clauses, "source=?")
		args = append(args, f.Source)
	}
	if f.EventType != "" {
		clauses = append(clauses, "event_type=?")
		args = append(args, f.EventType)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + signalCols + ` FROM signals ` + where + ` ORDER BY detected_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Signal
	for rows.Next() {
		s, err := scanSignal(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// --- queue items ---

const itemCols = `id,title,description,action_type,status,priority_score,drivers_json,context_json,snooze_until,created_at,updated_at,completed_at`

func scanQueueItem(scan func(...any) error) (domain.QueueItem, error) {
	var it domain.QueueItem
	var description, drivers, contextJSON, snoozeUntil, completedAt sql.NullString
	err := scan(&it.ID, &it.Title, &description, &it.ActionType, &it.Status, &it.PriorityScore, &drivers, &contextJSON, &snoozeUntil, &it.CreatedAt, &it.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	if description.Valid {
		it.Description = description.String
	}
	if drivers.Valid && drivers.String != "" {
		_ = json.Unmarshal([]byte(drivers.String), &it.Drivers)
	}
	if contextJSON.Valid {
		it.ContextJSON = contextJSON.String
	}
	if snoozeUntil.Valid {
		it.SnoozeUntil = &snoozeUntil.String
	}
	if completedAt.Valid {
		it.CompletedAt = &completedAt.String
	}
	return it, nil
}

// InsertQueueItemIfAbsent inserts the item unless its deterministic id
// already exists. Exactly one queue item exists per dedup-derived id.
func (r Repo) InsertQueueItemIfAbsent(ctx context.Context, tx *sql.Tx, it domain.QueueItem) (bool, error) {
	drivers, err := marshalDrivers(it.Drivers)
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO queue_items(id,title,description,action_type,status,priority_score,drivers_json,context_json,snooze_until,created_at,updated_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?) ON CONFLICT(id) DO NOTHING`,
		it.ID, it.Title, nullable(it.Description), it.ActionType, it.Status, it.PriorityScore, drivers, nullable(it.ContextJSON),
		nullableStringPtr(it.SnoozeUntil), it.CreatedAt, it.UpdatedAt, nullableStringPtr(it.CompletedAt))
	if err != nil {
		return false, fmt.Errorf("insert queue item: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) GetQueueItem(ctx context.Context, id string) (domain.QueueItem, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+itemCols+` FROM queue_items WHERE id=?`, id)
	it, err := scanQueueItem(row.Scan)
	if err != nil {
		return it, err
	}
	it.SignalIDs, err = r.ListItemSignals(ctx, it.ID)
	return it, err
}

func (r Repo) GetQueueItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.QueueItem, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+itemCols+` FROM queue_items WHERE id=?`, id)
	return scanQueueItem(row.Scan)
}

type QueueFilters struct {
	Status     string
	ActionType string
	MinScore   float64
	Limit      int
}

// ListQueueItems returns items ordered by priority descending; equal scores
// break oldest-first.
func (r Repo) ListQueueItems(ctx context.Context, f QueueFilters) ([]domain.QueueItem, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ActionType != "" {
		clauses = append(clauses, "action_type=?")
		args = append(args, f.ActionType)
	}
	if f.MinScore > 0 {
		clauses = append(clauses, "priority_score>=?")
		args = append(args, f.MinScore)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + itemCols + ` FROM queue_items ` + where + ` ORDER BY priority_score DESC, created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.QueueItem
	for rows.Next() {
		it, err := scanQueueItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// TransitionStatus performs a compare-and-swap on the item status. The
// UPDATE is conditional on the expected current status so concurrent
// transition attempts cannot both succeed.
func (r Repo) TransitionStatus(ctx context.Context, tx *sql.Tx, id, from, to, now string, snoozeUntil, completedAt *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE queue_items SET status=?, snooze_until=?, completed_at=COALESCE(?, completed_at), updated_at=? WHERE id=? AND status=?`,
		to, nullableStringPtr(snoozeUntil), nullableStringPtr(completedAt), now, id, from)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// UpdateScore overwrites priority_score and drivers without touching
// identity or status. Re-scoring is idempotent.
func (r Repo) UpdateScore(ctx context.Context, tx *sql.Tx, id string, score float64, drivers map[string]domain.Driver, now string) error {
	data, err := marshalDrivers(drivers)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE queue_items SET priority_score=?, drivers_json=?, updated_at=? WHERE id=?`, score, data, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) LinkSignal(ctx context.Context, tx *sql.Tx, itemID, signalID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO queue_item_signals(queue_item_id, signal_id) VALUES (?,?)`, itemID, signalID)
	return err
}

func (r Repo) ListItemSignals(ctx context.Context, itemID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT signal_id FROM queue_item_signals WHERE queue_item_id=? ORDER BY signal_id`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ExpiredSnoozes returns ids of snoozed items whose snooze_until has passed.
func (r Repo) ExpiredSnoozes(ctx context.Context, now string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM queue_items WHERE status='snoozed' AND snooze_until IS NOT NULL AND snooze_until<=?`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) CountItemsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM queue_items GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

// --- config ---

func (r Repo) UpsertConfig(ctx context.Context, name string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Queue.Name = name
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.DB.ExecContext(ctx, `INSERT INTO configs(name,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(name) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, name, string(payload), now, now)
	return err
}

func (r Repo) GetConfig(ctx context.Context, name string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM configs WHERE name=?`, name).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Queue.Name == "" {
		cfg.Queue.Name = name
	}
	return &cfg, cfg.Validate()
}

func (r Repo) ListConfigNames(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT name FROM configs ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// --- guard state ---

type GuardStateRow struct {
	KillSwitchActive bool
	Reason           string
	UpdatedBy        string
	UpdatedAt        string
}

func (r Repo) GetGuardState(ctx context.Context) (GuardStateRow, error) {
	var row GuardStateRow
	var active int
	var reason, updatedBy, updatedAt sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT kill_switch_active, reason, updated_by, updated_at FROM guard_state WHERE id=1`).
		Scan(&active, &reason, &updatedBy, &updatedAt)
	if err == sql.ErrNoRows {
		return row, ErrNotFound
	}
	if err != nil {
		return row, err
	}
	row.KillSwitchActive = active != 0
	row.Reason = reason.String
	row.UpdatedBy = updatedBy.String
	row.UpdatedAt = updatedAt.String
	return row, nil
}

func (r Repo) SetGuardState(ctx context.Context, tx *sql.Tx, active bool, reason, actor, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE guard_state SET kill_switch_active=?, reason=?, updated_by=?, updated_at=? WHERE id=1`,
		boolInt(active), nullable(reason), actor, now)
	return err
}

// --- helpers ---

func marshalDrivers(d map[string]domain.Driver) (any, error) {
	if len(d) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
