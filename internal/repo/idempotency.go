package repo

import (
	"context"
	"database/sql"

	"gtmq/internal/domain"
)

// Idempotency ledger statuses.
const (
	LedgerInFlight = "in_flight"
	LedgerExecuted = "executed"
	LedgerFailed   = "failed"
)

// ReserveIdempotency claims the key for execution. The claim is an
// insert-if-absent on the primary key, so exactly one of N concurrent
// attempts wins; losers receive the winner's record and won=false. A prior
// failed record may be re-claimed: failure does not burn the key forever.
func (r Repo) ReserveIdempotency(ctx context.Context, rec domain.IdempotencyRecord) (won bool, existing domain.IdempotencyRecord, err error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO idempotency(key,queue_item_id,action_type,status,success,operator,created_at,updated_at)
VALUES (?,?,?,?,0,?,?,?) ON CONFLICT(key) DO NOTHING`,
		rec.Key, rec.QueueItemID, rec.ActionType, LedgerInFlight, rec.Operator, rec.CreatedAt, rec.CreatedAt)
	if err != nil {
		return false, domain.IdempotencyRecord{}, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		rec.Status = LedgerInFlight
		rec.UpdatedAt = rec.CreatedAt
		return true, rec, nil
	}
	prior, err := r.GetIdempotency(ctx, rec.Key)
	if err != nil {
		return false, domain.IdempotencyRecord{}, err
	}
	if prior.Status == LedgerFailed {
		// Conditional re-claim: only one retrier flips failed back to
		// in_flight.
		res, err := r.DB.ExecContext(ctx, `UPDATE idempotency SET status=?, success=0, message=NULL, operator=?, updated_at=? WHERE key=? AND status=?`,
			LedgerInFlight, rec.Operator, rec.CreatedAt, rec.Key, LedgerFailed)
		if err != nil {
			return false, prior, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			rec.Status = LedgerInFlight
			rec.UpdatedAt = rec.CreatedAt
			return true, rec, nil
		}
		prior, err = r.GetIdempotency(ctx, rec.Key)
		if err != nil {
			return false, domain.IdempotencyRecord{}, err
		}
	}
	return false, prior, nil
}

// CompleteIdempotency records the outcome of the reserved execution.
func (r Repo) CompleteIdempotency(ctx context.Context, tx *sql.Tx, key, status string, success bool, externalRef, rollbackToken, message, now string) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `UPDATE idempotency SET status=?, success=?, external_ref=?, rollback_token=?, message=?, updated_at=? WHERE key=?`,
		status, boolInt(success), nullable(externalRef), nullable(rollbackToken), nullable(message), now, key)
	return err
}

// ReleaseIdempotency removes an in-flight claim that never ran, e.g. when a
// later guard rejected the request. Completed records are never released.
func (r Repo) ReleaseIdempotency(ctx context.Context, key string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM idempotency WHERE key=? AND status=?`, key, LedgerInFlight)
	return err
}

func (r Repo) GetIdempotency(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord
	var success int
	var externalRef, rollbackToken, message sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT key,queue_item_id,action_type,status,success,external_ref,rollback_token,message,operator,created_at,updated_at FROM idempotency WHERE key=?`, key).
		Scan(&rec.Key, &rec.QueueItemID, &rec.ActionType, &rec.Status, &success, &externalRef, &rollbackToken, &message, &rec.Operator, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	rec.Success = success != 0
	rec.ExternalRef = externalRef.String
	rec.RollbackToken = rollbackToken.String
	rec.Message = message.String
	return rec, nil
}

// --- rollback tokens ---

func (r Repo) InsertRollbackToken(ctx context.Context, tx *sql.Tx, t domain.RollbackToken) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO rollback_tokens(token,queue_item_id,action_type,external_ref,created_at) VALUES (?,?,?,?,?)`,
		t.Token, t.QueueItemID, t.ActionType, t.ExternalRef, t.CreatedAt)
	return err
}

func (r Repo) GetRollbackToken(ctx context.Context, token string) (domain.RollbackToken, error) {
	var t domain.RollbackToken
	var usedAt sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT token,queue_item_id,action_type,external_ref,created_at,used_at FROM rollback_tokens WHERE token=?`, token).
		Scan(&t.Token, &t.QueueItemID, &t.ActionType, &t.ExternalRef, &t.CreatedAt, &usedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if usedAt.Valid {
		t.UsedAt = &usedAt.String
	}
	return t, nil
}

// MarkRollbackUsed is a compare-and-swap on used_at so a token redeems at
// most once.
func (r Repo) MarkRollbackUsed(ctx context.Context, token, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE rollback_tokens SET used_at=? WHERE token=? AND used_at IS NULL`, now, token)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
