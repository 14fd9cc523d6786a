package repo

import (
	"context"
	"database/sql"

	"gtmq/internal/domain"
)

// EnsureOperator inserts the actor if missing, keeping an existing role.
func (r Repo) EnsureOperator(ctx context.Context, tx *sql.Tx, actorID, role, now string) error {
	if role == "" {
		role = "operator"
	}
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT OR IGNORE INTO operators(actor_id, role, created_at) VALUES (?,?,?)`, actorID, role, now)
	return err
}

func (r Repo) SetOperatorRole(ctx context.Context, actorID, role string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE operators SET role=? WHERE actor_id=?`, role, actorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetOperator(ctx context.Context, actorID string) (domain.Operator, error) {
	var op domain.Operator
	var name sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT actor_id, name, role, created_at FROM operators WHERE actor_id=?`, actorID).
		Scan(&op.ActorID, &name, &op.Role, &op.CreatedAt)
	if err == sql.ErrNoRows {
		return op, ErrNotFound
	}
	if err != nil {
		return op, err
	}
	op.Name = name.String
	return op, nil
}

func (r Repo) ListOperators(ctx context.Context) ([]domain.Operator, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT actor_id, name, role, created_at FROM operators ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ops []domain.Operator
	for rows.Next() {
		var op domain.Operator
		var name sql.NullString
		if err := rows.Scan(&op.ActorID, &name, &op.Role, &op.CreatedAt); err != nil {
			return nil, err
		}
		op.Name = name.String
		ops = append(ops, op)
	}
	return ops, rows.Err()
}
