package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"gtmq/internal/domain"
)

type AuditFilters struct {
	Actor    string
	Resource string
	Action   string
	Status   string
	Cursor   int64
	Limit    int
}

// ListAuditEvents returns audit events newest-first. The log is read-only
// at this boundary: no update or delete query exists anywhere in the repo.
func (r Repo) ListAuditEvents(ctx context.Context, f AuditFilters) ([]domain.AuditEvent, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Actor != "" {
		clauses = append(clauses, "actor=?")
		args = append(args, f.Actor)
	}
	if f.Resource != "" {
		clauses = append(clauses, "resource=?")
		args = append(args, f.Resource)
	}
	if f.Action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, f.Action)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,actor,resource,action,status,details_json FROM audit_events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Actor, &e.Resource, &e.Action, &e.Status, &details); err != nil {
			return nil, err
		}
		e.Details = details.String
		res = append(res, e)
	}
	return res, rows.Err()
}
