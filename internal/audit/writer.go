// Package audit appends immutable audit events. There is no update or
// delete path; corrections are new events referencing the original.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Details map[string]any

// Append writes one audit event. When tx is non-nil the event commits or
// rolls back with the state change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, actor, resource, action, status string, details Details) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if details == nil {
		details = Details{}
	}
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	exec := w.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err = exec(ctx, `INSERT INTO audit_events(ts,actor,resource,action,status,details_json) VALUES (?,?,?,?,?,?)`,
		ts, actor, resource, action, status, string(data))
	return err
}
