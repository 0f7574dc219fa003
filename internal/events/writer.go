package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"taskboard/internal/domain"
)

// Audit event types written alongside state changes.
const (
	TaskCreated       = "task.created"
	TaskClaimed       = "task.claimed"
	TaskReleased      = "task.released"
	TaskCompleted     = "task.completed"
	TaskUpdated       = "task.updated"
	CardRecomputed    = "card.recomputed"
	RuleApplied       = "rule.applied"
	SessionStarted    = "session.started"
	SessionClosed     = "session.closed"
	TaskTypeCreated   = "task_type.created"
	TaskTypeDeleted   = "task_type.deleted"
	ProjectConfigured = "project.configured"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Payload map[string]any

// Append records an audit row inside the caller's transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload Payload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

// ForEntity lists audit rows for one entity, oldest first.
func (w Writer) ForEntity(ctx context.Context, entityKind, entityID string) ([]domain.AuditEntry, error) {
	rows, err := w.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json
		FROM events WHERE entity_kind=? AND entity_id=? ORDER BY id`, entityKind, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
