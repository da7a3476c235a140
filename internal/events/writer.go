package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types emitted by the engine. The dispatcher and webhook consumers
// match on these.
const (
	ProjectCreated       = "project.created"
	ProjectUpdated       = "project.updated"
	ProjectArchived      = "project.archived"
	ProjectDeleted       = "project.deleted"
	MemberAdded          = "member.added"
	MemberRemoved        = "member.removed"
	MemberRoleChanged    = "member.role_changed"
	OwnershipTransferred = "ownership.transferred"
	TaskCreated          = "task.created"
	TaskAssigned         = "task.assigned"
	TaskStatusChanged    = "task.status_changed"
	TaskDeleted          = "task.deleted"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes a fact event inside the caller's transaction so the event
// log never diverges from the mutation it records.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
