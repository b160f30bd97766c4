package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"pfmt/internal/domain"
)

// Audit event types, one per workflow transition.
const (
	TypeProjectInitiated = "project.initiated"
	TypeTeamAssigned     = "project.team_assigned"
	TypeProjectFinalized = "project.finalized"
)

type EventPayload map[string]any

// Record is one audit entry about a project.
type Record struct {
	Type      string
	ProjectID string
	ActorID   string
	Payload   EventPayload
}

// Writer appends audit records inside the caller's transaction so an event
// exists only when its transition committed.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, rec Record) error {
	if rec.Type == "" || rec.ProjectID == "" {
		return fmt.Errorf("event requires type and project id")
	}
	payload := rec.Payload
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", rec.Type, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,'project',?,?,?)`,
		w.now().UTC().Format(time.RFC3339Nano), rec.Type, rec.ProjectID, rec.ProjectID, rec.ActorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s: %w", rec.Type, err)
	}
	return nil
}

// List returns a project's audit trail, oldest first. An empty trail is a
// non-nil slice.
func (w Writer) List(ctx context.Context, projectID string) ([]domain.Event, error) {
	rows, err := w.DB.QueryContext(ctx,
		`SELECT id,ts,type,COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json
		 FROM events WHERE project_id=? ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
