package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Audit event types.
const (
	TypeUpdateRejected  = "update.rejected"
	TypeUpdatePlanError = "update.plan_error"
	TypeWorkItemPatched = "work_item.patched"
	TypeWorkItemFailed  = "work_item.patch_failed"
	TypeQueryAnswered   = "query.answered"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Record is one audit entry written outside an existing transaction.
type Record struct {
	Type       string
	QueryID    string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    EventPayload
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, queryID, entityKind, entityID, actorID string, payload EventPayload) error {
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
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,query_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(queryID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

// Record appends rec in its own transaction.
func (w Writer) Record(ctx context.Context, rec Record) error {
	if w.DB == nil {
		return fmt.Errorf("audit writer has no database")
	}
	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if rec.ActorID == "" {
		rec.ActorID = "local-user"
	}
	if err := w.Append(ctx, tx, rec.Type, rec.QueryID, rec.EntityKind, rec.EntityID, rec.ActorID, rec.Payload); err != nil {
		return fmt.Errorf("append %s event: %w", rec.Type, err)
	}
	return tx.Commit()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
