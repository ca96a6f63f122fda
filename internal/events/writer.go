package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	NodeCreated          = "node.created"
	NodeDeleted          = "node.deleted"
	MetricUpserted       = "metric.upserted"
	NodeStatusChanged    = "node.status.changed"
	RuleCreated          = "rule.created"
	RuleUpdated          = "rule.updated"
	RuleDeleted          = "rule.deleted"
	RuleTriggered        = "rule.triggered"
	RuleStale            = "rule.stale"
	TaskCreated          = "task.created"
	TaskTriggerRefreshed = "task.trigger.refreshed"
	TaskUpdated          = "task.updated"
	TaskCompleted        = "task.completed"
	TaskFeedbackUpdated  = "task.feedback.updated"
	SOPPut               = "sop.put"
)

// Writer appends events to the audit log inside the caller's transaction.
type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
