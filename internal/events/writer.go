package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the engine.
const (
	ProjectCreated      = "project.created"
	ProjectUpdated      = "project.updated"
	ProjectDeleted      = "project.deleted"
	SubmissionCreated   = "submission.created"
	JudgmentPassed      = "judgment.passed"
	JudgmentMissed      = "judgment.missed"
	JudgmentRepaired    = "judgment.repaired"
	PledgeTaken         = "pledge.taken"
	PenaltyStatusChange = "penalty.status"
	SupporterInvited    = "supporter.invited"
	SupporterJoined     = "supporter.joined"
	SupporterRemoved    = "supporter.removed"
	CheerSent           = "cheer.sent"
)

// ActorSystem is recorded for changes made by scheduled runs.
const ActorSystem = "system"

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one audit row inside tx.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = ActorSystem
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
