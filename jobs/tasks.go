package jobs

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/hearth-ehr/hearth/internal/audit"
)

const (
	// QueueAudit carries audit entries awaiting persistence.
	QueueAudit = "audit"
	// TaskAuditPersist writes one audit entry to Postgres.
	TaskAuditPersist = "audit:persist"
)

// auditMaxRetry keeps an entry retrying for roughly a day under asynq's
// default backoff.
const auditMaxRetry = 25

// NewAuditPersistTask wraps entry in a task whose ID is the entry ID, so a
// second enqueue of the same entry is rejected by the broker.
func NewAuditPersistTask(entry audit.Entry) (*asynq.Task, error) {
	if entry.ID == uuid.Nil || entry.Checksum == "" {
		return nil, errors.New("jobs: audit entry not built")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("jobs: encode audit entry: %w", err)
	}
	return asynq.NewTask(TaskAuditPersist, data,
		asynq.TaskID(entry.ID.String()),
		asynq.Queue(QueueAudit),
		asynq.MaxRetry(auditMaxRetry),
	), nil
}

// DecodeAuditEntry reads the entry carried by an audit:persist task.
func DecodeAuditEntry(t *asynq.Task) (audit.Entry, error) {
	var entry audit.Entry
	if err := json.Unmarshal(t.Payload(), &entry); err != nil {
		return audit.Entry{}, fmt.Errorf("jobs: decode audit entry: %w", err)
	}
	return entry, nil
}
