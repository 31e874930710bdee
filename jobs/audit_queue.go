package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/hearth-ehr/hearth/internal/audit"
)

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AuditQueue is an audit.Sink that hands entries to the worker through Redis.
// An entry counts as written once the broker has accepted it.
type AuditQueue struct {
	enqueuer Enqueuer
	logger   *slog.Logger
}

// NewAuditQueue constructs an AuditQueue.
func NewAuditQueue(enqueuer Enqueuer, logger *slog.Logger) *AuditQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditQueue{enqueuer: enqueuer, logger: logger}
}

// Append enqueues entry. An entry already queued under the same ID is treated
// as written.
func (q *AuditQueue) Append(ctx context.Context, entry audit.Entry) error {
	if q == nil || q.enqueuer == nil {
		return errors.New("jobs: audit queue not configured")
	}
	task, err := NewAuditPersistTask(entry)
	if err != nil {
		return err
	}
	if _, err := q.enqueuer.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			q.logger.Debug("audit entry already queued", slog.String("entry_id", entry.ID.String()))
			return nil
		}
		return fmt.Errorf("jobs: enqueue audit entry: %w", err)
	}
	return nil
}

var _ audit.Sink = (*AuditQueue)(nil)
