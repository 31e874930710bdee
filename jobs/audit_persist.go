package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/hearth-ehr/hearth/internal/audit"
	jobmetrics "github.com/hearth-ehr/hearth/internal/jobs"
)

// AuditPersistJob drains the audit queue into the durable sink.
type AuditPersistJob struct {
	Sink    audit.Sink
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditPersistJob wires dependencies for the persist handler.
func NewAuditPersistJob(sink audit.Sink, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditPersistJob {
	return &AuditPersistJob{Sink: sink, Logger: logger, Metrics: metrics}
}

// Handle processes audit:persist tasks. Undecodable or tampered payloads are
// dropped without retry; sink errors are returned so asynq retries them.
func (j *AuditPersistJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Sink == nil {
		return errors.New("audit persist: handler not configured")
	}
	tracker := j.Metrics.Track(TaskAuditPersist)
	defer func() {
		err = tracker.End(err)
	}()

	entry, err := DecodeAuditEntry(t)
	if err != nil {
		j.logger().Error("audit payload undecodable", slog.Any("error", err))
		j.Metrics.Reject(TaskAuditPersist, "decode")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	logger := j.logger().With(
		slog.String("entry_id", entry.ID.String()),
		slog.String("correlation_id", entry.CorrelationID.String()))
	if !entry.Verify() {
		logger.Error("audit entry checksum mismatch")
		j.Metrics.Reject(TaskAuditPersist, "checksum")
		return fmt.Errorf("audit persist: entry %s checksum mismatch: %w", entry.ID, asynq.SkipRetry)
	}
	if err := j.Sink.Append(ctx, entry); err != nil {
		logger.Warn("audit entry not persisted, will retry", slog.Any("error", err))
		return fmt.Errorf("audit persist: %w", err)
	}
	return nil
}

func (j *AuditPersistJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
