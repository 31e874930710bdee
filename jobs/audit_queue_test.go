package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/hearth-ehr/hearth/internal/audit"
	jobmetrics "github.com/hearth-ehr/hearth/internal/jobs"
)

type captureEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (c *captureEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.tasks = append(c.tasks, task)
	return &asynq.TaskInfo{ID: "x", Queue: QueueAudit, Type: task.Type()}, nil
}

func builtEntry(t *testing.T) audit.Entry {
	t.Helper()
	sink := audit.NewMemorySink()
	rec := audit.NewRecorder(sink, audit.WithClock(func() time.Time {
		return time.Date(2024, 5, 1, 9, 0, 0, 123456000, time.UTC)
	}))
	entry, err := rec.RecordAccess(context.Background(), audit.Record{
		PrincipalID:  "staff-7",
		Role:         "clinician",
		Action:       audit.ActionUpdate,
		Module:       "clients",
		ResourceType: "client",
		ResourceID:   "42",
		Outcome:      audit.OutcomeSuccess,
		OldValue:     "client:42@v1",
		NewValue:     "client:42@v2",
	})
	require.NoError(t, err)
	return entry
}

func TestAuditQueueEnqueuesEntry(t *testing.T) {
	enq := &captureEnqueuer{}
	q := NewAuditQueue(enq, nil)
	entry := builtEntry(t)

	require.NoError(t, q.Append(context.Background(), entry))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TaskAuditPersist, enq.tasks[0].Type())

	decoded, err := DecodeAuditEntry(enq.tasks[0])
	require.NoError(t, err)
	require.Equal(t, entry.ID, decoded.ID)
	require.True(t, decoded.Verify())
}

func TestAuditQueueTreatsDuplicateAsWritten(t *testing.T) {
	q := NewAuditQueue(&captureEnqueuer{err: asynq.ErrTaskIDConflict}, nil)
	require.NoError(t, q.Append(context.Background(), builtEntry(t)))
}

func TestAuditQueueFailureIsReported(t *testing.T) {
	sink := NewAuditQueue(&captureEnqueuer{err: errors.New("redis down")}, nil)
	rec := audit.NewRecorder(sink)

	_, err := rec.RecordAccess(context.Background(), audit.Record{
		PrincipalID:  "staff-7",
		Action:       audit.ActionDelete,
		ResourceType: "client",
		Outcome:      audit.OutcomeSuccess,
	})
	require.ErrorIs(t, err, audit.ErrAuditWrite)
}

func TestAuditQueueRejectsUnbuiltEntry(t *testing.T) {
	q := NewAuditQueue(&captureEnqueuer{}, nil)
	require.Error(t, q.Append(context.Background(), audit.Entry{}))
}

func TestAuditPersistJobWritesEntry(t *testing.T) {
	sink := audit.NewMemorySink()
	job := NewAuditPersistJob(sink, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	entry := builtEntry(t)
	task, err := NewAuditPersistTask(entry)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))

	stored, ok := sink.Get(entry.ID)
	require.True(t, ok)
	require.Equal(t, entry.Checksum, stored.Checksum)
}

func TestAuditPersistJobDropsTamperedEntry(t *testing.T) {
	sink := audit.NewMemorySink()
	job := NewAuditPersistJob(sink, nil, nil)
	entry := builtEntry(t)
	entry.NewValue = "client:42@v9"
	task, err := NewAuditPersistTask(entry)
	require.NoError(t, err)

	err = job.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, sink.Entries())
}

func TestAuditPersistJobDropsGarbage(t *testing.T) {
	job := NewAuditPersistJob(audit.NewMemorySink(), nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskAuditPersist, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestAuditPersistJobRetriesSinkFailure(t *testing.T) {
	sink := audit.NewMemorySink()
	sink.FailWith(errors.New("pg down"))
	job := NewAuditPersistJob(sink, nil, nil)
	task, err := NewAuditPersistTask(builtEntry(t))
	require.NoError(t, err)

	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry))
}
