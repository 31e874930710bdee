package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	// ErrAuditWrite is matched by every sink failure returned from a Recorder.
	ErrAuditWrite = errors.New("audit: write failed")
	// ErrInvalidRecord indicates a record missing required fields.
	ErrInvalidRecord = errors.New("audit: invalid record")
)

// Sink is the durable append-only destination for entries.
type Sink interface {
	Append(ctx context.Context, entry Entry) error
}

// WriteError wraps a sink failure together with the entry that was lost.
type WriteError struct {
	Entry Entry
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("audit: write entry %s (%s %s): %v", e.Entry.ID, e.Entry.Action, e.Entry.Outcome, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Is matches ErrAuditWrite.
func (e *WriteError) Is(target error) bool { return target == ErrAuditWrite }

// Record is the input describing one access to audit.
type Record struct {
	PrincipalID  string   `validate:"required"`
	Role         string
	Action       Action   `validate:"required,oneof=READ CREATE UPDATE DELETE"`
	Module       string
	ResourceType string   `validate:"required"`
	ResourceID   string
	Outcome      Outcome  `validate:"required,oneof=attempt success failure denied"`
	Severity     Severity `validate:"omitempty,oneof=info warning critical"`
	Description  string
	IPAddress    string
	UserAgent    string
	OldValue     string
	NewValue     string
}

// Option customises a Recorder.
type Option func(*Recorder)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the logger used for failure traces.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithFailureHook registers a callback invoked for every failed write, used to
// feed alerting separately from the caller's error path.
func WithFailureHook(hook func(Entry, error)) Option {
	return func(r *Recorder) {
		r.onFailure = hook
	}
}

// Recorder builds entries and appends them to a Sink exactly once per call.
// It never retries; failures are logged, reported to the failure hook and returned.
type Recorder struct {
	sink      Sink
	now       func() time.Time
	newID     func() uuid.UUID
	logger    *slog.Logger
	onFailure func(Entry, error)
	validate  *validator.Validate
}

// NewRecorder constructs a Recorder writing to sink.
func NewRecorder(sink Sink, opts ...Option) *Recorder {
	r := &Recorder{
		sink:     sink,
		now:      time.Now,
		newID:    uuid.New,
		logger:   slog.Default(),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordAccess builds a fully populated entry from rec and appends it to the sink.
// Denied and failed outcomes are raised to at least warning severity. The
// returned entry is valid even when the write fails.
func (r *Recorder) RecordAccess(ctx context.Context, rec Record) (Entry, error) {
	return r.write(ctx, rec, uuid.Nil, time.Time{})
}

// Begin records the attempt half of a two-phase access.
func (r *Recorder) Begin(ctx context.Context, rec Record) (Attempt, error) {
	rec.Outcome = OutcomeAttempt
	entry, err := r.write(ctx, rec, uuid.Nil, time.Time{})
	if entry.ID == uuid.Nil {
		return Attempt{}, err
	}
	return Attempt{recorder: r, record: rec, entry: entry}, err
}

func (r *Recorder) write(ctx context.Context, rec Record, correlation uuid.UUID, notBefore time.Time) (Entry, error) {
	entry, err := r.build(rec, correlation, notBefore)
	if err != nil {
		r.logger.Error("audit record rejected",
			slog.String("principal", rec.PrincipalID),
			slog.String("resource_type", rec.ResourceType),
			slog.Any("error", err))
		if r.onFailure != nil {
			r.onFailure(Entry{PrincipalID: rec.PrincipalID, Action: rec.Action, ResourceType: rec.ResourceType, Outcome: rec.Outcome}, err)
		}
		return Entry{}, err
	}
	if r.sink == nil {
		return entry, r.fail(entry, errors.New("sink not configured"))
	}
	if err := r.sink.Append(ctx, entry); err != nil {
		return entry, r.fail(entry, err)
	}
	return entry, nil
}

func (r *Recorder) fail(entry Entry, cause error) error {
	werr := &WriteError{Entry: entry, Err: cause}
	r.logger.Error("audit write failed",
		slog.String("entry_id", entry.ID.String()),
		slog.String("correlation_id", entry.CorrelationID.String()),
		slog.String("principal", entry.PrincipalID),
		slog.String("action", string(entry.Action)),
		slog.String("resource_type", entry.ResourceType),
		slog.String("resource_id", entry.ResourceID),
		slog.String("outcome", string(entry.Outcome)),
		slog.Any("error", cause))
	if r.onFailure != nil {
		r.onFailure(entry, werr)
	}
	return werr
}

func (r *Recorder) build(rec Record, correlation uuid.UUID, notBefore time.Time) (Entry, error) {
	rec = rec.normalized()
	if err := r.validate.Struct(rec); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	// Microsecond precision matches the audit_logs column.
	ts := r.now().UTC().Truncate(time.Microsecond)
	if ts.Before(notBefore) {
		ts = notBefore
	}
	id := r.newID()
	if correlation == uuid.Nil {
		correlation = id
	}
	entry := Entry{
		ID:            id,
		CorrelationID: correlation,
		Timestamp:     ts,
		PrincipalID:   rec.PrincipalID,
		Role:          rec.Role,
		Action:        rec.Action,
		Module:        rec.Module,
		ResourceType:  rec.ResourceType,
		ResourceID:    rec.ResourceID,
		Outcome:       rec.Outcome,
		Severity:      floorSeverity(rec.Outcome, rec.Severity),
		Description:   rec.Description,
		IPAddress:     rec.IPAddress,
		UserAgent:     rec.UserAgent,
		OldValue:      rec.OldValue,
		NewValue:      rec.NewValue,
	}
	if entry.Description == "" {
		entry.Description = r.describe(entry)
	}
	entry.Checksum = entry.digest()
	return entry, nil
}

// normalized trims every text field so the checksum covers exactly what a
// sink stores.
func (rec Record) normalized() Record {
	rec.PrincipalID = strings.TrimSpace(rec.PrincipalID)
	rec.Role = strings.TrimSpace(rec.Role)
	rec.Module = strings.TrimSpace(rec.Module)
	rec.ResourceType = strings.TrimSpace(rec.ResourceType)
	rec.ResourceID = strings.TrimSpace(rec.ResourceID)
	rec.Description = strings.TrimSpace(rec.Description)
	rec.IPAddress = strings.TrimSpace(rec.IPAddress)
	rec.UserAgent = strings.TrimSpace(rec.UserAgent)
	rec.OldValue = strings.TrimSpace(rec.OldValue)
	rec.NewValue = strings.TrimSpace(rec.NewValue)
	return rec
}

func floorSeverity(outcome Outcome, severity Severity) Severity {
	switch outcome {
	case OutcomeDenied, OutcomeFailure:
		return severity.Max(SeverityWarning)
	default:
		return severity.Max(SeverityInfo)
	}
}

// describe renders e.g. "Read client 42 by s-1 (clinician): success".
// Casers carry state, so each call gets its own.
func (r *Recorder) describe(e Entry) string {
	var b strings.Builder
	b.WriteString(cases.Title(language.English).String(strings.ToLower(string(e.Action))))
	b.WriteByte(' ')
	b.WriteString(e.ResourceType)
	if e.ResourceID != "" {
		b.WriteByte(' ')
		b.WriteString(e.ResourceID)
	}
	b.WriteString(" by ")
	b.WriteString(e.PrincipalID)
	if e.Role != "" {
		b.WriteString(" (")
		b.WriteString(e.Role)
		b.WriteByte(')')
	}
	b.WriteString(": ")
	b.WriteString(string(e.Outcome))
	return b.String()
}

// Completion describes the outcome half of a two-phase access.
type Completion struct {
	Outcome     Outcome
	Severity    Severity
	Description string
	ResourceID  string
	OldValue    string
	NewValue    string
}

// Attempt is the handle returned by Begin. Finishing it produces a second,
// independent entry that shares the attempt's correlation ID.
type Attempt struct {
	recorder *Recorder
	record   Record
	entry    Entry
}

// Entry returns the recorded attempt entry.
func (a Attempt) Entry() Entry { return a.entry }

// CorrelationID links the attempt with its outcome entry.
func (a Attempt) CorrelationID() uuid.UUID { return a.entry.CorrelationID }

// Finish records the outcome entry. Its timestamp is never earlier than the attempt's.
func (a Attempt) Finish(ctx context.Context, c Completion) (Entry, error) {
	if a.recorder == nil {
		return Entry{}, fmt.Errorf("%w: attempt not started", ErrInvalidRecord)
	}
	if c.Outcome == "" || c.Outcome == OutcomeAttempt {
		return Entry{}, fmt.Errorf("%w: completion outcome required", ErrInvalidRecord)
	}
	rec := a.record
	rec.Outcome = c.Outcome
	rec.Severity = c.Severity
	rec.Description = c.Description
	if c.ResourceID != "" {
		rec.ResourceID = c.ResourceID
	}
	if c.OldValue != "" {
		rec.OldValue = c.OldValue
	}
	if c.NewValue != "" {
		rec.NewValue = c.NewValue
	}
	return a.recorder.write(ctx, rec, a.entry.CorrelationID, a.entry.Timestamp)
}
