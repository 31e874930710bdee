package audit

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PGSink appends entries to the audit_logs table.
type PGSink struct {
	db Execer
}

// NewPGSink returns a new PGSink.
func NewPGSink(db Execer) *PGSink {
	return &PGSink{db: db}
}

const insertEntrySQL = `INSERT INTO audit_logs (
	id, correlation_id, occurred_at, principal_id, role, action, module,
	resource_type, resource_id, outcome, severity, description,
	ip_address, user_agent, old_value, new_value, checksum
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (id) DO NOTHING`

// Append persists the entry. Redelivery of the same entry ID is a no-op.
func (s *PGSink) Append(ctx context.Context, e Entry) error {
	if s == nil || s.db == nil {
		return errors.New("audit: pg sink not initialised")
	}
	_, err := s.db.Exec(ctx, insertEntrySQL,
		e.ID,
		e.CorrelationID,
		e.Timestamp,
		e.PrincipalID,
		optionalText(e.Role),
		string(e.Action),
		optionalText(e.Module),
		e.ResourceType,
		optionalText(e.ResourceID),
		string(e.Outcome),
		string(e.Severity),
		e.Description,
		optionalText(e.IPAddress),
		optionalText(e.UserAgent),
		optionalText(e.OldValue),
		optionalText(e.NewValue),
		e.Checksum,
	)
	return err
}

// optionalText stores empty values as NULL. Values are written as built by
// the recorder; altering them here would break Entry.Verify.
func optionalText(value string) pgtype.Text {
	if value == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: value, Valid: true}
}
