package audit

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Action is the kind of access being audited.
type Action string

// Audited actions.
const (
	ActionRead   Action = "READ"
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// IsMutation reports whether the action changes state.
func (a Action) IsMutation() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

// Outcome records what happened to an access attempt.
type Outcome string

// Outcomes.
const (
	OutcomeAttempt Outcome = "attempt"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Severity ranks entries for compliance review.
type Severity string

// Severities in ascending order.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

// Max returns the more severe of s and other.
func (s Severity) Max(other Severity) Severity {
	if other.rank() > s.rank() {
		return other
	}
	if s == "" {
		return SeverityInfo
	}
	return s
}

// Entry is an immutable audit fact. Recorders build entries and hand copies to
// sinks; nothing in this package modifies an entry after its checksum is set.
type Entry struct {
	ID            uuid.UUID `json:"id"`
	CorrelationID uuid.UUID `json:"correlation_id"`
	Timestamp     time.Time `json:"timestamp"`
	PrincipalID   string    `json:"principal_id"`
	Role          string    `json:"role,omitempty"`
	Action        Action    `json:"action"`
	Module        string    `json:"module,omitempty"`
	ResourceType  string    `json:"resource_type"`
	ResourceID    string    `json:"resource_id,omitempty"`
	Outcome       Outcome   `json:"outcome"`
	Severity      Severity  `json:"severity"`
	Description   string    `json:"description"`
	IPAddress     string    `json:"ip_address,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	OldValue      string    `json:"old_value,omitempty"`
	NewValue      string    `json:"new_value,omitempty"`
	Checksum      string    `json:"checksum"`
}

// Verify reports whether the stored checksum matches the entry contents.
func (e Entry) Verify() bool {
	return e.Checksum != "" && e.Checksum == e.digest()
}

func (e Entry) digest() string {
	fields := []string{
		e.ID.String(),
		e.CorrelationID.String(),
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.PrincipalID,
		e.Role,
		string(e.Action),
		e.Module,
		e.ResourceType,
		e.ResourceID,
		string(e.Outcome),
		string(e.Severity),
		e.Description,
		e.IPAddress,
		e.UserAgent,
		e.OldValue,
		e.NewValue,
	}
	sum := blake2b.Sum256([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(sum[:])
}
