package audit

import (
	"fmt"
	"strings"
)

// FailureMode decides what happens to a governed operation when its audit write fails.
type FailureMode int

const (
	// FailOpen lets the operation continue and raises an alert.
	FailOpen FailureMode = iota
	// FailClosed stops the operation.
	FailClosed
)

func (m FailureMode) String() string {
	if m == FailClosed {
		return "block"
	}
	return "alert"
}

// ParseFailureMode maps "alert" and "block" to a FailureMode.
func ParseFailureMode(raw string) (FailureMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "alert":
		return FailOpen, nil
	case "block":
		return FailClosed, nil
	default:
		return FailOpen, fmt.Errorf("audit: unknown failure mode %q", raw)
	}
}

// Policy describes how audit-sink failures affect operations. Mutations always
// fail closed; only the read behaviour is configurable.
type Policy struct {
	Reads FailureMode
}

// DefaultPolicy alerts on read audit failures and blocks mutations.
func DefaultPolicy() Policy {
	return Policy{Reads: FailOpen}
}

// Blocks reports whether an audit failure must stop an operation performing action.
func (p Policy) Blocks(action Action) bool {
	if action.IsMutation() {
		return true
	}
	return p.Reads == FailClosed
}
