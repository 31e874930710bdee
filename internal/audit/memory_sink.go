package audit

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemorySink keeps entries in process memory. It is append-only and safe for
// concurrent use; intended for development and tests.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
	failErr error
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append stores entry unless a failure has been injected.
func (s *MemorySink) Append(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.entries = append(s.entries, entry)
	return nil
}

// FailWith makes subsequent appends return err; nil restores normal operation.
func (s *MemorySink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// Entries returns a copy of all stored entries in append order.
func (s *MemorySink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// ByCorrelation returns the entries sharing correlation ID id, in append order.
func (s *MemorySink) ByCorrelation(id uuid.UUID) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.entries {
		if e.CorrelationID == id {
			out = append(out, e)
		}
	}
	return out
}

// Get returns the entry with the given ID.
func (s *MemorySink) Get(id uuid.UUID) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}
