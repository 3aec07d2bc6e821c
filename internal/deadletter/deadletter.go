package deadletter

import (
	"context"
	"sync"
	"time"

	"sagaflow/internal/contracts"
)

// Entry is one dead-lettered event with the reason it could not be applied.
type Entry struct {
	Envelope contracts.Envelope
	Reason   string
	At       time.Time
}

// Sink receives events the dispatcher could not apply.
type Sink interface {
	Push(ctx context.Context, env contracts.Envelope, reason string) error
}

// MemorySink collects dead letters in memory, for tests and the demo binary.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

// NewMemorySink constructs an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{now: time.Now}
}

func (s *MemorySink) Push(ctx context.Context, env contracts.Envelope, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.entries = append(s.entries, Entry{Envelope: env, Reason: reason, At: s.now().UTC()})
	s.mu.Unlock()
	return nil
}

// Entries returns the collected dead letters, in arrival order.
func (s *MemorySink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

var _ Sink = (*MemorySink)(nil)
