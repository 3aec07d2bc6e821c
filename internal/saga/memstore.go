package saga

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store used in tests and as the fallback when no
// database is configured. Instances and outbox rows live for the process.
type MemoryStore struct {
	mu        sync.Mutex
	instances map[string]*Instance
	outbox    []OutboxEntry
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[string]*Instance),
	}
}

func (s *MemoryStore) Load(ctx context.Context, correlationID string) (*Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[correlationID]
	if !ok {
		return nil, ErrNotFound
	}
	return inst.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, inst *Instance, expectedVersion int64, outbox []OutboxEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.instances[inst.CorrelationID]
	if expectedVersion == 0 {
		if ok {
			return ErrVersionConflict
		}
	} else {
		if !ok || existing.Version != expectedVersion {
			return ErrVersionConflict
		}
	}

	s.instances[inst.CorrelationID] = inst.Clone()
	for _, entry := range outbox {
		entry.Payload = append([]byte(nil), entry.Payload...)
		s.outbox = append(s.outbox, entry)
	}
	return nil
}

func (s *MemoryStore) PendingOutbox(ctx context.Context, limit int) ([]OutboxEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []OutboxEntry
	for _, entry := range s.outbox {
		if entry.Delivered {
			continue
		}
		entry.Payload = append([]byte(nil), entry.Payload...)
		pending = append(pending, entry)
		if limit > 0 && len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (s *MemoryStore) MarkDelivered(ctx context.Context, messageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.outbox {
		if s.outbox[i].MessageID == messageID {
			s.outbox[i].Delivered = true
			break
		}
	}
	return nil
}
