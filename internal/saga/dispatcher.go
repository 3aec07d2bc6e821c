package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sagaflow/internal/contracts"
	"sagaflow/internal/observability"
	"sagaflow/internal/reliability"
)

// DeadLetter receives events the dispatcher cannot apply.
type DeadLetter interface {
	Push(ctx context.Context, env contracts.Envelope, reason string) error
}

// TransitionNotice describes one applied transition, for observers.
type TransitionNotice struct {
	OrderID  string    `json:"order_id"`
	From     State     `json:"from"`
	To       State     `json:"to"`
	Terminal bool      `json:"terminal"`
	At       time.Time `json:"at"`
}

// DispatcherConfig configures a Dispatcher. Store is required; everything else
// has a working default.
type DispatcherConfig struct {
	Store              Store
	DeadLetter         DeadLetter
	Logger             *zap.Logger
	Metrics            *observability.Metrics
	OnTransition       func(TransitionNotice)
	KickOutbox         func()
	StoreRetry         reliability.RetryPolicy
	MaxConflictRetries int
	NewID              func() string
	Now                func() time.Time
}

// Dispatcher routes inbound events to their saga instance, serializes
// processing per correlation id, applies the transition function, and persists
// the result together with its outbox entries.
//
// Handle returns an error only for faults worth redelivering (transient store
// failures, exhausted conflict retries). Anything unprocessable is dead-lettered
// and acknowledged so one poisoned event cannot wedge the stream.
type Dispatcher struct {
	store      Store
	dlq        DeadLetter
	log        *zap.Logger
	metrics    *observability.Metrics
	notify     func(TransitionNotice)
	kick       func()
	storeRetry reliability.RetryPolicy
	maxRetries int
	newID      func() string
	now        func() time.Time

	locks keyedLocks
}

// NewDispatcher constructs a Dispatcher, applying defaults for unset fields.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		store:      cfg.Store,
		dlq:        cfg.DeadLetter,
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
		notify:     cfg.OnTransition,
		kick:       cfg.KickOutbox,
		storeRetry: cfg.StoreRetry,
		maxRetries: cfg.MaxConflictRetries,
		newID:      cfg.NewID,
		now:        cfg.Now,
	}
	if d.log == nil {
		d.log = zap.NewNop()
	}
	if d.maxRetries < 1 {
		d.maxRetries = 3
	}
	if d.newID == nil {
		d.newID = func() string { return uuid.NewString() }
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.storeRetry.ShouldRetry == nil {
		d.storeRetry.ShouldRetry = retriableStoreError
	}
	d.locks.entries = make(map[string]*lockEntry)
	return d
}

// Handle applies one inbound event to its saga instance.
func (d *Dispatcher) Handle(ctx context.Context, env contracts.Envelope) (err error) {
	span := d.metrics.Start(env.Kind)
	defer func() { span.End(err != nil) }()

	if env.OrderID == "" {
		return d.deadLetter(ctx, env, "missing correlation id")
	}
	msg, decodeErr := env.Decode()
	if decodeErr != nil {
		return d.deadLetter(ctx, env, decodeErr.Error())
	}

	unlock := d.locks.lock(env.OrderID)
	defer unlock()

	for attempt := 0; attempt < d.maxRetries; attempt++ {
		err = d.apply(ctx, env, msg)
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
		d.metrics.AddConflictRetry()
		d.log.Warn("saga version conflict, reapplying",
			zap.String("order_id", env.OrderID),
			zap.String("kind", env.Kind),
			zap.Int("attempt", attempt+1),
		)
	}
	return fmt.Errorf("%w: order %s", ErrPersistenceConflict, env.OrderID)
}

func (d *Dispatcher) apply(ctx context.Context, env contracts.Envelope, msg contracts.Message) error {
	inst, err := d.load(ctx, env.OrderID)
	switch {
	case errors.Is(err, ErrNotFound):
		if env.Kind != contracts.KindOrderCreated {
			d.log.Warn("event for unknown saga",
				zap.String("order_id", env.OrderID),
				zap.String("kind", env.Kind),
			)
			return d.deadLetter(ctx, env, ErrUnknownCorrelation.Error())
		}
		inst = NewInstance(env.OrderID, d.now())
	case err != nil:
		return err
	case env.Kind == contracts.KindOrderCreated:
		// The instance already exists, so this is a redelivered creation
		// event regardless of its message id.
		d.metrics.AddDuplicate()
		d.log.Debug("duplicate saga creation discarded", zap.String("order_id", env.OrderID))
		return nil
	}

	if inst.Terminal() {
		d.metrics.AddStaleEvent()
		d.log.Debug("stale event for terminal saga discarded",
			zap.String("order_id", env.OrderID),
			zap.String("kind", env.Kind),
			zap.String("state", string(inst.State)),
		)
		return nil
	}
	if inst.HasProcessed(env.MessageID) {
		d.metrics.AddDuplicate()
		d.log.Debug("already-processed event discarded",
			zap.String("order_id", env.OrderID),
			zap.String("message_id", env.MessageID),
		)
		return nil
	}

	from := inst.State
	expected := inst.Version

	outcome, err := Transition(inst, msg)
	if err != nil {
		d.log.Warn("invalid transition",
			zap.String("order_id", env.OrderID),
			zap.String("kind", env.Kind),
			zap.String("state", string(from)),
			zap.Error(err),
		)
		return d.deadLetter(ctx, env, err.Error())
	}

	now := d.now().UTC()
	inst.State = outcome.State
	inst.Version = expected + 1
	inst.UpdatedAt = now
	inst.MarkProcessed(env.MessageID)

	entries, err := d.outboxEntries(outcome.Commands, inst.Version, now)
	if err != nil {
		return err
	}

	if err := d.save(ctx, inst, expected, entries); err != nil {
		return err
	}

	d.log.Info("saga transition applied",
		zap.String("order_id", env.OrderID),
		zap.String("event", env.Kind),
		zap.String("from", string(from)),
		zap.String("to", string(inst.State)),
		zap.Int64("version", inst.Version),
		zap.Int("commands", len(entries)),
		zap.Bool("terminal", outcome.Terminal),
	)
	d.metrics.AddTransition(string(inst.State))

	if d.notify != nil {
		d.notify(TransitionNotice{
			OrderID:  env.OrderID,
			From:     from,
			To:       inst.State,
			Terminal: outcome.Terminal,
			At:       now,
		})
	}
	if d.kick != nil && len(entries) > 0 {
		d.kick()
	}
	return nil
}

func (d *Dispatcher) outboxEntries(commands []contracts.Message, version int64, now time.Time) ([]OutboxEntry, error) {
	entries := make([]OutboxEntry, 0, len(commands))
	for _, cmd := range commands {
		payload, err := json.Marshal(cmd)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", cmd.Kind(), err)
		}
		entries = append(entries, OutboxEntry{
			MessageID:        d.newID(),
			CorrelationID:    cmd.Correlation(),
			Kind:             cmd.Kind(),
			Payload:          payload,
			CreatedAtVersion: version,
			CreatedAt:        now,
		})
	}
	return entries, nil
}

func (d *Dispatcher) load(ctx context.Context, correlationID string) (*Instance, error) {
	var inst *Instance
	err := d.storeRetry.Do(ctx, func() error {
		var loadErr error
		inst, loadErr = d.store.Load(ctx, correlationID)
		return loadErr
	})
	return inst, err
}

func (d *Dispatcher) save(ctx context.Context, inst *Instance, expected int64, entries []OutboxEntry) error {
	return d.storeRetry.Do(ctx, func() error {
		return d.store.Save(ctx, inst, expected, entries)
	})
}

func (d *Dispatcher) deadLetter(ctx context.Context, env contracts.Envelope, reason string) error {
	d.metrics.AddDeadLetter()
	if d.dlq == nil {
		return nil
	}
	if err := d.dlq.Push(ctx, env, reason); err != nil {
		// Redeliver rather than drop the event on the floor.
		return fmt.Errorf("dead-letter %s: %w", env.MessageID, err)
	}
	return nil
}

// retriableStoreError keeps business outcomes and concurrency conflicts out of
// the transient retry path.
func retriableStoreError(err error) bool {
	return !errors.Is(err, ErrNotFound) &&
		!errors.Is(err, ErrVersionConflict) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// keyedLocks serializes work per correlation id while leaving distinct ids
// fully parallel. Entries are reference counted and removed when idle.
type keyedLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedLocks) lock(key string) (unlock func()) {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &lockEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
