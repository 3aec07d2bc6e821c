package observability

import (
	"sync"
	"time"
)

type EventSnapshot struct {
	Count         int64   `json:"count"`
	Errors        int64   `json:"errors"`
	InFlight      int64   `json:"in_flight"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	LastLatencyMs float64 `json:"last_latency_ms"`
}

type Snapshot struct {
	UptimeSec       int64                    `json:"uptime_sec"`
	TotalEvents     int64                    `json:"total_events"`
	TotalErrors     int64                    `json:"total_errors"`
	InFlight        int64                    `json:"in_flight"`
	DeadLetters     int64                    `json:"dead_letters"`
	Duplicates      int64                    `json:"duplicates"`
	StaleEvents     int64                    `json:"stale_events"`
	ConflictRetries int64                    `json:"conflict_retries"`
	OutboxPublished int64                    `json:"outbox_published"`
	OutboxErrors    int64                    `json:"outbox_errors"`
	OutboxPending   int64                    `json:"outbox_pending"`
	Transitions     map[string]int64         `json:"transitions"`
	Lifecycle       *LifecycleSnapshot       `json:"lifecycle,omitempty"`
	Events          map[string]EventSnapshot `json:"events"`
}

type eventStats struct {
	count        int64
	errors       int64
	inFlight     int64
	totalLatency time.Duration
	maxLatency   time.Duration
	lastLatency  time.Duration
}

// Metrics tracks saga processing counters. All methods are safe on a nil
// receiver so callers can leave instrumentation unwired.
type Metrics struct {
	mu              sync.Mutex
	start           time.Time
	events          map[string]*eventStats
	transitions     map[string]int64
	deadLetters     int64
	duplicates      int64
	staleEvents     int64
	conflictRetries int64
	outboxPublished int64
	outboxErrors    int64
	outboxPending   int64
	lifecycle       lifecycleStats
}

type CallSpan struct {
	metrics *Metrics
	kind    string
	start   time.Time
}

type lifecycleStats struct {
	shutdownAt time.Time
	inflight   int64
}

type LifecycleSnapshot struct {
	ShutdownAt         time.Time `json:"shutdown_at"`
	InFlightAtShutdown int64     `json:"inflight_at_shutdown"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		start:       time.Now(),
		events:      make(map[string]*eventStats),
		transitions: make(map[string]int64),
	}
}

// Start opens a span for one inbound event of the given kind.
func (m *Metrics) Start(kind string) *CallSpan {
	if m == nil {
		return &CallSpan{}
	}
	m.mu.Lock()
	stats := m.ensureEvent(kind)
	stats.inFlight++
	m.mu.Unlock()
	return &CallSpan{
		metrics: m,
		kind:    kind,
		start:   time.Now(),
	}
}

// End closes the span, recording latency and whether handling failed.
func (s *CallSpan) End(failed bool) {
	if s == nil || s.metrics == nil {
		return
	}
	s.metrics.finish(s.kind, time.Since(s.start), failed)
}

func (m *Metrics) AddTransition(state string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.transitions[state]++
	m.mu.Unlock()
}

func (m *Metrics) AddDeadLetter() {
	m.addCounter(func(m *Metrics) { m.deadLetters++ })
}

func (m *Metrics) AddDuplicate() {
	m.addCounter(func(m *Metrics) { m.duplicates++ })
}

func (m *Metrics) AddStaleEvent() {
	m.addCounter(func(m *Metrics) { m.staleEvents++ })
}

func (m *Metrics) AddConflictRetry() {
	m.addCounter(func(m *Metrics) { m.conflictRetries++ })
}

func (m *Metrics) AddOutboxPublished() {
	m.addCounter(func(m *Metrics) { m.outboxPublished++ })
}

func (m *Metrics) AddOutboxError() {
	m.addCounter(func(m *Metrics) { m.outboxErrors++ })
}

func (m *Metrics) SetOutboxPending(n int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.outboxPending = n
	m.mu.Unlock()
}

func (m *Metrics) MarkShutdown(inflight int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.lifecycle.shutdownAt = time.Now()
	m.lifecycle.inflight = inflight
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		Transitions: map[string]int64{},
		Events:      map[string]EventSnapshot{},
	}
	if m == nil {
		return snap
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snap.UptimeSec = int64(time.Since(m.start).Seconds())
	snap.DeadLetters = m.deadLetters
	snap.Duplicates = m.duplicates
	snap.StaleEvents = m.staleEvents
	snap.ConflictRetries = m.conflictRetries
	snap.OutboxPublished = m.outboxPublished
	snap.OutboxErrors = m.outboxErrors
	snap.OutboxPending = m.outboxPending

	for state, count := range m.transitions {
		snap.Transitions[state] = count
	}

	for kind, stats := range m.events {
		var avg float64
		if stats.count > 0 {
			avg = float64(stats.totalLatency.Milliseconds()) / float64(stats.count)
		}
		snap.Events[kind] = EventSnapshot{
			Count:         stats.count,
			Errors:        stats.errors,
			InFlight:      stats.inFlight,
			AvgLatencyMs:  avg,
			MaxLatencyMs:  float64(stats.maxLatency.Milliseconds()),
			LastLatencyMs: float64(stats.lastLatency.Milliseconds()),
		}
		snap.TotalEvents += stats.count
		snap.TotalErrors += stats.errors
		snap.InFlight += stats.inFlight
	}

	if !m.lifecycle.shutdownAt.IsZero() {
		snap.Lifecycle = &LifecycleSnapshot{
			ShutdownAt:         m.lifecycle.shutdownAt,
			InFlightAtShutdown: m.lifecycle.inflight,
		}
	}

	return snap
}

func (m *Metrics) ensureEvent(kind string) *eventStats {
	stats, ok := m.events[kind]
	if !ok {
		stats = &eventStats{}
		m.events[kind] = stats
	}
	return stats
}

func (m *Metrics) finish(kind string, dur time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats := m.ensureEvent(kind)
	stats.inFlight--
	stats.count++
	if failed {
		stats.errors++
	}
	stats.totalLatency += dur
	if dur > stats.maxLatency {
		stats.maxLatency = dur
	}
	stats.lastLatency = dur
	m.mu.Unlock()
}

func (m *Metrics) addCounter(bump func(*Metrics)) {
	if m == nil {
		return
	}
	m.mu.Lock()
	bump(m)
	m.mu.Unlock()
}
