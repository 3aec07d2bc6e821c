package saga

import "errors"

// ErrNotFound signals no saga instance exists for the correlation id.
var ErrNotFound = errors.New("saga instance not found")

// ErrUnknownCorrelation signals a non-creating event arrived for an unseen order.
var ErrUnknownCorrelation = errors.New("event for unknown correlation id")

// ErrStaleEvent signals an event arrived for a saga already in a terminal state.
var ErrStaleEvent = errors.New("event for terminal saga instance")

// ErrInvalidTransition signals the event is not defined for the current state.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrVersionConflict signals an optimistic-concurrency write lost the race.
var ErrVersionConflict = errors.New("saga version conflict")

// ErrPersistenceConflict signals conflict retries were exhausted.
var ErrPersistenceConflict = errors.New("saga persistence conflict after retries")
