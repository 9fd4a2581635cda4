package outbox

import "errors"

var (
	// ErrDuplicateEvent indicates the (tenant, event type, idempotency key)
	// triple was already recorded. Producers treat it as success.
	ErrDuplicateEvent = errors.New("outbox: event already recorded")
	// ErrUnknownEventType indicates no handler is registered for a row.
	ErrUnknownEventType = errors.New("outbox: unknown event type")
	// ErrEventNotPending indicates a row was already terminal when the
	// processor tried to record an outcome for it.
	ErrEventNotPending = errors.New("outbox: event is not pending")
	// ErrEventNotFound indicates a missing row.
	ErrEventNotFound = errors.New("outbox: event not found")
	// ErrInvalidListQuery indicates a listing request outside its bounds.
	ErrInvalidListQuery = errors.New("outbox: invalid list query")
	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("outbox: handler panicked")
)
