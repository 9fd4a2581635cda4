package outbox

import (
	"context"
	"sort"

	"github.com/jackc/pgx/v5"
)

// Handler applies the business effect of one outbox row. It runs inside a
// savepoint of the batch transaction; returning an error rolls its writes
// back and sends the row down the retry path.
type Handler interface {
	Handle(ctx context.Context, tx pgx.Tx, evt Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, tx pgx.Tx, evt Event) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, tx pgx.Tx, evt Event) error {
	return f(ctx, tx, evt)
}

// Noop succeeds without side effects.
var Noop = HandlerFunc(func(context.Context, pgx.Tx, Event) error { return nil })

type registration struct {
	handler    Handler
	maxRetries int
}

// Registry maps event types to handlers. It is built once at startup and
// read concurrently afterwards.
type Registry struct {
	entries map[EventType]registration
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[EventType]registration)}
}

// Register binds h to eventType using the batch-wide retry limit.
func (r *Registry) Register(eventType EventType, h Handler) *Registry {
	return r.RegisterWithMaxRetries(eventType, h, 0)
}

// RegisterWithMaxRetries binds h to eventType with its own dead-letter
// threshold. maxRetries <= 0 falls back to the batch-wide limit.
func (r *Registry) RegisterWithMaxRetries(eventType EventType, h Handler, maxRetries int) *Registry {
	if eventType == "" || h == nil {
		return r
	}
	r.entries[eventType] = registration{handler: h, maxRetries: maxRetries}
	return r
}

// Lookup returns the handler and per-type retry override for eventType.
func (r *Registry) Lookup(eventType EventType) (Handler, int, bool) {
	if r == nil {
		return nil, 0, false
	}
	reg, ok := r.entries[eventType]
	return reg.handler, reg.maxRetries, ok
}

// Types lists the registered event types in sorted order.
func (r *Registry) Types() []EventType {
	if r == nil {
		return nil
	}
	types := make([]EventType, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
