package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

type commitHooksKey struct{}

// CommitHooks collects callbacks that must only run once the batch
// transaction has committed, such as cache invalidation.
type CommitHooks struct {
	mu  sync.Mutex
	fns []func(context.Context)
}

// WithCommitHooks attaches an empty hook list to ctx. Callers that own the
// transaction passed to ProcessBatchTx use it and call Run after their own
// commit. ProcessBatch installs one itself.
func WithCommitHooks(ctx context.Context) (context.Context, *CommitHooks) {
	h := &CommitHooks{}
	return context.WithValue(ctx, commitHooksKey{}, h), h
}

func commitHooksFrom(ctx context.Context) *CommitHooks {
	h, _ := ctx.Value(commitHooksKey{}).(*CommitHooks)
	return h
}

// AfterCommit registers fn to run after the transaction the current handler
// writes through commits. Hooks registered by a handler that then fails are
// dropped along with its savepoint. It reports false, leaving fn unregistered,
// when ctx carries no hook list.
func AfterCommit(ctx context.Context, fn func(context.Context)) bool {
	h := commitHooksFrom(ctx)
	if h == nil || fn == nil {
		return false
	}
	h.add(fn)
	return true
}

func (h *CommitHooks) add(fns ...func(context.Context)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns = append(h.fns, fns...)
}

func (h *CommitHooks) take() []func(context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fns := h.fns
	h.fns = nil
	return fns
}

// Len reports how many hooks are pending.
func (h *CommitHooks) Len() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.fns)
}

// Run calls the pending hooks in registration order and clears them. A
// panicking hook is logged and does not stop the rest.
func (h *CommitHooks) Run(ctx context.Context) {
	h.run(ctx, slog.Default())
}

func (h *CommitHooks) run(ctx context.Context, logger *slog.Logger) {
	if h == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, fn := range h.take() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("outbox commit hook panicked", slog.Any("error", fmt.Errorf("%w: %v", ErrHandlerPanic, r)))
				}
			}()
			fn(ctx)
		}()
	}
}
