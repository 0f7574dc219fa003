package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Hook runs post-commit side effects. Failures and panics are logged and
// dropped so they cannot affect the operation that already committed.
type Hook struct {
	Log *slog.Logger
	// Async runs each invocation on its own goroutine, detached from the
	// request's cancellation. Wait drains them.
	Async bool

	wg *sync.WaitGroup
}

func NewHook(log *slog.Logger, async bool) Hook {
	if log == nil {
		log = slog.Default()
	}
	return Hook{Log: log, Async: async, wg: &sync.WaitGroup{}}
}

// Run invokes fn under the hook's error boundary.
func (h Hook) Run(ctx context.Context, name string, fn func(ctx context.Context) error) {
	if !h.Async {
		h.guard(ctx, name, fn)
		return
	}
	ctx = context.WithoutCancel(ctx)
	if h.wg != nil {
		h.wg.Add(1)
	}
	go func() {
		if h.wg != nil {
			defer h.wg.Done()
		}
		h.guard(ctx, name, fn)
	}()
}

// Wait blocks until every async invocation has returned.
func (h Hook) Wait() {
	if h.wg != nil {
		h.wg.Wait()
	}
}

func (h Hook) guard(ctx context.Context, name string, fn func(ctx context.Context) error) {
	log := h.Log
	if log == nil {
		log = slog.Default()
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("post-commit hook panicked", "hook", name, "panic", fmt.Sprint(r))
		}
	}()
	if err := fn(ctx); err != nil {
		log.Warn("post-commit hook failed", "hook", name, "error", err)
	}
}
