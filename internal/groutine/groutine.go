// Package groutine starts goroutines carrying a pprof label with their
// name, so lifecycle and transport goroutines show up identifiably in
// profiles.
package groutine

import (
	"context"
	"runtime/pprof"
)

// Go starts a named goroutine. If parentCtx is nil, context.Background()
// is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, fn)
}
