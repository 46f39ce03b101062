// Package appctx provides context utilities for background operations.
package appctx

import (
	"context"
	"time"
)

// Detached returns a context that is not tied to the parent's cancellation
// but keeps its values (request IDs, trace spans). It is cancelled when stopCh
// is closed or the timeout expires. Use it for work that must outlive the
// request that started it, such as draining a session's submission queue.
func Detached(parent context.Context, stopCh <-chan struct{}, timeout time.Duration) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(parent)
	ctx, cancel := context.WithTimeout(base, timeout)

	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
