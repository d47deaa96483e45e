package engine

import (
	"context"
	"log/slog"
	"time"
)

// ReconcileLoop re-syncs the state store from the broker every interval
// until ctx is done.
func ReconcileLoop(ctx context.Context, e *Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Sync(ctx); err != nil {
				slog.Warn("reconcile failed", "error", err)
			}
		}
	}
}
