package sessions

import (
	"context"
	"log/slog"
	"time"
)

// RunEviction evicts idle sessions on the given interval until ctx is
// canceled.
func (m *Manager) RunEviction(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.EvictIdle(); n > 0 {
				logger.Info("evicted idle sessions", "count", n)
			}
		}
	}
}
