package proposals

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically expires PENDING proposals past their deadline.
// It never touches non-PENDING rows.
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
	clock    func() time.Time
}

// NewSweeper creates a sweeper over store.
func NewSweeper(store Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{store: store, interval: interval, logger: logger, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (s *Sweeper) WithClock(clock func() time.Time) *Sweeper {
	s.clock = clock
	return s
}

// Run sweeps on the configured interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single expiry pass.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	n, err := s.store.ExpireDue(ctx, s.clock())
	if err != nil {
		s.logger.Error("proposal expiry sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("expired stale proposals", "count", n)
	}
}

// Watchdog is an independent health sweep: it reports proposals stuck
// in PENDING far past the recovery window. It only observes — data it
// doesn't own is never mutated.
type Watchdog struct {
	store    Store
	window   time.Duration
	interval time.Duration
	logger   *slog.Logger
	clock    func() time.Time
}

// NewWatchdog creates a watchdog that alerts on proposals pending
// longer than window.
func NewWatchdog(store Store, window, interval time.Duration, logger *slog.Logger) *Watchdog {
	return &Watchdog{store: store, window: window, interval: interval, logger: logger, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (w *Watchdog) WithClock(clock func() time.Time) *Watchdog {
	w.clock = clock
	return w
}

// Run checks on the configured interval until ctx is canceled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs a single stuck-proposal check and returns how many
// were found.
func (w *Watchdog) CheckOnce(ctx context.Context) int {
	cutoff := w.clock().Add(-w.window)
	stuck, err := w.store.ListStalePending(ctx, cutoff)
	if err != nil {
		w.logger.Error("stuck-proposal check failed", "error", err)
		return 0
	}
	for _, p := range stuck {
		w.logger.Error("proposal stuck in non-terminal state past recovery window",
			"proposal_id", p.ID,
			"tool", p.ToolName,
			"age", w.clock().Sub(p.CreatedAt).String(),
		)
	}
	return len(stuck)
}
