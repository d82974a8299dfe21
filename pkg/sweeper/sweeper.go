package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/phautamaki/quoro/pkg/api"
)

// DefaultInterval is the polling interval used when none is configured.
const DefaultInterval = 30 * time.Second

// Config controls sweeper behavior.
type Config struct {
	// Interval between polling passes in Run. Zero means DefaultInterval.
	Interval time.Duration

	// Clock supplies the "now" used to decide which timers are due.
	// Zero means time.Now.
	Clock func() time.Time
}

// Sweeper periodically finds SLA timers whose deadline has passed and
// expires them through the engine. Multiple sweepers can safely poll the
// same stores; the engine makes expiry a no-op for everyone but the first
// caller.
type Sweeper struct {
	engine   api.Engine
	interval time.Duration
	now      func() time.Time
}

// New creates a Sweeper with default settings.
func New(engine api.Engine) *Sweeper {
	return NewWithConfig(engine, Config{})
}

// NewWithConfig creates a Sweeper with the given configuration.
func NewWithConfig(engine api.Engine, cfg Config) *Sweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Sweeper{
		engine:   engine,
		interval: interval,
		now:      now,
	}
}

// ProcessOnce performs a single sweep: it lists timers due at the current
// clock reading and expires each one. It returns the number of timers it
// attempted to expire. Per-timer failures are joined and returned after the
// whole batch has been tried.
func (s *Sweeper) ProcessOnce(ctx context.Context) (int, error) {
	due, err := s.engine.ListDueTimers(ctx, s.now())
	if err != nil {
		return 0, err
	}

	var errs error
	for _, timer := range due {
		if err := ctx.Err(); err != nil {
			return len(due), errors.Join(errs, err)
		}
		if err := s.engine.ExpireTimer(ctx, timer.ID); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return len(due), errs
}

// Run polls until the context is cancelled. It sweeps once immediately and
// then once per interval. Sweep errors do not stop the loop.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.ProcessOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
