// Package sweeper provides the background loop that enforces SLA deadlines.
//
// The engine records an SLATimer when an instance enters an sla_timer step,
// but it never watches the clock itself. A Sweeper closes that gap: it polls
// the engine for timers whose deadline has passed and calls ExpireTimer on
// each, which fails the step and either escalates or fails the instance.
//
// Sweepers are long-lived components that typically run in a dedicated
// goroutine:
//
//	sw := sweeper.NewWithConfig(engine, sweeper.Config{Interval: time.Minute})
//	go sw.Run(ctx)
//
// Expiry is idempotent at the engine level, so running several sweepers
// against the same database is safe. Applications that want tighter control
// over scheduling can call ProcessOnce from their own loop instead of Run.
//
// Most users should construct a Sweeper via the quoro package helpers, which
// wire it together with an engine sharing the same stores.
package sweeper
