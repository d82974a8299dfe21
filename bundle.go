package quoro

import (
	"database/sql"

	sweeperpkg "github.com/phautamaki/quoro/pkg/sweeper"
)

// Bundle wires together an Engine and the Sweeper that enforces its SLA
// deadlines.
//
// For now, we only provide a SQLite-backed bundle.
type Bundle struct {
	Engine  Engine
	Sweeper *sweeperpkg.Sweeper
}

// NewSQLiteBundle constructs a durable Engine + Sweeper combo sharing the
// same SQLite database. Workflows, instances, votes and SLA timers are
// persisted in the provided *sql.DB.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:quoro.db?_journal=WAL")
//	bundle, err := quoro.NewSQLiteBundle(db, sweeper.Config{Interval: time.Minute})
//	// create workflows on bundle.Engine
//	go bundle.Sweeper.Run(ctx)
func NewSQLiteBundle(db *sql.DB, cfg sweeperpkg.Config) (*Bundle, error) {
	return NewSQLiteBundleWithOptions(db, cfg, EngineOptions{})
}

// NewSQLiteBundleWithOptions is NewSQLiteBundle with engine options. The
// engine clock, when set, is also used by the sweeper unless the sweeper
// config carries its own.
func NewSQLiteBundleWithOptions(db *sql.DB, cfg sweeperpkg.Config, opts EngineOptions) (*Bundle, error) {
	eng, err := NewSQLiteEngineWithOptions(db, opts)
	if err != nil {
		return nil, err
	}

	if cfg.Clock == nil {
		cfg.Clock = opts.Clock
	}
	sw := sweeperpkg.NewWithConfig(eng, cfg)

	return &Bundle{
		Engine:  eng,
		Sweeper: sw,
	}, nil
}
