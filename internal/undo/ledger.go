package undo

import (
	"context"
	"fmt"
	"log/slog"
)

// ReplayFunc executes one inverse operation. It returns an error when the
// replay itself failed; the ledger logs it and keeps going.
type ReplayFunc func(ctx context.Context, e Entry) error

// Ledger accumulates undo entries for one request. It is owned by a single
// loop invocation and is not safe for concurrent use. Rollback is triggered
// only by an ask-to-user timeout, never by ordinary tool failures: a user
// abandonment reverts speculative work, a model mistake is fed back for
// self-correction.
type Ledger struct {
	entries []Entry
	replay  ReplayFunc
	logger  *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the structured logger for the ledger.
func WithLogger(l *slog.Logger) Option {
	return func(ld *Ledger) {
		ld.logger = l
	}
}

// NewLedger creates a ledger that replays inverses through replay.
func NewLedger(replay ReplayFunc, opts ...Option) *Ledger {
	ld := &Ledger{
		replay: replay,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// Record appends an undo entry. Called by the loop immediately after a
// successful mutating tool result.
func (l *Ledger) Record(e Entry) {
	l.entries = append(l.entries, e)
}

// Len returns the number of recorded entries.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// RollbackAll replays every recorded inverse in strict reverse chronological
// order. Best-effort: a failing replay is logged and collected but does not
// stop the remaining rollbacks. The ledger is emptied afterwards so a second
// call is a no-op.
func (l *Ledger) RollbackAll(ctx context.Context) []error {
	var errs []error
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if err := l.replay(ctx, e); err != nil {
			l.logger.Error("rollback entry failed",
				"tool", e.Tool,
				"args", e.Args,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("rollback %s: %w", e.Tool, err))
		}
	}
	l.entries = nil
	return errs
}
