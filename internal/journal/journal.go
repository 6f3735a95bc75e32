// Package journal records the outcome of every fired or skipped trigger
// cycle. Durations themselves are not persisted, they only travel the
// downstream queue; the journal answers "what happened and when", not
// "what was measured".
package journal

import (
	"context"
	"time"
)

type Outcome string

const (
	// OutcomeNone is the zero outcome, marking that nothing has been
	// recorded yet. It never reaches storage.
	OutcomeNone               Outcome = ""
	OutcomeDelivered          Outcome = "delivered"
	OutcomeAbsent             Outcome = "absent"
	OutcomeSkippedUnconfirmed Outcome = "skipped_unconfirmed"
	OutcomeSkippedNoSettings  Outcome = "skipped_no_settings"
)

// Entry describes one cycle: outcome, time and round-trip latency are
// the whole persisted surface.
type Entry struct {
	ID        int64
	Timestamp time.Time
	Outcome   Outcome
	// LatencyMS is the request/reply round trip; zero when no request
	// was dispatched.
	LatencyMS int64
}

type Journal interface {
	Init(ctx context.Context) error
	Record(ctx context.Context, e Entry) (int64, error)
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Nop discards every record. Used when no journal path is configured.
type Nop struct{}

func (Nop) Init(context.Context) error { return nil }

func (Nop) Record(context.Context, Entry) (int64, error) { return 0, nil }

func (Nop) Recent(context.Context, int) ([]Entry, error) { return nil, nil }

func (Nop) Close() error { return nil }
