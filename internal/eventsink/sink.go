package eventsink

import "context"

// Sink is the append-only event log interface the Dialogue core writes
// turn and call records to (spec §6.4). Both methods are best-effort:
// implementations must never return an error that the caller is expected
// to act on beyond logging it.
type Sink interface {
	Append(ctx context.Context, record TurnRecord)
	UpdateCall(ctx context.Context, update CallUpdate)
}

// NoopSink discards everything. Used in tests and when no event store is
// configured.
type NoopSink struct{}

func (NoopSink) Append(context.Context, TurnRecord)   {}
func (NoopSink) UpdateCall(context.Context, CallUpdate) {}
