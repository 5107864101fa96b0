package domain

import "context"

// Platform is the snapshot acquisition contract every trading-platform
// adapter must satisfy. Adapters normalize currency units, map venue
// positions into the common Position shape, and stamp the day-start fields
// from the account's anchor tracker before returning a snapshot. A
// connectivity failure must surface as an error wrapping ErrConnectivity,
// never as a silently stale snapshot.
type Platform interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	AccountSnapshot(ctx context.Context) (AccountSnapshot, error)
}

// AccountEventKind classifies a pushed account event.
type AccountEventKind string

const (
	EventExecution AccountEventKind = "execution"
	EventQuote     AccountEventKind = "quote"
)

// AccountEvent is a venue-pushed signal that account state changed and a
// fresh evaluation is worthwhile before the next poll tick.
type AccountEvent struct {
	Kind   AccountEventKind
	Symbol string
}

// EventStreamer is implemented by adapters whose venue pushes account events
// over a live connection. The returned channel is closed when the stream
// terminates; the monitor treats stream events as a second producer feeding
// the same evaluation path as the poll ticker.
type EventStreamer interface {
	Events() <-chan AccountEvent
}
