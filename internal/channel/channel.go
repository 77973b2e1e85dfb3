// Package channel delivers raw market-data frames from a push transport, together with the
// transport's connection lifecycle, as a stream of events. It does not interpret payloads.
package channel

import (
	"context"
	"errors"
	"time"
)

const (
	// ReconnectDelay is the fixed wait between a lost session and the next attempt.
	ReconnectDelay = 3000 * time.Millisecond

	// HeartbeatInterval is the heartbeat period in both directions.
	HeartbeatInterval = 4000 * time.Millisecond

	eventBuffer = 256
)

// ErrNotConnected is returned by Subscribe when no session is open.
var ErrNotConnected = errors.New("channel: not connected")

// EventKind identifies a channel lifecycle event.
type EventKind int

const (
	// Opened: a session is established and ready for Subscribe.
	Opened EventKind = iota
	// Closed: the session ended or could not be established.
	Closed
	// Failed: the transport reported an error.
	Failed
	// Retrying: a new connection attempt is about to start.
	Retrying
	// Message: a frame arrived on the subscribed topic.
	Message
)

func (k EventKind) String() string {
	switch k {
	case Opened:
		return "opened"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	case Retrying:
		return "retrying"
	case Message:
		return "message"
	default:
		return "unknown"
	}
}

// Event is one channel occurrence. Body is set for Message, Err optionally for Closed and Failed.
type Event struct {
	Kind EventKind
	Body string
	Err  error
}

// Channel is a duplex push transport to a market-data topic.
type Channel interface {
	// Connect starts connecting, reconnecting after every lost session until Close or ctx
	// cancellation. The returned channel is closed once the transport has stopped.
	Connect(ctx context.Context) <-chan Event

	// Subscribe subscribes the open session to topic.
	Subscribe(topic string) error

	// Close stops the transport. It is safe to call more than once.
	Close() error
}

// emit delivers ev unless ctx is done.
func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// sleep waits for d or ctx cancellation, reporting whether the full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
