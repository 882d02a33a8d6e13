// Package transport is the raw byte level boundary of the middleware: reader
// enumeration, card connections and presence notifications.
//
// The interfaces are consumed by the session and APDU layers; PCSC implements
// them on top of the platform PC/SC service and package virtual implements
// them in memory for tests and demos.
//
// Implementations guarantee that at most one exchange is in flight per reader
// and that every error they return is already classified by package carderr.
package transport

import (
	"context"
	"fmt"
	"time"
)

// EventKind distinguishes presence notifications.
type EventKind int

const (
	// CardInserted reports a card that became present and responsive.
	CardInserted EventKind = iota + 1
	// CardRemoved reports a card that is gone, or a reader that disappeared
	// while holding one.
	CardRemoved
)

func (k EventKind) String() string {
	switch k {
	case CardInserted:
		return "inserted"
	case CardRemoved:
		return "removed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a presence notification for one reader slot.
type Event struct {
	Kind   EventKind
	Reader string
	// ATR is set on insertion.
	ATR []byte
	At  time.Time
}

func (e Event) String() string {
	if e.Kind == CardInserted {
		return fmt.Sprintf("%s %s (ATR %X)", e.Kind, e.Reader, e.ATR)
	}
	return fmt.Sprintf("%s %s", e.Kind, e.Reader)
}

// Connector enumerates reader slots and opens card connections.
type Connector interface {
	ListReaders(ctx context.Context) ([]string, error)
	Connect(ctx context.Context, reader string) (Channel, error)
}

// Channel is a connection to the card present in one reader.
type Channel interface {
	// Transmit performs one raw exchange. It waits for the reader to be free
	// and for the answer under ctx; a context error is returned as a
	// TransportError and leaves the connection usable.
	Transmit(ctx context.Context, cmd []byte) ([]byte, error)

	// BeginTransaction acquires exclusive access to the card for a sequence
	// of exchanges. EndTransaction releases it.
	BeginTransaction(ctx context.Context) error
	EndTransaction() error

	// Reader returns the slot name.
	Reader() string

	// ATR returns the answer to reset of the connected card.
	ATR() []byte

	// Close releases the connection. It is safe to call more than once.
	Close() error
}

// Monitor delivers presence notifications. The returned channel is closed
// when ctx ends or the notification source fails for good.
//
// Cards already present when watching starts are reported as insertions.
type Monitor interface {
	Watch(ctx context.Context) (<-chan Event, error)
}

// ReaderSource combines the three capabilities, as provided by PCSC and the
// virtual hub.
type ReaderSource interface {
	Connector
	Monitor
}
