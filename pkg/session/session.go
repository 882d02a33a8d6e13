// Package session tracks the card currently inserted in the reader and hands
// out references that detect when that card is gone.
//
// Every successful insertion opens a CardSession with a fresh 64-bit
// identifier. Identifiers are never reused: a card taken out and put back,
// even the very same card, gets a new one. Code that caches anything derived
// from a card keeps a HandleRef and calls CheckStillValid before trusting it:
//
//	ref, err := mgr.Ref()
//	...
//	if err := ref.CheckStillValid(); errors.Is(err, carderr.ErrCardChanged) {
//	    // the card was removed or replaced, start over
//	}
//
// Transitions are applied by a single writer (OnReaderEvent, usually driven
// by Run). Reads of the current identifier are atomic and never block.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gregLibert/eid-middleware/pkg/carderr"
	"github.com/gregLibert/eid-middleware/pkg/transport"
)

// CardSession is one continuous presence of a card in a reader. It owns the
// connection to the card, which is released when the session ends.
type CardSession struct {
	ID         uint64
	Reader     string
	ATR        []byte
	TraceID    uuid.UUID
	InsertedAt time.Time

	channel transport.Channel
}

func (s *CardSession) String() string {
	return fmt.Sprintf("session %d on %s (ATR %X)", s.ID, s.Reader, s.ATR)
}

// HandleRef identifies the session a caller started working with. The zero
// value refers to no session.
type HandleRef struct {
	SessionID uint64

	m *Manager
}

// CheckStillValid fails with CardChanged once the session of the reference
// has ended, and with NoCardPresent for a zero reference.
func (r HandleRef) CheckStillValid() error {
	if r.m == nil {
		return carderr.New("check session", carderr.NoCardPresent)
	}
	return r.m.CheckStillValid(r)
}

// IsZero reports whether the reference was never issued.
func (r HandleRef) IsZero() bool {
	return r.SessionID == 0
}

// Transmit sends one raw command through a guarded channel of the session.
func (r HandleRef) Transmit(ctx context.Context, cmd []byte) ([]byte, error) {
	if r.m == nil {
		return nil, carderr.New("transmit", carderr.NoCardPresent)
	}
	ch, err := r.m.Channel(r)
	if err != nil {
		return nil, err
	}
	return ch.Transmit(ctx, cmd)
}
