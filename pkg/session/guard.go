package session

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/gregLibert/eid-middleware/pkg/carderr"
	"github.com/gregLibert/eid-middleware/pkg/transport"
)

// Channel is the connection of one session, guarded by its reference.
//
// The reference is checked before and after every exchange. A card removed
// while a command is in flight is reported as CardChanged, whatever the
// transport made of the lost answer.
type Channel struct {
	ref HandleRef
	ch  transport.Channel
	log *logrus.Entry
}

// Channel returns the guarded connection of the session named by ref.
func (m *Manager) Channel(ref HandleRef) (*Channel, error) {
	if err := m.CheckStillValid(ref); err != nil {
		return nil, err
	}
	s := m.active.Load()
	if s == nil || s.ID != ref.SessionID {
		return nil, carderr.New("channel", carderr.CardChanged)
	}
	return &Channel{
		ref: HandleRef{SessionID: ref.SessionID, m: m},
		ch:  s.channel,
		log: m.log.WithFields(logrus.Fields{"reader": s.Reader, "session_id": s.ID}),
	}, nil
}

// Ref returns the reference guarding c.
func (c *Channel) Ref() HandleRef {
	return c.ref
}

// Transmit implements iso7816.Transmitter. A context that ends first yields
// a TransportError and leaves the session untouched.
func (c *Channel) Transmit(ctx context.Context, cmd []byte) ([]byte, error) {
	if err := c.ref.CheckStillValid(); err != nil {
		return nil, err
	}

	resp, err := c.ch.Transmit(ctx, cmd)

	if verr := c.ref.CheckStillValid(); verr != nil {
		return nil, verr
	}
	if err != nil {
		return nil, carderr.Classify("transmit", err)
	}
	return resp, nil
}

// Exclusive runs fn inside a card transaction, so that no other application
// can interleave commands, e.g. between a SELECT and the READ BINARY that
// depends on it. The transaction is ended when fn returns.
func (c *Channel) Exclusive(ctx context.Context, fn func() error) error {
	if err := c.ref.CheckStillValid(); err != nil {
		return err
	}

	if err := c.ch.BeginTransaction(ctx); err != nil {
		if verr := c.ref.CheckStillValid(); verr != nil {
			return verr
		}
		return carderr.Classify("begin transaction", err)
	}

	err := fn()

	if endErr := c.ch.EndTransaction(); endErr != nil {
		if err != nil {
			c.log.WithError(endErr).Debug("Failed to end transaction after error")
			return err
		}
		if verr := c.ref.CheckStillValid(); verr != nil {
			return verr
		}
		return carderr.Classify("end transaction", endErr)
	}
	return err
}
