package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebfe/scard"
	"github.com/sirupsen/logrus"

	"github.com/gregLibert/eid-middleware/pkg/carderr"
)

// PC/SC TRANSPORT:
// One scard.Context serves enumeration and connections. Presence monitoring
// runs on a second context, since SCardGetStatusChange blocks and can only be
// interrupted through SCardCancel on the context it runs on.
//
// Cards are connected in shared mode, T=0 or T=1. Forcing one protocol makes
// some readers fail with "Parameter Incorrect".

// PCSC implements Connector and Monitor over the platform PC/SC service.
type PCSC struct {
	ctx   *scard.Context
	slots *Slots
	log   *logrus.Entry
	poll  pollConfig
}

// PCSCOption configures a PCSC transport.
type PCSCOption func(*PCSC)

// WithLogger sets the logger used by the transport and its monitor.
func WithLogger(log *logrus.Entry) PCSCOption {
	return func(p *PCSC) {
		p.log = log
	}
}

// WithPollInterval bounds each status change wait. Reader hotplug is picked
// up at this pace.
func WithPollInterval(d time.Duration) PCSCOption {
	return func(p *PCSC) {
		if d > 0 {
			p.poll.interval = d
		}
	}
}

// NewPCSC establishes a PC/SC context.
func NewPCSC(opts ...PCSCOption) (*PCSC, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, mapSCardError("establish context", err)
	}

	p := &PCSC{
		ctx:   ctx,
		slots: NewSlots(),
		log:   logrus.NewEntry(logrus.StandardLogger()),
		poll:  defaultPollConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithField("component", "pcsc")
	return p, nil
}

// ListReaders returns the reader names. No reader is not an error.
func (p *PCSC) ListReaders(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, carderr.Wrap("list readers", carderr.TransportError, err)
	}
	readers, err := p.ctx.ListReaders()
	if errors.Is(err, scard.ErrNoReadersAvailable) {
		return nil, nil
	}
	if err != nil {
		return nil, mapSCardError("list readers", err)
	}
	return readers, nil
}

// Connect opens a shared connection to the card in reader.
func (p *PCSC) Connect(ctx context.Context, reader string) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, carderr.Wrap("connect", carderr.TransportError, err)
	}

	card, err := p.ctx.Connect(reader, scard.ShareShared, scard.ProtocolT0|scard.ProtocolT1)
	if err != nil {
		return nil, mapSCardError("connect", err)
	}

	status, err := card.Status()
	if err != nil {
		if derr := card.Disconnect(scard.LeaveCard); derr != nil {
			p.log.WithError(derr).Warn("Failed to disconnect card after status error")
		}
		return nil, mapSCardError("card status", err)
	}

	p.log.WithFields(logrus.Fields{
		"reader":   reader,
		"protocol": status.ActiveProtocol,
	}).Debug("Connected to card")

	return &pcscChannel{
		reader: reader,
		atr:    append([]byte(nil), status.Atr...),
		card:   card,
		slots:  p.slots,
		log:    p.log.WithField("reader", reader),
	}, nil
}

// Close releases the PC/SC context.
func (p *PCSC) Close() error {
	if err := p.ctx.Release(); err != nil {
		return mapSCardError("release context", err)
	}
	return nil
}

type pcscChannel struct {
	reader string
	atr    []byte
	card   *scard.Card
	slots  *Slots
	log    *logrus.Entry

	closeOnce sync.Once
	closeErr  error
}

func (c *pcscChannel) Reader() string { return c.reader }

func (c *pcscChannel) ATR() []byte { return c.atr }

func (c *pcscChannel) Transmit(ctx context.Context, cmd []byte) ([]byte, error) {
	resp, err := c.slots.Exchange(ctx, c.reader, func() ([]byte, error) {
		resp, err := c.card.Transmit(cmd)
		if err != nil {
			return nil, mapSCardError("transmit", err)
		}
		return resp, nil
	})
	if err != nil {
		if carderr.IsTimeout(err) {
			c.log.WithError(err).Debug("Exchange abandoned")
		}
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"command":  hexString(cmd),
		"response": hexString(resp),
	}).Trace("APDU exchange")
	return resp, nil
}

// BeginTransaction waits for SCardBeginTransaction under ctx. When ctx ends
// first, a transaction acquired late is released right away.
func (c *pcscChannel) BeginTransaction(ctx context.Context) error {
	var (
		mu        sync.Mutex
		abandoned bool
	)
	done := make(chan error, 1)

	go func() {
		err := c.card.BeginTransaction()
		mu.Lock()
		defer mu.Unlock()
		if abandoned {
			if err == nil {
				if eerr := c.card.EndTransaction(scard.LeaveCard); eerr != nil {
					c.log.WithError(eerr).Warn("Failed to release abandoned transaction")
				}
			}
			return
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return mapSCardError("begin transaction", err)
		}
		return nil
	case <-ctx.Done():
		mu.Lock()
		defer mu.Unlock()
		abandoned = true
		select {
		case err := <-done:
			if err == nil {
				if eerr := c.card.EndTransaction(scard.LeaveCard); eerr != nil {
					c.log.WithError(eerr).Warn("Failed to release abandoned transaction")
				}
			}
		default:
		}
		return carderr.Wrap("begin transaction", carderr.TransportError, ctx.Err())
	}
}

func (c *pcscChannel) EndTransaction() error {
	if err := c.card.EndTransaction(scard.LeaveCard); err != nil {
		return mapSCardError("end transaction", err)
	}
	return nil
}

func (c *pcscChannel) Close() error {
	c.closeOnce.Do(func() {
		err := c.card.Disconnect(scard.LeaveCard)
		// A card that is already gone has nothing left to release.
		if err != nil && !errors.Is(err, scard.ErrRemovedCard) && !errors.Is(err, scard.ErrNoSmartcard) {
			c.closeErr = mapSCardError("disconnect", err)
		}
	})
	return c.closeErr
}

// mapSCardError classifies PC/SC failures. Removal and reset of the card
// behind an open handle are CardChanged: the card the handle was opened for
// is gone, whatever is in the reader now.
func mapSCardError(op string, err error) error {
	var kind carderr.Kind
	switch {
	case errors.Is(err, scard.ErrRemovedCard), errors.Is(err, scard.ErrResetCard):
		kind = carderr.CardChanged
	case errors.Is(err, scard.ErrNoSmartcard):
		kind = carderr.NoCardPresent
	default:
		kind = carderr.TransportError
	}
	return carderr.Wrap(op, kind, err)
}

func hexString(b []byte) string {
	return fmt.Sprintf("%X", b)
}
