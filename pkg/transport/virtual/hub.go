// Package virtual simulates readers and cards in memory. It implements the
// transport interfaces with the same guarantees as the PC/SC transport (one
// exchange per reader, classified errors, cancellable waits) so that the
// session and eID layers can be exercised without hardware.
package virtual

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gregLibert/eid-middleware/pkg/carderr"
	"github.com/gregLibert/eid-middleware/pkg/transport"
)

// Card is a simulated card application. Process receives a raw command and
// returns the raw response, status word included.
type Card interface {
	ATR() []byte
	Process(cmd []byte) []byte
}

// Resetter is implemented by cards that lose volatile state (selected file,
// PIN verification) when powered down.
type Resetter interface {
	Reset()
}

type slot struct {
	card       Card
	generation uint64
	latency    time.Duration
}

// Hub is a set of virtual readers.
type Hub struct {
	mu      sync.Mutex
	readers map[string]*slot
	subs    map[int]*subscriber
	nextSub int

	exchanges *transport.Slots
	txns      *transport.Slots
	log       *logrus.Entry
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(log *logrus.Entry) Option {
	return func(h *Hub) {
		h.log = log
	}
}

// NewHub creates a hub with the given empty readers.
func NewHub(readers []string, opts ...Option) *Hub {
	h := &Hub{
		readers:   make(map[string]*slot),
		subs:      make(map[int]*subscriber),
		exchanges: transport.NewSlots(),
		txns:      transport.NewSlots(),
		log:       logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.WithField("component", "virtual-hub")
	for _, r := range readers {
		h.readers[r] = &slot{}
	}
	return h
}

// Insert puts card into reader. A card already present is removed first.
func (h *Hub) Insert(reader string, card Card) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.readers[reader]
	if !ok {
		return fmt.Errorf("unknown reader %q", reader)
	}
	if s.card != nil {
		h.removeLocked(reader, s)
	}

	if r, ok := card.(Resetter); ok {
		r.Reset()
	}
	s.card = card
	s.generation++

	h.publishLocked(transport.Event{
		Kind:   transport.CardInserted,
		Reader: reader,
		ATR:    append([]byte(nil), card.ATR()...),
		At:     time.Now(),
	})
	return nil
}

// Remove takes the card out of reader. Removing from an empty reader is a
// no-op.
func (h *Hub) Remove(reader string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.readers[reader]
	if !ok {
		return fmt.Errorf("unknown reader %q", reader)
	}
	if s.card != nil {
		h.removeLocked(reader, s)
	}
	return nil
}

func (h *Hub) removeLocked(reader string, s *slot) {
	s.card = nil
	s.generation++
	h.publishLocked(transport.Event{Kind: transport.CardRemoved, Reader: reader, At: time.Now()})
}

// SetLatency delays every exchange on reader by d.
func (h *Hub) SetLatency(reader string, d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.readers[reader]; ok {
		s.latency = d
	}
}

// ListReaders implements transport.Connector.
func (h *Hub) ListReaders(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, carderr.Wrap("list readers", carderr.TransportError, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	names := make([]string, 0, len(h.readers))
	for name := range h.readers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Connect implements transport.Connector.
func (h *Hub) Connect(ctx context.Context, reader string) (transport.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, carderr.Wrap("connect", carderr.TransportError, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.readers[reader]
	if !ok {
		return nil, carderr.Wrap("connect", carderr.TransportError, fmt.Errorf("unknown reader %q", reader))
	}
	if s.card == nil {
		return nil, carderr.New("connect", carderr.NoCardPresent)
	}

	return &channel{
		hub:        h,
		reader:     reader,
		atr:        append([]byte(nil), s.card.ATR()...),
		generation: s.generation,
	}, nil
}

// current returns the card of reader if it is still the one inserted at
// generation.
func (h *Hub) current(reader string, generation uint64) (Card, time.Duration, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.readers[reader]
	if s == nil || s.generation != generation || s.card == nil {
		return nil, 0, carderr.Wrap("transmit", carderr.CardChanged, fmt.Errorf("card in %q was removed", reader))
	}
	return s.card, s.latency, nil
}

type channel struct {
	hub        *Hub
	reader     string
	atr        []byte
	generation uint64

	mu        sync.Mutex
	closed    bool
	releaseTx func()
}

func (c *channel) Reader() string { return c.reader }

func (c *channel) ATR() []byte { return c.atr }

func (c *channel) Transmit(ctx context.Context, cmd []byte) ([]byte, error) {
	c.mu.Lock()
	closed := c.closed
	inTx := c.releaseTx != nil
	c.mu.Unlock()
	if closed {
		return nil, carderr.Wrap("transmit", carderr.TransportError, fmt.Errorf("channel closed"))
	}

	// Outside a transaction of its own, an exchange waits for any transaction
	// held by another channel on the reader.
	if !inTx {
		release, err := c.hub.txns.Acquire(ctx, c.reader)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	return c.hub.exchanges.Exchange(ctx, c.reader, func() ([]byte, error) {
		card, latency, err := c.hub.current(c.reader, c.generation)
		if err != nil {
			return nil, err
		}
		if latency > 0 {
			time.Sleep(latency)
		}
		resp := card.Process(append([]byte(nil), cmd...))

		// A removal during the exchange loses the answer, as on a real reader.
		if _, _, err := c.hub.current(c.reader, c.generation); err != nil {
			return nil, err
		}
		return resp, nil
	})
}

func (c *channel) BeginTransaction(ctx context.Context) error {
	if _, _, err := c.hub.current(c.reader, c.generation); err != nil {
		return err
	}

	release, err := c.hub.txns.Acquire(ctx, c.reader)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.releaseTx != nil {
		release()
		return carderr.Wrap("begin transaction", carderr.ProtocolError, fmt.Errorf("transaction already active"))
	}
	c.releaseTx = release
	return nil
}

func (c *channel) EndTransaction() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.releaseTx == nil {
		return carderr.Wrap("end transaction", carderr.ProtocolError, fmt.Errorf("no active transaction"))
	}
	c.releaseTx()
	c.releaseTx = nil
	return nil
}

func (c *channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.releaseTx != nil {
		c.releaseTx()
		c.releaseTx = nil
	}
	return nil
}
