package transport

import (
	"context"
	"sync"

	"github.com/gregLibert/eid-middleware/pkg/carderr"
)

// Slots hands out one exchange token per reader name. Channels opened on the
// same reader share the token, so at most one exchange is in flight per
// physical reader whatever the number of connections.
type Slots struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewSlots returns an empty token table.
func NewSlots() *Slots {
	return &Slots{slots: make(map[string]chan struct{})}
}

func (s *Slots) token(reader string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.slots[reader]
	if !ok {
		t = make(chan struct{}, 1)
		s.slots[reader] = t
	}
	return t
}

// Acquire waits for the reader token under ctx. The returned release func
// must be called exactly once.
func (s *Slots) Acquire(ctx context.Context, reader string) (func(), error) {
	t := s.token(reader)
	select {
	case t <- struct{}{}:
		return func() { <-t }, nil
	case <-ctx.Done():
		return nil, carderr.Wrap("transmit", carderr.TransportError, ctx.Err())
	}
}

// Exchange runs fn holding the reader token. fn keeps running in the
// background when ctx ends first; the token is released when fn returns, so a
// following exchange waits for the physical reader to become free.
func (s *Slots) Exchange(ctx context.Context, reader string, fn func() ([]byte, error)) ([]byte, error) {
	release, err := s.Acquire(ctx, reader)
	if err != nil {
		return nil, err
	}

	type result struct {
		resp []byte
		err  error
	}
	done := make(chan result, 1)

	go func() {
		defer release()
		resp, err := fn()
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, carderr.Wrap("transmit", carderr.TransportError, ctx.Err())
	}
}
