package virtual

import (
	"context"
	"sort"
	"sync"

	"github.com/gregLibert/eid-middleware/pkg/transport"
)

// subscriber queues events without bound so that Insert and Remove never
// block on a slow watcher, while preserving order.
type subscriber struct {
	mu     sync.Mutex
	queue  []transport.Event
	notify chan struct{}
}

func (s *subscriber) push(ev transport.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) drain() []transport.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queue
	s.queue = nil
	return q
}

// Watch implements transport.Monitor. Cards present when watching starts are
// reported first, as insertions.
func (h *Hub) Watch(ctx context.Context) (<-chan transport.Event, error) {
	sub := &subscriber{notify: make(chan struct{}, 1)}

	h.mu.Lock()
	names := make([]string, 0, len(h.readers))
	for name := range h.readers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if s := h.readers[name]; s.card != nil {
			sub.push(transport.Event{Kind: transport.CardInserted, Reader: name, ATR: append([]byte(nil), s.card.ATR()...)})
		}
	}
	id := h.nextSub
	h.nextSub++
	h.subs[id] = sub
	h.mu.Unlock()

	out := make(chan transport.Event)
	go func() {
		defer close(out)
		defer func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		}()

		for {
			for _, ev := range sub.drain() {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-sub.notify:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (h *Hub) publishLocked(ev transport.Event) {
	h.log.WithField("reader", ev.Reader).Debugf("Card %s", ev.Kind)
	for _, sub := range h.subs {
		sub.push(ev)
	}
}
