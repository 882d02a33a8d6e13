package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gregLibert/eid-middleware/pkg/carderr"
	"github.com/gregLibert/eid-middleware/pkg/transport"
)

// TransitionKind tells whether a session started or ended.
type TransitionKind int

const (
	Activated TransitionKind = iota + 1
	Deactivated
)

func (k TransitionKind) String() string {
	switch k {
	case Activated:
		return "activated"
	case Deactivated:
		return "deactivated"
	default:
		return fmt.Sprintf("TransitionKind(%d)", int(k))
	}
}

// Transition is delivered to subscribers for every session start and end.
type Transition struct {
	Kind      TransitionKind
	SessionID uint64
	Reader    string
	ATR       []byte
	TraceID   uuid.UUID
	At        time.Time
}

func (t Transition) String() string {
	return fmt.Sprintf("session %d %s on %s", t.SessionID, t.Kind, t.Reader)
}

// Subscribe registers an observer. Transitions are delivered in order; when
// the channel buffer is full the transition is dropped for that subscriber
// rather than stalling the writer. The returned func unsubscribes and closes
// the channel.
func (m *Manager) Subscribe() (<-chan Transition, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Transition, m.subBuffer)
	if m.closed {
		close(ch)
		return ch, func() {}
	}

	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(c)
			}
		})
	}
}

func (m *Manager) publishLocked(t Transition) {
	for id, ch := range m.subs {
		select {
		case ch <- t:
		default:
			m.log.WithField("subscriber", id).Warnf("Dropped %s for slow subscriber", t)
		}
	}
}

// Run feeds the notifications of monitor into OnReaderEvent until ctx ends.
// The active session is ended on return.
//
// Errors applying a single event are logged and do not stop the loop. Run
// returns an error only when watching cannot start or the notification
// stream stops while ctx is still live.
func (m *Manager) Run(ctx context.Context, monitor transport.Monitor) error {
	events, err := monitor.Watch(ctx)
	if err != nil {
		return carderr.Classify("watch", err)
	}

	for {
		select {
		case <-ctx.Done():
			m.deactivate("stopped")
			return nil

		case ev, ok := <-events:
			if !ok {
				m.deactivate("monitor closed")
				if ctx.Err() != nil {
					return nil
				}
				return carderr.Wrap("watch", carderr.TransportError, transport.ErrMonitorClosed)
			}
			if err := m.OnReaderEvent(ev); err != nil {
				m.log.WithError(err).WithField("reader", ev.Reader).Warnf("Failed to apply card %s", ev.Kind)
			}
		}
	}
}
