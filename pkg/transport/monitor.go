package transport

import (
	"context"
	"errors"
	"time"

	"github.com/ebfe/scard"
	"github.com/sirupsen/logrus"

	"github.com/gregLibert/eid-middleware/pkg/carderr"
)

// PRESENCE MONITORING:
// Each round lists the readers, then blocks in GetStatusChange with the
// states seen last round. PC/SC reports the new state of every reader that
// changed and, on pcsc-lite and WinSCard, an event counter in the upper 16
// bits of the state. A card swapped between two rounds shows up as "present
// before, present now" with a different counter: it is reported as a removal
// followed by an insertion, never as an in-place change.
//
// A wait timeout only means nothing happened; the next round lists the
// readers again so that plugged or unplugged readers are noticed.

type pollConfig struct {
	interval time.Duration
	// backoff is the pause after a failed round.
	backoff time.Duration
}

func defaultPollConfig() pollConfig {
	return pollConfig{interval: 2 * time.Second, backoff: time.Second}
}

// Watch implements Monitor.
func (p *PCSC) Watch(ctx context.Context) (<-chan Event, error) {
	sctx, err := scard.EstablishContext()
	if err != nil {
		return nil, mapSCardError("establish monitor context", err)
	}

	events := make(chan Event)
	stop := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			if err := sctx.Cancel(); err != nil {
				p.log.WithError(err).Debug("Failed to cancel status change wait")
			}
		case <-stop:
		}
	}()

	go func() {
		defer close(events)
		defer close(stop)
		defer func() {
			if err := sctx.Release(); err != nil {
				p.log.WithError(err).Warn("Failed to release monitor context")
			}
		}()

		w := &watcher{
			ctx:     sctx,
			tracker: newPresenceTracker(),
			log:     p.log.WithField("component", "pcsc-monitor"),
			poll:    p.poll,
		}
		w.run(ctx, events)
	}()

	return events, nil
}

type watcher struct {
	ctx     *scard.Context
	tracker *presenceTracker
	log     *logrus.Entry
	poll    pollConfig
}

func (w *watcher) run(ctx context.Context, out chan<- Event) {
	for ctx.Err() == nil {
		readers, err := w.ctx.ListReaders()
		if err != nil && !errors.Is(err, scard.ErrNoReadersAvailable) {
			w.log.WithError(err).Warn("Failed to list readers")
			if !w.emit(ctx, out, w.tracker.forgetAll(time.Now())) || !sleep(ctx, w.poll.backoff) {
				return
			}
			continue
		}

		if !w.emit(ctx, out, w.tracker.retain(readers, time.Now())) {
			return
		}

		if len(readers) == 0 {
			if !sleep(ctx, w.poll.interval) {
				return
			}
			continue
		}

		states := make([]scard.ReaderState, len(readers))
		for i, r := range readers {
			states[i] = scard.ReaderState{Reader: r, CurrentState: w.tracker.last(r)}
		}

		err = w.ctx.GetStatusChange(states, w.poll.interval)
		switch {
		case err == nil:
		case errors.Is(err, scard.ErrTimeout):
			continue
		case errors.Is(err, scard.ErrCancelled):
			return
		default:
			// ErrUnknownReader and friends: a reader vanished mid-wait.
			w.log.WithError(err).Debug("Status change wait failed")
			if !sleep(ctx, w.poll.backoff) {
				return
			}
			continue
		}

		now := time.Now()
		for _, st := range states {
			if !w.emit(ctx, out, w.tracker.observe(st.Reader, st.EventState, st.Atr, now)) {
				return
			}
		}
	}
}

func (w *watcher) emit(ctx context.Context, out chan<- Event, events []Event) bool {
	for _, ev := range events {
		w.log.WithField("reader", ev.Reader).Debugf("Card %s", ev.Kind)
		select {
		case out <- ev:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// presenceTracker turns successive reader states into insertion and removal
// events.
type presenceTracker struct {
	readers map[string]*readerPresence
}

type readerPresence struct {
	state   scard.StateFlag
	present bool
}

func newPresenceTracker() *presenceTracker {
	return &presenceTracker{readers: make(map[string]*readerPresence)}
}

// last returns the state to pass as CurrentState for reader.
func (t *presenceTracker) last(reader string) scard.StateFlag {
	if r, ok := t.readers[reader]; ok {
		return r.state
	}
	return scard.StateUnaware
}

// observe records the state reported for reader and returns the resulting
// events.
func (t *presenceTracker) observe(reader string, state scard.StateFlag, atr []byte, now time.Time) []Event {
	if state&scard.StateChanged == 0 {
		return nil
	}
	state &^= scard.StateChanged

	prev, known := t.readers[reader]
	if !known {
		prev = &readerPresence{}
		t.readers[reader] = prev
	}

	present := state&scard.StatePresent != 0 && state&scard.StateMute == 0
	swapped := known && prev.present && present && eventCounter(prev.state) != eventCounter(state)

	var events []Event
	if prev.present && (!present || swapped) {
		events = append(events, Event{Kind: CardRemoved, Reader: reader, At: now})
	}
	if present && (!prev.present || swapped) {
		events = append(events, Event{Kind: CardInserted, Reader: reader, ATR: append([]byte(nil), atr...), At: now})
	}

	prev.state = state
	prev.present = present
	return events
}

// retain drops readers that are no longer listed, reporting a removal for
// those that held a card.
func (t *presenceTracker) retain(readers []string, now time.Time) []Event {
	listed := make(map[string]bool, len(readers))
	for _, r := range readers {
		listed[r] = true
	}

	var events []Event
	for name, r := range t.readers {
		if listed[name] {
			continue
		}
		if r.present {
			events = append(events, Event{Kind: CardRemoved, Reader: name, At: now})
		}
		delete(t.readers, name)
	}
	return events
}

func (t *presenceTracker) forgetAll(now time.Time) []Event {
	return t.retain(nil, now)
}

func eventCounter(state scard.StateFlag) uint32 {
	return uint32(state) >> 16
}

// ErrMonitorClosed is the cause of the TransportError returned by consumers
// whose monitor stream ended while they still needed it.
var ErrMonitorClosed = errors.New("monitor closed")
