package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gregLibert/eid-middleware/pkg/carderr"
	"github.com/gregLibert/eid-middleware/pkg/transport"
)

// ErrClosed is returned by OnReaderEvent after Close.
var ErrClosed = errors.New("session manager closed")

// Manager owns the current CardSession.
//
// Transitions are serialized by mu. The current identifier is mirrored in an
// atomic so that validity checks never wait for a transition in progress: a
// reader sees either the identifier before the transition or the one after.
type Manager struct {
	connector      transport.Connector
	log            *logrus.Entry
	reader         string
	subBuffer      int
	connectTimeout time.Duration

	mu      sync.Mutex
	counter uint64
	session *CardSession
	subs    map[int]chan Transition
	nextSub int
	closed  bool

	current atomic.Uint64
	active  atomic.Pointer[CardSession]
}

// NewManager creates a manager that opens connections through connector.
// No session exists until an insertion is reported.
func NewManager(connector transport.Connector, opts ...Option) *Manager {
	m := &Manager{
		connector:      connector,
		log:            logrus.NewEntry(logrus.StandardLogger()),
		subBuffer:      defaultSubscriberBuffer,
		connectTimeout: defaultConnectTimeout,
		subs:           make(map[int]chan Transition),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithField("component", "session")
	return m
}

// CurrentSessionID returns the identifier of the active session, 0 when no
// card is present.
func (m *Manager) CurrentSessionID() uint64 {
	return m.current.Load()
}

// CurrentSession returns the active session or a NoCardPresent error.
func (m *Manager) CurrentSession() (*CardSession, error) {
	s := m.active.Load()
	if s == nil {
		return nil, carderr.New("current session", carderr.NoCardPresent)
	}
	return s, nil
}

// Ref returns a reference to the active session.
func (m *Manager) Ref() (HandleRef, error) {
	s := m.active.Load()
	if s == nil {
		return HandleRef{}, carderr.New("session ref", carderr.NoCardPresent)
	}
	return HandleRef{SessionID: s.ID, m: m}, nil
}

// CheckStillValid fails with CardChanged when ref does not name the active
// session any more. It only reads the current identifier.
func (m *Manager) CheckStillValid(ref HandleRef) error {
	if ref.SessionID == 0 {
		return carderr.New("check session", carderr.NoCardPresent)
	}
	if cur := m.current.Load(); cur != ref.SessionID {
		return carderr.Wrap("check session", carderr.CardChanged,
			fmt.Errorf("session %d ended, current is %d", ref.SessionID, cur))
	}
	return nil
}

// OnReaderEvent applies a presence notification.
//
// An insertion connects to the card and opens a session with the next
// identifier. A failed connection leaves the manager without a session and
// consumes no identifier. An insertion in the reader of the active session
// ends it first. A removal ends the session of that reader: the session is
// unpublished before its connection is released, so no caller can reach a
// closed connection through a reference that still checks valid.
func (m *Manager) OnReaderEvent(ev transport.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	log := m.log.WithField("reader", ev.Reader)
	if m.reader != "" && ev.Reader != m.reader {
		log.Debugf("Ignoring card %s in unbound reader", ev.Kind)
		return nil
	}

	switch ev.Kind {
	case transport.CardInserted:
		if s := m.session; s != nil {
			if s.Reader != ev.Reader {
				log.WithField("session_id", s.ID).Info("Ignoring card inserted while another reader holds the session")
				return nil
			}
			m.deactivateLocked("replaced")
		}
		return m.activateLocked(ev)

	case transport.CardRemoved:
		if s := m.session; s != nil && s.Reader == ev.Reader {
			m.deactivateLocked("removed")
		}
		return nil

	default:
		return fmt.Errorf("unknown reader event kind %d", int(ev.Kind))
	}
}

func (m *Manager) activateLocked(ev transport.Event) error {
	log := m.log.WithField("reader", ev.Reader)

	ctx, cancel := context.WithTimeout(context.Background(), m.connectTimeout)
	defer cancel()

	ch, err := m.connector.Connect(ctx, ev.Reader)
	if err != nil {
		log.WithError(err).Warn("Failed to connect to inserted card")
		return carderr.Classify("connect", err)
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	m.counter++
	s := &CardSession{
		ID:         m.counter,
		Reader:     ev.Reader,
		ATR:        append([]byte(nil), ch.ATR()...),
		TraceID:    uuid.New(),
		InsertedAt: at,
		channel:    ch,
	}

	m.session = s
	// Any ref handed out from active must already pass CheckStillValid.
	m.current.Store(s.ID)
	m.active.Store(s)

	log.WithFields(logrus.Fields{
		"session_id": s.ID,
		"trace_id":   s.TraceID,
		"atr":        fmt.Sprintf("%X", s.ATR),
	}).Info("Card session started")

	m.publishLocked(Transition{
		Kind:      Activated,
		SessionID: s.ID,
		Reader:    s.Reader,
		ATR:       s.ATR,
		TraceID:   s.TraceID,
		At:        at,
	})
	return nil
}

func (m *Manager) deactivateLocked(reason string) {
	s := m.session
	if s == nil {
		return
	}

	m.current.Store(0)
	m.active.Store(nil)
	m.session = nil

	log := m.log.WithFields(logrus.Fields{
		"reader":     s.Reader,
		"session_id": s.ID,
		"trace_id":   s.TraceID,
	})
	if err := s.channel.Close(); err != nil {
		log.WithError(err).Warn("Failed to release card connection")
	}
	log.WithField("reason", reason).Info("Card session ended")

	m.publishLocked(Transition{
		Kind:      Deactivated,
		SessionID: s.ID,
		Reader:    s.Reader,
		ATR:       s.ATR,
		TraceID:   s.TraceID,
		At:        time.Now(),
	})
}

// Close ends the active session and every subscription. Further events are
// rejected with ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.deactivateLocked("closed")
	m.closed = true
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
	return nil
}

func (m *Manager) deactivate(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deactivateLocked(reason)
}
