package session

import (
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultSubscriberBuffer = 16
	defaultConnectTimeout   = 5 * time.Second
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for session transitions.
func WithLogger(log *logrus.Entry) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// WithReader binds the manager to one reader. Events from other readers are
// ignored. Without it, the first reader reporting a card wins until that card
// is removed.
func WithReader(name string) Option {
	return func(m *Manager) {
		m.reader = name
	}
}

// WithSubscriberBuffer sets the capacity of subscription channels.
func WithSubscriberBuffer(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.subBuffer = n
		}
	}
}

// WithConnectTimeout bounds the connection attempt made on insertion.
func WithConnectTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.connectTimeout = d
		}
	}
}
