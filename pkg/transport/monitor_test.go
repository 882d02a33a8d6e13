package transport

import (
	"testing"
	"time"

	"github.com/ebfe/scard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withCounter(state scard.StateFlag, counter uint32) scard.StateFlag {
	return state | scard.StateFlag(counter<<16)
}

func kinds(events []Event) []EventKind {
	var out []EventKind
	for _, ev := range events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestPresenceTracker_Observe(t *testing.T) {
	const reader = "Reader 0"
	now := time.Now()
	atrA := []byte{0x3B, 0x98, 0x13, 0x40}

	tr := newPresenceTracker()
	assert.Equal(t, scard.StateUnaware, tr.last(reader))

	// empty reader first seen
	got := tr.observe(reader, withCounter(scard.StateChanged|scard.StateEmpty, 0), nil, now)
	assert.Empty(t, got)

	// insertion
	got = tr.observe(reader, withCounter(scard.StateChanged|scard.StatePresent, 1), atrA, now)
	require.Len(t, got, 1)
	assert.Equal(t, CardInserted, got[0].Kind)
	assert.Equal(t, atrA, got[0].ATR)
	assert.Equal(t, withCounter(scard.StatePresent, 1), tr.last(reader), "StateChanged must not be fed back")

	// unchanged state is ignored
	assert.Empty(t, tr.observe(reader, withCounter(scard.StatePresent, 1), atrA, now))

	// a card swapped between two rounds: same ATR, counter moved by two
	got = tr.observe(reader, withCounter(scard.StateChanged|scard.StatePresent|scard.StateInuse, 3), atrA, now)
	assert.Equal(t, []EventKind{CardRemoved, CardInserted}, kinds(got))

	// in use by another application is not a new card
	assert.Empty(t, tr.observe(reader, withCounter(scard.StateChanged|scard.StatePresent, 3), atrA, now))

	// removal
	got = tr.observe(reader, withCounter(scard.StateChanged|scard.StateEmpty, 4), nil, now)
	assert.Equal(t, []EventKind{CardRemoved}, kinds(got))
}

func TestPresenceTracker_MuteCardIsAbsent(t *testing.T) {
	tr := newPresenceTracker()
	got := tr.observe("r", scard.StateChanged|scard.StatePresent|scard.StateMute, nil, time.Now())
	assert.Empty(t, got)
}

func TestPresenceTracker_Retain(t *testing.T) {
	now := time.Now()
	tr := newPresenceTracker()
	tr.observe("with card", scard.StateChanged|scard.StatePresent, []byte{0x3B}, now)
	tr.observe("empty", scard.StateChanged|scard.StateEmpty, nil, now)

	got := tr.retain([]string{"empty"}, now)
	require.Len(t, got, 1)
	assert.Equal(t, Event{Kind: CardRemoved, Reader: "with card", At: now}, got[0])
	assert.Equal(t, scard.StateUnaware, tr.last("with card"))

	got = tr.forgetAll(now)
	assert.Empty(t, got)
	assert.Equal(t, scard.StateUnaware, tr.last("empty"))
}
