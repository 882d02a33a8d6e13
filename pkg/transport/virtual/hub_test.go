package virtual

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregLibert/eid-middleware/pkg/carderr"
	"github.com/gregLibert/eid-middleware/pkg/transport"
)

var testATR = []byte{0x3B, 0x98, 0x13, 0x40, 0x0A, 0xA5, 0x03, 0x01, 0x01, 0x01, 0xAD, 0x13, 0x11}

// echoCard answers every command with its own bytes and 9000.
type echoCard struct{}

func (echoCard) ATR() []byte { return testATR }

func (echoCard) Process(cmd []byte) []byte { return append(cmd, 0x90, 0x00) }

func nextEvent(t *testing.T, events <-chan transport.Event) transport.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return transport.Event{}
	}
}

func TestHub_WatchReportsPresenceInOrder(t *testing.T) {
	hub := NewHub([]string{"Reader B", "Reader A"})
	require.NoError(t, hub.Insert("Reader A", echoCard{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := hub.Watch(ctx)
	require.NoError(t, err)

	ev := nextEvent(t, events)
	assert.Equal(t, transport.CardInserted, ev.Kind)
	assert.Equal(t, "Reader A", ev.Reader)
	assert.Equal(t, testATR, ev.ATR)

	require.NoError(t, hub.Remove("Reader A"))
	require.NoError(t, hub.Insert("Reader B", echoCard{}))
	require.NoError(t, hub.Insert("Reader B", echoCard{}))

	want := []struct {
		kind   transport.EventKind
		reader string
	}{
		{transport.CardRemoved, "Reader A"},
		{transport.CardInserted, "Reader B"},
		{transport.CardRemoved, "Reader B"},
		{transport.CardInserted, "Reader B"},
	}
	for _, w := range want {
		ev := nextEvent(t, events)
		assert.Equal(t, w.kind, ev.Kind)
		assert.Equal(t, w.reader, ev.Reader)
	}

	cancel()
	for range events {
	}
}

func TestHub_ListAndConnect(t *testing.T) {
	hub := NewHub([]string{"Reader B", "Reader A"})
	ctx := context.Background()

	readers, err := hub.ListReaders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Reader A", "Reader B"}, readers)

	_, err = hub.Connect(ctx, "Reader A")
	assert.True(t, carderr.KindOf(err) == carderr.NoCardPresent)

	_, err = hub.Connect(ctx, "Reader C")
	assert.Equal(t, carderr.TransportError, carderr.KindOf(err))

	require.NoError(t, hub.Insert("Reader A", echoCard{}))
	ch, err := hub.Connect(ctx, "Reader A")
	require.NoError(t, err)
	defer ch.Close()

	assert.Equal(t, "Reader A", ch.Reader())
	assert.Equal(t, testATR, ch.ATR())

	resp, err := ch.Transmit(ctx, []byte{0x00, 0x84, 0x00, 0x00, 0x08})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x84, 0x00, 0x00, 0x08, 0x90, 0x00}, resp)
}

func TestHub_ChannelOutlivesItsCard(t *testing.T) {
	hub := NewHub([]string{"r"})
	ctx := context.Background()

	require.NoError(t, hub.Insert("r", echoCard{}))
	ch, err := hub.Connect(ctx, "r")
	require.NoError(t, err)

	require.NoError(t, hub.Remove("r"))
	// Same card back in: the old connection is still stale.
	require.NoError(t, hub.Insert("r", echoCard{}))

	_, err = ch.Transmit(ctx, []byte{0x00, 0x84, 0x00, 0x00, 0x08})
	assert.Equal(t, carderr.CardChanged, carderr.KindOf(err))

	assert.Equal(t, carderr.CardChanged, carderr.KindOf(ch.BeginTransaction(ctx)))
}

func TestHub_TransmitTimeout(t *testing.T) {
	hub := NewHub([]string{"r"})
	require.NoError(t, hub.Insert("r", echoCard{}))
	hub.SetLatency("r", 200*time.Millisecond)

	ch, err := hub.Connect(context.Background(), "r")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = ch.Transmit(ctx, []byte{0x00, 0x84, 0x00, 0x00, 0x08})
	require.Error(t, err)
	assert.True(t, carderr.IsTimeout(err))

	hub.SetLatency("r", 0)
	resp, err := ch.Transmit(context.Background(), []byte{0x00, 0x84, 0x00, 0x00, 0x01})
	require.NoError(t, err)
	assert.True(t, bytes.HasSuffix(resp, []byte{0x90, 0x00}))
}

func TestHub_Transactions(t *testing.T) {
	hub := NewHub([]string{"r"})
	require.NoError(t, hub.Insert("r", echoCard{}))

	a, err := hub.Connect(context.Background(), "r")
	require.NoError(t, err)
	b, err := hub.Connect(context.Background(), "r")
	require.NoError(t, err)

	require.NoError(t, a.BeginTransaction(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.True(t, carderr.IsTimeout(b.BeginTransaction(ctx)))

	require.NoError(t, a.EndTransaction())
	require.NoError(t, b.BeginTransaction(context.Background()))
	require.NoError(t, b.Close())

	assert.Error(t, a.EndTransaction())
}

func TestHub_TransactionExcludesOtherChannels(t *testing.T) {
	hub := NewHub([]string{"r"})
	require.NoError(t, hub.Insert("r", echoCard{}))

	a, err := hub.Connect(context.Background(), "r")
	require.NoError(t, err)
	b, err := hub.Connect(context.Background(), "r")
	require.NoError(t, err)

	require.NoError(t, a.BeginTransaction(context.Background()))

	// The holder keeps exchanging inside its transaction.
	_, err = a.Transmit(context.Background(), []byte{0x00, 0x84, 0x00, 0x00, 0x08})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = b.Transmit(ctx, []byte{0x00, 0x84, 0x00, 0x00, 0x08})
	assert.True(t, carderr.IsTimeout(err), "got %v", err)

	done := make(chan error, 1)
	go func() {
		_, err := b.Transmit(context.Background(), []byte{0x00, 0x84, 0x00, 0x00, 0x01})
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("transmit ran inside another channel's transaction: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, a.EndTransaction())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("transmit still blocked after the transaction ended")
	}
}
