package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregLibert/eid-middleware/pkg/carderr"
	"github.com/gregLibert/eid-middleware/pkg/iso7816"
	"github.com/gregLibert/eid-middleware/pkg/transport/virtual"
)

var getChallenge8 = []byte{0x00, 0x84, 0x00, 0x00, 0x08}

func TestChannel_Transmit(t *testing.T) {
	hub, m := newTestManager(t)
	insert(t, hub, m, readerA, virtual.NewEIDCard(atrA))

	ref, err := m.Ref()
	require.NoError(t, err)
	ch, err := m.Channel(ref)
	require.NoError(t, err)

	resp, err := ch.Transmit(context.Background(), getChallenge8)
	require.NoError(t, err)
	require.Len(t, resp, 10)
	assert.Equal(t, []byte{0x90, 0x00}, resp[8:])

	resp, err = ref.Transmit(context.Background(), getChallenge8)
	require.NoError(t, err)
	assert.Len(t, resp, 10)
}

func TestChannel_StaleAfterRemoval(t *testing.T) {
	hub, m := newTestManager(t)
	card := virtual.NewEIDCard(atrA)
	insert(t, hub, m, readerA, card)

	ref, err := m.Ref()
	require.NoError(t, err)
	ch, err := m.Channel(ref)
	require.NoError(t, err)

	remove(t, hub, m, readerA)
	insert(t, hub, m, readerA, card)

	_, err = ch.Transmit(context.Background(), getChallenge8)
	assert.True(t, errors.Is(err, carderr.ErrCardChanged), "got %v", err)

	_, err = m.Channel(ref)
	assert.True(t, errors.Is(err, carderr.ErrCardChanged), "got %v", err)
}

func TestChannel_RemovalDuringExchange(t *testing.T) {
	hub, m := newTestManager(t)
	insert(t, hub, m, readerA, virtual.NewEIDCard(atrA))
	hub.SetLatency(readerA, 100*time.Millisecond)

	ref, err := m.Ref()
	require.NoError(t, err)
	ch, err := m.Channel(ref)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := ch.Transmit(context.Background(), getChallenge8)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	remove(t, hub, m, readerA)

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, carderr.ErrCardChanged), "got %v", err)
	case <-time.After(time.Second):
		t.Fatal("transmit did not return")
	}
}

func TestChannel_TimeoutLeavesSessionUnchanged(t *testing.T) {
	hub, m := newTestManager(t)
	insert(t, hub, m, readerA, virtual.NewEIDCard(atrA))
	hub.SetLatency(readerA, 200*time.Millisecond)

	before, err := m.CurrentSession()
	require.NoError(t, err)
	ref, err := m.Ref()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	client := iso7816.NewClient(ref)
	cmd, err := iso7816.GetChallenge(iso7816.BasicClass, 8)
	require.NoError(t, err)

	_, err = client.Transceive(ctx, cmd)
	require.Error(t, err)
	assert.Equal(t, carderr.TransportError, carderr.KindOf(err))
	assert.True(t, carderr.IsTimeout(err), "got %v", err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	after, err := m.CurrentSession()
	require.NoError(t, err)
	assert.Same(t, before, after)
	assert.Equal(t, before.ID, m.CurrentSessionID())
	assert.NoError(t, ref.CheckStillValid())

	// The connection is still usable once the reader is free.
	hub.SetLatency(readerA, 0)
	resp, err := client.Transceive(context.Background(), cmd)
	require.NoError(t, err)
	assert.Len(t, resp.Data, 8)
}

func TestChannel_Exclusive(t *testing.T) {
	hub, m := newTestManager(t)
	insert(t, hub, m, readerA, virtual.NewEIDCard(atrA))

	ref, err := m.Ref()
	require.NoError(t, err)
	ch, err := m.Channel(ref)
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			err := ch.Exclusive(context.Background(), func() error {
				for step := 0; step < 3; step++ {
					mu.Lock()
					order = append(order, id)
					mu.Unlock()
					if _, err := ch.Transmit(context.Background(), getChallenge8); err != nil {
						return err
					}
					time.Sleep(5 * time.Millisecond)
				}
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	require.Len(t, order, 6)
	assert.Equal(t, order[0], order[1])
	assert.Equal(t, order[1], order[2])
	assert.Equal(t, order[3], order[4])
	assert.Equal(t, order[4], order[5])
}

func TestChannel_ExclusiveReturnsError(t *testing.T) {
	hub, m := newTestManager(t)
	insert(t, hub, m, readerA, virtual.NewEIDCard(atrA))

	ref, err := m.Ref()
	require.NoError(t, err)
	ch, err := m.Channel(ref)
	require.NoError(t, err)

	boom := errors.New("boom")
	assert.ErrorIs(t, ch.Exclusive(context.Background(), func() error { return boom }), boom)

	// The transaction was released.
	assert.NoError(t, ch.Exclusive(context.Background(), func() error { return nil }))
}

func TestChannel_ExclusiveAfterRemoval(t *testing.T) {
	hub, m := newTestManager(t)
	insert(t, hub, m, readerA, virtual.NewEIDCard(atrA))

	ref, err := m.Ref()
	require.NoError(t, err)
	ch, err := m.Channel(ref)
	require.NoError(t, err)

	remove(t, hub, m, readerA)

	called := false
	err = ch.Exclusive(context.Background(), func() error {
		called = true
		return nil
	})
	assert.True(t, errors.Is(err, carderr.ErrCardChanged), "got %v", err)
	assert.False(t, called)
}
