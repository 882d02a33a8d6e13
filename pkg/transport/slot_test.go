package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregLibert/eid-middleware/pkg/carderr"
)

func TestSlots_OneExchangePerReader(t *testing.T) {
	slots := NewSlots()

	var inFlight, peak atomic.Int32
	exchange := func() ([]byte, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return []byte{0x90, 0x00}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := slots.Exchange(context.Background(), "reader", exchange)
			assert.NoError(t, err)
			assert.Equal(t, []byte{0x90, 0x00}, resp)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
}

func TestSlots_ReadersAreIndependent(t *testing.T) {
	slots := NewSlots()

	releaseA, err := slots.Acquire(context.Background(), "A")
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := slots.Acquire(context.Background(), "B")
	require.NoError(t, err)
	releaseB()
}

func TestSlots_Timeout(t *testing.T) {
	slots := NewSlots()
	unblock := make(chan struct{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := slots.Exchange(ctx, "reader", func() ([]byte, error) {
		<-unblock
		return []byte{0x90, 0x00}, nil
	})
	require.Error(t, err)
	assert.True(t, carderr.IsTimeout(err))
	assert.Equal(t, carderr.TransportError, carderr.KindOf(err))

	// The abandoned exchange still holds the reader.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel2()
	_, err = slots.Acquire(ctx2, "reader")
	assert.True(t, carderr.IsTimeout(err))

	close(unblock)
	release, err := slots.Acquire(context.Background(), "reader")
	require.NoError(t, err)
	release()
}
