package lifecycle_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leandrodaf/midio/internal/lifecycle"
	"github.com/leandrodaf/midio/sdk/contracts"
)

func TestEnterAfterCloseFails(t *testing.T) {
	var g lifecycle.Guard
	require.True(t, g.Enter())
	g.Exit()

	first, err := g.Close()
	require.NoError(t, err)
	assert.True(t, first)
	assert.True(t, g.Closed())
	assert.False(t, g.Enter())
}

func TestCloseIsIdempotent(t *testing.T) {
	var g lifecycle.Guard
	first, err := g.Close()
	require.NoError(t, err)
	assert.True(t, first)

	first, err = g.Close()
	require.NoError(t, err)
	assert.False(t, first)
}

func TestCloseBlocksUntilDeliveryExits(t *testing.T) {
	var g lifecycle.Guard
	var delivered atomic.Int32

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		if g.Enter() {
			close(entered)
			<-release
			delivered.Add(1)
			g.Exit()
		}
	}()
	<-entered

	closed := make(chan struct{})
	go func() {
		_, _ = g.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("close returned while a delivery was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("close never returned")
	}
	assert.Equal(t, int32(1), delivered.Load())
	assert.False(t, g.Enter())
}

func TestReentrantCloseRejected(t *testing.T) {
	var g lifecycle.Guard

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.BeginDispatch()
		defer g.EndDispatch()

		// A close from the dispatcher goroutine must fail fast instead
		// of deadlocking.
		_, err := g.Close()
		assert.ErrorIs(t, err, contracts.ErrReentrantClose)
	}()
	wg.Wait()

	// From any other goroutine the close proceeds.
	first, err := g.Close()
	require.NoError(t, err)
	assert.True(t, first)
}
