package engine

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leandrodaf/midio/internal/backend/backenddummy"
	"github.com/leandrodaf/midio/sdk/contracts"
)

func openLoopback(t *testing.T, opts *contracts.ClientOptions) (*Engine, contracts.Input) {
	t.Helper()
	e := newTestEngine(t, opts)
	in, err := e.OpenVirtualInput("loop")
	require.NoError(t, err)
	t.Cleanup(func() { in.Close() })
	return e, in
}

func TestPollDrainsInOrder(t *testing.T) {
	_, in := openLoopback(t, testOptions())

	backenddummy.Inject("loop", []byte{0x90, 0x3C, 0x40})
	backenddummy.Inject("loop", []byte{0xB0, 0x01, 0x10})
	backenddummy.Inject("loop", []byte{0x80, 0x3C, 0x00})

	want := [][]byte{
		{0x90, 0x3C, 0x40},
		{0xB0, 0x01, 0x10},
		{0x80, 0x3C, 0x00},
	}
	for _, bytes := range want {
		ev, ok := in.Poll()
		require.True(t, ok)
		require.NoError(t, ev.Err)
		assert.Equal(t, bytes, ev.Message.Bytes)
	}
	_, ok := in.Poll()
	assert.False(t, ok)
}

func TestDeltaTimestamps(t *testing.T) {
	_, in := openLoopback(t, testOptions())

	backenddummy.Inject("loop", []byte{0x90, 0x3C, 0x40})
	time.Sleep(20 * time.Millisecond)
	backenddummy.Inject("loop", []byte{0x80, 0x3C, 0x00})

	first, ok := in.Poll()
	require.True(t, ok)
	assert.Zero(t, first.Message.Delta)

	second, ok := in.Poll()
	require.True(t, ok)
	assert.GreaterOrEqual(t, second.Message.Delta, 10*time.Millisecond)
}

func TestFragmentedShortMessage(t *testing.T) {
	_, in := openLoopback(t, testOptions())

	// One message delivered a byte at a time still decodes whole.
	backenddummy.Inject("loop", []byte{0x90})
	backenddummy.Inject("loop", []byte{0x3C})
	backenddummy.Inject("loop", []byte{0x40})

	ev, ok := in.Poll()
	require.True(t, ok)
	require.NoError(t, ev.Err)
	assert.Equal(t, []byte{0x90, 0x3C, 0x40}, ev.Message.Bytes)
}

func TestSysExReassembly(t *testing.T) {
	_, in := openLoopback(t, testOptions())

	sysex := []byte{0xF0, 0x7E, 0x7F, 0x06, 0x01, 0xF7}
	backenddummy.Inject("loop", sysex[:2])
	backenddummy.Inject("loop", sysex[2:5])

	_, ok := in.Poll()
	assert.False(t, ok, "incomplete exclusive must not surface")

	backenddummy.Inject("loop", sysex[5:])
	ev, ok := in.Poll()
	require.True(t, ok)
	require.NoError(t, ev.Err)
	assert.Equal(t, sysex, ev.Message.Bytes)
	assert.Equal(t, contracts.SystemExclusive, ev.Message.Category)
}

func TestIgnoredTypes(t *testing.T) {
	opts := testOptions()
	opts.IgnoredTypes = contracts.IgnoredTypes{SysEx: true, Timing: true, ActiveSense: true}
	_, in := openLoopback(t, opts)

	backenddummy.Inject("loop", []byte{0xF8})
	backenddummy.Inject("loop", []byte{0xFE})
	backenddummy.Inject("loop", []byte{0xF0, 0x01, 0xF7})
	backenddummy.Inject("loop", []byte{0x90, 0x3C, 0x40})

	ev, ok := in.Poll()
	require.True(t, ok)
	assert.Equal(t, []byte{0x90, 0x3C, 0x40}, ev.Message.Bytes)
	_, ok = in.Poll()
	assert.False(t, ok)
}

func TestQueueOverflowDropsNewest(t *testing.T) {
	opts := testOptions()
	opts.QueueSize = 2
	_, in := openLoopback(t, opts)

	backenddummy.Inject("loop", []byte{0x90, 0x01, 0x01})
	backenddummy.Inject("loop", []byte{0x90, 0x02, 0x02})
	backenddummy.Inject("loop", []byte{0x90, 0x03, 0x03})

	first, ok := in.Poll()
	require.True(t, ok)
	assert.Equal(t, byte(0x01), first.Message.Bytes[1])
	second, ok := in.Poll()
	require.True(t, ok)
	assert.Equal(t, byte(0x02), second.Message.Bytes[1])
	_, ok = in.Poll()
	assert.False(t, ok, "overflowed event must be dropped, not queued")
}

func TestDeltaSkipsDroppedMessages(t *testing.T) {
	opts := testOptions()
	opts.QueueSize = 1
	_, in := openLoopback(t, opts)

	backenddummy.Inject("loop", []byte{0x90, 0x01, 0x01})
	time.Sleep(20 * time.Millisecond)
	// Queue is full: this one is dropped and must not become the next
	// delta's reference point.
	backenddummy.Inject("loop", []byte{0x90, 0x02, 0x02})

	first, ok := in.Poll()
	require.True(t, ok)
	assert.Equal(t, byte(0x01), first.Message.Bytes[1])

	backenddummy.Inject("loop", []byte{0x90, 0x03, 0x03})
	third, ok := in.Poll()
	require.True(t, ok)
	assert.Equal(t, byte(0x03), third.Message.Bytes[1])
	assert.GreaterOrEqual(t, third.Message.Delta, 10*time.Millisecond,
		"delta must be measured from the last surfaced message, not the dropped one")
}

func TestCallbackDelivery(t *testing.T) {
	_, in := openLoopback(t, testOptions())

	var mu sync.Mutex
	var got [][]byte
	require.NoError(t, in.SetCallback(func(ev contracts.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.Message.Bytes)
	}))

	backenddummy.Inject("loop", []byte{0x90, 0x3C, 0x40})
	backenddummy.Inject("loop", []byte{0x80, 0x3C, 0x00})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []byte{0x90, 0x3C, 0x40}, got[0])
	assert.Equal(t, []byte{0x80, 0x3C, 0x00}, got[1])
	mu.Unlock()

	// Poll is disabled while a callback is installed.
	backenddummy.Inject("loop", []byte{0x90, 0x40, 0x40})
	_, ok := in.Poll()
	assert.False(t, ok)
}

func TestModeSwitchFlushesQueue(t *testing.T) {
	_, in := openLoopback(t, testOptions())

	backenddummy.Inject("loop", []byte{0x90, 0x3C, 0x40})

	delivered := make(chan contracts.Event, 8)
	require.NoError(t, in.SetCallback(func(ev contracts.Event) {
		delivered <- ev
	}))

	// The event queued before the switch was flushed, not replayed.
	select {
	case ev := <-delivered:
		t.Fatalf("stale event delivered: %v", ev.Message.Bytes)
	case <-time.After(50 * time.Millisecond):
	}

	backenddummy.Inject("loop", []byte{0x80, 0x3C, 0x00})
	select {
	case ev := <-delivered:
		assert.Equal(t, []byte{0x80, 0x3C, 0x00}, ev.Message.Bytes)
	case <-time.After(time.Second):
		t.Fatal("event not delivered after switch")
	}

	// Switching back to poll mode flushes again.
	backenddummy.Inject("loop", []byte{0x90, 0x40, 0x40})
	require.NoError(t, in.SetCallback(nil))
	_, ok := in.Poll()
	assert.False(t, ok)
}

func TestCloseWaitsForHandlerInFlight(t *testing.T) {
	_, in := openLoopback(t, testOptions())

	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	require.NoError(t, in.SetCallback(func(contracts.Event) {
		close(entered)
		<-release
		finished.Store(true)
	}))

	backenddummy.Inject("loop", []byte{0x90, 0x3C, 0x40})
	<-entered

	closed := make(chan error, 1)
	go func() { closed <- in.Close() }()

	select {
	case <-closed:
		t.Fatal("close returned while the handler was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-closed)
	assert.True(t, finished.Load(), "handler must have finished before close returned")

	// Nothing is delivered once close has returned.
	backenddummy.Inject("loop", []byte{0x80, 0x3C, 0x00})
	time.Sleep(20 * time.Millisecond)
	assert.False(t, in.IsOpen())
}

func TestCloseFromOwnCallbackRejected(t *testing.T) {
	_, in := openLoopback(t, testOptions())

	errs := make(chan error, 1)
	require.NoError(t, in.SetCallback(func(contracts.Event) {
		errs <- in.Close()
	}))

	backenddummy.Inject("loop", []byte{0x90, 0x3C, 0x40})

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, contracts.ErrReentrantClose)
	case <-time.After(time.Second):
		t.Fatal("callback never ran")
	}

	// The channel survives the rejected close and a normal close still works.
	assert.True(t, in.IsOpen())
	require.NoError(t, in.Close())
}

func TestSetCallbackRacingCloseLeavesNoDispatcher(t *testing.T) {
	e := newTestEngine(t, testOptions())
	before := runtime.NumGoroutine()

	for i := 0; i < 50; i++ {
		in, err := e.OpenVirtualInput(fmt.Sprintf("race %d", i))
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			err := in.SetCallback(func(contracts.Event) {})
			if err != nil {
				assert.ErrorIs(t, err, contracts.ErrChannelClosed)
			}
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, in.Close())
		}()
		wg.Wait()
		require.NoError(t, in.Close())
	}

	// A dispatcher started behind a concurrent close would linger blocked
	// on its inbox; the goroutine count must settle back.
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+5
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInputClosedSemantics(t *testing.T) {
	_, in := openLoopback(t, testOptions())

	require.NoError(t, in.Close())
	require.NoError(t, in.Close())

	_, ok := in.Poll()
	assert.False(t, ok)
	assert.ErrorIs(t, in.SetCallback(func(contracts.Event) {}), contracts.ErrChannelClosed)
	assert.ErrorIs(t, in.SetName("late"), contracts.ErrChannelClosed)
}

func TestInputRename(t *testing.T) {
	e := newTestEngine(t, testOptions())
	backenddummy.Install("pads", contracts.DirectionInput)

	in, err := e.OpenInput(findPort(t, e, contracts.DirectionInput, "pads"))
	require.NoError(t, err)
	defer in.Close()

	require.NoError(t, in.SetName("renamed pads"))
	port, enumerated := in.Port()
	assert.True(t, enumerated)
	assert.Equal(t, "renamed pads", port.Name)
}
