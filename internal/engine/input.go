package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/leandrodaf/midio/internal/backend"
	"github.com/leandrodaf/midio/internal/codec"
	"github.com/leandrodaf/midio/internal/lifecycle"
	"github.com/leandrodaf/midio/sdk/contracts"
)

// DefaultQueueSize bounds the per-channel inbox when no WithQueueSize
// option is given.
const DefaultQueueSize = 256

// Input is an opened input channel. The backend pushes raw bytes from its
// notification thread into receive, which reassembles messages, attaches
// delta timestamps and queues events. Consumers drain the queue with Poll
// or hand a callback to SetCallback; the two modes are mutually exclusive
// and switching flushes the queue.
//
// The inbox is bounded; on overflow the newest event is dropped and a
// warning logged. Hardware can burst faster than a consumer drains, and
// dropping new data keeps the already-queued prefix intact.
type Input struct {
	logger  contracts.Logger
	port    contracts.Port
	virtual bool
	caps    contracts.CapabilitySet
	ignore  contracts.IgnoredTypes

	guard  lifecycle.Guard
	handle backend.InputHandle
	inbox  chan contracts.Event

	mu       sync.Mutex
	callback func(contracts.Event)
	quit     chan struct{}
	done     chan struct{}

	// Touched only from the backend notification thread, under the guard.
	stream   *codec.Stream
	last     time.Time
	haveLast bool
}

func newInput(logger contracts.Logger, port contracts.Port, virtual bool, caps contracts.CapabilitySet, opts *contracts.ClientOptions) *Input {
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Input{
		logger:  logger,
		port:    port,
		virtual: virtual,
		caps:    caps,
		ignore:  opts.IgnoredTypes,
		inbox:   make(chan contracts.Event, size),
		stream:  codec.NewStream(),
	}
}

// receive is the backend.ReceiveFunc for this channel. It runs on the
// backend's notification thread and must never panic or block for long.
func (in *Input) receive(when time.Time, data []byte) {
	if !in.guard.Enter() {
		return
	}
	defer in.guard.Exit()

	for _, ev := range in.stream.Feed(data) {
		if ev.Err == nil {
			if in.ignored(ev.Message) {
				continue
			}
			if in.haveLast {
				ev.Message.Delta = when.Sub(in.last)
			}
		}
		select {
		case in.inbox <- ev:
			// Deltas partition the surfaced stream: the reference point
			// only advances for messages the consumer will actually see.
			if ev.Err == nil {
				in.last = when
				in.haveLast = true
			}
		default:
			in.logger.Warn("input queue full, dropping event",
				in.logger.Field().String("port", in.port.Name))
		}
	}
}

func (in *Input) ignored(msg contracts.Message) bool {
	switch msg.Status() {
	case codec.StatusTimeCode, codec.StatusClock:
		return in.ignore.Timing
	case codec.StatusActiveSense:
		return in.ignore.ActiveSense
	}
	return in.ignore.SysEx && msg.Category == contracts.SystemExclusive
}

// Poll returns the next queued event without blocking. It returns false
// when the queue is empty, the channel is closed, or a callback is
// installed.
func (in *Input) Poll() (contracts.Event, bool) {
	in.mu.Lock()
	pushMode := in.callback != nil
	in.mu.Unlock()
	if pushMode || in.guard.Closed() {
		return contracts.Event{}, false
	}
	select {
	case ev := <-in.inbox:
		return ev, true
	default:
		return contracts.Event{}, false
	}
}

// SetCallback switches to push delivery, or back to poll delivery when fn
// is nil. Queued events are discarded on every switch.
func (in *Input) SetCallback(fn func(contracts.Event)) error {
	if in.guard.Closed() {
		return contracts.ErrChannelClosed
	}
	in.stopDispatch()

	in.mu.Lock()
	defer in.mu.Unlock()
	// Re-check under the mutex: a Close that landed after the check above
	// must not have a fresh dispatcher started behind it. A Close landing
	// after this point stops the dispatcher itself, since its stopDispatch
	// serializes on in.mu.
	if in.guard.Closed() {
		return contracts.ErrChannelClosed
	}
	in.flush()
	in.callback = fn
	if fn == nil {
		return nil
	}
	in.quit = make(chan struct{})
	in.done = make(chan struct{})
	go in.dispatch(fn, in.quit, in.done)
	return nil
}

func (in *Input) dispatch(fn func(contracts.Event), quit, done chan struct{}) {
	defer close(done)
	in.guard.BeginDispatch()
	defer in.guard.EndDispatch()
	for {
		// Quit wins over queued events so close never waits on a
		// backlog, only on the handler in flight.
		select {
		case <-quit:
			return
		default:
		}
		select {
		case <-quit:
			return
		case ev := <-in.inbox:
			fn(ev)
		}
	}
}

// stopDispatch halts the dispatcher and waits for it to exit. The wait
// happens with in.mu released: the running handler may touch the channel
// API, and must not find the mutex held by its own teardown.
func (in *Input) stopDispatch() {
	in.mu.Lock()
	quit, done := in.quit, in.done
	in.quit, in.done, in.callback = nil, nil, nil
	in.mu.Unlock()
	if quit != nil {
		close(quit)
		<-done
	}
}

func (in *Input) flush() {
	for {
		select {
		case <-in.inbox:
		default:
			return
		}
	}
}

// SetName renames the port in place.
func (in *Input) SetName(name string) error {
	if !in.caps.Has(contracts.CapPortRename) {
		return fmt.Errorf("%w: %s backend cannot rename ports", contracts.ErrUnsupportedOperation, in.port.Backend)
	}
	if in.guard.Closed() {
		return contracts.ErrChannelClosed
	}
	if err := in.handle.SetName(name); err != nil {
		return err
	}
	in.mu.Lock()
	in.port.Name = name
	in.mu.Unlock()
	return nil
}

// Port returns the enumerated port the channel is bound to, or false for a
// virtual channel.
func (in *Input) Port() (contracts.Port, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.port, !in.virtual
}

// IsOpen reports whether the channel still holds its port handle.
func (in *Input) IsOpen() bool {
	return !in.guard.Closed()
}

// Close blocks until any delivery currently executing for this channel has
// returned, stops the dispatcher, and releases the port handle. No callback
// runs after Close returns. Called from the channel's own callback it
// returns ErrReentrantClose. Closing twice is a no-op.
func (in *Input) Close() error {
	first, err := in.guard.Close()
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	in.stopDispatch()

	err = in.handle.Close()
	in.logger.Debug("input closed", in.logger.Field().String("port", in.port.Name))
	return err
}
