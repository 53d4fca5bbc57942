// Package lifecycle guards channel teardown against concurrently executing
// backend callbacks: Close blocks until any delivery in flight has returned,
// no new delivery can start once Close has returned, and a Close issued from
// inside the channel's own callback is rejected instead of deadlocking.
package lifecycle

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/leandrodaf/midio/sdk/contracts"
)

// Guard synchronizes one channel's teardown with its backend deliveries.
// The zero value is ready to use.
//
// Deliveries bracket themselves with Enter/Exit; Enter fails once the guard
// is closed. The goroutine that dispatches user callbacks brackets its life
// with BeginDispatch/EndDispatch so Close can detect same-goroutine reentry.
type Guard struct {
	mu      sync.RWMutex
	closed  bool
	handler atomic.Uint64 // goroutine id running the user callback, 0 when idle
}

// Enter marks the start of a delivery. It returns false, without holding
// anything, when the guard is already closed.
func (g *Guard) Enter() bool {
	g.mu.RLock()
	if g.closed {
		g.mu.RUnlock()
		return false
	}
	return true
}

// Exit marks the end of a delivery started with a successful Enter.
func (g *Guard) Exit() {
	g.mu.RUnlock()
}

// BeginDispatch records the calling goroutine as the channel's callback
// dispatcher. Called once when the dispatcher starts.
func (g *Guard) BeginDispatch() {
	g.handler.Store(goroutineID())
}

// EndDispatch clears the record set by BeginDispatch.
func (g *Guard) EndDispatch() {
	g.handler.Store(0)
}

// Close marks the guard closed and blocks until every delivery in flight has
// exited. The first call returns (true, nil); later calls return (false,
// nil). Calling Close from the goroutine currently running the channel's
// callback returns ErrReentrantClose immediately.
func (g *Guard) Close() (first bool, err error) {
	if id := g.handler.Load(); id != 0 && id == goroutineID() {
		return false, contracts.ErrReentrantClose
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false, nil
	}
	g.closed = true
	return true, nil
}

// Closed reports whether Close has completed its first call.
func (g *Guard) Closed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closed
}

// goroutineID parses the current goroutine's id out of the runtime stack
// header ("goroutine 18 [running]:"). Only teardown paths pay this cost.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
