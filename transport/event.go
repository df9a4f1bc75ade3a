package transport

import (
	"sync"
	"time"
)

// event is a one-shot latch that carries an optional error payload,
// modeled on sshj's net.schmizz.concurrent.Event: awaiters either wake
// with the error it was set with, or with nil on a clean Set, or with
// a timeout error if no Set happens in time.
//
// guard is a separate mutex from the one protecting is/err: callers
// that need to perform a multi-step "check, send, set" sequence
// without a concurrent Set racing them (reqService, disconnect, die)
// hold guard across the whole sequence, while Clear/Set/IsSet/Await
// take the internal mutex only for their own brief critical section.
// Go's sync.Mutex isn't reentrant, so these have to be two locks.
type event struct {
	guard sync.Mutex

	mu    sync.Mutex
	cond  *sync.Cond
	is    bool
	err   error
	armed bool
}

func newEvent() *event {
	e := &event{}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Lock acquires the multi-step guard; pair with Unlock.
func (e *event) Lock() { e.guard.Lock() }

// Unlock releases the multi-step guard.
func (e *event) Unlock() { e.guard.Unlock() }

// Clear resets the latch to unset and arms it: a Set/SetError from
// this point on is considered expected (see HasWaiters) until the
// latch fires, even if the actual Await call hasn't reached its wait
// loop yet. Callers that Clear then Write then Await, as ReqService
// does, would otherwise have a window between Clear and Await where an
// answer arriving from the Reader goroutine looks unsolicited.
func (e *event) Clear() {
	e.mu.Lock()
	e.is = false
	e.err = nil
	e.armed = true
	e.mu.Unlock()
}

// Set latches the event with no error.
func (e *event) Set() {
	e.mu.Lock()
	e.is = true
	e.err = nil
	e.armed = false
	e.cond.Broadcast()
	e.mu.Unlock()
}

// SetError latches the event with err as the wake-up error.
func (e *event) SetError(err error) {
	e.mu.Lock()
	e.is = true
	e.err = err
	e.armed = false
	e.cond.Broadcast()
	e.mu.Unlock()
}

// IsSet reports whether the latch has fired.
func (e *event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.is
}

// HasWaiters reports whether the latch is armed: a Clear was issued
// and is expecting a matching Set/SetError, whether or not a goroutine
// has actually reached Await's wait loop yet.
func (e *event) HasWaiters() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.armed
}

// Await blocks until the event is set, returning the error it was set
// with (nil on a clean Set). A timeout <= 0 waits indefinitely;
// otherwise a TIMEOUT transport error is returned if the latch has not
// fired within timeout.
func (e *event) Await(timeout time.Duration) error {
	e.mu.Lock()
	if e.is {
		err := e.err
		e.mu.Unlock()
		return err
	}

	if timeout <= 0 {
		for !e.is {
			e.cond.Wait()
		}
		defer e.mu.Unlock()
		return e.err
	}

	done := make(chan struct{})
	timer := time.AfterFunc(timeout, func() {
		e.mu.Lock()
		close(done)
		e.cond.Broadcast()
		e.mu.Unlock()
	})
	defer timer.Stop()

	for !e.is {
		select {
		case <-done:
			e.mu.Unlock()
			return newError(DisconnectTimeout, "timed out waiting for event")
		default:
		}
		e.cond.Wait()
	}
	e.mu.Unlock()
	return e.err
}
