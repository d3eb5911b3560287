// Package txinvoke correlates outbound protocol messages with their inbound
// responses on a shared channel, the way memdx's OpaqueMap correlates
// memcached binary-protocol opaques with their responses.
package txinvoke

import (
	"context"
	"sync"

	"github.com/stuartwdouglas/wildfly-transaction-client/txwire"
)

// ResponseCallback is invoked at most once with either a decoded response
// message or a terminal error (channel failure, close).
type ResponseCallback func(msg *txwire.Message, err error)

// Channel is the out-of-scope transport collaborator consumed by this
// package: something that can accept a message whose request id the
// tracker has already assigned. Channel loss is not reported through this
// interface; the owner of the channel calls Tracker.CloseWithError.
type Channel interface {
	// Send writes msg (whose RequestID has already been set by the
	// tracker) to the peer.
	Send(ctx context.Context, msg *txwire.Message) error
}

type invocationEntry struct {
	mu      sync.Mutex
	handler ResponseCallback
}

func (e *invocationEntry) invoke(msg *txwire.Message, err error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handler == nil {
		return false
	}
	handler := e.handler
	e.handler = nil
	handler(msg, err)
	return true
}

// Tracker is a per-channel table of in-flight invocations keyed by a
// wrapping uint16 request id, guaranteeing at most one in-flight matcher
// per id and that a response delivered to a stale or unknown id is
// discarded.
type Tracker struct {
	mu      sync.Mutex
	counter uint16
	entries map[uint16]*invocationEntry
	closed  error
}

// NewTracker creates an empty invocation table.
func NewTracker() *Tracker {
	return &Tracker{
		entries: make(map[uint16]*invocationEntry),
	}
}

// Register allocates a fresh request id and binds handler to it, returning
// the id to stamp onto the outbound message. If the tracker has already
// been closed, handler is invoked immediately with the close error and the
// returned id must not be used.
func (t *Tracker) Register(handler ResponseCallback) uint16 {
	entry := &invocationEntry{handler: handler}

	t.mu.Lock()
	if t.closed != nil {
		closeErr := t.closed
		t.mu.Unlock()
		entry.invoke(nil, closeErr)
		return 0
	}

	t.counter++
	id := t.counter
	t.entries[id] = entry
	t.mu.Unlock()

	return id
}

func (t *Tracker) takeEntry(id uint16) (*invocationEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return entry, ok
}

// Deliver routes a decoded response to the invocation registered for
// msg.RequestID. It reports whether a waiter was actually found; a false
// return (stale or unknown id) should be logged and otherwise ignored by
// the caller.
func (t *Tracker) Deliver(msg *txwire.Message) bool {
	entry, ok := t.takeEntry(msg.RequestID)
	if !ok {
		return false
	}
	return entry.invoke(msg, nil)
}

// Invalidate cancels a single in-flight invocation without delivering a
// response, used when a caller gives up waiting (e.g. context cancellation)
// so a later, late response is discarded rather than misdelivered.
func (t *Tracker) Invalidate(id uint16) bool {
	entry, ok := t.takeEntry(id)
	if !ok {
		return false
	}
	return entry.invoke(nil, errInvalidated)
}

// CloseWithError wakes every outstanding waiter with err and causes all
// future Register calls to fail immediately with the same error, mirroring
// OpaqueMap.CancelAll.
func (t *Tracker) CloseWithError(err error) {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[uint16]*invocationEntry)
	t.closed = err
	t.mu.Unlock()

	for _, entry := range entries {
		entry.invoke(nil, err)
	}
}

var errInvalidated = invalidatedError{}

type invalidatedError struct{}

func (invalidatedError) Error() string { return "invocation was invalidated locally" }
