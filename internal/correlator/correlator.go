// Package correlator bridges the asynchronous pipeline to synchronous REST
// semantics (spec §4.7). It is the "producer signals, consumer wakes" shape
// called for in spec §9: a pending-request table, guarded by a mutex like
// the teacher guards its clientSessions map in internal/net/server.go, plus
// a per-request completion channel as the "equivalent primitive".
package correlator

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrOverload is returned when the pending table is at capacity.
	ErrOverload = errors.New("pending request table at capacity")
	// ErrTimeout is returned by Wait when the deadline elapses first.
	ErrTimeout = errors.New("request timed out")
)

// Outcome is whatever terminal result a downstream stage produces for a
// request: an order ack/fills, a rejection, or a cancel result. The
// transport layer type-asserts on Value according to what it submitted.
type Outcome struct {
	Value any
	Err   error
}

type pendingRequest struct {
	deadline time.Time
	done     chan Outcome
	resolved bool
}

// DefaultTimeout and DefaultMaxPending mirror
// response_coordinator.default_timeout_seconds /
// .max_pending_requests in spec §6.
const (
	DefaultTimeout    = 5 * time.Second
	DefaultMaxPending = 1000
)

// Table is the pending-request store. One Table is shared by every
// transport handler and every pipeline stage that can produce a terminal
// outcome.
type Table struct {
	mu         sync.Mutex
	pending    map[string]*pendingRequest
	maxPending int
}

func NewTable(maxPending int) *Table {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &Table{
		pending:    make(map[string]*pendingRequest),
		maxPending: maxPending,
	}
}

// Register allocates a pending record for requestID with the given timeout.
// It returns ErrOverload if the table is already at capacity (spec §4.7,
// §7).
func (t *Table) Register(requestID string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.pending) >= t.maxPending {
		return ErrOverload
	}
	t.pending[requestID] = &pendingRequest{
		deadline: time.Now().Add(timeout),
		done:     make(chan Outcome, 1),
	}
	return nil
}

// Resolve writes the terminal outcome for requestID and wakes the waiter.
// A resolve for an unknown or already-resolved request (a late arrival
// after the deadline expired) is silently discarded (spec §4.7, §7).
func (t *Table) Resolve(requestID string, value any, err error) {
	t.mu.Lock()
	req, ok := t.pending[requestID]
	if !ok || req.resolved {
		t.mu.Unlock()
		if !ok {
			log.Debug().Str("requestID", requestID).Msg("discarding late outcome for unknown/expired request")
		}
		return
	}
	req.resolved = true
	t.mu.Unlock()

	req.done <- Outcome{Value: value, Err: err}
}

// Wait blocks the calling HTTP handler until Resolve is called for
// requestID or the deadline elapses, whichever comes first.
func (t *Table) Wait(requestID string) (Outcome, error) {
	t.mu.Lock()
	req, ok := t.pending[requestID]
	t.mu.Unlock()
	if !ok {
		return Outcome{}, errors.New("unknown request id")
	}

	timer := time.NewTimer(time.Until(req.deadline))
	defer timer.Stop()

	select {
	case outcome := <-req.done:
		t.mu.Lock()
		delete(t.pending, requestID)
		t.mu.Unlock()
		return outcome, nil
	case <-timer.C:
		t.abandon(requestID)
		return Outcome{}, ErrTimeout
	}
}

// abandon marks a request as resolved (so a later Resolve is a no-op) and
// removes it from the table without waking anyone -- the waiter has
// already timed out.
func (t *Table) abandon(requestID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if req, ok := t.pending[requestID]; ok {
		req.resolved = true
		delete(t.pending, requestID)
	}
}

// Cleanup sweeps the table for expired-but-never-waited-on requests (a
// caller that never invoked Wait, or crashed). Intended to be called
// periodically by main on response_coordinator.cleanup_interval_seconds.
func (t *Table) Cleanup(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, req := range t.pending {
		if now.After(req.deadline) {
			req.resolved = true
			delete(t.pending, id)
			removed++
		}
	}
	return removed
}

// Len reports the current number of outstanding pending requests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
