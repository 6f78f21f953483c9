package subscription

import (
	"context"
	"sync"
)

// BatchHandler receives a batch and a done callback it must invoke exactly
// once, optionally with an error.
type BatchHandler func(batch *Batch, done func(error))

// dispatchGate is a completion latch: allocated with the listener count
// captured at emit time, it resolves once every listener has called its
// done callback, carrying the first non-nil error any of them reported.
// An error does not resolve the gate early; calls to done after the gate
// has resolved are no-ops.
type dispatchGate struct {
	mu       sync.Mutex
	pending  int
	err      error
	doneCh   chan struct{}
	resolved bool
}

func newDispatchGate(listenerCount int) *dispatchGate {
	g := &dispatchGate{pending: listenerCount, doneCh: make(chan struct{})}
	if listenerCount == 0 {
		close(g.doneCh)
		g.resolved = true
	}
	return g
}

// done is the per-listener completion callback.
func (g *dispatchGate) done(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resolved {
		return // late call after the gate already settled; no-op
	}
	if err != nil && g.err == nil {
		g.err = err
	}
	g.pending--
	if g.pending <= 0 {
		g.resolved = true
		close(g.doneCh)
	}
}

// wait blocks until every listener has completed or ctx is done.
func (g *dispatchGate) wait(ctx context.Context) error {
	select {
	case <-g.doneCh:
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch delivers batch to every registered batch listener and waits for
// all of them to complete. If ignoreSubscriberErrors is true, a listener
// error is logged and swallowed instead of becoming SubscriberError.
func dispatch(ctx context.Context, logger Logger, listeners []BatchHandler, batch *Batch, ignoreSubscriberErrors bool) error {
	if len(listeners) == 0 {
		return nil
	}
	gate := newDispatchGate(len(listeners))
	for _, listener := range listeners {
		listener := listener
		go func() {
			listener(batch, gate.done)
		}()
	}
	err := gate.wait(ctx)
	if err == nil {
		return nil
	}
	if ignoreSubscriberErrors {
		logger.Warnf("subscription: subscriber error ignored: %v", err)
		return nil
	}
	return newSubscriptionError(ErrSubscriberError, err.Error(), err)
}

// pendingAck tracks one in-flight acknowledgement: the change vector the
// worker wrote, awaiting the server's Confirm so afterAcknowledgment
// listeners can fire with the correct causality relative to that ack.
// batch is a snapshot taken at ack time, not the pump's live, reused
// *Batch: by the time a Confirm arrives and listeners run on a separate
// goroutine, the live batch may already have been overwritten by a later
// read.
type pendingAck struct {
	changeVector string
	batch        *Batch
}

// ackTracker is a small FIFO of in-flight change vectors.
type ackTracker struct {
	mu    sync.Mutex
	queue []pendingAck
}

func (t *ackTracker) push(p pendingAck) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue = append(t.queue, p)
}

// popConfirmed removes and returns the oldest pending ack when a Confirm
// frame is observed. Confirms arrive in the order acks were sent, so FIFO
// order is correct.
func (t *ackTracker) popConfirmed() (pendingAck, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) == 0 {
		return pendingAck{}, false
	}
	p := t.queue[0]
	t.queue = t.queue[1:]
	return p, true
}
