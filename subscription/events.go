package subscription

import (
	"sync"
	"time"
)

// Subscription represents one registered event listener. Call Unsubscribe
// to remove it.
type Subscription interface {
	Unsubscribe()
}

// ConnectionRetryEvent is delivered to OnConnectionRetry listeners.
type ConnectionRetryEvent struct {
	Err             error
	Attempt         int
	ErroneousWindow time.Duration
}

type listenerID uint64

type eventBus struct {
	mu sync.Mutex

	nextID listenerID

	batch             map[listenerID]BatchHandler
	afterAck          map[listenerID]BatchHandler
	connectionRetry   map[listenerID]func(ConnectionRetryEvent)
	errorListeners    map[listenerID]func(error)
	end               map[listenerID]func(error)
}

func newEventBus() *eventBus {
	return &eventBus{
		batch:           map[listenerID]BatchHandler{},
		afterAck:        map[listenerID]BatchHandler{},
		connectionRetry: map[listenerID]func(ConnectionRetryEvent){},
		errorListeners:  map[listenerID]func(error){},
		end:             map[listenerID]func(error){},
	}
}

func (b *eventBus) sub(unsub func()) Subscription {
	return &funcSubscription{unsub: unsub}
}

type funcSubscription struct {
	once  sync.Once
	unsub func()
}

func (s *funcSubscription) Unsubscribe() {
	s.once.Do(s.unsub)
}

func (b *eventBus) onBatch(h BatchHandler) Subscription {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.batch[id] = h
	b.mu.Unlock()
	return b.sub(func() {
		b.mu.Lock()
		delete(b.batch, id)
		b.mu.Unlock()
	})
}

func (b *eventBus) onAfterAcknowledgment(h BatchHandler) Subscription {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.afterAck[id] = h
	b.mu.Unlock()
	return b.sub(func() {
		b.mu.Lock()
		delete(b.afterAck, id)
		b.mu.Unlock()
	})
}

func (b *eventBus) onConnectionRetry(h func(ConnectionRetryEvent)) Subscription {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.connectionRetry[id] = h
	b.mu.Unlock()
	return b.sub(func() {
		b.mu.Lock()
		delete(b.connectionRetry, id)
		b.mu.Unlock()
	})
}

func (b *eventBus) onError(h func(error)) Subscription {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.errorListeners[id] = h
	b.mu.Unlock()
	return b.sub(func() {
		b.mu.Lock()
		delete(b.errorListeners, id)
		b.mu.Unlock()
	})
}

func (b *eventBus) onEnd(h func(error)) Subscription {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.end[id] = h
	b.mu.Unlock()
	return b.sub(func() {
		b.mu.Lock()
		delete(b.end, id)
		b.mu.Unlock()
	})
}

// removeAll drops every registered listener across every event kind.
func (b *eventBus) removeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batch = map[listenerID]BatchHandler{}
	b.afterAck = map[listenerID]BatchHandler{}
	b.connectionRetry = map[listenerID]func(ConnectionRetryEvent){}
	b.errorListeners = map[listenerID]func(error){}
	b.end = map[listenerID]func(error){}
}

func (b *eventBus) batchListeners() []BatchHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]BatchHandler, 0, len(b.batch))
	for _, h := range b.batch {
		out = append(out, h)
	}
	return out
}

func (b *eventBus) afterAckListeners() []BatchHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]BatchHandler, 0, len(b.afterAck))
	for _, h := range b.afterAck {
		out = append(out, h)
	}
	return out
}

func (b *eventBus) hasBatchListener() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batch) > 0
}

func (b *eventBus) emitConnectionRetry(ev ConnectionRetryEvent) {
	for _, h := range b.connectionRetrySnapshot() {
		h(ev)
	}
}

func (b *eventBus) connectionRetrySnapshot() []func(ConnectionRetryEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]func(ConnectionRetryEvent), 0, len(b.connectionRetry))
	for _, h := range b.connectionRetry {
		out = append(out, h)
	}
	return out
}

func (b *eventBus) emitError(err error) {
	for _, h := range b.errorSnapshot() {
		h(err)
	}
}

func (b *eventBus) errorSnapshot() []func(error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]func(error), 0, len(b.errorListeners))
	for _, h := range b.errorListeners {
		out = append(out, h)
	}
	return out
}

func (b *eventBus) emitEnd(err error) {
	for _, h := range b.endSnapshot() {
		h(err)
	}
}

func (b *eventBus) endSnapshot() []func(error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]func(error), 0, len(b.end))
	for _, h := range b.end {
		out = append(out, h)
	}
	return out
}
