package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBusUnsubscribeRemovesListener(t *testing.T) {
	b := newEventBus()
	var calls int
	sub := b.onBatch(func(*Batch, func(error)) { calls++ })
	assert.True(t, b.hasBatchListener())

	sub.Unsubscribe()
	assert.False(t, b.hasBatchListener())

	// Unsubscribing twice must not panic (sync.Once).
	assert.NotPanics(t, sub.Unsubscribe)
}

func TestEventBusRemoveAllClearsEveryKind(t *testing.T) {
	b := newEventBus()
	b.onBatch(func(*Batch, func(error)) {})
	b.onAfterAcknowledgment(func(*Batch, func(error)) {})
	b.onConnectionRetry(func(ConnectionRetryEvent) {})
	b.onError(func(error) {})
	b.onEnd(func(error) {})

	b.removeAll()

	assert.False(t, b.hasBatchListener())
	assert.Empty(t, b.afterAckListeners())
	assert.Empty(t, b.connectionRetrySnapshot())
	assert.Empty(t, b.errorSnapshot())
	assert.Empty(t, b.endSnapshot())
}

func TestEventBusEmitInvokesEveryListener(t *testing.T) {
	b := newEventBus()
	var got []error
	b.onError(func(err error) { got = append(got, err) })
	b.onError(func(err error) { got = append(got, err) })

	b.emitError(nil)
	assert.Len(t, got, 2)
}
