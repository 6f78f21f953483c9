package subscription

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFrames(t *testing.T, w *pipeConn, msgs ...wireServerMessage) {
	t.Helper()
	go func() {
		for _, m := range msgs {
			b, err := marshalWireMessage(m)
			if err != nil {
				return
			}
			if _, err := w.Write(b); err != nil {
				return
			}
		}
	}()
}

func TestReadSingleBatchCollectsUntilEndOfBatch(t *testing.T) {
	a, b := newPipeConnPair()
	defer a.close()
	defer b.close()

	writeFrames(t, a,
		wireServerMessage{Type: "Data", Payload: map[string]interface{}{"Id": "users/1", "ChangeVector": "A:1"}},
		wireServerMessage{Type: "Data", Payload: map[string]interface{}{"Id": "users/2", "ChangeVector": "A:2"}},
		wireServerMessage{Type: "EndOfBatch"},
	)

	var disposed atomic.Bool
	fr := newFrameReader(b, &disposed, CamelCase, false)
	items, err := readSingleBatch(context.Background(), fr, 0, nil)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.EqualValues(t, "users/1", items[0]["id"])
	assert.EqualValues(t, "users/2", items[1]["id"])
}

func TestReadSingleBatchMidStreamConfirmClearsBufferAndFiresCallback(t *testing.T) {
	a, b := newPipeConnPair()
	defer a.close()
	defer b.close()

	writeFrames(t, a,
		wireServerMessage{Type: "Data", Payload: map[string]interface{}{"Id": "users/1", "ChangeVector": "A:1"}},
		wireServerMessage{Type: "Confirm"},
		wireServerMessage{Type: "Data", Payload: map[string]interface{}{"Id": "users/2", "ChangeVector": "A:2"}},
		wireServerMessage{Type: "EndOfBatch"},
	)

	var confirms int32
	var disposed atomic.Bool
	fr := newFrameReader(b, &disposed, CamelCase, false)
	items, err := readSingleBatch(context.Background(), fr, 0, func() { atomic.AddInt32(&confirms, 1) })
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.EqualValues(t, "users/2", items[0]["id"])
	assert.EqualValues(t, 1, atomic.LoadInt32(&confirms))
}

func TestReadSingleBatchExceedsMaxDocsPerBatch(t *testing.T) {
	a, b := newPipeConnPair()
	defer a.close()
	defer b.close()

	writeFrames(t, a,
		wireServerMessage{Type: "Data", Payload: map[string]interface{}{"Id": "users/1"}},
		wireServerMessage{Type: "Data", Payload: map[string]interface{}{"Id": "users/2"}},
	)

	var disposed atomic.Bool
	fr := newFrameReader(b, &disposed, CamelCase, false)
	_, err := readSingleBatch(context.Background(), fr, 1, nil)
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestReadSingleBatchMidBatchErrorFrame(t *testing.T) {
	a, b := newPipeConnPair()
	defer a.close()
	defer b.close()

	writeFrames(t, a, wireServerMessage{Type: "Error", Exception: "SubscriptionInUseException", Message: "taken"})

	var disposed atomic.Bool
	fr := newFrameReader(b, &disposed, CamelCase, false)
	_, err := readSingleBatch(context.Background(), fr, 0, nil)
	assert.ErrorIs(t, err, ErrSubscriptionInUse)
}

func TestClassifyConnectionStatusRedirect(t *testing.T) {
	err := classifyConnectionStatus(ServerMessage{
		Kind:          KindConnectionStatus,
		Status:        StatusRedirect,
		RedirectedTag: "C",
	})
	tag, ok := RedirectNode(err)
	assert.True(t, ok)
	assert.EqualValues(t, "C", tag)
}

func TestClassifyErrorFrameUnknownExceptionWraps(t *testing.T) {
	err := classifyErrorFrame(ServerMessage{ErrException: "SomeBrandNewException", ErrMessage: "oops"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSubscriptionInUse))
}

func TestBatchInitializeExtractsLastChangeVector(t *testing.T) {
	b := &Batch{}
	cv := b.initialize([]map[string]interface{}{
		{"id": "users/1", "changeVector": "A:1"},
		{"id": "users/2", "changeVector": "A:2"},
	})
	assert.EqualValues(t, "A:2", cv)
	assert.EqualValues(t, 2, b.Len())
	assert.EqualValues(t, "A:2", b.LastReceivedChangeVector())
}
