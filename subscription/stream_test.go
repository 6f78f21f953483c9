package subscription

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameReaderDecodesConnectionStatus(t *testing.T) {
	a, b := newPipeConnPair()
	defer a.close()
	defer b.close()

	go func() {
		b, _ := marshalWireMessage(wireServerMessage{Type: "ConnectionStatus", Status: "Accepted"})
		_, _ = a.Write(b)
	}()

	var disposed atomic.Bool
	fr := newFrameReader(b, &disposed, CamelCase, false)
	msg, err := fr.Next(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, KindConnectionStatus, msg.Kind)
	assert.EqualValues(t, StatusAccepted, msg.Status)
}

func TestFrameReaderNormalizesDataKeys(t *testing.T) {
	a, b := newPipeConnPair()
	defer a.close()
	defer b.close()

	go func() {
		raw, _ := marshalWireMessage(wireServerMessage{
			Type: "Data",
			Payload: map[string]interface{}{
				"Id":           "users/1",
				"ChangeVector": "A:1-xyz",
			},
		})
		_, _ = a.Write(raw)
	}()

	var disposed atomic.Bool
	fr := newFrameReader(b, &disposed, CamelCase, false)
	msg, err := fr.Next(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, KindData, msg.Kind)
	assert.EqualValues(t, "users/1", msg.Payload["id"])
	assert.EqualValues(t, "A:1-xyz", msg.Payload["changeVector"])
	_, hasOldKey := msg.Payload["Id"]
	assert.False(t, hasOldKey)
}

func TestFrameReaderIdentityNamingPassesThrough(t *testing.T) {
	a, b := newPipeConnPair()
	defer a.close()
	defer b.close()

	go func() {
		raw, _ := marshalWireMessage(wireServerMessage{
			Type:    "Data",
			Payload: map[string]interface{}{"Id": "users/1"},
		})
		_, _ = a.Write(raw)
	}()

	var disposed atomic.Bool
	fr := newFrameReader(b, &disposed, Identity, false)
	msg, err := fr.Next(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, "users/1", msg.Payload["Id"])
}

func TestFrameReaderDisposedDuringReadIsAbandonedNotError(t *testing.T) {
	a, b := newPipeConnPair()
	defer a.close()

	var disposed atomic.Bool
	fr := newFrameReader(b, &disposed, CamelCase, false)

	done := make(chan error, 1)
	go func() {
		_, err := fr.Next(context.Background())
		done <- err
	}()

	disposed.Store(true)
	_ = b.close()

	err := <-done
	assert.True(t, isReadAbandoned(err))
}

func TestChangeVectorExtractsNormalizedKey(t *testing.T) {
	cv, ok := ChangeVector(map[string]interface{}{"changeVector": "A:1-xyz"})
	assert.True(t, ok)
	assert.EqualValues(t, "A:1-xyz", cv)

	_, ok = ChangeVector(map[string]interface{}{})
	assert.False(t, ok)
}
