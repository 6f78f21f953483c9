package subscription

import (
	"context"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTopology struct {
	url   string
	nodes map[string]TopologyNode
}

func (f *fakeTopology) GetTcpInfo(_ context.Context, tag string) (TcpInfo, error) {
	return TcpInfo{URL: f.url, RequestedNode: tag}, nil
}

func (f *fakeTopology) Nodes(_ context.Context) ([]TopologyNode, error) {
	out := make([]TopologyNode, 0, len(f.nodes))
	for _, n := range f.nodes {
		out = append(out, n)
	}
	return out, nil
}

func (f *fakeTopology) NodeByTag(_ context.Context, tag string) (TopologyNode, bool) {
	n, ok := f.nodes[tag]
	return n, ok
}

func withDialer(d connCreator) Option {
	return func(c *workerConfig) { c.dialer = d }
}

func waitOrFail(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestWorkerDeliversBatchAndFiresAfterAcknowledgmentOnConfirm(t *testing.T) {
	server, clientEnd := newPipeConnPair()
	defer server.close()

	topology := &fakeTopology{url: "tcp://127.0.0.1:0"}
	w, err := NewWorker("mydb", SubscriptionOptions{Name: "orders/worker"}, topology,
		WithLogger(noopLogger{}), withDialer(fakeDialer(clientEnd, nil)))
	require.NoError(t, err)

	serverReady := make(chan struct{})
	go func() {
		defer close(serverReady)
		dec := json.NewDecoder(server)

		var hdr TcpConnectionHeader
		_ = dec.Decode(&hdr)
		respBytes, _ := json.Marshal(TcpConnectionHeaderResponse{Status: tcpStatusOk, Version: SubscriptionTcpVersion})
		_, _ = server.Write(respBytes)

		var opts subscriptionConnectionOptionsWire
		_ = dec.Decode(&opts)

		accepted, _ := marshalWireMessage(wireServerMessage{Type: "ConnectionStatus", Status: "Accepted"})
		_, _ = server.Write(accepted)

		data, _ := marshalWireMessage(wireServerMessage{
			Type:    "Data",
			Payload: map[string]interface{}{"Id": "orders/1", "ChangeVector": "A:1"},
		})
		_, _ = server.Write(data)
		eob, _ := marshalWireMessage(wireServerMessage{Type: "EndOfBatch"})
		_, _ = server.Write(eob)

		var ack AcknowledgeMessage
		_ = dec.Decode(&ack)

		confirm, _ := marshalWireMessage(wireServerMessage{Type: "Confirm"})
		_, _ = server.Write(confirm)
	}()

	batchReceived := make(chan *Batch, 1)
	w.OnBatch(func(b *Batch, done func(error)) {
		batchReceived <- b
		done(nil)
	})

	ackFired := make(chan struct{})
	w.OnAfterAcknowledgment(func(b *Batch, done func(error)) {
		close(ackFired)
		done(nil)
	})

	select {
	case b := <-batchReceived:
		require.EqualValues(t, 1, b.Len())
		assert.EqualValues(t, "orders/1", b.Items()[0]["id"])
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for batch delivery")
	}

	waitOrFail(t, ackFired, "afterAcknowledgment listener")
	<-serverReady

	w.Dispose()
	select {
	case err := <-w.Terminated():
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for termination")
	}
}

func TestWorkerFatalConnectionStatusEndsLoopAndEmitsError(t *testing.T) {
	server, clientEnd := newPipeConnPair()
	defer server.close()

	topology := &fakeTopology{url: "tcp://127.0.0.1:0"}
	w, err := NewWorker("mydb", SubscriptionOptions{Name: "orders/worker"}, topology,
		WithLogger(noopLogger{}), withDialer(fakeDialer(clientEnd, nil)))
	require.NoError(t, err)

	go func() {
		dec := json.NewDecoder(server)
		var hdr TcpConnectionHeader
		_ = dec.Decode(&hdr)
		respBytes, _ := json.Marshal(TcpConnectionHeaderResponse{Status: tcpStatusOk, Version: SubscriptionTcpVersion})
		_, _ = server.Write(respBytes)

		var opts subscriptionConnectionOptionsWire
		_ = dec.Decode(&opts)

		inUse, _ := marshalWireMessage(wireServerMessage{Type: "ConnectionStatus", Status: "InUse", Exception: "already taken"})
		_, _ = server.Write(inUse)
	}()

	errCh := make(chan error, 1)
	w.OnError(func(err error) { errCh <- err })
	w.OnBatch(func(*Batch, func(error)) {})

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSubscriptionInUse)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for fatal error")
	}

	select {
	case err := <-w.Terminated():
		assert.ErrorIs(t, err, ErrSubscriptionInUse)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for termination")
	}
}

func TestNewWorkerRejectsEmptyName(t *testing.T) {
	_, err := NewWorker("mydb", SubscriptionOptions{}, &fakeTopology{})
	assert.ErrorIs(t, err, ErrEmptySubscriptionName)
}

func TestNewWorkerRejectsNilTopology(t *testing.T) {
	_, err := NewWorker("mydb", SubscriptionOptions{Name: "x"}, nil)
	assert.Error(t, err)
}

func TestDisposeBeforeStartReturnsImmediately(t *testing.T) {
	w, err := NewWorker("mydb", SubscriptionOptions{Name: "x"}, &fakeTopology{url: "tcp://127.0.0.1:0"})
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		w.Dispose()
		close(done)
	}()
	waitOrFail(t, done, "Dispose to return without a started loop")
}
