package subscription

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReplicationAdmin struct {
	pullCalls     []PullReplicationAsSink
	externalCalls []ExternalReplication
}

func (f *fakeReplicationAdmin) UpdatePullReplicationAsSink(_ context.Context, p PullReplicationAsSink) error {
	f.pullCalls = append(f.pullCalls, p)
	return nil
}

func (f *fakeReplicationAdmin) UpdateExternalReplication(_ context.Context, e ExternalReplication) error {
	f.externalCalls = append(f.externalCalls, e)
	return nil
}

func TestUpdateExternalReplicationDispatchesPullAsSinkVariant(t *testing.T) {
	admin := &fakeReplicationAdmin{}
	sink := NewPullAsSinkReplication(PullReplicationAsSink{Name: "sink-1", HubName: "hub"})

	err := UpdateExternalReplication(context.Background(), admin, sink)
	require.NoError(t, err)
	require.Len(t, admin.pullCalls, 1)
	assert.EqualValues(t, "sink-1", admin.pullCalls[0].Name)
	assert.Empty(t, admin.externalCalls)
}

func TestUpdateExternalReplicationDispatchesExternalVariant(t *testing.T) {
	admin := &fakeReplicationAdmin{}
	sink := NewExternalReplication(ExternalReplication{Name: "ext-1", ConnectionStringName: "cs"})

	err := UpdateExternalReplication(context.Background(), admin, sink)
	require.NoError(t, err)
	require.Len(t, admin.externalCalls, 1)
	assert.EqualValues(t, "ext-1", admin.externalCalls[0].Name)
	assert.Empty(t, admin.pullCalls)
}
