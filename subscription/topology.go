package subscription

import "context"

// TopologyNode is a single cluster member: its tag, the TCP endpoint to
// dial, and an optional client certificate configuration for that node.
// Used both as a redirect target and as the handle the facade exposes via
// Worker.CurrentNodeTag.
type TopologyNode struct {
	ClusterTag  string
	URL         string
	Certificate *ClientCertificate
}

// ClientCertificate names a client certificate to present to a node. When
// a node carries one, the worker loads the key pair with
// tls.LoadX509KeyPair and sets it on a clone of the WithTLSConfig
// configuration (or on a TLS 1.2 minimum default) for that connection.
type ClientCertificate struct {
	CertFile string
	KeyFile  string
}

// TcpInfo is what a GetTcpInfoCommand resolves to: the concrete TCP
// endpoint a worker should dial for a subscription, plus the node that
// actually served the request (it may differ from the one asked).
type TcpInfo struct {
	URL          string
	Certificate  *ClientCertificate
	RequestedNode string
}

// TopologyClient is the external collaborator a Worker borrows to resolve
// TCP endpoints and cluster topology — an HTTP command executor owned by
// the caller's document-store client. The worker holds it as a borrowed,
// read-only handle: it never tears it down and never owns its lifecycle.
//
// Only the shape of the interface is defined here; a concrete HTTP-backed
// implementation belongs to the caller's store client, not this package.
type TopologyClient interface {
	// GetTcpInfo resolves the TCP endpoint for tag (or any node, if tag is
	// empty) without triggering topology-wide retry.
	GetTcpInfo(ctx context.Context, tag string) (TcpInfo, error)

	// Nodes returns the locally cached set of cluster nodes.
	Nodes(ctx context.Context) ([]TopologyNode, error)

	// NodeByTag looks up a single node by tag from the locally cached
	// topology, used by the reconnect loop to resolve a Redirect's target
	// node without a network round-trip.
	NodeByTag(ctx context.Context, tag string) (TopologyNode, bool)
}

// -----------------------------------------------------------------------
// Replication sink administration.
//
// This is orthogonal to the subscription hot path (cluster-topology
// administration, not batch delivery) but shares the TopologyClient
// collaborator, so it lives alongside it rather than inventing a new
// external dependency.
// -----------------------------------------------------------------------

// PullReplicationAsSink configures this node to pull documents from a
// remote database, appearing to the remote as an ordinary replication sink.
type PullReplicationAsSink struct {
	Name               string
	ConnectionStringName string
	HubName            string
}

// ExternalReplication configures this node to push documents to a remote
// database via a named connection string.
type ExternalReplication struct {
	Name                 string
	ConnectionStringName string
	Disabled             bool
}

// replicationSinkKind discriminates ReplicationSink's variant.
type replicationSinkKind int

const (
	sinkKindPullAsSink replicationSinkKind = iota
	sinkKindExternal
)

// ReplicationSink is a tagged union over the two replication-sink update
// shapes, constructed explicitly per variant instead of via a runtime
// type switch on an arbitrary interface value.
type ReplicationSink struct {
	kind     replicationSinkKind
	pullSink PullReplicationAsSink
	external ExternalReplication
}

// NewPullAsSinkReplication constructs the PullAsSink variant.
func NewPullAsSinkReplication(p PullReplicationAsSink) ReplicationSink {
	return ReplicationSink{kind: sinkKindPullAsSink, pullSink: p}
}

// NewExternalReplication constructs the External variant.
func NewExternalReplication(e ExternalReplication) ReplicationSink {
	return ReplicationSink{kind: sinkKindExternal, external: e}
}

// ReplicationAdmin is the narrow slice of TopologyClient's command
// execution this module needs for replication-sink updates, kept separate
// from TopologyClient so a caller not using replication administration
// never needs to implement it.
type ReplicationAdmin interface {
	UpdatePullReplicationAsSink(ctx context.Context, p PullReplicationAsSink) error
	UpdateExternalReplication(ctx context.Context, e ExternalReplication) error
}

// UpdateExternalReplication dispatches sink to the operation its variant
// names.
func UpdateExternalReplication(ctx context.Context, admin ReplicationAdmin, sink ReplicationSink) error {
	switch sink.kind {
	case sinkKindPullAsSink:
		return admin.UpdatePullReplicationAsSink(ctx, sink.pullSink)
	case sinkKindExternal:
		return admin.UpdateExternalReplication(ctx, sink.external)
	default:
		return newSubscriptionError(ErrSubscriptionInvalidState, "unknown replication sink variant", nil)
	}
}
