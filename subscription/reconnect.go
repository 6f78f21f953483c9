package subscription

import "errors"

// reconnectOutcome is what classify decides should happen after an error
// terminates one pass through the pipeline.
type reconnectOutcome int

const (
	outcomeRetry reconnectOutcome = iota
	outcomeRedirect
	outcomeFatal
)

type reconnectDecision struct {
	outcome     reconnectOutcome
	redirectTag string
	err         error
}

// fatalKinds is the closed set of client-side fatal error kinds. Any error
// not matching one of these, and not a redirect or change-vector-concurrency
// error, is treated as retryable.
var fatalKinds = []*subscriptionError{
	ErrSubscriptionInUse,
	ErrSubscriptionDoesNotExist,
	ErrSubscriptionClosed,
	ErrSubscriptionInvalidState,
	ErrDatabaseDoesNotExist,
	ErrAllTopologyNodesDown,
	ErrSubscriberError,
}

// classify turns a batch-pump or handshake error into a reconnect decision.
// It never performs the topology lookup itself (that needs a TopologyClient,
// owned by the worker, not by this pure function) — a Redirect decision
// only carries the tag the server named; client.go resolves it and may
// escalate to fatal if the tag is unknown locally.
func classify(err error) reconnectDecision {
	if tag, ok := RedirectNode(err); ok {
		return reconnectDecision{outcome: outcomeRedirect, redirectTag: tag, err: err}
	}
	if errors.Is(err, ErrSubscriptionChangeVectorConc) {
		return reconnectDecision{outcome: outcomeRetry, err: err}
	}
	if errors.Is(err, ErrAuthorization) {
		return reconnectDecision{outcome: outcomeFatal, err: err}
	}
	for _, kind := range fatalKinds {
		if errors.Is(err, kind) {
			return reconnectDecision{outcome: outcomeFatal, err: err}
		}
	}
	return reconnectDecision{outcome: outcomeRetry, err: err}
}
