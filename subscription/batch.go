package subscription

import (
	"context"
	"fmt"
)

// Batch is an ordered sequence of documents bounded by the most recent
// EndOfBatch frame. A fresh Batch is created for each connection and reused
// for every batch read on it; it does not carry over across reconnects.
// initialize replaces its contents on every successful read.
type Batch struct {
	items                    []map[string]interface{}
	lastReceivedChangeVector string
}

// Len returns the number of documents currently held by the batch.
func (b *Batch) Len() int { return len(b.items) }

// Items returns a read-only snapshot of the batch's documents, already
// key-normalized per the active naming profile.
func (b *Batch) Items() []map[string]interface{} {
	out := make([]map[string]interface{}, len(b.items))
	copy(out, b.items)
	return out
}

// LastReceivedChangeVector is the change vector extracted from the final
// Data frame of the batch, acknowledged once every listener completes.
func (b *Batch) LastReceivedChangeVector() string { return b.lastReceivedChangeVector }

// snapshot copies the batch's current contents into a new, independent
// Batch. The pump reuses its one *Batch across iterations, so anything
// that must outlive the current iteration (an ack awaiting Confirm) needs
// its own copy rather than the live pointer.
func (b *Batch) snapshot() *Batch {
	items := make([]map[string]interface{}, len(b.items))
	copy(items, b.items)
	return &Batch{items: items, lastReceivedChangeVector: b.lastReceivedChangeVector}
}

// initialize replaces the batch's contents with a freshly read set of
// payloads and extracts the change vector from the last one.
func (b *Batch) initialize(incoming []map[string]interface{}) string {
	b.items = incoming
	b.lastReceivedChangeVector = ""
	if len(incoming) > 0 {
		if cv, ok := ChangeVector(incoming[len(incoming)-1]); ok {
			b.lastReceivedChangeVector = cv
		}
	}
	return b.lastReceivedChangeVector
}

// readSingleBatch reads frames from fr until EndOfBatch terminates the
// batch, buffering Data payloads and clearing the buffer on a mid-stream
// Confirm. onConfirm is invoked once per Confirm frame, after the buffer
// is cleared, so the dispatch pipeline can pop its ack tracker and fire
// afterAcknowledgment listeners — a Confirm is otherwise invisible outside
// this loop.
func readSingleBatch(ctx context.Context, fr *frameReader, maxDocs int, onConfirm func()) ([]map[string]interface{}, error) {
	var buffer []map[string]interface{}
	for {
		msg, err := fr.Next(ctx)
		if err != nil {
			return nil, err
		}
		switch msg.Kind {
		case KindData:
			buffer = append(buffer, msg.Payload)
			if maxDocs > 0 && len(buffer) > maxDocs {
				return nil, fmt.Errorf("%w: batch exceeded MaxDocsPerBatch (%d)", ErrProtocolViolation, maxDocs)
			}
		case KindEndOfBatch:
			return buffer, nil
		case KindConfirm:
			buffer = nil
			if onConfirm != nil {
				onConfirm()
			}
		case KindConnectionStatus:
			return nil, classifyConnectionStatus(msg)
		case KindError:
			return nil, classifyErrorFrame(msg)
		default:
			return nil, fmt.Errorf("%w: unexpected frame kind %d mid-batch", ErrProtocolViolation, msg.Kind)
		}
	}
}

// classifyConnectionStatus turns a mid-batch ConnectionStatus re-assertion
// into the taxonomy error it represents.
func classifyConnectionStatus(msg ServerMessage) error {
	switch msg.Status {
	case StatusAccepted:
		return fmt.Errorf("%w: unexpected Accepted status mid-batch", ErrProtocolViolation)
	case StatusInUse:
		return newSubscriptionError(ErrSubscriptionInUse, msg.StatusException, nil)
	case StatusClosed:
		return newSubscriptionError(ErrSubscriptionClosed, msg.StatusException, nil)
	case StatusInvalid:
		return newSubscriptionError(ErrSubscriptionInvalidState, msg.StatusException, nil)
	case StatusNotFound:
		return newSubscriptionError(ErrSubscriptionDoesNotExist, msg.StatusException, nil)
	case StatusRedirect:
		e := &subscriptionError{
			kind:    ErrSubscriptionDoesNotBelongTo.kind,
			message: msg.StatusException,
			node:    msg.RedirectedTag,
		}
		return e
	case StatusConcurrencyReconnect:
		return newSubscriptionError(ErrSubscriptionChangeVectorConc, msg.StatusException, nil)
	default:
		return fmt.Errorf("%w: unknown ConnectionStatus %q", ErrProtocolViolation, msg.Status)
	}
}

// classifyErrorFrame turns a server Error frame into the taxonomy error it
// names, falling back to a generic wrapped error for unrecognized
// exception names.
func classifyErrorFrame(msg ServerMessage) error {
	switch msg.ErrException {
	case "SubscriptionInUseException":
		return newSubscriptionError(ErrSubscriptionInUse, msg.ErrMessage, nil)
	case "SubscriptionDoesNotExistException":
		return newSubscriptionError(ErrSubscriptionDoesNotExist, msg.ErrMessage, nil)
	case "SubscriptionClosedException":
		return newSubscriptionError(ErrSubscriptionClosed, msg.ErrMessage, nil)
	case "SubscriptionInvalidStateException":
		return newSubscriptionError(ErrSubscriptionInvalidState, msg.ErrMessage, nil)
	case "DatabaseDoesNotExistException":
		return newSubscriptionError(ErrDatabaseDoesNotExist, msg.ErrMessage, nil)
	case "AuthorizationException":
		return newAuthorizationError(msg.ErrMessage)
	case "AllTopologyNodesDownException":
		return newSubscriptionError(ErrAllTopologyNodesDown, msg.ErrMessage, nil)
	case "SubscriptionChangeVectorUpdateConcurrencyException":
		return newSubscriptionError(ErrSubscriptionChangeVectorConc, msg.ErrMessage, nil)
	default:
		return fmt.Errorf("subscription: server error %s: %s", msg.ErrException, msg.ErrMessage)
	}
}
