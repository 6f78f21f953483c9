package subscription

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

const subscriptionOperation = "Subscription"

// negotiationResult is what a successful handshake establishes.
type negotiationResult struct {
	version          int
	supportedFeatures []string
}

// negotiate performs the handshake against a freshly dialed conn: send
// TcpConnectionHeader, interpret the response, then send the subscription
// options payload.
func negotiate(ctx context.Context, c conn, databaseName string, opts SubscriptionOptions, destinationNodeTag string) (negotiationResult, error) {
	header := TcpConnectionHeader{
		Operation:          subscriptionOperation,
		DatabaseName:       databaseName,
		OperationVersion:   SubscriptionTcpVersion,
		AuthorizeInfo:      opts.AuthorizeInfo,
		DestinationNodeTag: destinationNodeTag,
	}
	if err := writeJSON(ctx, c, header); err != nil {
		return negotiationResult{}, wrapConnectionError(fmt.Errorf("write connection header: %w", err))
	}

	var resp TcpConnectionHeaderResponse
	if err := readJSON(ctx, c, &resp); err != nil {
		return negotiationResult{}, wrapConnectionError(fmt.Errorf("read connection header response: %w", err))
	}

	version, err := interpretHeaderResponse(ctx, c, header, resp)
	if err != nil {
		return negotiationResult{}, err
	}
	if version <= 0 {
		return negotiationResult{}, ErrNegotiationFailed
	}

	if err := writeJSON(ctx, c, toWireOptions(opts)); err != nil {
		return negotiationResult{}, wrapConnectionError(fmt.Errorf("write subscription options: %w", err))
	}

	return negotiationResult{version: version, supportedFeatures: []string{fmt.Sprintf("subscription-tcp/%d", version)}}, nil
}

func interpretHeaderResponse(ctx context.Context, c conn, header TcpConnectionHeader, resp TcpConnectionHeaderResponse) (int, error) {
	switch resp.Status {
	case tcpStatusOk:
		return resp.Version, nil
	case tcpStatusAuthorizationFailed:
		return 0, newAuthorizationError(resp.Message)
	case tcpStatusVersionMismatch:
		if resp.Version == OutOfRangeStatus {
			drop := DropMessage{
				DatabaseName:     header.DatabaseName,
				OperationVersion: header.OperationVersion,
				Info:             "could not negotiate a compatible subscription protocol version",
			}
			_ = writeJSON(ctx, c, drop)
			return 0, fmt.Errorf("%w: no compatible subscription protocol version", errInvalidOperation)
		}
		return resp.Version, nil
	default:
		return 0, fmt.Errorf("%w: unexpected connection header status %q", errInvalidOperation, resp.Status)
	}
}

var errInvalidOperation = fmt.Errorf("subscription: invalid operation")

// writeJSON marshals v (through its easyjson.Marshaler when it implements
// one) and writes it as a single frame with the conn's write deadline applied.
func writeJSON(ctx context.Context, c conn, v interface{}) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.setDeadline(dl)
	} else {
		_ = c.setDeadline(time.Now().Add(writeWait))
	}
	defer c.setDeadline(time.Time{})

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = c.Write(b)
	return err
}

// readJSON reads a single JSON object frame and decodes it into v.
func readJSON(ctx context.Context, c conn, v interface{}) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.setDeadline(dl)
	}
	defer c.setDeadline(time.Time{})

	dec := json.NewDecoder(c)
	return dec.Decode(v)
}

// formatTimeSpan renders d in the "HH:MM:SS.fff" shape duration fields in
// SubscriptionConnectionOptions require on the wire. time.Duration's own
// String() doesn't produce this shape, so it's hand-rolled.
func formatTimeSpan(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := d
	hours := total / time.Hour
	total -= hours * time.Hour
	minutes := total / time.Minute
	total -= minutes * time.Minute
	seconds := total / time.Second
	total -= seconds * time.Second
	millis := total / time.Millisecond

	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, millis)
}

// parseTimeSpan is the inverse of formatTimeSpan, used by tests to assert
// the round-trip invariant.
func parseTimeSpan(s string) (time.Duration, error) {
	var h, m, sec, ms int
	if _, err := fmt.Sscanf(s, "%d:%d:%d.%d", &h, &m, &sec, &ms); err != nil {
		return 0, fmt.Errorf("subscription: invalid time span %q: %w", s, err)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(sec)*time.Second + time.Duration(ms)*time.Millisecond, nil
}
