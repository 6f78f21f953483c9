package subscription

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/mailru/easyjson/jwriter"
)

// -----------------------------------------------------------------------
// Client -> server wire messages. These are small, fixed-shape DTOs, so
// they carry hand-authored easyjson.Marshaler implementations instead of
// going through encoding/json's reflection-based encoder.
// -----------------------------------------------------------------------

//go:generate go install github.com/mailru/easyjson/...@v0.7.7
//go:generate easyjson -all $GOFILE

// TcpConnectionHeader is the first frame the worker sends after connecting.
type TcpConnectionHeader struct {
	Operation          string             `json:"Operation"`
	DatabaseName       string             `json:"DatabaseName"`
	OperationVersion   int                `json:"OperationVersion"`
	AuthorizeInfo      *AuthorizationInfo `json:"AuthorizeInfo,omitempty"`
	DestinationNodeTag string             `json:"DestinationNodeTag,omitempty"`
	DestinationUrl     string             `json:"DestinationUrl,omitempty"`
}

func (h TcpConnectionHeader) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawByte('{')
	w.RawString(`"Operation":`)
	w.String(h.Operation)
	w.RawString(`,"DatabaseName":`)
	w.String(h.DatabaseName)
	w.RawString(`,"OperationVersion":`)
	w.Int(h.OperationVersion)
	if h.AuthorizeInfo != nil {
		w.RawString(`,"AuthorizeInfo":{"AuthorizationFor":`)
		w.String(h.AuthorizeInfo.AuthorizationFor)
		w.RawByte('}')
	}
	if h.DestinationNodeTag != "" {
		w.RawString(`,"DestinationNodeTag":`)
		w.String(h.DestinationNodeTag)
	}
	if h.DestinationUrl != "" {
		w.RawString(`,"DestinationUrl":`)
		w.String(h.DestinationUrl)
	}
	w.RawByte('}')
}

func (h TcpConnectionHeader) MarshalJSON() ([]byte, error) {
	w := &jwriter.Writer{}
	h.MarshalEasyJSON(w)
	return w.BuildBytes()
}

// TcpConnectionHeaderResponse is the server's reply to TcpConnectionHeader.
// It is decoded generically (goccy/go-json) since the worker only reads it
// once per reconnect and its shape is simple enough that a hand-authored
// decoder buys nothing.
type TcpConnectionHeaderResponse struct {
	Status  string `json:"Status"`
	Version int    `json:"Version"`
	Message string `json:"Message,omitempty"`
}

const (
	tcpStatusOk                 = "Ok"
	tcpStatusAuthorizationFailed = "AuthorizationFailed"
	tcpStatusVersionMismatch     = "TcpVersionMismatch"
)

// OutOfRangeStatus is the sentinel Version value a TcpVersionMismatch
// response carries when the server has no compatible version to offer at
// all.
const OutOfRangeStatus = -1

// SubscriptionTcpVersion is the protocol version this worker implements.
const SubscriptionTcpVersion = 53

// subscriptionConnectionOptionsWire is the wire projection of
// SubscriptionOptions: PascalCase keys, durations serialized as
// "HH:MM:SS.fff" strings.
type subscriptionConnectionOptionsWire struct {
	SubscriptionName                 string `json:"SubscriptionName"`
	TimeToWaitBeforeConnectionRetry string `json:"TimeToWaitBeforeConnectionRetry"`
	IgnoreSubscriberErrors           bool   `json:"IgnoreSubscriberErrors"`
	Strategy                         string `json:"Strategy"`
	MaxDocsPerBatch                  int    `json:"MaxDocsPerBatch"`
	MaxErroneousPeriod              string `json:"MaxErroneousPeriod"`
	CloseWhenNoDocsLeft              bool   `json:"CloseWhenNoDocsLeft"`
}

func toWireOptions(o SubscriptionOptions) subscriptionConnectionOptionsWire {
	return subscriptionConnectionOptionsWire{
		SubscriptionName:                o.Name,
		TimeToWaitBeforeConnectionRetry: formatTimeSpan(o.TimeToWaitBeforeConnectionRetry),
		IgnoreSubscriberErrors:          o.IgnoreSubscriberErrors,
		Strategy:                        string(o.Strategy),
		MaxDocsPerBatch:                 o.MaxDocsPerBatch,
		MaxErroneousPeriod:              formatTimeSpan(o.MaxErroneousPeriod),
		CloseWhenNoDocsLeft:             o.CloseWhenNoDocsLeft,
	}
}

func (o subscriptionConnectionOptionsWire) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawByte('{')
	w.RawString(`"SubscriptionName":`)
	w.String(o.SubscriptionName)
	w.RawString(`,"TimeToWaitBeforeConnectionRetry":`)
	w.String(o.TimeToWaitBeforeConnectionRetry)
	w.RawString(`,"IgnoreSubscriberErrors":`)
	w.Bool(o.IgnoreSubscriberErrors)
	w.RawString(`,"Strategy":`)
	w.String(o.Strategy)
	w.RawString(`,"MaxDocsPerBatch":`)
	w.Int(o.MaxDocsPerBatch)
	w.RawString(`,"MaxErroneousPeriod":`)
	w.String(o.MaxErroneousPeriod)
	w.RawString(`,"CloseWhenNoDocsLeft":`)
	w.Bool(o.CloseWhenNoDocsLeft)
	w.RawByte('}')
}

func (o subscriptionConnectionOptionsWire) MarshalJSON() ([]byte, error) {
	w := &jwriter.Writer{}
	o.MarshalEasyJSON(w)
	return w.BuildBytes()
}

// AcknowledgeMessage is sent after a batch's listeners have all completed
// successfully, or with an error when IgnoreSubscriberErrors is set.
type AcknowledgeMessage struct {
	ChangeVector string
}

func (a AcknowledgeMessage) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawByte('{')
	w.RawString(`"ChangeVector":`)
	w.String(a.ChangeVector)
	w.RawString(`,"Type":"Acknowledge"}`)
}

func (a AcknowledgeMessage) MarshalJSON() ([]byte, error) {
	w := &jwriter.Writer{}
	a.MarshalEasyJSON(w)
	return w.BuildBytes()
}

// DropMessage is sent once, on an unrecoverable version mismatch.
type DropMessage struct {
	DatabaseName     string
	OperationVersion int
	Info             string
}

func (d DropMessage) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawByte('{')
	w.RawString(`"Operation":"Drop","DatabaseName":`)
	w.String(d.DatabaseName)
	w.RawString(`,"OperationVersion":`)
	w.Int(d.OperationVersion)
	w.RawString(`,"Info":`)
	w.String(d.Info)
	w.RawByte('}')
}

func (d DropMessage) MarshalJSON() ([]byte, error) {
	w := &jwriter.Writer{}
	d.MarshalEasyJSON(w)
	return w.BuildBytes()
}

// -----------------------------------------------------------------------
// Server -> client wire messages.
// -----------------------------------------------------------------------

// ConnectionStatusKind enumerates ConnectionStatus.Status values.
type ConnectionStatusKind string

const (
	StatusAccepted             ConnectionStatusKind = "Accepted"
	StatusInUse                ConnectionStatusKind = "InUse"
	StatusClosed               ConnectionStatusKind = "Closed"
	StatusInvalid              ConnectionStatusKind = "Invalid"
	StatusNotFound             ConnectionStatusKind = "NotFound"
	StatusRedirect             ConnectionStatusKind = "Redirect"
	StatusConcurrencyReconnect ConnectionStatusKind = "ConcurrencyReconnect"
)

// connectionStatusData carries the Redirect status's target node.
type connectionStatusData struct {
	RedirectedTag string `json:"RedirectedTag"`
}

// wireServerMessage is the raw shape every server frame is first decoded
// into (goccy/go-json); ServerMessage (below) is built from it by
// serverMessageFromWire, which also applies key normalization to payload.
type wireServerMessage struct {
	Type      string                 `json:"Type"`
	Status    string                 `json:"Status,omitempty"`
	Message   string                 `json:"Message,omitempty"`
	Exception string                 `json:"Exception,omitempty"`
	Data      *connectionStatusData  `json:"Data,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// ServerMessageKind discriminates ServerMessage's variant.
type ServerMessageKind int

const (
	KindConnectionStatus ServerMessageKind = iota
	KindData
	KindEndOfBatch
	KindConfirm
	KindError
)

// ServerMessage is the tagged union of every frame kind the server can send.
type ServerMessage struct {
	Kind ServerMessageKind

	// valid when Kind == KindConnectionStatus
	Status          ConnectionStatusKind
	StatusMessage   string
	StatusException string
	RedirectedTag   string

	// valid when Kind == KindData
	Payload map[string]interface{}

	// valid when Kind == KindError
	ErrException string
	ErrMessage   string
}

func serverMessageFromWire(w wireServerMessage, normalize func(map[string]interface{}) map[string]interface{}) (ServerMessage, error) {
	switch w.Type {
	case "ConnectionStatus":
		m := ServerMessage{
			Kind:            KindConnectionStatus,
			Status:          ConnectionStatusKind(w.Status),
			StatusMessage:   w.Message,
			StatusException: w.Exception,
		}
		if w.Data != nil {
			m.RedirectedTag = w.Data.RedirectedTag
		}
		return m, nil
	case "Data":
		return ServerMessage{Kind: KindData, Payload: normalize(w.Payload)}, nil
	case "EndOfBatch":
		return ServerMessage{Kind: KindEndOfBatch}, nil
	case "Confirm":
		return ServerMessage{Kind: KindConfirm}, nil
	case "Error":
		return ServerMessage{Kind: KindError, ErrException: w.Exception, ErrMessage: w.Message}, nil
	default:
		return ServerMessage{}, fmt.Errorf("%w: unrecognized frame type %q", ErrProtocolViolation, w.Type)
	}
}

// marshalWireMessage is used by tests to synthesize server frames.
func marshalWireMessage(w wireServerMessage) ([]byte, error) {
	return json.Marshal(w)
}
