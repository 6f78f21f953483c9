package subscription

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	json "github.com/goccy/go-json"
)

// errReadAbandoned is returned internally by frameReader.Next when the
// underlying read failed because the worker was disposed, not because of
// a genuine protocol/connection error. The batch pump passes it up
// unchanged; the reconnect loop checks for it with isReadAbandoned and
// stops silently instead of treating it as a failure to classify.
var errReadAbandoned = errors.New("subscription: read abandoned by dispose")

func isReadAbandoned(err error) bool { return errors.Is(err, errReadAbandoned) }

// frameReader wraps a conn in a streaming, drop-in-compatible JSON decoder
// (goccy/go-json) that emits one ServerMessage per top-level JSON object
// on the wire, with no length prefix: the decoder itself tracks object
// nesting across reads.
type frameReader struct {
	dec      *json.Decoder
	normalize func(map[string]interface{}) map[string]interface{}
	disposed *atomic.Bool
}

func newFrameReader(r io.Reader, disposed *atomic.Bool, naming NamingStrategy, withRevisions bool) *frameReader {
	return &frameReader{
		dec:       json.NewDecoder(r),
		normalize: newKeyNormalizer(naming, withRevisions),
		disposed:  disposed,
	}
}

// Next blocks until it has decoded a single server frame.
func (f *frameReader) Next(_ context.Context) (ServerMessage, error) {
	var w wireServerMessage
	err := f.dec.Decode(&w)
	if err != nil {
		if f.disposed != nil && f.disposed.Load() {
			return ServerMessage{}, errReadAbandoned
		}
		if errors.Is(err, io.EOF) {
			return ServerMessage{}, ErrStreamEndedUnexpectedly
		}
		return ServerMessage{}, wrapConnectionError(err)
	}
	return serverMessageFromWire(w, f.normalize)
}

// -----------------------------------------------------------------------
// Key normalization. The normalizer is built by newFrameReader from
// (Naming, WithRevisions), so each connection builds its own, and it is
// applied to every Data payload's top-level keys before the batch pump
// hands the document onward.
// -----------------------------------------------------------------------

// documentProfile maps a server-sent PascalCase key to its canonical
// client-facing name. Two profiles exist: the plain document payload and
// the revisions payload, which additionally carries "Current"/"Previous"
// wrapper keys.
var documentProfiles = map[bool]map[string]string{
	false: {
		"Id":           "id",
		"ChangeVector": "changeVector",
		"Etag":         "etag",
		"Metadata":     "metadata",
		"Flags":        "flags",
		"LastModified": "lastModified",
	},
	true: {
		"Current":      "current",
		"Previous":     "previous",
		"Id":           "id",
		"ChangeVector": "changeVector",
		"Etag":         "etag",
		"Metadata":     "metadata",
	},
}

func newKeyNormalizer(naming NamingStrategy, withRevisions bool) func(map[string]interface{}) map[string]interface{} {
	if naming == Identity {
		return func(m map[string]interface{}) map[string]interface{} { return m }
	}
	profile := documentProfiles[withRevisions]
	return func(m map[string]interface{}) map[string]interface{} {
		if m == nil {
			return nil
		}
		out := make(map[string]interface{}, len(m))
		for k, v := range m {
			if renamed, ok := profile[k]; ok {
				out[renamed] = v
				continue
			}
			out[k] = v
		}
		return out
	}
}

// ChangeVector extracts the canonical "changeVector" key from a
// (post-normalization) Data payload.
func ChangeVector(payload map[string]interface{}) (string, bool) {
	v, ok := payload["changeVector"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
