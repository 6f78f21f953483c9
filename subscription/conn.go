package subscription

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
)

// conn represents the dedicated TCP (optionally TLS) stream the worker
// owns exclusively for its lifetime. It is intentionally narrower than
// net.Conn: the worker only ever needs a reader, a writer, and a way to
// tear the connection down.
type conn interface {
	io.Reader
	io.Writer
	// close ends the connection. Safe to call more than once.
	close() error
	// setDeadline bounds the next read/write; passing the zero Time disables it.
	setDeadline(t time.Time) error
}

var (
	writeWait = 5 * time.Second // time allowed to flush a single write
)

// Address is a parsed TCP endpoint: the URL scheme selects plain TCP or TLS.
type Address struct {
	Host   string
	UseTLS bool
}

// ParseAddress parses a "tcp://host:port" or "tcps://host:port" URL into an Address.
func ParseAddress(raw string) (Address, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Address{}, fmt.Errorf("subscription: invalid address %q: %w", raw, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "tcp":
		return Address{Host: u.Host}, nil
	case "tcps", "tls":
		return Address{Host: u.Host, UseTLS: true}, nil
	default:
		return Address{}, fmt.Errorf("subscription: unsupported address scheme %q", u.Scheme)
	}
}

// connCreator constructs a fresh conn for one reconnect iteration. Never
// reused across iterations: the reconnect loop in client.go calls it anew
// on every pass through the outer loop.
type connCreator func(ctx context.Context, addr Address, cfg workerConfig) (conn, error)
