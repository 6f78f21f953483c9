package subscription

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// tcpConn is the production conn implementation: a plain or TLS-wrapped
// net.Conn dialed fresh for one reconnect iteration.
type tcpConn struct {
	nc net.Conn
}

var _ conn = (*tcpConn)(nil)

// dialConn opens a TCP (optionally TLS) stream to addr. Failures surface
// wrapped as a connection error so the reconnect loop retries them.
func dialConn(ctx context.Context, addr Address, cfg workerConfig) (conn, error) {
	dialTimeout := cfg.dialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 3 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	dialer := &net.Dialer{}
	if !addr.UseTLS {
		nc, err := dialer.DialContext(dialCtx, "tcp", addr.Host)
		if err != nil {
			return nil, wrapConnectionError(fmt.Errorf("dial %s: %w", addr.Host, err))
		}
		return &tcpConn{nc: nc}, nil
	}

	tlsConfig := cfg.tlsConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	td := tls.Dialer{NetDialer: dialer, Config: tlsConfig}
	nc, err := td.DialContext(dialCtx, "tcp", addr.Host)
	if err != nil {
		return nil, wrapConnectionError(fmt.Errorf("tls dial %s: %w", addr.Host, err))
	}
	return &tcpConn{nc: nc}, nil
}

func (c *tcpConn) Read(p []byte) (int, error)  { return c.nc.Read(p) }
func (c *tcpConn) Write(p []byte) (int, error) { return c.nc.Write(p) }
func (c *tcpConn) close() error                { return c.nc.Close() }
func (c *tcpConn) setDeadline(t time.Time) error {
	return c.nc.SetDeadline(t)
}
