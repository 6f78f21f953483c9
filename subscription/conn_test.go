package subscription

import (
	"context"
	"net"
	"sync/atomic"
	"time"
)

// pipeConn adapts one end of a net.Pipe to the conn interface, so
// handshake/stream/client tests can drive a real in-memory byte stream
// without a real socket.
type pipeConn struct {
	nc     net.Conn
	closed atomic.Bool
}

var _ conn = (*pipeConn)(nil)

func newPipeConnPair() (*pipeConn, *pipeConn) {
	a, b := net.Pipe()
	return &pipeConn{nc: a}, &pipeConn{nc: b}
}

func (p *pipeConn) Read(b []byte) (int, error)  { return p.nc.Read(b) }
func (p *pipeConn) Write(b []byte) (int, error) { return p.nc.Write(b) }
func (p *pipeConn) close() error {
	p.closed.Store(true)
	return p.nc.Close()
}
func (p *pipeConn) setDeadline(t time.Time) error { return p.nc.SetDeadline(t) }

// fakeDialer returns a connCreator that always hands back end, ignoring addr/cfg.
func fakeDialer(end conn, dialErr error) connCreator {
	return func(_ context.Context, _ Address, _ workerConfig) (conn, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		return end, nil
	}
}
