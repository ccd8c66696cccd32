// h2.go adds an HTTP/2 carrier for deployments that need QSMP traffic to
// look like ordinary HTTPS on the wire. One HTTP/2 stream, opened via
// posener/h2conn, carries exactly one QSMP connection -- the same
// one-session-one-connection rule kcp.go applies to the reliable-UDP
// carrier.
package transport

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/posener/h2conn"

	"github.com/qsmplabs/qsmp/core/lib/logging"
)

// H2Listener accepts QSMP-over-HTTP/2 connections behind an http.Server.
type H2Listener struct {
	srv    *http.Server
	connCh chan net.Conn

	closeOnce sync.Once
	closed    chan struct{}
}

// ListenH2 starts an HTTP/2 server on addr that upgrades every request to
// path into a QSMP connection, returning a net.Listener-shaped adapter the
// server's accept loop consumes exactly like a TCP listener.
func ListenH2(addr, path string) (*H2Listener, error) {
	l := &H2Listener{
		connCh: make(chan net.Conn),
		closed: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, l.handle)
	l.srv = &http.Server{Addr: addr, Handler: mux}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "listen h2")
	}

	go func() {
		if err := l.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.Errorf("transport: h2 server: %v", err)
		}
	}()

	return l, nil
}

func (l *H2Listener) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h2conn.Accept(w, r)
	if err != nil {
		logging.Errorf("transport: h2conn accept from %s: %v", r.RemoteAddr, err)
		return
	}

	select {
	case l.connCh <- &h2NetConn{Conn: conn, remote: r.RemoteAddr}:
	case <-l.closed:
		conn.Close()
	}
}

// Accept blocks for the next upgraded HTTP/2 stream.
func (l *H2Listener) Accept() (net.Conn, error) {
	select {
	case c := <-l.connCh:
		return c, nil
	case <-l.closed:
		return nil, errors.New("transport: h2 listener closed")
	}
}

func (l *H2Listener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return l.srv.Close()
}

func (l *H2Listener) Addr() net.Addr { return h2Addr("h2") }

// DialH2 opens a QSMP-over-HTTP/2 connection to an H2Listener at url
// (e.g. "https://host:port/qsmp").
func DialH2(ctx context.Context, url string) (net.Conn, error) {
	conn, _, err := h2conn.Connect(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "dial h2")
	}
	return &h2NetConn{Conn: conn, remote: url}, nil
}

// h2NetConn adapts h2conn.Conn's io.ReadWriteCloser to net.Conn so it can
// be handed to the same accept loop and codec.ReadFrame calls a TCP or
// KCP socket would. Deadlines are not meaningful over an HTTP/2 stream
// multiplexed by net/http and are accepted as no-ops.
type h2NetConn struct {
	*h2conn.Conn
	remote string
}

func (c *h2NetConn) LocalAddr() net.Addr              { return h2Addr("h2-local") }
func (c *h2NetConn) RemoteAddr() net.Addr             { return h2Addr(c.remote) }
func (c *h2NetConn) SetDeadline(t time.Time) error      { return nil }
func (c *h2NetConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *h2NetConn) SetWriteDeadline(t time.Time) error { return nil }

type h2Addr string

func (a h2Addr) Network() string { return "h2" }
func (a h2Addr) String() string  { return string(a) }
