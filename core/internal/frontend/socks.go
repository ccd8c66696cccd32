// Package frontend exposes QSMP connections to ordinary TCP clients: a
// local SOCKS5 proxy, or a fixed local-port-to-remote-target tunnel, both
// carrying their traffic as encrypted_message records over one QSMP
// connection per local client.
//
// Adapted from the shadowsocks-style local/remote proxy pair: where that
// design shares one shadowsocks stream cipher across a plain TCP relay,
// this one dials a fresh QSMP connection per accepted client and frames
// the relay as encrypted_message records instead of a raw byte stream.
package frontend

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/shadowsocks/go-shadowsocks2/socks"

	"github.com/qsmplabs/qsmp/core/internal/connstate"
	"github.com/qsmplabs/qsmp/core/lib/logging"
)

// Dialer opens a fresh QSMP connection to the tunnel's server for one
// local client. frontend never constructs a client.Config itself so
// callers can supply per-call KEM/Signer/VerKey material.
type Dialer func() (*connstate.ConnectionState, error)

// FixedTarget listens on addr and tunnels every accepted connection to
// target over a fresh QSMP connection from dial, mirroring ss_tcp's
// tcpTun but with a QSMP connection in place of the shadowsocks relay.
func FixedTarget(ctx context.Context, addr, target string, dial Dialer) error {
	tgt := socks.ParseAddr(target)
	if tgt == nil {
		return errors.Errorf("frontend: invalid target address %q", target)
	}
	return serveLocal(ctx, addr, dial, func(net.Conn) (socks.Addr, error) { return tgt, nil })
}

// SocksFront listens on addr as a SOCKS5 proxy and tunnels each accepted
// client's requested target over its own fresh QSMP connection from dial.
func SocksFront(ctx context.Context, addr string, dial Dialer) error {
	return serveLocal(ctx, addr, dial, func(c net.Conn) (socks.Addr, error) {
		return socks.Handshake(c)
	})
}

func serveLocal(ctx context.Context, addr string, dial Dialer, getAddr func(net.Conn) (socks.Addr, error)) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "frontend: listen on %s", addr)
	}
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		c, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.Errorf("frontend: accept: %v", err)
			continue
		}
		go handleLocal(c, dial, getAddr)
	}
}

func handleLocal(c net.Conn, dial Dialer, getAddr func(net.Conn) (socks.Addr, error)) {
	defer c.Close()

	tgt, err := getAddr(c)
	if err != nil {
		logging.Errorf("frontend: get target address: %v", err)
		return
	}

	cs, err := dial()
	if err != nil {
		logging.Errorf("frontend: dial qsmp: %v", err)
		return
	}
	defer cs.Close(0, true)

	if err := cs.WritePayload(tgt); err != nil {
		logging.Errorf("frontend: send target address: %v", err)
		return
	}

	logging.Debugf("frontend: proxy %s <-> %s", c.RemoteAddr(), tgt)
	if err := relay(c, cs); err != nil {
		logging.Warningf("frontend: relay error: %v", err)
	}
}

// relay copies plaintext bytes between a local net.Conn and a QSMP
// connection's encrypted_message records, in both directions, until one
// side closes.
func relay(local net.Conn, remote *connstate.ConnectionState) error {
	var wg sync.WaitGroup
	var localErr, remoteErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, 32*1024)
		for {
			n, err := local.Read(buf)
			if n > 0 {
				if werr := remote.WritePayload(buf[:n]); werr != nil {
					remoteErr = werr
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					localErr = err
				}
				return
			}
		}
	}()

	for {
		payload, err := remote.ReadPayload()
		if err != nil {
			break
		}
		if _, werr := local.Write(payload); werr != nil {
			localErr = werr
			break
		}
	}

	wg.Wait()
	if remoteErr != nil {
		return remoteErr
	}
	return localErr
}
