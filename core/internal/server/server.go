// Package server is the QSMP server core: an accept loop that hands each
// new net.Conn to a worker goroutine, a bounded conntable.Table of
// established connections, and the pause/resume/quit controls an operator
// uses to manage a running listener without tearing it down.
package server

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qsmplabs/qsmp/core/internal/aead"
	"github.com/qsmplabs/qsmp/core/internal/codec"
	"github.com/qsmplabs/qsmp/core/internal/connstate"
	"github.com/qsmplabs/qsmp/core/internal/conntable"
	"github.com/qsmplabs/qsmp/core/internal/def"
	"github.com/qsmplabs/qsmp/core/internal/kex"
	"github.com/qsmplabs/qsmp/core/internal/record"
	"github.com/qsmplabs/qsmp/core/lib/logging"
)

// Sink receives every message the server decrypts off an established
// connection, keyed by the connection's instance ID. A server started
// without a Sink still runs the handshake and keepalive machinery but
// drops application payloads.
type Sink interface {
	Deliver(instanceID uint64, flag def.Flag, payload []byte)
}

// Server runs the accept loop and owns the connection table for one QSMP
// listener. Create with New, start with one of StartIPv4/StartIPv6, and
// stop with Quit.
type Server struct {
	key    kex.ServerKey
	kem    kex.KEM
	signer kex.Signer
	sizes  kex.Sizes
	sink   Sink

	table *conntable.Table

	listener net.Listener
	running  atomic.Bool
	paused   atomic.Bool
	wg       sync.WaitGroup
	stopPoll chan struct{}
}

// New builds a Server bound to one identity key and a delivery sink. sink
// may be nil to discard application payloads.
func New(key kex.ServerKey, kemImpl kex.KEM, signer kex.Signer, sizes kex.Sizes, sink Sink) *Server {
	return &Server{
		stopPoll: make(chan struct{}),
		key:      key,
		kem:      kemImpl,
		signer:   signer,
		sizes:    sizes,
		sink:     sink,
		table:    conntable.New(def.ConnectionsInit, def.ConnectionsMax),
	}
}

// StartIPv4 listens on a TCP IPv4 address and runs the accept loop until
// Quit is called or the listener errors.
func (s *Server) StartIPv4(addr string) error {
	lis, err := net.Listen("tcp4", addr)
	if err != nil {
		return def.ErrListenerFail
	}
	return s.serve(lis)
}

// StartIPv6 listens on a TCP IPv6 address and runs the accept loop until
// Quit is called or the listener errors.
func (s *Server) StartIPv6(addr string) error {
	lis, err := net.Listen("tcp6", addr)
	if err != nil {
		return def.ErrListenerFail
	}
	return s.serve(lis)
}

// Serve runs the accept loop over an already-opened net.Listener, letting
// the caller supply any Socket-contract carrier (see core/internal/transport).
func (s *Server) Serve(lis net.Listener) error {
	return s.serve(lis)
}

// pollInterval is how often pollSockets sweeps the connection table for
// expired sessions.
const pollInterval = 5 * time.Second

func (s *Server) serve(lis net.Listener) error {
	s.listener = lis
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pollSockets()
	}()

	for s.running.Load() {
		conn, err := lis.Accept()
		if err != nil {
			if !s.running.Load() {
				return nil
			}
			logging.Errorf("server: accept: %v", err)
			continue
		}

		if s.paused.Load() {
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.worker(conn)
		}()
	}
	return nil
}

// worker drives one connection end to end: handshake, then a receive loop
// that decrypts records and hands them to the Sink until the connection
// closes or errors.
func (s *Server) worker(conn net.Conn) {
	peer := conn.RemoteAddr().String()
	cs, instanceID, err := s.handshake(conn)
	if err != nil {
		logging.Warningf("server: handshake with %s failed: %v", peer, err)
		conn.Close()
		return
	}
	logging.Infof("server: connection %d established with %s", instanceID, peer)

	s.receiveLoop(cs)
}

func (s *Server) handshake(conn net.Conn) (*connstate.ConnectionState, uint64, error) {
	hs := kex.NewServerHandshake(s.key, s.kem, s.signer, s.sizes)

	frame, err := codec.ReadFrame(conn)
	if err != nil {
		return nil, 0, err
	}
	connectResp, err := hs.HandleConnectRequest(frame, time.Now())
	if err != nil {
		return nil, 0, err
	}
	if _, err := conn.Write(connectResp); err != nil {
		return nil, 0, err
	}

	frame, err = codec.ReadFrame(conn)
	if err != nil {
		return nil, 0, err
	}
	exchangeResp, rx, tx, err := hs.HandleExchangeRequest(frame, time.Now(), func() record.AEADCipher {
		return aead.New()
	})
	if err != nil {
		return nil, 0, err
	}
	if _, err := conn.Write(exchangeResp); err != nil {
		return nil, 0, err
	}

	cs := connstate.New(0, conn, conn.RemoteAddr().String(), rx, tx, time.Now().Add(24*time.Hour))
	id, err := s.table.Insert(cs)
	if err != nil {
		cs.Close(def.ErrHostsExceeded, false)
		return nil, 0, err
	}
	return cs, id, nil
}

// pollSockets sweeps the whole connection table once per pollInterval and
// evicts any session that has outlived its expiration. Liveness of a still
// open socket is each connection's own receiveLoop's job (a blocked read
// unblocks with an error the moment the peer or transport drops it); a
// redundant liveness probe from here would race that goroutine's own close
// path. Expiration, in contrast, does not surface on its own -- a session
// can keep reading and writing fine long past its expiration -- so this
// sweep is the only place that enforces it.
func (s *Server) pollSockets() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopPoll:
			return
		case <-ticker.C:
			now := time.Now()
			var expired []uint64
			s.table.Each(func(id uint64, cs *connstate.ConnectionState) {
				if cs.Expired(now) {
					expired = append(expired, id)
				}
			})
			for _, id := range expired {
				s.table.Remove(id, def.ErrChannelDown)
			}
		}
	}
}

// receiveLoop drives one connection's reads until it errors or closes.
// Pause is cooperative only at the accept loop: an in-flight read here
// keeps going even while the server is paused, matching the rule that
// workers never inspect pause_flag.
func (s *Server) receiveLoop(cs *connstate.ConnectionState) {
	defer s.table.Remove(cs.InstanceID, def.ErrChannelDown)

	for {
		if !s.running.Load() {
			return
		}

		frame, err := codec.ReadFrame(cs.Socket)
		if err != nil {
			return
		}

		plaintext, flag, err := cs.Decrypt(frame)
		if err != nil {
			logging.Warningf("server: connection %d: %v", cs.InstanceID, err)
			return
		}

		switch flag {
		case def.FlagConnectionTerminate:
			return
		case def.FlagKeepAlive:
			continue
		default:
			if s.sink != nil {
				s.sink.Deliver(cs.InstanceID, flag, plaintext)
			}
		}
	}
}

// Broadcast encrypts payload under every established connection's own tx
// direction and sends it, skipping connections that fail to send rather
// than aborting the whole broadcast. It copies out (id, connection state)
// pairs under the table lock, releases the lock, then sends -- holding
// the lock across a send would let one slow peer stall Insert and Remove
// for every other connection.
func (s *Server) Broadcast(flag def.Flag, payload []byte) {
	type target struct {
		id uint64
		cs *connstate.ConnectionState
	}

	var targets []target
	s.table.Each(func(id uint64, cs *connstate.ConnectionState) {
		targets = append(targets, target{id, cs})
	})

	for _, t := range targets {
		wire, err := t.cs.Encrypt(flag, payload)
		if err != nil {
			continue
		}
		if _, err := t.cs.Socket.Write(wire); err != nil {
			logging.Warningf("server: broadcast to %d: %v", t.id, err)
		}
	}
}

// Send encrypts and writes payload to one connection by instance ID.
func (s *Server) Send(instanceID uint64, flag def.Flag, payload []byte) error {
	cs := s.table.Get(instanceID)
	if cs == nil {
		return def.ErrConnectionFailure
	}
	wire, err := cs.Encrypt(flag, payload)
	if err != nil {
		return err
	}
	_, err = cs.Socket.Write(wire)
	return err
}

// Pause stops the accept loop from handing new connections to workers,
// without closing the listener or any existing connection; already
// established connections keep reading and writing normally. Resume
// undoes it.
func (s *Server) Pause() { s.paused.Store(true) }

// Resume undoes a prior Pause.
func (s *Server) Resume() { s.paused.Store(false) }

// Connections returns the number of established connections.
func (s *Server) Connections() int { return s.table.Size() }

// ConnInfo is a read-only snapshot of one tracked connection, for status
// reporting.
type ConnInfo struct {
	InstanceID uint64
	PeerAddr   string
	State      connstate.State
}

// Snapshot returns one ConnInfo per tracked connection, for an admin or
// CLI status view.
func (s *Server) Snapshot() []ConnInfo {
	out := []ConnInfo{}
	s.table.Each(func(id uint64, cs *connstate.ConnectionState) {
		out = append(out, ConnInfo{InstanceID: id, PeerAddr: cs.PeerAddr, State: cs.State()})
	})
	return out
}

// Quit stops the accept loop, closes the listener, and closes every
// tracked connection. It then waits for the poll goroutine and every
// worker goroutine to exit; a worker exits once its socket is closed or a
// read on it fails.
func (s *Server) Quit() {
	s.running.Store(false)
	close(s.stopPoll)
	if s.listener != nil {
		s.listener.Close()
	}
	s.table.Dispose(def.ErrChannelDown)
	s.wg.Wait()
}
