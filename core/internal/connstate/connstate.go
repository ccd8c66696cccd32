// Package connstate holds the per-connection state a server tracks once a
// handshake completes: the directional ciphers, the socket, and the
// bookkeeping needed to close a connection exactly once and report why.
package connstate

import (
	"net"
	"sync"
	"time"

	"github.com/qsmplabs/qsmp/core/internal/codec"
	"github.com/qsmplabs/qsmp/core/internal/def"
	"github.com/qsmplabs/qsmp/core/internal/record"
)

// RatchetFunc is a hook for a future key-rotation scheme. QSMP does not
// rekey a session (see the protocol's no-rekeying non-goal); the field
// exists so a Direction swap can be wired in later without reshaping
// ConnectionState. Left nil, it is never called.
type RatchetFunc func(rx, tx *record.Direction) (newRx, newTx *record.Direction)

// State is a connection's lifecycle stage.
type State int

const (
	StateHandshaking State = iota
	StateEstablished
	StateClosed
)

// ConnectionState is one accepted connection's mutable state: its
// directional ciphers, its transport socket, and the metadata the server
// core and conntable need to manage it.
type ConnectionState struct {
	mu sync.Mutex

	InstanceID uint64
	Socket     net.Conn
	PeerAddr   string

	rx, tx     *record.Direction
	state      State
	expiration time.Time
	ratchet    RatchetFunc

	closeErr def.QSMPError
}

// New wraps an established handshake's directions into a ConnectionState
// ready for the server's receive/send loops.
func New(instanceID uint64, socket net.Conn, peerAddr string, rx, tx *record.Direction, expiration time.Time) *ConnectionState {
	return &ConnectionState{
		InstanceID: instanceID,
		Socket:     socket,
		PeerAddr:   peerAddr,
		rx:         rx,
		tx:         tx,
		state:      StateEstablished,
		expiration: expiration,
	}
}

// SetRatchet installs a future rekeying hook. Unused today; see RatchetFunc.
func (c *ConnectionState) SetRatchet(r RatchetFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ratchet = r
}

// Expired reports whether this connection has outlived its session
// expiration and should be closed by the caller's maintenance sweep.
func (c *ConnectionState) Expired(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.After(c.expiration)
}

// State returns the connection's current lifecycle stage.
func (c *ConnectionState) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Encrypt seals plaintext for sending over this connection's tx
// direction.
func (c *ConnectionState) Encrypt(flag def.Flag, plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateEstablished {
		return nil, def.ErrChannelDown
	}
	return c.tx.Encrypt(flag, plaintext)
}

// Decrypt opens a received wire record on this connection's rx direction.
func (c *ConnectionState) Decrypt(wire []byte) ([]byte, def.Flag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateEstablished {
		return nil, def.FlagErrorCondition, def.ErrChannelDown
	}
	return c.rx.Decrypt(wire)
}

// Close tears the connection down exactly once: it closes the socket,
// disposes both ciphers, and records the reason for later inspection. A
// second call is a no-op. When notify is true and the connection is still
// established, Close first makes a best-effort attempt to send a
// connection_terminate record to the peer; a send error is ignored.
func (c *ConnectionState) Close(reason def.QSMPError, notify bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	if notify && c.state == StateEstablished && c.tx != nil && c.Socket != nil {
		if wire, err := c.tx.Encrypt(def.FlagConnectionTerminate, nil); err == nil {
			c.Socket.Write(wire)
		}
	}
	c.state = StateClosed
	c.closeErr = reason
	if c.rx != nil {
		c.rx.Dispose()
	}
	if c.tx != nil {
		c.tx.Dispose()
	}
	if c.Socket != nil {
		c.Socket.Close()
	}
}

// WritePayload encrypts plaintext as an encrypted_message record and
// writes it whole to the socket, for callers relaying an arbitrary byte
// stream over the connection (see core/internal/frontend).
func (c *ConnectionState) WritePayload(plaintext []byte) error {
	wire, err := c.Encrypt(def.FlagEncryptedMessage, plaintext)
	if err != nil {
		return err
	}
	_, err = c.Socket.Write(wire)
	return err
}

// ReadPayload blocks for one full wire record and decrypts it. It returns
// def.ErrChannelDown once the peer sends connection_terminate.
func (c *ConnectionState) ReadPayload() ([]byte, error) {
	frame, err := codec.ReadFrame(c.Socket)
	if err != nil {
		return nil, err
	}
	plaintext, flag, err := c.Decrypt(frame)
	if err != nil {
		return nil, err
	}
	if flag == def.FlagConnectionTerminate {
		return nil, def.ErrChannelDown
	}
	return plaintext, nil
}

// CloseReason returns the error this connection was closed with, or
// def.ErrNone if it is still open.
func (c *ConnectionState) CloseReason() def.QSMPError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}
