// Package client drives the client side of a QSMP connection: dial a
// transport, run the handshake, and hand back a connstate.ConnectionState
// ready for Encrypt/Decrypt.
package client

import (
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/qsmplabs/qsmp/core/internal/aead"
	"github.com/qsmplabs/qsmp/core/internal/codec"
	"github.com/qsmplabs/qsmp/core/internal/connstate"
	"github.com/qsmplabs/qsmp/core/internal/kex"
	"github.com/qsmplabs/qsmp/core/internal/record"
)

// Config names the server identity a client expects to authenticate and
// the collaborators used to do it.
type Config struct {
	KeyID      [16]byte
	VerKey     []byte
	KEM        kex.KEM
	Signer     kex.Signer
	Sizes      kex.Sizes
	Expiration time.Duration // session lifetime once established; defaults to 24h
}

// Dial opens conn's handshake and returns an established ConnectionState.
// conn is already connected (see core/internal/transport for TCP/KCP
// carriers); Dial only speaks the QSMP handshake over it.
func Dial(conn net.Conn, cfg Config) (*connstate.ConnectionState, error) {
	hs := kex.NewClientHandshake(cfg.KeyID, cfg.VerKey, cfg.KEM, cfg.Signer, cfg.Sizes)

	req, err := hs.BuildConnectRequest(time.Now())
	if err != nil {
		return nil, errors.Wrap(err, "client: build connect_request")
	}
	if _, err := conn.Write(req); err != nil {
		return nil, errors.Wrap(err, "client: send connect_request")
	}

	frame, err := codec.ReadFrame(conn)
	if err != nil {
		return nil, errors.Wrap(err, "client: read connect_response")
	}
	exchangeReq, err := hs.HandleConnectResponse(frame, time.Now())
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(exchangeReq); err != nil {
		return nil, errors.Wrap(err, "client: send exchange_request")
	}

	frame, err = codec.ReadFrame(conn)
	if err != nil {
		return nil, errors.Wrap(err, "client: read exchange_response")
	}
	rx, tx, err := hs.HandleExchangeResponse(frame, func() record.AEADCipher {
		return aead.New()
	})
	if err != nil {
		return nil, err
	}

	expiration := cfg.Expiration
	if expiration == 0 {
		expiration = 24 * time.Hour
	}
	return connstate.New(0, conn, conn.RemoteAddr().String(), rx, tx, time.Now().Add(expiration)), nil
}
