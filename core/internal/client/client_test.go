package client

import (
	"net"
	"testing"

	"github.com/qsmplabs/qsmp/core/internal/codec"
	"github.com/qsmplabs/qsmp/core/internal/def"
	"github.com/qsmplabs/qsmp/core/internal/kex"
	"github.com/qsmplabs/qsmp/core/internal/pqc"
)

func TestDialFailsOnUnexpectedConnectResponseFlag(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()

	go func() {
		// Drain the real connect_request, then answer with a nonsense flag.
		codec.ReadFrame(serverConn)
		bogus := codec.ToStream(&def.Packet{Flag: def.FlagErrorCondition, Payload: []byte("nope"), MsgLength: 4})
		serverConn.Write(bogus)
	}()

	var keyID [16]byte
	copy(keyID[:], []byte("0123456789abcdef"))

	_, err := Dial(clientConn, Config{
		KeyID:  keyID,
		VerKey: []byte("irrelevant"),
		KEM:    pqc.KEM{},
		Signer: pqc.Signer{},
		Sizes: kex.Sizes{
			KEMPublicKeySize:  pqc.PublicKeySize,
			KEMCiphertextSize: pqc.CiphertextSize,
			SignatureSize:     pqc.SignatureSize,
		},
	})
	if err != def.ErrConnectionFailure {
		t.Errorf("err = %v, want ErrConnectionFailure", err)
	}
}
