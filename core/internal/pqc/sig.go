package pqc

import (
	"crypto/rand"

	"github.com/cloudflare/circl/sign/dilithium/mode2"
	"github.com/pkg/errors"
)

// Signer implements kex.Signer with Dilithium2, the signature scheme named
// in def.DefaultConfigString. The server's long-term identity key is a
// Dilithium2 pair; the client verifies connect_response against the
// operator-distributed verification key, never generating a signing key of
// its own (QSMP is server-authenticated, client-anonymous).
type Signer struct{}

// GenerateKey returns a fresh Dilithium2 signing key pair.
func (Signer) GenerateKey() (pub, priv []byte, err error) {
	pk, sk, err := mode2.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, errors.Wrap(err, "dilithium2: generate key")
	}
	var pubBuf [mode2.PublicKeySize]byte
	var privBuf [mode2.PrivateKeySize]byte
	pk.Pack(&pubBuf)
	sk.Pack(&privBuf)
	return pubBuf[:], privBuf[:], nil
}

// Sign produces a detached Dilithium2 signature over msg.
func (Signer) Sign(priv, msg []byte) ([]byte, error) {
	if len(priv) != mode2.PrivateKeySize {
		return nil, errors.Errorf("dilithium2: private key must be %d bytes, got %d", mode2.PrivateKeySize, len(priv))
	}
	sk := mode2.PrivateKeyFromBytes(priv)
	sig := make([]byte, mode2.SignatureSize)
	mode2.SignTo(sk, msg, sig)
	return sig, nil
}

// Verify checks a detached Dilithium2 signature against a packed public key.
func (Signer) Verify(pub, msg, sig []byte) bool {
	if len(pub) != mode2.PublicKeySize {
		return false
	}
	pk := mode2.PublicKeyFromBytes(pub)
	return mode2.Verify(pk, msg, sig)
}

// SigPublicKeySize and SignatureSize let kex size its wire buffers without
// importing mode2 directly.
const (
	SigPublicKeySize  = mode2.PublicKeySize
	SigPrivateKeySize = mode2.PrivateKeySize
	SignatureSize     = mode2.SignatureSize
)
