// Package pqc wraps cloudflare/circl's ML-KEM-768 and Dilithium2
// implementations behind the kex package's KEM and Signer collaborator
// interfaces, so kex itself never imports a concrete PQC algorithm.
package pqc

import (
	"crypto/rand"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"github.com/pkg/errors"
)

// KEM implements kex.KEM with ML-KEM-768, the KEM named in
// def.DefaultConfigString.
type KEM struct{}

// GenerateKeyPair returns a fresh ML-KEM-768 key pair, packed to their wire
// sizes.
func (KEM) GenerateKeyPair() (pub, priv []byte, err error) {
	pk, sk, err := mlkem768.GenerateKeyPair(rand.Reader)
	if err != nil {
		return nil, nil, errors.Wrap(err, "mlkem768: generate key pair")
	}
	pub = make([]byte, mlkem768.PublicKeySize)
	priv = make([]byte, mlkem768.PrivateKeySize)
	pk.Pack(pub)
	sk.Pack(priv)
	return pub, priv, nil
}

// Encapsulate takes a peer's packed public key and returns a ciphertext and
// the shared secret derived from it.
func (KEM) Encapsulate(peerPub []byte) (ct, ss []byte, err error) {
	var pk mlkem768.PublicKey
	if err := pk.Unpack(peerPub); err != nil {
		return nil, nil, errors.Wrap(err, "mlkem768: unpack peer public key")
	}
	ct = make([]byte, mlkem768.CiphertextSize)
	ss = make([]byte, mlkem768.SharedKeySize)
	pk.EncapsulateTo(ct, ss, nil)
	return ct, ss, nil
}

// Decapsulate recovers the shared secret from a ciphertext using the local
// packed private key.
func (KEM) Decapsulate(priv, ct []byte) (ss []byte, err error) {
	var sk mlkem768.PrivateKey
	if err := sk.Unpack(priv); err != nil {
		return nil, errors.Wrap(err, "mlkem768: unpack private key")
	}
	ss = make([]byte, mlkem768.SharedKeySize)
	sk.DecapsulateTo(ss, ct)
	return ss, nil
}

// PublicKeySize and CiphertextSize let kex size its wire buffers without
// importing mlkem768 directly.
const (
	PublicKeySize  = mlkem768.PublicKeySize
	PrivateKeySize = mlkem768.PrivateKeySize
	CiphertextSize = mlkem768.CiphertextSize
	SharedKeySize  = mlkem768.SharedKeySize
)
