// Package kschedule derives the handshake transcript hash and the
// directional traffic keys, both via SHAKE-256, per §4.C.
package kschedule

import (
	"golang.org/x/crypto/sha3"
)

const (
	// DirServerToClient and DirClientToServer label the two SHAKE-256
	// absorptions that key each direction. The server's tx uses
	// DirServerToClient, its rx uses DirClientToServer; the client uses the
	// opposite assignment so each side's tx key equals the peer's rx key.
	DirServerToClient = "server\xe2\x86\x92client"
	DirClientToServer = "client\xe2\x86\x92server"
)

// TranscriptHash computes pkh = SHAKE-256(configuration || verkey || keyid),
// the binding digest folded into every key derivation and into the
// key-confirmation tag. The signed digest is HandshakeTranscript, which does
// not include pkh.
func TranscriptHash(config, verkey, keyid []byte) [32]byte {
	return squeeze32(config, verkey, keyid)
}

// HandshakeTranscript computes the digest signed in connect_response:
// SHAKE-256(config || keyid || tok || epk).
func HandshakeTranscript(config, keyid, tok, epk []byte) [32]byte {
	return squeeze32(config, keyid, tok, epk)
}

// CombineTokens folds the client's and server's session tokens into the
// single 32-byte tok absorbed by HandshakeTranscript and DeriveKeyNonce.
// XOR keeps this a cheap, order-independent combination; either party can
// compute it as soon as it holds both tokens.
func CombineTokens(clientTok, serverTok [32]byte) [32]byte {
	var tok [32]byte
	for i := range tok {
		tok[i] = clientTok[i] ^ serverTok[i]
	}
	return tok
}

func squeeze32(parts ...[]byte) [32]byte {
	h := sha3.NewShake256()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	h.Read(out[:])
	return out
}

// DeriveKeyNonce absorbs pkh || tok || ss || direction and squeezes 64
// bytes: the first 32 become the directional key, the next 32 the
// directional nonce.
func DeriveKeyNonce(pkh, tok, ss [32]byte, direction string) (key [32]byte, nonce [32]byte) {
	h := sha3.NewShake256()
	h.Write(pkh[:])
	h.Write(tok[:])
	h.Write(ss[:])
	h.Write([]byte(direction))

	var out [64]byte
	h.Read(out[:])
	copy(key[:], out[:32])
	copy(nonce[:], out[32:])
	return key, nonce
}
