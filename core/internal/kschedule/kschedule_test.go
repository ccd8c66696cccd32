package kschedule

import (
	"bytes"
	"testing"
)

func TestTranscriptHashDeterministic(t *testing.T) {
	a := TranscriptHash([]byte("config"), []byte("verkey"), []byte("keyid"))
	b := TranscriptHash([]byte("config"), []byte("verkey"), []byte("keyid"))
	if a != b {
		t.Error("TranscriptHash is not deterministic for identical inputs")
	}

	c := TranscriptHash([]byte("config"), []byte("verkey2"), []byte("keyid"))
	if a == c {
		t.Error("TranscriptHash collided across different verkeys")
	}
}

func TestCombineTokensCommutative(t *testing.T) {
	var a, b [32]byte
	copy(a[:], bytes.Repeat([]byte{0xAA}, 32))
	copy(b[:], bytes.Repeat([]byte{0x55}, 32))

	ab := CombineTokens(a, b)
	ba := CombineTokens(b, a)
	if ab != ba {
		t.Error("CombineTokens is not order-independent")
	}

	var zero [32]byte
	if CombineTokens(a, a) != zero {
		t.Error("CombineTokens(x, x) should be all-zero for an XOR combination")
	}
}

func TestDeriveKeyNonceDirectionsDiffer(t *testing.T) {
	var pkh, tok, ss [32]byte
	copy(pkh[:], bytes.Repeat([]byte{1}, 32))
	copy(tok[:], bytes.Repeat([]byte{2}, 32))
	copy(ss[:], bytes.Repeat([]byte{3}, 32))

	s2cKey, s2cNonce := DeriveKeyNonce(pkh, tok, ss, DirServerToClient)
	c2sKey, c2sNonce := DeriveKeyNonce(pkh, tok, ss, DirClientToServer)

	if s2cKey == c2sKey {
		t.Error("server->client and client->server keys must differ")
	}
	if s2cNonce == c2sNonce {
		t.Error("server->client and client->server nonces must differ")
	}
}

func TestDeriveKeyNonceDeterministic(t *testing.T) {
	var pkh, tok, ss [32]byte
	k1, n1 := DeriveKeyNonce(pkh, tok, ss, "confirm")
	k2, n2 := DeriveKeyNonce(pkh, tok, ss, "confirm")
	if k1 != k2 || n1 != n2 {
		t.Error("DeriveKeyNonce is not deterministic for identical inputs")
	}
}
