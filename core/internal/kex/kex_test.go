package kex

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/qsmplabs/qsmp/core/internal/aead"
	"github.com/qsmplabs/qsmp/core/internal/def"
	"github.com/qsmplabs/qsmp/core/internal/record"
)

// fakeKEM is a toy Diffie-Hellman-shaped stand-in for pqc.KEM: small and
// fast enough for table-driven handshake tests, not a real KEM.
type fakeKEM struct{}

func (fakeKEM) GenerateKeyPair() (pub, priv []byte, err error) {
	priv = make([]byte, 32)
	if _, err := rand.Read(priv); err != nil {
		return nil, nil, err
	}
	pub = make([]byte, 32)
	copy(pub, priv) // toy: "public key" equals private key, good enough to test wiring
	return pub, priv, nil
}

func (fakeKEM) Encapsulate(peerPub []byte) (ct, ss []byte, err error) {
	ct = make([]byte, 32)
	if _, err := rand.Read(ct); err != nil {
		return nil, nil, err
	}
	ss = make([]byte, 32)
	for i := range ss {
		ss[i] = peerPub[i] ^ ct[i]
	}
	return ct, ss, nil
}

func (fakeKEM) Decapsulate(priv, ct []byte) (ss []byte, err error) {
	ss = make([]byte, 32)
	for i := range ss {
		ss[i] = priv[i] ^ ct[i]
	}
	return ss, nil
}

// fakeSigner is an unauthenticated stand-in for pqc.Signer: "signs" by
// returning a copy of the private key, ignoring the message, and "verifies"
// by comparing the signature byte for byte against the public key (its
// GenerateKey returns the same bytes for both).
type fakeSigner struct{}

func (fakeSigner) GenerateKey() (pub, priv []byte, err error) {
	priv = []byte("fake-signing-key")
	return priv, priv, nil
}

func (fakeSigner) Sign(priv, msg []byte) ([]byte, error) {
	sig := make([]byte, len(priv))
	copy(sig, priv)
	return sig, nil
}

func (fakeSigner) Verify(pub, msg, sig []byte) bool {
	if len(sig) != len(pub) {
		return false
	}
	for i := range sig {
		if sig[i] != pub[i] {
			return false
		}
	}
	return true
}

func testSizes() Sizes {
	return Sizes{KEMPublicKeySize: 32, KEMCiphertextSize: 32, SignatureSize: 16}
}

func testServerKey(t *testing.T) ServerKey {
	t.Helper()
	var key ServerKey
	copy(key.KeyID[:], []byte("0123456789abcdef"))
	key.SigPriv = []byte("fake-signing-key")
	key.VerKey = []byte("fake-signing-key")
	key.Expiration = time.Now().Add(time.Hour)
	return key
}

func newCipher() record.AEADCipher { return aead.New() }

func TestHandshakeEndToEnd(t *testing.T) {
	key := testServerKey(t)
	server := NewServerHandshake(key, fakeKEM{}, fakeSigner{}, testSizes())
	client := NewClientHandshake(key.KeyID, key.VerKey, fakeKEM{}, fakeSigner{}, testSizes())

	now := time.Now()

	req, err := client.BuildConnectRequest(now)
	if err != nil {
		t.Fatalf("BuildConnectRequest: %v", err)
	}

	connectResp, err := server.HandleConnectRequest(req, now)
	if err != nil {
		t.Fatalf("HandleConnectRequest: %v", err)
	}

	exchangeReq, err := client.HandleConnectResponse(connectResp, now)
	if err != nil {
		t.Fatalf("HandleConnectResponse: %v", err)
	}

	exchangeResp, serverRx, serverTx, err := server.HandleExchangeRequest(exchangeReq, now, newCipher)
	if err != nil {
		t.Fatalf("HandleExchangeRequest: %v", err)
	}

	clientRx, clientTx, err := client.HandleExchangeResponse(exchangeResp, newCipher)
	if err != nil {
		t.Fatalf("HandleExchangeResponse: %v", err)
	}

	// The client's tx must be decryptable by the server's rx, and vice versa.
	wire, err := clientTx.Encrypt(def.FlagEncryptedMessage, []byte("ping"))
	if err != nil {
		t.Fatalf("client tx Encrypt: %v", err)
	}
	plaintext, _, err := serverRx.Decrypt(wire)
	if err != nil {
		t.Fatalf("server rx Decrypt: %v", err)
	}
	if string(plaintext) != "ping" {
		t.Errorf("server decrypted %q, want %q", plaintext, "ping")
	}

	wire, err = serverTx.Encrypt(def.FlagEncryptedMessage, []byte("pong"))
	if err != nil {
		t.Fatalf("server tx Encrypt: %v", err)
	}
	plaintext, _, err = clientRx.Decrypt(wire)
	if err != nil {
		t.Fatalf("client rx Decrypt: %v", err)
	}
	if string(plaintext) != "pong" {
		t.Errorf("client decrypted %q, want %q", plaintext, "pong")
	}
}

func TestHandleConnectRequestRejectsWrongKeyID(t *testing.T) {
	key := testServerKey(t)
	server := NewServerHandshake(key, fakeKEM{}, fakeSigner{}, testSizes())

	var wrongID [16]byte
	copy(wrongID[:], []byte("fedcba9876543210"))
	client := NewClientHandshake(wrongID, key.VerKey, fakeKEM{}, fakeSigner{}, testSizes())

	req, _ := client.BuildConnectRequest(time.Now())
	if _, err := server.HandleConnectRequest(req, time.Now()); err != def.ErrKeyNotRecognized {
		t.Errorf("err = %v, want ErrKeyNotRecognized", err)
	}
}

func TestHandleConnectRequestRejectsExpiredKey(t *testing.T) {
	key := testServerKey(t)
	key.Expiration = time.Now().Add(-time.Hour)
	server := NewServerHandshake(key, fakeKEM{}, fakeSigner{}, testSizes())
	client := NewClientHandshake(key.KeyID, key.VerKey, fakeKEM{}, fakeSigner{}, testSizes())

	req, _ := client.BuildConnectRequest(time.Now())
	if _, err := server.HandleConnectRequest(req, time.Now()); err != def.ErrExpiredKey {
		t.Errorf("err = %v, want ErrExpiredKey", err)
	}
}

func TestHandleConnectRequestRejectsClockSkew(t *testing.T) {
	key := testServerKey(t)
	server := NewServerHandshake(key, fakeKEM{}, fakeSigner{}, testSizes())
	client := NewClientHandshake(key.KeyID, key.VerKey, fakeKEM{}, fakeSigner{}, testSizes())

	req, _ := client.BuildConnectRequest(time.Now().Add(-time.Hour))
	if _, err := server.HandleConnectRequest(req, time.Now()); err != def.ErrPacketTimeInvalid {
		t.Errorf("err = %v, want ErrPacketTimeInvalid", err)
	}
}

func TestHandleConnectResponseRejectsBadSignature(t *testing.T) {
	key := testServerKey(t)
	server := NewServerHandshake(key, fakeKEM{}, fakeSigner{}, testSizes())
	client := NewClientHandshake(key.KeyID, []byte("not-the-real-verkey!!!!"), fakeKEM{}, fakeSigner{}, testSizes())

	now := time.Now()
	req, _ := client.BuildConnectRequest(now)
	connectResp, err := server.HandleConnectRequest(req, now)
	if err != nil {
		t.Fatalf("HandleConnectRequest: %v", err)
	}

	if _, err := client.HandleConnectResponse(connectResp, now); err != def.ErrAuthenticationFailure {
		t.Errorf("err = %v, want ErrAuthenticationFailure", err)
	}
}

func TestHandleExchangeResponseRejectsTamperedTag(t *testing.T) {
	key := testServerKey(t)
	server := NewServerHandshake(key, fakeKEM{}, fakeSigner{}, testSizes())
	client := NewClientHandshake(key.KeyID, key.VerKey, fakeKEM{}, fakeSigner{}, testSizes())

	now := time.Now()
	req, _ := client.BuildConnectRequest(now)
	connectResp, _ := server.HandleConnectRequest(req, now)
	exchangeReq, _ := client.HandleConnectResponse(connectResp, now)
	exchangeResp, _, _, _ := server.HandleExchangeRequest(exchangeReq, now, newCipher)

	tampered := append([]byte(nil), exchangeResp...)
	tampered[len(tampered)-1] ^= 0xFF

	if _, _, err := client.HandleExchangeResponse(tampered, newCipher); err != def.ErrAuthenticationFailure {
		t.Errorf("err = %v, want ErrAuthenticationFailure", err)
	}
}
