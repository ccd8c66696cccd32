// Package kex drives the simplex key-exchange state machine: a
// four-message handshake (connect_request, connect_response,
// exchange_request, exchange_response) that authenticates the server to
// the client with a post-quantum signature, agrees a shared secret with a
// post-quantum KEM, and binds both to a SHAKE-256 transcript hash. The
// client never authenticates; see def.DefaultConfigString for the
// algorithm names this binds into the transcript.
package kex

import (
	"crypto/subtle"
	"time"

	"github.com/pkg/errors"

	"github.com/qsmplabs/qsmp/core/internal/aead"
	"github.com/qsmplabs/qsmp/core/internal/codec"
	"github.com/qsmplabs/qsmp/core/internal/def"
	"github.com/qsmplabs/qsmp/core/internal/kschedule"
	"github.com/qsmplabs/qsmp/core/internal/record"
)

// KEM is the §6 collaborator contract for the post-quantum key
// encapsulation mechanism. core/internal/pqc.KEM implements it with
// ML-KEM-768.
type KEM interface {
	GenerateKeyPair() (pub, priv []byte, err error)
	Encapsulate(peerPub []byte) (ct, ss []byte, err error)
	Decapsulate(priv, ct []byte) (ss []byte, err error)
}

// Signer is the §6 collaborator contract for the server's long-term
// identity signature scheme. core/internal/pqc.Signer implements it with
// Dilithium2.
type Signer interface {
	GenerateKey() (pub, priv []byte, err error)
	Sign(priv, msg []byte) (sig []byte, err error)
	Verify(pub, msg, sig []byte) bool
}

// ServerKey is one server identity: a Dilithium2 signing key bound to a
// key_id, with an expiration the handshake enforces on every
// connect_request. A deployment rotates identities by minting a new
// ServerKey and retiring the old key_id once its Expiration passes.
type ServerKey struct {
	KeyID      [16]byte
	SigPriv    []byte
	VerKey     []byte
	Expiration time.Time
}

// Sizes for the fixed-width fields of the handshake wire payloads. The KEM
// public key, ciphertext and signature sizes come from the configured
// collaborators and are supplied by the caller since kex does not import a
// concrete algorithm package.
type Sizes struct {
	KEMPublicKeySize int
	KEMCiphertextSize int
	SignatureSize     int
}

// ServerHandshake runs the server side of one connection's key exchange.
// One instance is good for exactly one handshake; discard it once
// HandleExchangeRequest returns or the connection is closed on error.
type ServerHandshake struct {
	kem    KEM
	signer Signer
	sizes  Sizes
	key    ServerKey

	serverTok [32]byte
	epk       []byte
	epriv     []byte
	pkh       [32]byte
	clientTok [32]byte
}

// NewServerHandshake prepares a handshake driver bound to one server
// identity.
func NewServerHandshake(key ServerKey, kem KEM, signer Signer, sizes Sizes) *ServerHandshake {
	return &ServerHandshake{kem: kem, signer: signer, sizes: sizes, key: key}
}

// HandleConnectRequest validates an incoming connect_request and returns
// the wire bytes of the connect_response. now is injected so tests can
// control the clock-skew check deterministically.
func (s *ServerHandshake) HandleConnectRequest(wire []byte, now time.Time) ([]byte, error) {
	pkt, err := codec.FromStream(wire)
	if err != nil {
		return nil, errors.Wrap(err, "kex: parse connect_request")
	}
	if pkt.Flag != def.FlagConnectRequest {
		return nil, def.ErrConnectionFailure
	}
	if absDuration(now, time.Unix(int64(pkt.UTC), 0)) > def.HandshakeSkew {
		return nil, def.ErrPacketTimeInvalid
	}

	configLen := len(def.DefaultConfigString)
	if len(pkt.Payload) != configLen+def.KeyIDSize+def.STokenSize {
		return nil, def.ErrUnknownProtocol
	}
	config := pkt.Payload[:configLen]
	keyID := pkt.Payload[configLen : configLen+def.KeyIDSize]
	copy(s.clientTok[:], pkt.Payload[configLen+def.KeyIDSize:])

	if string(config) != def.DefaultConfigString {
		return nil, def.ErrUnknownProtocol
	}
	if subtle.ConstantTimeCompare(keyID, s.key.KeyID[:]) != 1 {
		return nil, def.ErrKeyNotRecognized
	}
	if now.After(s.key.Expiration) {
		return nil, def.ErrExpiredKey
	}

	if err := aead.RandomBytes(s.serverTok[:]); err != nil {
		return nil, errors.Wrap(err, "kex: generate server token")
	}
	epk, epriv, err := s.kem.GenerateKeyPair()
	if err != nil {
		return nil, errors.Wrap(err, "kex: generate ephemeral KEM key")
	}
	s.epk, s.epriv = epk, epriv

	s.pkh = kschedule.TranscriptHash([]byte(def.DefaultConfigString), s.key.VerKey, s.key.KeyID[:])
	tok := kschedule.CombineTokens(s.clientTok, s.serverTok)
	transcript := kschedule.HandshakeTranscript([]byte(def.DefaultConfigString), s.key.KeyID[:], tok[:], s.epk)

	sig, err := s.signer.Sign(s.key.SigPriv, transcript[:])
	if err != nil {
		return nil, errors.Wrap(err, "kex: sign handshake transcript")
	}

	payload := make([]byte, 0, def.KeyIDSize+def.STokenSize+len(epk)+len(sig))
	payload = append(payload, s.key.KeyID[:]...)
	payload = append(payload, s.serverTok[:]...)
	payload = append(payload, epk...)
	payload = append(payload, sig...)

	resp := codec.ToStream(&def.Packet{
		Flag:      def.FlagConnectResponse,
		Sequence:  1,
		UTC:       uint64(now.Unix()),
		Payload:   payload,
		MsgLength: uint32(len(payload)),
	})
	return resp, nil
}

// HandleExchangeRequest consumes the client's KEM ciphertext, derives both
// directions' traffic keys, and returns the exchange_response wire bytes
// plus ready-to-use record.Direction values for the connection's rx/tx.
func (s *ServerHandshake) HandleExchangeRequest(wire []byte, now time.Time, newCipher func() record.AEADCipher) (respWire []byte, rx, tx *record.Direction, err error) {
	pkt, err := codec.FromStream(wire)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "kex: parse exchange_request")
	}
	if pkt.Flag != def.FlagExchangeRequest {
		return nil, nil, nil, def.ErrConnectionFailure
	}
	if len(pkt.Payload) != s.sizes.KEMCiphertextSize {
		return nil, nil, nil, def.ErrConnectionFailure
	}

	ss, err := s.kem.Decapsulate(s.epriv, pkt.Payload)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "kex: decapsulate")
	}
	var ssArr [32]byte
	copy(ssArr[:], ss)
	tok := kschedule.CombineTokens(s.clientTok, s.serverTok)

	rx, tx, err = directionsFromSecret(s.pkh, tok, ssArr, true, newCipher)
	if err != nil {
		return nil, nil, nil, err
	}

	confirm := confirmationTag(s.pkh, tok, ssArr)
	resp := codec.ToStream(&def.Packet{
		Flag:      def.FlagExchangeResponse,
		Sequence:  2,
		UTC:       uint64(now.Unix()),
		Payload:   confirm[:],
		MsgLength: uint32(len(confirm)),
	})

	zero(s.epriv)
	zero(ssArr[:])
	return resp, rx, tx, nil
}

// ClientHandshake runs the client side of one connection's key exchange.
// The client holds no identity key of its own; it authenticates the
// server via VerKey, an out-of-band-distributed Dilithium2 public key.
type ClientHandshake struct {
	kem    KEM
	signer Signer
	sizes  Sizes
	verKey []byte

	keyID     [16]byte
	clientTok [32]byte
	serverTok [32]byte
	pkh       [32]byte
	pendingSS []byte
}

// NewClientHandshake prepares a handshake driver that will authenticate
// the server against verKey when requesting keyID.
func NewClientHandshake(keyID [16]byte, verKey []byte, kem KEM, signer Signer, sizes Sizes) *ClientHandshake {
	return &ClientHandshake{kem: kem, signer: signer, sizes: sizes, verKey: verKey, keyID: keyID}
}

// BuildConnectRequest returns the wire bytes of a connect_request.
func (c *ClientHandshake) BuildConnectRequest(now time.Time) ([]byte, error) {
	if err := aead.RandomBytes(c.clientTok[:]); err != nil {
		return nil, errors.Wrap(err, "kex: generate client token")
	}
	payload := make([]byte, 0, len(def.DefaultConfigString)+def.KeyIDSize+def.STokenSize)
	payload = append(payload, []byte(def.DefaultConfigString)...)
	payload = append(payload, c.keyID[:]...)
	payload = append(payload, c.clientTok[:]...)

	return codec.ToStream(&def.Packet{
		Flag:      def.FlagConnectRequest,
		Sequence:  0,
		UTC:       uint64(now.Unix()),
		Payload:   payload,
		MsgLength: uint32(len(payload)),
	}), nil
}

// HandleConnectResponse verifies the server's signature over the
// handshake transcript and returns the wire bytes of the exchange_request.
func (c *ClientHandshake) HandleConnectResponse(wire []byte, now time.Time) ([]byte, error) {
	pkt, err := codec.FromStream(wire)
	if err != nil {
		return nil, errors.Wrap(err, "kex: parse connect_response")
	}
	if pkt.Flag != def.FlagConnectResponse {
		return nil, def.ErrConnectionFailure
	}
	if absDuration(now, time.Unix(int64(pkt.UTC), 0)) > def.HandshakeSkew {
		return nil, def.ErrPacketTimeInvalid
	}

	want := def.KeyIDSize + def.STokenSize + c.sizes.KEMPublicKeySize + c.sizes.SignatureSize
	if len(pkt.Payload) != want {
		return nil, def.ErrConnectionFailure
	}
	off := 0
	keyID := pkt.Payload[off : off+def.KeyIDSize]
	off += def.KeyIDSize
	copy(c.serverTok[:], pkt.Payload[off:off+def.STokenSize])
	off += def.STokenSize
	epk := pkt.Payload[off : off+c.sizes.KEMPublicKeySize]
	off += c.sizes.KEMPublicKeySize
	sig := pkt.Payload[off : off+c.sizes.SignatureSize]

	if subtle.ConstantTimeCompare(keyID, c.keyID[:]) != 1 {
		return nil, def.ErrKeyNotRecognized
	}

	c.pkh = kschedule.TranscriptHash([]byte(def.DefaultConfigString), c.verKey, c.keyID[:])
	tok := kschedule.CombineTokens(c.clientTok, c.serverTok)
	transcript := kschedule.HandshakeTranscript([]byte(def.DefaultConfigString), c.keyID[:], tok[:], epk)

	if !c.signer.Verify(c.verKey, transcript[:], sig) {
		return nil, def.ErrAuthenticationFailure
	}

	ct, ss, err := c.kem.Encapsulate(epk)
	if err != nil {
		return nil, errors.Wrap(err, "kex: encapsulate")
	}
	c.pendingSS = ss

	return codec.ToStream(&def.Packet{
		Flag:      def.FlagExchangeRequest,
		Sequence:  1,
		UTC:       uint64(now.Unix()),
		Payload:   ct,
		MsgLength: uint32(len(ct)),
	}), nil
}

// HandleExchangeResponse verifies the server's key-confirmation tag and
// returns ready-to-use record.Direction values for the connection's
// rx/tx, from the client's point of view (its tx is the server's rx).
func (c *ClientHandshake) HandleExchangeResponse(wire []byte, newCipher func() record.AEADCipher) (rx, tx *record.Direction, err error) {
	pkt, err := codec.FromStream(wire)
	if err != nil {
		return nil, nil, errors.Wrap(err, "kex: parse exchange_response")
	}
	if pkt.Flag != def.FlagExchangeResponse {
		return nil, nil, def.ErrConnectionFailure
	}

	var ssArr [32]byte
	copy(ssArr[:], c.pendingSS)
	tok := kschedule.CombineTokens(c.clientTok, c.serverTok)

	want := confirmationTag(c.pkh, tok, ssArr)
	if subtle.ConstantTimeCompare(pkt.Payload, want[:]) != 1 {
		return nil, nil, def.ErrAuthenticationFailure
	}

	rx, tx, err = directionsFromSecret(c.pkh, tok, ssArr, false, newCipher)
	zero(c.pendingSS)
	zero(ssArr[:])
	return rx, tx, err
}

// directionsFromSecret derives both directions' keys and nonces and
// returns them as the caller's (rx, tx) pair. isServer selects which side
// of the server->client / client->server labeling is "mine" vs "theirs".
func directionsFromSecret(pkh, tok, ss [32]byte, isServer bool, newCipher func() record.AEADCipher) (rx, tx *record.Direction, err error) {
	s2cKey, s2cNonce := kschedule.DeriveKeyNonce(pkh, tok, ss, kschedule.DirServerToClient)
	c2sKey, c2sNonce := kschedule.DeriveKeyNonce(pkh, tok, ss, kschedule.DirClientToServer)

	var txKey, txNonce, rxKey, rxNonce [32]byte
	if isServer {
		txKey, txNonce = s2cKey, s2cNonce
		rxKey, rxNonce = c2sKey, c2sNonce
	} else {
		txKey, txNonce = c2sKey, c2sNonce
		rxKey, rxNonce = s2cKey, s2cNonce
	}

	txCipher := newCipher()
	if err := txCipher.Init(txKey[:], txNonce[:], true); err != nil {
		return nil, nil, errors.Wrap(err, "kex: init tx cipher")
	}
	rxCipher := newCipher()
	if err := rxCipher.Init(rxKey[:], rxNonce[:], false); err != nil {
		return nil, nil, errors.Wrap(err, "kex: init rx cipher")
	}

	zero(txKey[:])
	zero(txNonce[:])
	zero(rxKey[:])
	zero(rxNonce[:])

	return record.NewDirection(rxCipher), record.NewDirection(txCipher), nil
}

// confirmationTag binds both sides to the same derived secret without
// leaking it: SHAKE-256(pkh || tok || ss || "confirm").
func confirmationTag(pkh, tok, ss [32]byte) [32]byte {
	key, _ := kschedule.DeriveKeyNonce(pkh, tok, ss, "confirm")
	return key
}

func absDuration(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
