// Package record implements the directional AEAD record layer: sequence
// discipline, header-as-associated-data framing and encrypt/decrypt of one
// direction of one connection. It programs only against the AEADCipher
// contract so the concrete stream cipher (see core/internal/aead) stays
// swappable, the way the teacher's transport layer programs against
// kcp.BlockCrypt rather than one hard-coded cipher.
package record

import (
	"time"

	"github.com/pkg/errors"

	"github.com/qsmplabs/qsmp/core/internal/codec"
	"github.com/qsmplabs/qsmp/core/internal/def"
)

// AEADCipher is the §6 collaborator contract for a directional authenticated
// stream cipher: one instance encrypts, or one instance decrypts, never both.
type AEADCipher interface {
	Init(key, nonce []byte, isEncrypt bool) error
	Seal(aad, plaintext []byte) (sealed []byte, err error)
	Open(aad, sealed []byte) (plaintext []byte, err error)
	Dispose()
}

// Direction is one side's cipher state: either the sender's tx state or the
// receiver's rx state. Never share one Direction between both roles.
type Direction struct {
	cipher AEADCipher
	seq    uint64
}

// NewDirection wraps an already-initialized AEADCipher with sequence
// bookkeeping. Sequence numbers start at 0 and the first record sent or
// accepted on this direction has sequence 1.
func NewDirection(cipher AEADCipher) *Direction {
	return &Direction{cipher: cipher}
}

// Seq returns the current sequence counter, mainly for tests and metrics.
func (d *Direction) Seq() uint64 { return d.seq }

// Dispose zeroes the underlying cipher state. Safe to call more than once.
func (d *Direction) Dispose() {
	if d.cipher != nil {
		d.cipher.Dispose()
	}
}

// Encrypt increments the sequence counter, builds the header, and seals
// plaintext under it with the header as associated data. It returns the
// full wire record (header || ciphertext||tag).
func (d *Direction) Encrypt(flag def.Flag, plaintext []byte) ([]byte, error) {
	d.seq++

	hdr := def.Packet{
		Flag:      flag,
		Sequence:  d.seq,
		UTC:       uint64(time.Now().Unix()),
		MsgLength: uint32(len(plaintext) + def.TagBytes),
	}
	aad := codec.Header(&hdr)

	sealed, err := d.cipher.Seal(aad, plaintext)
	if err != nil {
		return nil, errors.Wrap(err, "seal record")
	}
	if len(sealed) != int(hdr.MsgLength) {
		return nil, errors.Errorf("sealed length %d does not match declared msg_length %d", len(sealed), hdr.MsgLength)
	}

	return append(aad, sealed...), nil
}

// Decrypt parses one wire record, enforces strict sequence and clock-skew
// checks, then verifies and decrypts the payload. The sequence counter
// advances only when the whole record is accepted, so a rejected record
// never lets a replay slip through on retry.
func (d *Direction) Decrypt(wire []byte) ([]byte, def.Flag, error) {
	pkt, err := codec.FromStream(wire)
	if err != nil {
		return nil, def.FlagErrorCondition, errors.Wrap(err, "parse record")
	}

	if pkt.Sequence != d.seq+1 {
		return nil, pkt.Flag, def.ErrPacketUnsequenced
	}

	now := uint64(time.Now().Unix())
	if absDiff(now, pkt.UTC) > uint64(def.KeepaliveWindow/time.Second) {
		return nil, pkt.Flag, def.ErrPacketExpired
	}

	aad := codec.Header(pkt)
	plaintext, err := d.cipher.Open(aad, pkt.Payload)
	if err != nil {
		return nil, pkt.Flag, def.ErrAuthenticationFailure
	}

	d.seq = pkt.Sequence
	return plaintext, pkt.Flag, nil
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
