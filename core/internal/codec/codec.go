// Package codec serializes and parses QSMP wire records. It does no
// semantic validation beyond length checks; sequence, timestamp and
// authentication checks belong to the record and kex packages.
package codec

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/qsmplabs/qsmp/core/internal/def"
)

// ErrInvalidInput is returned when the wire bytes are too short to contain a
// header, or too short to contain the payload the header declares.
var ErrInvalidInput = errors.New("invalid_input")

// ToStream serializes a packet as header || payload, all little-endian.
// The wire msg_length field is taken verbatim from p.MsgLength, not
// recomputed from len(p.Payload): record.Encrypt builds a header for the
// AAD before the sealed payload exists, so the field is the only
// authoritative source of the declared length.
func ToStream(p *def.Packet) []byte {
	out := make([]byte, def.HeaderSize+len(p.Payload))
	out[0] = byte(p.Flag)
	binary.LittleEndian.PutUint64(out[1:9], p.Sequence)
	binary.LittleEndian.PutUint64(out[9:17], p.UTC)
	binary.LittleEndian.PutUint32(out[17:21], p.MsgLength)
	copy(out[def.HeaderSize:], p.Payload)
	return out
}

// FromStream parses a complete wire record. The caller (the transport
// adapter for stream sockets) is responsible for buffering until
// HeaderSize+msg_length bytes are available; FromStream never partial-reads.
func FromStream(b []byte) (*def.Packet, error) {
	if len(b) < def.HeaderSize {
		return nil, ErrInvalidInput
	}

	p := &def.Packet{
		Flag:     def.Flag(b[0]),
		Sequence: binary.LittleEndian.Uint64(b[1:9]),
		UTC:      binary.LittleEndian.Uint64(b[9:17]),
	}
	p.MsgLength = binary.LittleEndian.Uint32(b[17:21])

	if uint64(len(b)) < uint64(def.HeaderSize)+uint64(p.MsgLength) {
		return nil, ErrInvalidInput
	}

	p.Payload = make([]byte, p.MsgLength)
	copy(p.Payload, b[def.HeaderSize:def.HeaderSize+p.MsgLength])
	return p, nil
}

// ReadFrame reads exactly one wire record off a byte stream: HeaderSize
// bytes of header, then whatever length the header's msg_length field
// declares. It is the stream-socket counterpart of FromStream, which
// expects its caller to already know where one record ends.
func ReadFrame(r io.Reader) ([]byte, error) {
	hdr := make([]byte, def.HeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	msgLen := binary.LittleEndian.Uint32(hdr[17:21])

	frame := make([]byte, def.HeaderSize+int(msgLen))
	copy(frame, hdr)
	if _, err := io.ReadFull(r, frame[def.HeaderSize:]); err != nil {
		return nil, err
	}
	return frame, nil
}

// Header returns the first HeaderSize bytes of a packet's wire encoding,
// used verbatim as AEAD associated data.
func Header(p *def.Packet) []byte {
	return ToStream(&def.Packet{Flag: p.Flag, Sequence: p.Sequence, UTC: p.UTC, MsgLength: p.MsgLength})[:def.HeaderSize]
}
