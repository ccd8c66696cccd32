package codec

import (
	"bytes"
	"testing"

	"github.com/qsmplabs/qsmp/core/internal/def"
)

func TestToStreamFromStreamRoundTrip(t *testing.T) {
	payload := []byte("hello qsmp")
	pkt := &def.Packet{
		Flag:      def.FlagEncryptedMessage,
		Sequence:  42,
		UTC:       1700000000,
		Payload:   payload,
		MsgLength: uint32(len(payload)),
	}
	wire := ToStream(pkt)

	got, err := FromStream(wire)
	if err != nil {
		t.Fatalf("FromStream: %v", err)
	}
	if got.Flag != pkt.Flag {
		t.Errorf("Flag = %v, want %v", got.Flag, pkt.Flag)
	}
	if got.Sequence != pkt.Sequence {
		t.Errorf("Sequence = %d, want %d", got.Sequence, pkt.Sequence)
	}
	if got.UTC != pkt.UTC {
		t.Errorf("UTC = %d, want %d", got.UTC, pkt.UTC)
	}
	if !bytes.Equal(got.Payload, pkt.Payload) {
		t.Errorf("Payload = %q, want %q", got.Payload, pkt.Payload)
	}
}

func TestFromStreamShortHeader(t *testing.T) {
	if _, err := FromStream(make([]byte, def.HeaderSize-1)); err != ErrInvalidInput {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestFromStreamTruncatedPayload(t *testing.T) {
	wire := ToStream(&def.Packet{Payload: []byte("0123456789"), MsgLength: 10})
	if _, err := FromStream(wire[:def.HeaderSize+5]); err != ErrInvalidInput {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestReadFrame(t *testing.T) {
	wire := ToStream(&def.Packet{Flag: def.FlagKeepAlive, Payload: []byte("ping"), MsgLength: 4})
	r := bytes.NewReader(append(wire, 0xAA, 0xBB)) // trailing bytes from the next frame

	frame, err := ReadFrame(r)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(frame, wire) {
		t.Errorf("ReadFrame returned %d bytes, want exactly the %d-byte frame", len(frame), len(wire))
	}

	rest := make([]byte, 2)
	if _, err := r.Read(rest); err != nil || !bytes.Equal(rest, []byte{0xAA, 0xBB}) {
		t.Errorf("trailing bytes not left for the next read: %v %v", rest, err)
	}
}

func TestHeaderExcludesPayload(t *testing.T) {
	pkt := &def.Packet{Flag: def.FlagAnnounce, Sequence: 7, UTC: 9, MsgLength: 3}
	h := Header(pkt)
	if len(h) != def.HeaderSize {
		t.Fatalf("len(Header) = %d, want %d", len(h), def.HeaderSize)
	}
	if def.Flag(h[0]) != def.FlagAnnounce {
		t.Errorf("header flag = %v, want %v", def.Flag(h[0]), def.FlagAnnounce)
	}
}
