package connstate

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/qsmplabs/qsmp/core/internal/aead"
	"github.com/qsmplabs/qsmp/core/internal/def"
	"github.com/qsmplabs/qsmp/core/internal/record"
)

func newEstablishedPair(t *testing.T) (client, server *ConnectionState) {
	t.Helper()
	key := bytes.Repeat([]byte{0x09}, 32)
	nonceAB := bytes.Repeat([]byte{0x0A}, 24)
	nonceBA := bytes.Repeat([]byte{0x0B}, 24)

	c1, c2 := net.Pipe()

	aTx := aead.New()
	aTx.Init(key, nonceAB, true)
	aRx := aead.New()
	aRx.Init(key, nonceBA, false)

	bTx := aead.New()
	bTx.Init(key, nonceBA, true)
	bRx := aead.New()
	bRx.Init(key, nonceAB, false)

	client = New(1, c1, "client", record.NewDirection(aRx), record.NewDirection(aTx), time.Now().Add(time.Hour))
	server = New(2, c2, "server", record.NewDirection(bRx), record.NewDirection(bTx), time.Now().Add(time.Hour))
	return client, server
}

func TestWritePayloadReadPayloadRoundTrip(t *testing.T) {
	client, server := newEstablishedPair(t)
	defer client.Close(def.ErrNone, false)
	defer server.Close(def.ErrNone, false)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := client.WritePayload([]byte("hello server")); err != nil {
			t.Errorf("WritePayload: %v", err)
		}
	}()

	got, err := server.ReadPayload()
	if err != nil {
		t.Fatalf("ReadPayload: %v", err)
	}
	if string(got) != "hello server" {
		t.Errorf("ReadPayload = %q, want %q", got, "hello server")
	}
	<-done
}

func TestCloseIsIdempotentAndRecordsReason(t *testing.T) {
	client, server := newEstablishedPair(t)
	defer server.Close(def.ErrNone, false)

	client.Close(def.ErrChannelDown, false)
	client.Close(def.ErrAuthenticationFailure, false) // second call must be a no-op

	if client.CloseReason() != def.ErrChannelDown {
		t.Errorf("CloseReason() = %v, want ErrChannelDown from the first Close", client.CloseReason())
	}
	if client.State() != StateClosed {
		t.Errorf("State() = %v, want StateClosed", client.State())
	}
}

func TestEncryptFailsAfterClose(t *testing.T) {
	client, server := newEstablishedPair(t)
	defer server.Close(def.ErrNone, false)

	client.Close(def.ErrChannelDown, false)
	if _, err := client.Encrypt(def.FlagEncryptedMessage, []byte("x")); err != def.ErrChannelDown {
		t.Errorf("Encrypt after Close err = %v, want ErrChannelDown", err)
	}
}

func TestExpired(t *testing.T) {
	c1, c2 := net.Pipe()
	go c2.Close()
	cs := New(1, c1, "peer", nil, nil, time.Now().Add(-time.Second))
	defer cs.Close(def.ErrNone, false)

	if !cs.Expired(time.Now()) {
		t.Error("Expired() = false for a connection past its expiration")
	}
}
