package frontend

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/qsmplabs/qsmp/core/internal/aead"
	"github.com/qsmplabs/qsmp/core/internal/connstate"
	"github.com/qsmplabs/qsmp/core/internal/record"
)

// pairedConnState builds two connstate.ConnectionState values wired to each
// other over net.Pipe, so a test can play both the local-proxy side and the
// "remote QSMP server" side of FixedTarget's relay.
func pairedConnState(t *testing.T) (near, far *connstate.ConnectionState) {
	t.Helper()
	key := bytes.Repeat([]byte{0x07}, 32)
	nonceAB := bytes.Repeat([]byte{0x08}, 24)
	nonceBA := bytes.Repeat([]byte{0x09}, 24)

	c1, c2 := net.Pipe()

	aTx, aRx := aead.New(), aead.New()
	aTx.Init(key, nonceAB, true)
	aRx.Init(key, nonceBA, false)
	bTx, bRx := aead.New(), aead.New()
	bTx.Init(key, nonceBA, true)
	bRx.Init(key, nonceAB, false)

	near = connstate.New(1, c1, "near", record.NewDirection(aRx), record.NewDirection(aTx), time.Now().Add(time.Hour))
	far = connstate.New(2, c2, "far", record.NewDirection(bRx), record.NewDirection(bTx), time.Now().Add(time.Hour))
	return near, far
}

func TestFixedTargetRelaysBothDirections(t *testing.T) {
	near, far := pairedConnState(t)
	defer near.Close(0, false)
	defer far.Close(0, false)

	// Drain the target-address frame FixedTarget's handler writes before
	// the relay starts, then echo whatever the local side sends.
	go func() {
		far.ReadPayload() // target address
		for {
			payload, err := far.ReadPayload()
			if err != nil {
				return
			}
			if err := far.WritePayload(payload); err != nil {
				return
			}
		}
	}()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := lis.Addr().String()
	lis.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialed := make(chan struct{}, 1)
	go FixedTarget(ctx, addr, "127.0.0.1:9", func() (*connstate.ConnectionState, error) {
		dialed <- struct{}{}
		return near, nil
	})

	var conn net.Conn
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial local proxy: %v", err)
	}
	defer conn.Close()

	<-dialed

	if _, err := conn.Write([]byte("echo me")); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, 32)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "echo me" {
		t.Errorf("got %q, want %q", buf[:n], "echo me")
	}
}
