package conntable

import (
	"net"
	"testing"
	"time"

	"github.com/qsmplabs/qsmp/core/internal/connstate"
	"github.com/qsmplabs/qsmp/core/internal/def"
)

func newConnState() *connstate.ConnectionState {
	c1, c2 := net.Pipe()
	go c2.Close()
	return connstate.New(0, c1, "peer", nil, nil, time.Now().Add(time.Hour))
}

func TestInsertAssignsMonotonicIDs(t *testing.T) {
	tb := New(4, 4)

	id1, err := tb.Insert(newConnState())
	if err != nil {
		t.Fatalf("Insert 1: %v", err)
	}
	id2, err := tb.Insert(newConnState())
	if err != nil {
		t.Fatalf("Insert 2: %v", err)
	}
	if id2 <= id1 {
		t.Errorf("id2 = %d, want strictly greater than id1 = %d", id2, id1)
	}
}

func TestInsertEnforcesMax(t *testing.T) {
	tb := New(1, 1)
	if _, err := tb.Insert(newConnState()); err != nil {
		t.Fatalf("Insert 1: %v", err)
	}
	if _, err := tb.Insert(newConnState()); err != def.ErrHostsExceeded {
		t.Errorf("err = %v, want ErrHostsExceeded", err)
	}
}

func TestRemoveIDNeverReused(t *testing.T) {
	tb := New(2, 2)
	id1, _ := tb.Insert(newConnState())
	tb.Remove(id1, def.ErrChannelDown)

	id2, err := tb.Insert(newConnState())
	if err != nil {
		t.Fatalf("Insert after remove: %v", err)
	}
	if id2 == id1 {
		t.Error("a removed instance ID was reused")
	}
	if tb.Get(id1) != nil {
		t.Error("Get still returns the removed connection")
	}
}

func TestDisposeClosesAndEmpties(t *testing.T) {
	tb := New(2, 2)
	tb.Insert(newConnState())
	tb.Insert(newConnState())

	tb.Dispose(def.ErrChannelDown)
	if tb.Size() != 0 {
		t.Errorf("Size() after Dispose = %d, want 0", tb.Size())
	}
}

func TestEachVisitsEveryEntry(t *testing.T) {
	tb := New(3, 3)
	tb.Insert(newConnState())
	tb.Insert(newConnState())
	tb.Insert(newConnState())

	seen := 0
	tb.Each(func(id uint64, cs *connstate.ConnectionState) { seen++ })
	if seen != 3 {
		t.Errorf("Each visited %d entries, want 3", seen)
	}
}
