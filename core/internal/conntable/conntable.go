// Package conntable is the server's bounded connection pool: a table of
// live connstate.ConnectionState values indexed by a monotonically
// increasing, never-reused instance ID, sized between def.ConnectionsInit
// and def.ConnectionsMax.
package conntable

import (
	"sync"

	"github.com/qsmplabs/qsmp/core/internal/connstate"
	"github.com/qsmplabs/qsmp/core/internal/def"
)

// Table is a concurrency-safe map from instance ID to ConnectionState,
// capped at a maximum size. One Table serves one Server.
type Table struct {
	mu       sync.Mutex
	conns    map[uint64]*connstate.ConnectionState
	nextID   uint64
	max      int
}

// New returns an empty table with the given initial capacity hint and
// hard ceiling. init only sizes the backing map; max is enforced on
// every Insert.
func New(init, max int) *Table {
	if max <= 0 {
		max = def.ConnectionsMax
	}
	if init <= 0 || init > max {
		init = def.ConnectionsInit
	}
	return &Table{
		conns: make(map[uint64]*connstate.ConnectionState, init),
		max:   max,
	}
}

// Insert assigns the next instance ID to cs and stores it, returning the
// assigned ID. It fails with def.ErrHostsExceeded once the table is at
// capacity. Instance IDs increase monotonically for the life of the
// table and are never reused, even after the connection they named is
// removed, so a stale ID from a closed connection can never be
// misattributed to a new one.
func (t *Table) Insert(cs *connstate.ConnectionState) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.conns) >= t.max {
		return 0, def.ErrHostsExceeded
	}

	t.nextID++
	id := t.nextID
	cs.InstanceID = id
	t.conns[id] = cs
	return id, nil
}

// Get returns the connection at id, or nil if it is not present.
func (t *Table) Get(id uint64) *connstate.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[id]
}

// Remove closes and drops the connection at id, if present.
func (t *Table) Remove(id uint64, reason def.QSMPError) {
	t.mu.Lock()
	cs, ok := t.conns[id]
	if ok {
		delete(t.conns, id)
	}
	t.mu.Unlock()

	if ok {
		cs.Close(reason, false)
	}
}

// Size returns the number of connections currently tracked.
func (t *Table) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// Each calls fn once per live connection. fn must not call back into the
// table; Each holds the table lock for its duration.
func (t *Table) Each(fn func(id uint64, cs *connstate.ConnectionState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, cs := range t.conns {
		fn(id, cs)
	}
}

// Dispose closes every tracked connection and empties the table.
func (t *Table) Dispose(reason def.QSMPError) {
	t.mu.Lock()
	conns := t.conns
	t.conns = make(map[uint64]*connstate.ConnectionState)
	t.mu.Unlock()

	for _, cs := range conns {
		cs.Close(reason, false)
	}
}
