package piecescheduler

import (
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/opifices/opit/internal/bitfield"
)

// ActiveRequest is a piece that has been offered to the caller and not completed yet.
type ActiveRequest struct {
	Index       uint32
	RequestedAt time.Time
}

func lessActiveRequest(a, b ActiveRequest) bool { return a.Index < b.Index }

// activeTable keeps the request time of pieces in flight, ordered by piece index.
type activeTable struct {
	m    sync.Mutex
	tree *btree.BTreeG[ActiveRequest]
}

func newActiveTable() *activeTable {
	return &activeTable{tree: btree.NewG(32, lessActiveRequest)}
}

func (t *activeTable) Len() int {
	t.m.Lock()
	defer t.m.Unlock()
	return t.tree.Len()
}

// Filter returns the set bits of avail for which keep returns true, in ascending order.
// keep receives the request time of the piece and whether the piece is tracked at all.
// keep is called with the table locked and must not call back into the table.
func (t *activeTable) Filter(avail *bitfield.Bitfield, keep func(i uint32, requestedAt time.Time, active bool) bool) []uint32 {
	t.m.Lock()
	defer t.m.Unlock()
	var ret []uint32
	avail.ForEach(func(i uint32) {
		r, ok := t.tree.Get(ActiveRequest{Index: i})
		if keep(i, r.RequestedAt, ok) {
			ret = append(ret, i)
		}
	})
	return ret
}

// Mark sets the request time of pieces to now, overwriting existing entries.
func (t *activeTable) Mark(pieces []uint32, now time.Time) {
	t.m.Lock()
	defer t.m.Unlock()
	for _, i := range pieces {
		t.tree.ReplaceOrInsert(ActiveRequest{Index: i, RequestedAt: now})
	}
}

// Remove deletes piece i. Returns false if the piece was not tracked.
func (t *activeTable) Remove(i uint32) bool {
	t.m.Lock()
	defer t.m.Unlock()
	_, ok := t.tree.Delete(ActiveRequest{Index: i})
	return ok
}

// Snapshot returns a copy of entries in ascending index order.
func (t *activeTable) Snapshot() []ActiveRequest {
	t.m.Lock()
	defer t.m.Unlock()
	ret := make([]ActiveRequest, 0, t.tree.Len())
	t.tree.Ascend(func(r ActiveRequest) bool {
		ret = append(ret, r)
		return true
	})
	return ret
}

// Stalled returns the number of entries older than timeout.
func (t *activeTable) Stalled(now time.Time, timeout time.Duration) int {
	t.m.Lock()
	defer t.m.Unlock()
	var n int
	t.tree.Ascend(func(r ActiveRequest) bool {
		if now.Sub(r.RequestedAt) > timeout {
			n++
		}
		return true
	})
	return n
}
