// Package availability keeps track of which pieces are held by which peers in the swarm.
// Counter implements piecescheduler.RarityOracle.
package availability

import (
	"fmt"
	"sync"

	"github.com/opifices/opit/internal/bitfield"
)

// Counter keeps the number of peers having each piece.
// It is safe for concurrent use.
type Counter struct {
	m         sync.RWMutex
	counts    []int
	peers     map[string]*bitfield.Bitfield
	available uint32
}

// New returns a new Counter for a torrent with numPieces pieces.
func New(numPieces uint32) *Counter {
	return &Counter{
		counts: make([]int, numPieces),
		peers:  make(map[string]*bitfield.Bitfield),
	}
}

// NumPieces returns the number of pieces given to New.
func (c *Counter) NumPieces() uint32 {
	return uint32(len(c.counts))
}

// HandleBitfield must be called when a peer sends its bitfield. Previous information about the peer is replaced.
func (c *Counter) HandleBitfield(peer string, bf *bitfield.Bitfield) error {
	if bf.Len() != c.NumPieces() {
		return fmt.Errorf("bitfield of peer %s has %d pieces, expected %d", peer, bf.Len(), c.NumPieces())
	}
	c.m.Lock()
	defer c.m.Unlock()
	c.removePeer(peer)
	cp := bf.Copy()
	c.peers[peer] = cp
	cp.ForEach(c.increment)
	return nil
}

// HandleHave must be called when a peer announces that it has downloaded piece i.
func (c *Counter) HandleHave(peer string, i uint32) error {
	if i >= c.NumPieces() {
		return fmt.Errorf("piece index %d from peer %s out of range", i, peer)
	}
	c.m.Lock()
	defer c.m.Unlock()
	bf, ok := c.peers[peer]
	if !ok {
		bf = bitfield.New(c.NumPieces())
		c.peers[peer] = bf
	}
	if bf.Test(i) {
		return nil
	}
	bf.Set(i)
	c.increment(i)
	return nil
}

// HandleDisconnect must be called to remove the peer from counts.
func (c *Counter) HandleDisconnect(peer string) {
	c.m.Lock()
	defer c.m.Unlock()
	c.removePeer(peer)
}

func (c *Counter) removePeer(peer string) {
	bf, ok := c.peers[peer]
	if !ok {
		return
	}
	delete(c.peers, peer)
	bf.ForEach(c.decrement)
}

func (c *Counter) increment(i uint32) {
	c.counts[i]++
	if c.counts[i] == 1 {
		c.available++
	}
}

func (c *Counter) decrement(i uint32) {
	c.counts[i]--
	if c.counts[i] == 0 {
		c.available--
	}
}

// Count returns the number of peers having piece i. Returns 0 for indexes out of range.
func (c *Counter) Count(i uint32) int {
	c.m.RLock()
	defer c.m.RUnlock()
	if i >= uint32(len(c.counts)) {
		return 0
	}
	return c.counts[i]
}

// Available returns the number of pieces held by at least one peer.
func (c *Counter) Available() uint32 {
	c.m.RLock()
	defer c.m.RUnlock()
	return c.available
}

// NumPeers returns the number of peers known to the Counter.
func (c *Counter) NumPeers() int {
	c.m.RLock()
	defer c.m.RUnlock()
	return len(c.peers)
}

// Seeders returns the number of peers that have all pieces.
func (c *Counter) Seeders() int {
	c.m.RLock()
	defer c.m.RUnlock()
	var n int
	for _, bf := range c.peers {
		if bf.All() {
			n++
		}
	}
	return n
}

// Missing returns the pieces that are held by at least one peer but are not set in have.
func (c *Counter) Missing(have *bitfield.Bitfield) *bitfield.Bitfield {
	ret := bitfield.New(c.NumPieces())
	c.m.RLock()
	for i, n := range c.counts {
		if n > 0 {
			ret.Set(uint32(i))
		}
	}
	c.m.RUnlock()
	if have != nil {
		ret.AndNot(have)
	}
	return ret
}
