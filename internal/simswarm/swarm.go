// Package simswarm provides a swarm that downloads nothing.
// Peers, request latency, lost requests and churn are simulated so a session can be run end to end without network.
package simswarm

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opifices/opit/internal/availability"
	"github.com/opifices/opit/internal/bitfield"
	"github.com/opifices/opit/internal/logger"
	"github.com/opifices/opit/internal/piecescheduler"
	"github.com/opifices/opit/session"
)

// Swarm implements session.Swarm.
type Swarm struct {
	config  Config
	log     logger.Logger
	counter *availability.Counter

	metadataReady atomic.Bool
	completions   chan uint32

	m          sync.Mutex
	rand       *rand.Rand
	have       *bitfield.Bitfield
	pending    map[uint32]int
	peers      []string
	nextPeerID int
	timers     map[*time.Timer]struct{}
	downloaded int64
	uploaded   int64
	wasted     int64
	closed     bool

	closeC chan struct{}
	doneC  chan struct{}
}

var _ session.Swarm = (*Swarm)(nil)

// New returns a new simulated swarm and starts its churn loop. Close must be called to stop it.
func New(cfg Config) (*Swarm, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.TotalLength == 0 {
		cfg.TotalLength = int64(cfg.NumPieces) * int64(cfg.PieceLength)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s := &Swarm{
		config:      cfg,
		log:         logger.New("simswarm"),
		counter:     availability.New(cfg.NumPieces),
		completions: make(chan uint32, cfg.NumPieces),
		rand:        rand.New(rand.NewSource(seed)), // nolint: gosec
		have:        bitfield.New(cfg.NumPieces),
		pending:     make(map[uint32]int),
		timers:      make(map[*time.Timer]struct{}),
		closeC:      make(chan struct{}),
		doneC:       make(chan struct{}),
	}
	for i := 0; i < cfg.Peers; i++ {
		s.addPeer(i < cfg.Seeders)
	}
	if cfg.MetadataDelay == 0 {
		s.metadataReady.Store(true)
	}
	go s.run()
	return s, nil
}

// Close stops the churn loop and cancels pending requests.
func (s *Swarm) Close() {
	s.m.Lock()
	if s.closed {
		s.m.Unlock()
		return
	}
	s.closed = true
	for t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	s.m.Unlock()
	close(s.closeC)
	<-s.doneC
}

func (s *Swarm) run() {
	defer close(s.doneC)
	var metadataC <-chan time.Time
	if !s.metadataReady.Load() {
		t := time.NewTimer(s.config.MetadataDelay)
		defer t.Stop()
		metadataC = t.C
	}
	ticker := time.NewTicker(s.config.ChurnInterval)
	defer ticker.Stop()
	for {
		select {
		case <-metadataC:
			s.metadataReady.Store(true)
			s.log.Infof("metadata of %q is ready: %d pieces", s.config.Name, s.config.NumPieces)
		case <-ticker.C:
			s.churn()
		case <-s.closeC:
			return
		}
	}
}

// Info returns an empty piece count until the metadata delay passes.
func (s *Swarm) Info() session.SwarmInfo {
	info := session.SwarmInfo{Name: s.config.Name}
	if s.metadataReady.Load() {
		info.NumPieces = s.config.NumPieces
		info.PieceLength = s.config.PieceLength
		info.TotalLength = s.config.TotalLength
	}
	return info
}

// NumPeers returns the number of peers in the swarm.
func (s *Swarm) NumPeers() int {
	return s.counter.NumPeers()
}

// NumSeeders returns the number of peers that have all pieces.
func (s *Swarm) NumSeeders() int {
	return s.counter.Seeders()
}

// AvailablePieces returns the number of pieces that at least one peer has.
func (s *Swarm) AvailablePieces() uint32 {
	return s.counter.Available()
}

// Availability returns the pieces that are not downloaded yet and that some peer has.
func (s *Swarm) Availability() *bitfield.Bitfield {
	s.m.Lock()
	have := s.have.Copy()
	s.m.Unlock()
	return s.counter.Missing(have)
}

// Rarity returns the counter of pieces held by peers.
func (s *Swarm) Rarity() piecescheduler.RarityOracle {
	return s.counter
}

// Have returns a copy of the pieces that are downloaded.
func (s *Swarm) Have() *bitfield.Bitfield {
	s.m.Lock()
	defer s.m.Unlock()
	return s.have.Copy()
}

// Completions returns the channel that receives downloaded pieces. Each piece is sent once.
func (s *Swarm) Completions() <-chan uint32 {
	return s.completions
}

// Transfer returns the byte counters of the swarm.
func (s *Swarm) Transfer() session.Transfer {
	s.m.Lock()
	defer s.m.Unlock()
	return session.Transfer{
		Downloaded:     s.downloaded,
		Uploaded:       s.uploaded,
		Wasted:         s.wasted,
		PiecesComplete: s.have.Count(),
	}
}

// Request starts simulated downloads of pieces.
// Pieces that are already downloaded, not held by any peer or requested MaxDuplicates times are ignored.
func (s *Swarm) Request(pieces []uint32) {
	s.m.Lock()
	defer s.m.Unlock()
	if s.closed {
		return
	}
	for _, i := range pieces {
		if i >= s.config.NumPieces || s.have.Test(i) {
			continue
		}
		if s.counter.Count(i) == 0 {
			continue
		}
		if s.pending[i] >= s.config.MaxDuplicates {
			continue
		}
		if s.rand.Float64() < s.config.LossRate {
			s.log.Debugf("request for piece #%d is lost", i)
			continue
		}
		s.pending[i]++
		s.startDownload(i, s.latency())
	}
}

func (s *Swarm) latency() time.Duration {
	d := s.config.MaxLatency - s.config.MinLatency
	if d <= 0 {
		return s.config.MinLatency
	}
	return s.config.MinLatency + time.Duration(s.rand.Int63n(int64(d)))
}

func (s *Swarm) startDownload(i uint32, latency time.Duration) {
	var t *time.Timer
	t = time.AfterFunc(latency, func() {
		s.m.Lock()
		defer s.m.Unlock()
		if s.closed {
			return
		}
		delete(s.timers, t)
		s.pieceDownloaded(i)
	})
	s.timers[t] = struct{}{}
}

func (s *Swarm) pieceDownloaded(i uint32) {
	s.pending[i]--
	if s.pending[i] == 0 {
		delete(s.pending, i)
	}
	length := int64(s.pieceLength(i))
	s.downloaded += length
	if s.have.Test(i) {
		s.wasted += length
		return
	}
	s.have.Set(i)
	// Channel has capacity for every piece and each piece is sent once.
	s.completions <- i
	if s.have.All() {
		s.log.Infof("all %d pieces of %q are downloaded", s.config.NumPieces, s.config.Name)
	}
}

func (s *Swarm) pieceLength(i uint32) uint32 {
	if i == s.config.NumPieces-1 {
		if rem := s.config.TotalLength % int64(s.config.PieceLength); rem != 0 {
			return uint32(rem)
		}
	}
	return s.config.PieceLength
}

func (s *Swarm) churn() {
	s.m.Lock()
	defer s.m.Unlock()
	if s.closed {
		return
	}
	if s.rand.Float64() < s.config.ChurnRate {
		if s.rand.Intn(2) == 0 {
			if len(s.peers) > s.config.MinPeers {
				s.removePeer(s.rand.Intn(len(s.peers)))
			}
		} else if len(s.peers) < s.config.MaxPeers {
			s.addPeer(false)
		}
	}
	// Leechers download a piece from each other every round.
	for _, id := range s.peers {
		_ = s.counter.HandleHave(id, uint32(s.rand.Intn(int(s.config.NumPieces))))
	}
	if len(s.peers) > 0 && s.have.Count() > 0 {
		s.uploaded += s.config.UploadRate * int64(s.config.ChurnInterval) / int64(time.Second)
	}
}

func (s *Swarm) addPeer(seeder bool) {
	id := fmt.Sprintf("peer-%d", s.nextPeerID)
	s.nextPeerID++
	b := make([]byte, (s.config.NumPieces+7)/8)
	for i := range b {
		if seeder {
			b[i] = 0xff
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if s.rand.Float64() < s.config.PeerCompleteness {
				b[i] |= 0x80 >> bit
			}
		}
	}
	bf, err := bitfield.NewBytes(b, s.config.NumPieces)
	if err != nil {
		s.log.Errorln("cannot create bitfield:", err.Error())
		return
	}
	_ = s.counter.HandleBitfield(id, bf)
	s.peers = append(s.peers, id)
	s.log.Debugf("%s joined with %d pieces", id, bf.Count())
}

func (s *Swarm) removePeer(n int) {
	id := s.peers[n]
	s.peers[n] = s.peers[len(s.peers)-1]
	s.peers = s.peers[:len(s.peers)-1]
	s.counter.HandleDisconnect(id)
	s.log.Debugf("%s left", id)
}
