package session

import (
	"github.com/opifices/opit/internal/bitfield"
	"github.com/opifices/opit/internal/piecescheduler"
)

// Swarm is the part of the download engine that the session drives.
// Peer connections, the wire protocol and storage live behind this interface.
type Swarm interface {
	// Info returns the metadata of the download. NumPieces is zero until metadata is fetched.
	Info() SwarmInfo
	// NumPeers returns the number of connected peers.
	NumPeers() int
	// NumSeeders returns the number of connected peers that have all pieces.
	NumSeeders() int
	// AvailablePieces returns the number of pieces that at least one peer has.
	AvailablePieces() uint32
	// Availability returns the pieces that are missing locally and offered by at least one peer.
	Availability() *bitfield.Bitfield
	// Rarity returns the oracle that counts the peers having a piece.
	Rarity() piecescheduler.RarityOracle
	// Request asks the swarm to download pieces. It must not block.
	Request(pieces []uint32)
	// Completions receives the index of each piece when it is downloaded.
	Completions() <-chan uint32
	// Transfer returns the byte counters of the swarm.
	Transfer() Transfer
}

// SwarmInfo describes the content that is downloaded from a swarm.
type SwarmInfo struct {
	Name        string
	NumPieces   uint32
	PieceLength uint32
	TotalLength int64
}

// Transfer contains the counters of a swarm.
type Transfer struct {
	// Bytes downloaded from swarm. May be greater than completed bytes because of duplicate pieces.
	Downloaded int64
	// Bytes uploaded to swarm.
	Uploaded int64
	// Bytes downloaded for pieces that were already complete.
	Wasted int64
	// Number of pieces that are downloaded.
	PiecesComplete uint32
}
