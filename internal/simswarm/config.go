package simswarm

import (
	"errors"
	"time"
)

// Config of a simulated swarm.
type Config struct {
	// Name of the simulated content.
	Name string `yaml:"name"`
	// Number of pieces in the content.
	NumPieces uint32 `yaml:"num-pieces"`
	// Length of each piece except possibly the last one.
	PieceLength uint32 `yaml:"piece-length"`
	// Total length of the content. Calculated from NumPieces and PieceLength when zero.
	TotalLength int64 `yaml:"total-length"`
	// Number of peers at start.
	Peers int `yaml:"peers"`
	// Number of peers at start that have all pieces.
	Seeders int `yaml:"seeders"`
	// Churn never shrinks the swarm below MinPeers or grows it above MaxPeers.
	MinPeers int `yaml:"min-peers"`
	MaxPeers int `yaml:"max-peers"`
	// Fraction of pieces that a joining leecher has.
	PeerCompleteness float64 `yaml:"peer-completeness"`
	// Time between two churn rounds. Peers may join, leave or announce new pieces in each round.
	ChurnInterval time.Duration `yaml:"churn-interval"`
	// Probability of a peer joining or leaving in a churn round.
	ChurnRate float64 `yaml:"churn-rate"`
	// Time it takes to download a piece is chosen randomly between MinLatency and MaxLatency.
	MinLatency time.Duration `yaml:"min-latency"`
	MaxLatency time.Duration `yaml:"max-latency"`
	// Probability of a request getting lost. Lost requests never complete.
	LossRate float64 `yaml:"loss-rate"`
	// Maximum number of concurrent requests for the same piece.
	MaxDuplicates int `yaml:"max-duplicates"`
	// Info is not available until MetadataDelay passes.
	MetadataDelay time.Duration `yaml:"metadata-delay"`
	// Bytes uploaded per second while there are peers and some pieces to serve.
	UploadRate int64 `yaml:"upload-rate"`
	// Seed of the random source. Zero means a time based seed.
	Seed int64 `yaml:"seed"`
}

// DefaultConfig for a simulated swarm of 1000 pieces of 256 KiB.
var DefaultConfig = Config{
	Name:             "simulated",
	NumPieces:        1000,
	PieceLength:      256 << 10,
	Peers:            20,
	Seeders:          2,
	MinPeers:         1,
	MaxPeers:         50,
	PeerCompleteness: 0.3,
	ChurnInterval:    time.Second,
	ChurnRate:        0.2,
	MinLatency:       100 * time.Millisecond,
	MaxLatency:       2 * time.Second,
	LossRate:         0.01,
	MaxDuplicates:    3,
	UploadRate:       64 << 10,
}

// Validate returns an error if c cannot be simulated.
func (c *Config) Validate() error {
	switch {
	case c.NumPieces == 0:
		return errors.New("number of pieces must be positive")
	case c.PieceLength == 0:
		return errors.New("piece length must be positive")
	case c.TotalLength != 0 && (c.TotalLength > int64(c.NumPieces)*int64(c.PieceLength) || c.TotalLength <= int64(c.NumPieces-1)*int64(c.PieceLength)):
		return errors.New("total length does not match number of pieces")
	case c.Peers < 0 || c.Seeders < 0 || c.Seeders > c.Peers:
		return errors.New("invalid number of peers")
	case c.MinPeers < 0 || c.MaxPeers < c.MinPeers:
		return errors.New("invalid peer limits")
	case c.PeerCompleteness < 0 || c.PeerCompleteness > 1:
		return errors.New("peer completeness must be in range [0, 1]")
	case c.ChurnRate < 0 || c.ChurnRate > 1:
		return errors.New("churn rate must be in range [0, 1]")
	case c.LossRate < 0 || c.LossRate > 1:
		return errors.New("loss rate must be in range [0, 1]")
	case c.ChurnInterval <= 0:
		return errors.New("churn interval must be positive")
	case c.MinLatency < 0 || c.MaxLatency < c.MinLatency:
		return errors.New("invalid latency range")
	case c.MaxDuplicates < 1:
		return errors.New("max duplicates must be at least 1")
	case c.UploadRate < 0:
		return errors.New("upload rate must not be negative")
	}
	return nil
}
