package piecescheduler

import (
	"errors"
	"time"
)

// Config for Scheduler.
type Config struct {
	// Switch to aggressive mode when the swarm has fewer peers than this.
	LowSeedThreshold int `yaml:"low-seed-threshold"`
	// Switch to endgame mode when download progress reaches this percentage.
	EndgameThreshold float64 `yaml:"endgame-threshold"`
	// A piece requested longer than this ago is considered stalled. Stalled pieces are re-offered in aggressive mode.
	RequestTimeout time.Duration `yaml:"request-timeout"`
	// Number of top candidates marked as requested on each tick in normal mode.
	NormalCap int `yaml:"normal-cap"`
	// Number of top candidates marked as requested on each tick in aggressive and endgame modes.
	AggressiveCap int `yaml:"aggressive-cap"`
	// Max number of pieces returned on each tick in normal mode.
	NormalResultCap int `yaml:"normal-result-cap"`
	// Start in aggressive mode instead of normal mode.
	StartAggressive bool `yaml:"start-aggressive"`
	// Number of pieces in the torrent. Piece indexes are checked against this value if it is not zero.
	NumPieces uint32 `yaml:"num-pieces"`
}

// DefaultConfig for Scheduler.
var DefaultConfig = Config{
	LowSeedThreshold: 3,
	EndgameThreshold: 95.0,
	RequestTimeout:   30 * time.Second,
	NormalCap:        10,
	AggressiveCap:    20,
	NormalResultCap:  50,
}

// Validate returns an error describing the first invalid field.
// Values are never clamped into range.
func (c *Config) Validate() error {
	switch {
	case c.LowSeedThreshold < 0:
		return errors.New("low-seed-threshold must not be negative")
	case c.EndgameThreshold <= 0 || c.EndgameThreshold > 100:
		return errors.New("endgame-threshold must be in (0, 100]")
	case c.RequestTimeout <= 0:
		return errors.New("request-timeout must be positive")
	case c.NormalCap <= 0:
		return errors.New("normal-cap must be positive")
	case c.AggressiveCap <= 0:
		return errors.New("aggressive-cap must be positive")
	case c.NormalResultCap <= 0:
		return errors.New("normal-result-cap must be positive")
	}
	return nil
}
