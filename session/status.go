package session

import (
	"strconv"
	"time"
)

// State of the download.
type State int

// Download states.
const (
	FetchingMetadata State = iota
	Downloading
	Seeding
)

var stateStrings = map[State]string{
	FetchingMetadata: "Fetching metadata",
	Downloading:      "Downloading",
	Seeding:          "Seeding",
}

func (s State) String() string {
	str, ok := stateStrings[s]
	if !ok {
		return strconv.FormatInt(int64(s), 10)
	}
	return str
}

// MarshalText returns the human readable state.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a snapshot of the session that is refreshed every status interval.
type Status struct {
	ID      string
	Name    string
	State   State
	Mode    string
	Peers   int
	Seeders int
	// Number of pieces held by at least one peer.
	AvailablePieces uint32
	// Ratio of downloaded pieces in range [0, 1].
	Progress       float64
	PiecesComplete uint32
	NumPieces      uint32
	// Bytes per second since the previous status.
	DownloadSpeed int64
	UploadSpeed   int64
	// Human readable estimated time to completion.
	ETA        string
	TotalBytes int64
	Transfer   Transfer
	StartedAt  time.Time `structs:",omitnested"`
	UpdatedAt  time.Time `structs:",omitnested"`
}

func stateOf(numPieces, complete uint32) State {
	switch {
	case numPieces == 0:
		return FetchingMetadata
	case complete >= numPieces:
		return Seeding
	default:
		return Downloading
	}
}

// rate returns bytes per second for a counter that changed from prev to cur in d.
// Counters that go backwards give zero.
func rate(prev, cur int64, d time.Duration) int64 {
	if d <= 0 || cur <= prev {
		return 0
	}
	return int64(float64(cur-prev) / d.Seconds())
}

// formatETA returns the time to download remaining bytes at speed.
// Returns "∞" when nothing is being downloaded.
func formatETA(remaining, speed int64, complete bool) string {
	if complete {
		return "Complete"
	}
	if speed <= 0 {
		return "∞"
	}
	if remaining < 0 {
		remaining = 0
	}
	seconds := remaining / speed
	switch {
	case seconds < 60:
		return strconv.FormatInt(seconds, 10) + "s"
	case seconds < 3600:
		return strconv.FormatInt(seconds/60, 10) + "m " + strconv.FormatInt(seconds%60, 10) + "s"
	default:
		return strconv.FormatInt(seconds/3600, 10) + "h " + strconv.FormatInt((seconds%3600)/60, 10) + "m"
	}
}

// completedBytes returns the number of bytes in complete pieces.
func completedBytes(info SwarmInfo, complete uint32) int64 {
	n := int64(complete) * int64(info.PieceLength)
	if n > info.TotalLength {
		return info.TotalLength
	}
	return n
}
