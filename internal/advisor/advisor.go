// Package advisor provides the optional strategy hook that is consulted with swarm telemetry.
// Advisors are advisory only: the scheduler never depends on them and their failures are only logged.
package advisor

// Update is the swarm state passed to an Advisor.
type Update struct {
	// Number of connected peers.
	Peers int `json:"peers"`
	// Download progress in percent, in range [0, 100].
	Progress float64 `json:"progress"`
	// Download rate in bytes per second.
	DownloadRate int64 `json:"downloadRate"`
	// Current scheduler mode.
	Mode string `json:"mode"`
}

// Advisor receives swarm updates.
type Advisor interface {
	Advise(u Update) error
}

// Func is an adapter to allow the use of ordinary functions as Advisor.
type Func func(u Update) error

// Advise calls f(u).
func (f Func) Advise(u Update) error { return f(u) }

// Nop is an Advisor that does nothing.
type Nop struct{}

// Advise returns nil.
func (Nop) Advise(Update) error { return nil }
