package piecescheduler

// Mode of the scheduler. Modes only move forward on automatic triggers:
// Normal -> Aggressive -> Endgame.
type Mode int32

// Scheduler modes.
const (
	// Normal mode caps concurrency and randomizes the order of equally rare pieces.
	Normal Mode = iota
	// Aggressive mode re-offers stalled pieces and returns every candidate in strict rarest-first order.
	Aggressive
	// Endgame mode returns every available piece on each tick, including pieces already requested.
	Endgame
)

func (m Mode) String() string {
	switch m {
	case Normal:
		return "normal"
	case Aggressive:
		return "aggressive"
	case Endgame:
		return "endgame"
	default:
		return "unknown"
	}
}

type event int

const (
	// Peer count dropped below the low-seed threshold.
	eventLowSeeds event = iota
	// Download progress reached the endgame threshold.
	eventProgressReached
	// Aggressive mode is turned on by the user.
	eventForceAggressive
	// Aggressive mode is turned off by the user.
	eventForceNormal
)

func (e event) String() string {
	switch e {
	case eventLowSeeds:
		return "low seeds"
	case eventProgressReached:
		return "progress reached"
	case eventForceAggressive:
		return "forced aggressive"
	case eventForceNormal:
		return "forced normal"
	default:
		return "unknown"
	}
}

// transition returns the mode after applying e to m.
// Endgame is terminal. The only way back to Normal is an explicit eventForceNormal from Aggressive.
func transition(m Mode, e event) Mode {
	switch m {
	case Normal:
		switch e {
		case eventLowSeeds, eventForceAggressive:
			return Aggressive
		case eventProgressReached:
			return Endgame
		}
	case Aggressive:
		switch e {
		case eventProgressReached:
			return Endgame
		case eventForceNormal:
			return Normal
		}
	}
	return m
}
