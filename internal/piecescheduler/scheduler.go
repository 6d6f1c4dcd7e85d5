// Package piecescheduler decides which pieces to request next from the swarm.
//
// On every tick the scheduler receives the set of pieces that are offered by remote peers
// and missing locally, together with a RarityOracle giving the number of peers that hold each piece.
// It returns the pieces to request, rarest first.
//
// The scheduler has three modes:
//
//   - Normal: pieces already requested are skipped. Order is rarest first, equally rare pieces are shuffled.
//     At most NormalResultCap pieces are returned and NormalCap of them are marked as requested.
//   - Aggressive: entered when the swarm gets smaller than LowSeedThreshold or when forced by the user.
//     Requests older than RequestTimeout are considered stalled and offered again.
//     Order is rarest first with ties broken by piece index. Every candidate is returned, AggressiveCap are marked.
//   - Endgame: entered when progress reaches EndgameThreshold. Every available piece is returned,
//     including pieces that are already requested, so the last pieces are downloaded from many peers in parallel.
//
// Modes never go back on automatic triggers. Endgame is terminal.
package piecescheduler

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opifices/opit/internal/bitfield"
	"github.com/opifices/opit/internal/logger"
	"github.com/rcrowley/go-metrics"
)

// RarityOracle gives the number of swarm peers known to hold a piece.
type RarityOracle interface {
	Count(i uint32) int
}

// RarityFunc is an adapter to allow the use of ordinary functions as RarityOracle.
type RarityFunc func(i uint32) int

// Count returns f(i).
func (f RarityFunc) Count(i uint32) int { return f(i) }

// Scheduler is safe for concurrent use.
// SelectPieces is normally called from the tick loop while telemetry methods are called from a status loop.
type Scheduler struct {
	config  Config
	log     logger.Logger
	now     func() time.Time
	table   *activeTable
	metrics *schedulerMetrics

	mode     atomic.Int32
	peers    atomic.Int64
	progress atomic.Uint64 // math.Float64bits of percentage

	mRand sync.Mutex
	rand  *rand.Rand
}

// Option changes the default dependencies of a Scheduler.
type Option func(*options)

type options struct {
	now      func() time.Time
	rand     *rand.Rand
	registry metrics.Registry
	log      logger.Logger
}

// WithClock sets the function used to read current time.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRand sets the random source used for shuffling candidates in normal mode.
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rand = r }
}

// WithMetricsRegistry sets the registry that scheduler metrics are registered to.
func WithMetricsRegistry(r metrics.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithLogger sets the logger of the scheduler.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// New returns a new Scheduler. An error is returned if cfg is not valid.
func New(cfg Config, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, newInputError("invalid config: %w", err)
	}
	o := options{
		now: time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rand == nil {
		o.rand = rand.New(rand.NewSource(time.Now().UnixNano())) // nolint: gosec
	}
	if o.registry == nil {
		o.registry = metrics.NewRegistry()
	}
	if o.log == nil {
		o.log = logger.New("scheduler")
	}
	s := &Scheduler{
		config: cfg,
		log:    o.log,
		now:    o.now,
		rand:   o.rand,
		table:  newActiveTable(),
	}
	if cfg.StartAggressive {
		s.mode.Store(int32(Aggressive))
	}
	s.initMetrics(o.registry)
	return s, nil
}

// Close releases the resources used by metrics.
func (s *Scheduler) Close() {
	s.metrics.Close()
}

// Mode returns the current mode.
func (s *Scheduler) Mode() Mode {
	return Mode(s.mode.Load())
}

// IsAggressive returns true if stalled pieces are re-offered, which is the case in aggressive and endgame modes.
// There is no separate aggressive flag: in endgame mode it keeps returning true after SetAggressive(false).
func (s *Scheduler) IsAggressive() bool {
	return s.Mode() >= Aggressive
}

// Registry returns the metrics registry of the scheduler.
func (s *Scheduler) Registry() metrics.Registry {
	return s.metrics.registry
}

// apply moves the mode according to e. Returns the previous mode and whether the mode has changed.
func (s *Scheduler) apply(e event) (Mode, bool) {
	for {
		old := Mode(s.mode.Load())
		next := transition(old, e)
		if next == old {
			return old, false
		}
		if s.mode.CompareAndSwap(int32(old), int32(next)) {
			s.metrics.ModeTransitions.Inc(1)
			return old, true
		}
	}
}

// UpdatePeerCount records the number of peers in the swarm.
// Aggressive mode is activated if the count is below LowSeedThreshold.
// Aggressive mode is not turned off automatically when the swarm grows again.
func (s *Scheduler) UpdatePeerCount(n int) error {
	if n < 0 {
		return newInputError("negative peer count: %d", n)
	}
	s.peers.Store(int64(n))
	if n >= s.config.LowSeedThreshold {
		return nil
	}
	if old, ok := s.apply(eventLowSeeds); ok {
		s.log.Infof("swarm has %d peers, switched from %s to aggressive mode", n, old)
	}
	return nil
}

// UpdateProgress records the download progress as a percentage in range [0, 100].
// Endgame mode is activated if progress is at least EndgameThreshold.
func (s *Scheduler) UpdateProgress(percent float64) error {
	if math.IsNaN(percent) || percent < 0 || percent > 100 {
		return newInputError("progress out of range: %v", percent)
	}
	s.progress.Store(math.Float64bits(percent))
	if percent < s.config.EndgameThreshold {
		return nil
	}
	if old, ok := s.apply(eventProgressReached); ok {
		s.log.Infof("endgame mode activated at %.1f%% (was %s)", percent, old)
	}
	return nil
}

func (s *Scheduler) progressPercent() float64 {
	return math.Float64frombits(s.progress.Load())
}

// SetAggressive turns aggressive mode on or off manually.
// It has no effect in endgame mode, which can only be entered by progress and is never left.
func (s *Scheduler) SetAggressive(enabled bool) {
	e := eventForceNormal
	if enabled {
		e = eventForceAggressive
	}
	old, ok := s.apply(e)
	switch {
	case ok:
		s.log.Infof("aggressive mode set to %v (was %s)", enabled, old)
	case old == Endgame:
		s.log.Debugln("ignoring aggressive mode change in endgame mode")
	}
}

// PieceCompleted stops tracking the request of piece i. It is safe to call for pieces that are not tracked.
func (s *Scheduler) PieceCompleted(i uint32) error {
	if s.config.NumPieces > 0 && i >= s.config.NumPieces {
		return newInputError("piece index %d out of range [0, %d)", i, s.config.NumPieces)
	}
	s.table.Remove(i)
	return nil
}

// ActiveRequests returns pieces that are currently tracked as requested, ordered by piece index.
func (s *Scheduler) ActiveRequests() []ActiveRequest {
	return s.table.Snapshot()
}

// SelectPieces returns pieces to request in this tick, most urgent first.
// avail contains pieces that are missing locally and offered by at least one peer. It is not retained.
// oracle is queried for the rarity of candidate pieces once per call.
// An empty result is not an error, it means there is nothing to request now.
func (s *Scheduler) SelectPieces(avail *bitfield.Bitfield, oracle RarityOracle) ([]uint32, error) {
	if avail != nil && s.config.NumPieces > 0 && avail.Len() != s.config.NumPieces {
		return nil, newInputError("availability has %d pieces, expected %d", avail.Len(), s.config.NumPieces)
	}
	if oracle == nil {
		return nil, newInputError("nil rarity oracle")
	}
	s.metrics.Ticks.Mark(1)
	if avail == nil || avail.Empty() {
		s.metrics.EmptyTicks.Inc(1)
		return []uint32{}, nil
	}

	mode := s.Mode()
	now := s.now()

	candidates, stale := s.candidates(avail, mode, now)
	if len(candidates) == 0 {
		s.metrics.EmptyTicks.Inc(1)
		return []uint32{}, nil
	}
	for _, i := range stale {
		s.log.Debugf("re-requesting stale piece #%d", i)
	}
	s.metrics.StaleReoffers.Inc(int64(len(stale)))

	s.order(candidates, oracle, mode)

	markCount, resultCount := s.limits(mode, len(candidates))
	s.table.Mark(candidates[:markCount], now)

	result := candidates[:resultCount]
	s.metrics.PiecesOffered.Mark(int64(len(result)))
	return result, nil
}

// candidates returns the pieces in avail that can be requested in mode.
// The second return value contains the candidates whose previous request has timed out.
func (s *Scheduler) candidates(avail *bitfield.Bitfield, mode Mode, now time.Time) (candidates, stale []uint32) {
	if mode == Endgame {
		return avail.Indexes(), nil
	}
	candidates = s.table.Filter(avail, func(i uint32, requestedAt time.Time, active bool) bool {
		if !active {
			return true
		}
		if mode == Aggressive && now.Sub(requestedAt) > s.config.RequestTimeout {
			stale = append(stale, i)
			return true
		}
		return false
	})
	return candidates, stale
}

// order sorts candidates in place by rarity.
// In aggressive and endgame modes ties are broken by piece index, so the order is reproducible.
// In normal mode equally rare pieces are left in random order.
func (s *Scheduler) order(candidates []uint32, oracle RarityOracle, mode Mode) {
	counts := make(map[uint32]int, len(candidates))
	for _, i := range candidates {
		counts[i] = oracle.Count(i)
	}
	if mode == Normal {
		s.mRand.Lock()
		s.rand.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
		s.mRand.Unlock()
		sort.SliceStable(candidates, func(i, j int) bool {
			return counts[candidates[i]] < counts[candidates[j]]
		})
		return
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if counts[a] != counts[b] {
			return counts[a] < counts[b]
		}
		return a < b
	})
}

// limits returns the number of candidates to mark as requested and the number of candidates to return.
func (s *Scheduler) limits(mode Mode, n int) (markCount, resultCount int) {
	if mode == Normal {
		return min(s.config.NormalCap, n), min(s.config.NormalResultCap, n)
	}
	return min(s.config.AggressiveCap, n), n
}

// Stats contains statistics about the scheduler.
type Stats struct {
	Mode            Mode
	Peers           int
	Progress        float64
	ActiveRequests  int
	StalledRequests int
	Ticks           int64
	EmptyTicks      int64
	PiecesOffered   int64
	StaleReoffers   int64
	ModeTransitions int64
}

// Stats returns a snapshot of the scheduler state and counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Mode:            s.Mode(),
		Peers:           int(s.peers.Load()),
		Progress:        s.progressPercent(),
		ActiveRequests:  s.table.Len(),
		StalledRequests: s.table.Stalled(s.now(), s.config.RequestTimeout),
		Ticks:           s.metrics.Ticks.Count(),
		EmptyTicks:      s.metrics.EmptyTicks.Count(),
		PiecesOffered:   s.metrics.PiecesOffered.Count(),
		StaleReoffers:   s.metrics.StaleReoffers.Count(),
		ModeTransitions: s.metrics.ModeTransitions.Count(),
	}
}
