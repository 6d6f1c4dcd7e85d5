package piecescheduler

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/opifices/opit/internal/bitfield"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	m   sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.m.Lock()
	defer c.m.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.m.Lock()
	c.now = c.now.Add(d)
	c.m.Unlock()
}

func newScheduler(t *testing.T, cfg Config) (*Scheduler, *fakeClock) {
	clock := newFakeClock()
	s, err := New(cfg, WithClock(clock.Now), WithRand(rand.New(rand.NewSource(1))))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, clock
}

// uniform returns an oracle that reports the same count for all pieces.
var uniform = RarityFunc(func(uint32) int { return 1 })

func counts(c ...int) RarityOracle {
	return RarityFunc(func(i uint32) int { return c[i] })
}

func allPieces(n uint32) *bitfield.Bitfield {
	b := bitfield.New(n)
	for i := uint32(0); i < n; i++ {
		b.Set(i)
	}
	return b
}

func TestInitialMode(t *testing.T) {
	s, _ := newScheduler(t, DefaultConfig)
	assert.Equal(t, Normal, s.Mode())
	assert.False(t, s.IsAggressive())

	cfg := DefaultConfig
	cfg.StartAggressive = true
	s, _ = newScheduler(t, cfg)
	assert.Equal(t, Aggressive, s.Mode())
	assert.True(t, s.IsAggressive())
}

func TestLowSeedTrigger(t *testing.T) {
	s, _ := newScheduler(t, DefaultConfig)

	require.NoError(t, s.UpdatePeerCount(5))
	assert.Equal(t, Normal, s.Mode())

	require.NoError(t, s.UpdatePeerCount(2))
	assert.Equal(t, Aggressive, s.Mode())
	assert.True(t, s.IsAggressive())

	require.NoError(t, s.UpdatePeerCount(10))
	assert.Equal(t, Aggressive, s.Mode())
	assert.Equal(t, 10, s.Stats().Peers)
}

func TestEndgameTrigger(t *testing.T) {
	s, _ := newScheduler(t, DefaultConfig)

	require.NoError(t, s.UpdateProgress(94.9))
	assert.Equal(t, Normal, s.Mode())

	require.NoError(t, s.UpdateProgress(95))
	assert.Equal(t, Endgame, s.Mode())

	// Neither telemetry nor manual override leaves endgame.
	require.NoError(t, s.UpdateProgress(10))
	require.NoError(t, s.UpdatePeerCount(1))
	s.SetAggressive(false)
	assert.Equal(t, Endgame, s.Mode())
	assert.True(t, s.IsAggressive())
}

func TestMonotonicMode(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for run := 0; run < 50; run++ {
		s, _ := newScheduler(t, DefaultConfig)
		prev := s.Mode()
		for step := 0; step < 100; step++ {
			if r.Intn(2) == 0 {
				require.NoError(t, s.UpdatePeerCount(r.Intn(10)))
			} else {
				require.NoError(t, s.UpdateProgress(r.Float64()*100))
			}
			cur := s.Mode()
			assert.GreaterOrEqual(t, cur, prev)
			prev = cur
		}
	}
}

func TestSetAggressive(t *testing.T) {
	s, _ := newScheduler(t, DefaultConfig)

	s.SetAggressive(true)
	assert.Equal(t, Aggressive, s.Mode())
	s.SetAggressive(true)
	assert.Equal(t, Aggressive, s.Mode())

	s.SetAggressive(false)
	assert.Equal(t, Normal, s.Mode())

	// Automatic trigger works again after manual override.
	require.NoError(t, s.UpdatePeerCount(0))
	assert.Equal(t, Aggressive, s.Mode())
	assert.Equal(t, int64(3), s.Stats().ModeTransitions)
}

func TestRarestFirstAggressive(t *testing.T) {
	cfg := DefaultConfig
	cfg.StartAggressive = true
	s, _ := newScheduler(t, cfg)

	pieces, err := s.SelectPieces(allPieces(4), counts(5, 2, 2, 8))
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 0, 3}, pieces)
}

func TestRarestFirstNormal(t *testing.T) {
	s, _ := newScheduler(t, DefaultConfig)

	rarity := make([]int, 40)
	for i := range rarity {
		rarity[i] = i % 4
	}
	pieces, err := s.SelectPieces(allPieces(40), counts(rarity...))
	require.NoError(t, err)
	require.Len(t, pieces, 40)
	assert.True(t, sort.SliceIsSorted(pieces, func(i, j int) bool {
		return rarity[pieces[i]] < rarity[pieces[j]]
	}))
}

func TestNormalShufflesEquallyRarePieces(t *testing.T) {
	var orders [][]uint32
	for seed := int64(0); seed < 5; seed++ {
		s, err := New(DefaultConfig, WithRand(rand.New(rand.NewSource(seed))))
		require.NoError(t, err)
		pieces, err := s.SelectPieces(allPieces(30), uniform)
		require.NoError(t, err)
		orders = append(orders, pieces)
		s.Close()
	}
	var differs bool
	for _, o := range orders[1:] {
		if !assert.ObjectsAreEqual(orders[0], o) {
			differs = true
		}
	}
	assert.True(t, differs, "equally rare pieces must not always come in the same order")
}

func TestNormalCaps(t *testing.T) {
	s, _ := newScheduler(t, DefaultConfig)

	pieces, err := s.SelectPieces(allPieces(100), uniform)
	require.NoError(t, err)
	assert.Len(t, pieces, 50)

	active := s.ActiveRequests()
	require.Len(t, active, 10)
	marked := make([]uint32, 0, len(active))
	for _, r := range active {
		marked = append(marked, r.Index)
	}
	top := append([]uint32(nil), pieces[:10]...)
	sort.Slice(top, func(i, j int) bool { return top[i] < top[j] })
	assert.Equal(t, top, marked)
}

func TestAggressiveCaps(t *testing.T) {
	cfg := DefaultConfig
	cfg.StartAggressive = true
	s, _ := newScheduler(t, cfg)

	pieces, err := s.SelectPieces(allPieces(100), uniform)
	require.NoError(t, err)
	assert.Len(t, pieces, 100)
	assert.Len(t, s.ActiveRequests(), 20)

	// Only the unmarked pieces are offered in the next tick.
	pieces, err = s.SelectPieces(allPieces(100), uniform)
	require.NoError(t, err)
	assert.Len(t, pieces, 80)
	assert.Equal(t, uint32(20), pieces[0])
}

func TestNoDuplicateInFlight(t *testing.T) {
	for _, mode := range []Mode{Normal, Aggressive} {
		t.Run(mode.String(), func(t *testing.T) {
			cfg := DefaultConfig
			cfg.StartAggressive = mode == Aggressive
			s, clock := newScheduler(t, cfg)
			avail := allPieces(8)

			first, err := s.SelectPieces(avail, uniform)
			require.NoError(t, err)
			assert.Len(t, first, 8)

			clock.Advance(time.Second)
			second, err := s.SelectPieces(avail, uniform)
			require.NoError(t, err)
			assert.Empty(t, second)
			assert.NotNil(t, second)
		})
	}
}

func TestStaleRequestIsReofferedInAggressiveMode(t *testing.T) {
	cfg := DefaultConfig
	cfg.StartAggressive = true
	s, clock := newScheduler(t, cfg)
	avail := bitfield.Of(10, 3, 7)

	pieces, err := s.SelectPieces(avail, uniform)
	require.NoError(t, err)
	assert.Equal(t, []uint32{3, 7}, pieces)

	clock.Advance(30 * time.Second)
	pieces, err = s.SelectPieces(avail, uniform)
	require.NoError(t, err)
	assert.Empty(t, pieces, "request is not stale until timeout is exceeded")

	clock.Advance(time.Millisecond)
	assert.Equal(t, 2, s.Stats().StalledRequests)
	pieces, err = s.SelectPieces(avail, uniform)
	require.NoError(t, err)
	assert.Equal(t, []uint32{3, 7}, pieces)
	assert.Equal(t, int64(2), s.Stats().StaleReoffers)

	// Re-offered pieces are marked again with a fresh timestamp.
	reqs := s.ActiveRequests()
	require.Len(t, reqs, 2)
	assert.Equal(t, clock.Now(), reqs[0].RequestedAt)
}

func TestStaleRequestIsNotReofferedInNormalMode(t *testing.T) {
	s, clock := newScheduler(t, DefaultConfig)
	avail := bitfield.Of(10, 3)

	_, err := s.SelectPieces(avail, uniform)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	pieces, err := s.SelectPieces(avail, uniform)
	require.NoError(t, err)
	assert.Empty(t, pieces)
}

func TestEndgameSaturation(t *testing.T) {
	s, clock := newScheduler(t, DefaultConfig)
	avail := allPieces(60)

	_, err := s.SelectPieces(avail, uniform)
	require.NoError(t, err)
	require.NoError(t, s.UpdateProgress(96))

	for i := 0; i < 3; i++ {
		pieces, err := s.SelectPieces(avail, counts(make([]int, 60)...))
		require.NoError(t, err)
		assert.Equal(t, avail.Indexes(), pieces)
		clock.Advance(time.Second)
	}
	// Pieces marked in normal mode stay tracked next to the 20 marked in endgame.
	assert.GreaterOrEqual(t, len(s.ActiveRequests()), 20)
}

func TestCompletionClearsTracking(t *testing.T) {
	s, clock := newScheduler(t, DefaultConfig)
	avail := bitfield.Of(10, 7)

	pieces, err := s.SelectPieces(avail, uniform)
	require.NoError(t, err)
	assert.Equal(t, []uint32{7}, pieces)

	require.NoError(t, s.PieceCompleted(7))
	assert.Empty(t, s.ActiveRequests())
	require.NoError(t, s.PieceCompleted(7))

	clock.Advance(time.Second)
	pieces, err = s.SelectPieces(avail, uniform)
	require.NoError(t, err)
	assert.Equal(t, []uint32{7}, pieces)
}

func TestEmptyInput(t *testing.T) {
	for _, mode := range []Mode{Normal, Aggressive, Endgame} {
		t.Run(mode.String(), func(t *testing.T) {
			s, _ := newScheduler(t, DefaultConfig)
			switch mode {
			case Aggressive:
				s.SetAggressive(true)
			case Endgame:
				require.NoError(t, s.UpdateProgress(100))
			}
			require.Equal(t, mode, s.Mode())

			pieces, err := s.SelectPieces(bitfield.New(16), uniform)
			require.NoError(t, err)
			assert.NotNil(t, pieces)
			assert.Empty(t, pieces)

			pieces, err = s.SelectPieces(nil, uniform)
			require.NoError(t, err)
			assert.Empty(t, pieces)
			assert.Equal(t, int64(2), s.Stats().EmptyTicks)
		})
	}
}

func TestInputErrors(t *testing.T) {
	cfg := DefaultConfig
	cfg.NumPieces = 8
	s, _ := newScheduler(t, cfg)

	var ie *InputError
	assert.True(t, errors.As(s.UpdatePeerCount(-1), &ie))
	assert.True(t, errors.As(s.UpdateProgress(-0.1), &ie))
	assert.True(t, errors.As(s.UpdateProgress(100.1), &ie))
	assert.True(t, errors.As(s.UpdateProgress(math.NaN()), &ie))
	assert.True(t, errors.As(s.PieceCompleted(8), &ie))
	assert.NoError(t, s.PieceCompleted(7))

	_, err := s.SelectPieces(bitfield.New(9), uniform)
	assert.True(t, errors.As(err, &ie))
	_, err = s.SelectPieces(bitfield.New(8), nil)
	assert.True(t, errors.As(err, &ie))

	// Rejected input does not change state.
	assert.Equal(t, Normal, s.Mode())
	assert.Equal(t, 0, s.Stats().Peers)
	assert.Zero(t, s.Stats().Progress)
}

func TestConcurrentAccess(t *testing.T) {
	s, clock := newScheduler(t, DefaultConfig)
	const numPieces = 200
	avail := allPieces(numPieces)
	rarity := RarityFunc(func(i uint32) int { return int(i % 7) })

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			pieces, err := s.SelectPieces(avail, rarity)
			assert.NoError(t, err)
			for _, p := range pieces {
				assert.Less(t, p, uint32(numPieces))
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			assert.NoError(t, s.UpdatePeerCount(10-i%10))
			assert.NoError(t, s.UpdateProgress(float64(i)/2))
			clock.Advance(time.Second)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			assert.NoError(t, s.PieceCompleted(uint32(i%numPieces)))
			_ = s.ActiveRequests()
			_ = s.Stats()
		}
	}()
	wg.Wait()
	assert.Equal(t, Endgame, s.Mode())
}

func TestMetrics(t *testing.T) {
	s, _ := newScheduler(t, DefaultConfig)
	_, err := s.SelectPieces(allPieces(15), uniform)
	require.NoError(t, err)

	r := s.Registry()
	assert.Equal(t, int64(10), r.Get("active_requests").(interface{ Value() int64 }).Value())
	assert.Equal(t, int64(Normal), r.Get("mode").(interface{ Value() int64 }).Value())
	st := s.Stats()
	assert.Equal(t, int64(1), st.Ticks)
	assert.Equal(t, int64(15), st.PiecesOffered)
}
