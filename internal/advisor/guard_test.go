package advisor

import (
	"errors"
	"testing"

	"github.com/opifices/opit/internal/logger"
	"github.com/stretchr/testify/assert"
)

func TestGuardRateLimit(t *testing.T) {
	var calls int
	g := NewGuard(Func(func(Update) error {
		calls++
		return nil
	}), 0.001, logger.New("test"))

	g.Notify(Update{})
	g.Notify(Update{})
	g.Notify(Update{})

	assert.Equal(t, 1, calls)
	assert.Equal(t, GuardStats{Calls: 1, Dropped: 2}, g.Stats())
}

func TestGuardRecoversFailures(t *testing.T) {
	g := NewGuard(Func(func(u Update) error {
		if u.Peers == 0 {
			panic("boom")
		}
		return errors.New("failed")
	}), 1e9, logger.New("test"))

	assert.NotPanics(t, func() { g.Notify(Update{}) })
	g.Notify(Update{Peers: 1})
	assert.Equal(t, int64(2), g.Stats().Failed)
}

func TestNop(t *testing.T) {
	g := NewGuard(Nop{}, 1e9, logger.New("test"))
	g.Notify(Update{})
	assert.Equal(t, GuardStats{Calls: 1}, g.Stats())
}
