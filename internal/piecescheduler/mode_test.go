package piecescheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransition(t *testing.T) {
	cases := []struct {
		from  Mode
		event event
		to    Mode
	}{
		{Normal, eventLowSeeds, Aggressive},
		{Normal, eventForceAggressive, Aggressive},
		{Normal, eventForceNormal, Normal},
		{Normal, eventProgressReached, Endgame},
		{Aggressive, eventLowSeeds, Aggressive},
		{Aggressive, eventForceAggressive, Aggressive},
		{Aggressive, eventForceNormal, Normal},
		{Aggressive, eventProgressReached, Endgame},
		{Endgame, eventLowSeeds, Endgame},
		{Endgame, eventForceAggressive, Endgame},
		{Endgame, eventForceNormal, Endgame},
		{Endgame, eventProgressReached, Endgame},
	}
	for _, c := range cases {
		assert.Equal(t, c.to, transition(c.from, c.event), "%s + %s", c.from, c.event)
	}
}

func TestAutomaticEventsNeverRegress(t *testing.T) {
	for _, m := range []Mode{Normal, Aggressive, Endgame} {
		for _, e := range []event{eventLowSeeds, eventProgressReached} {
			assert.GreaterOrEqual(t, transition(m, e), m)
		}
	}
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "normal", Normal.String())
	assert.Equal(t, "aggressive", Aggressive.String())
	assert.Equal(t, "endgame", Endgame.String())
	assert.Equal(t, "unknown", Mode(7).String())
}
