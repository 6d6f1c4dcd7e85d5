package piecescheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig.Validate())

	for name, modify := range map[string]func(c *Config){
		"low seed":          func(c *Config) { c.LowSeedThreshold = -1 },
		"endgame zero":      func(c *Config) { c.EndgameThreshold = 0 },
		"endgame above 100": func(c *Config) { c.EndgameThreshold = 100.5 },
		"timeout":           func(c *Config) { c.RequestTimeout = -time.Second },
		"normal cap":        func(c *Config) { c.NormalCap = 0 },
		"aggressive cap":    func(c *Config) { c.AggressiveCap = 0 },
		"result cap":        func(c *Config) { c.NormalResultCap = -5 },
	} {
		cfg := DefaultConfig
		modify(&cfg)
		assert.Error(t, cfg.Validate(), name)

		_, err := New(cfg)
		var ie *InputError
		assert.True(t, errors.As(err, &ie), name)
	}
}
