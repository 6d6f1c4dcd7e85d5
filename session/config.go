package session

import (
	"errors"
	"os"
	"time"

	"github.com/opifices/opit/internal/piecescheduler"
	"gopkg.in/yaml.v2"
)

// Config for Session.
type Config struct {
	// Database file to save session statistics. Statistics are not saved if empty.
	Database string `yaml:"database"`
	// Interval of asking the scheduler for pieces to request.
	TickInterval time.Duration `yaml:"tick-interval"`
	// Interval of calculating status, rates and feeding peer count and progress to the scheduler.
	StatusInterval time.Duration `yaml:"status-interval"`
	// Interval of writing session statistics to the database.
	StatsWriteInterval time.Duration `yaml:"stats-write-interval"`

	// Enable RPC server
	RPCEnabled bool `yaml:"rpc-enabled"`
	// Host to listen for RPC server
	RPCHost string `yaml:"rpc-host"`
	// Listen port for RPC server
	RPCPort int `yaml:"rpc-port"`
	// Time to wait for ongoing requests before shutting down RPC HTTP server.
	RPCShutdownTimeout time.Duration `yaml:"rpc-shutdown-timeout"`

	// JavaScript file that defines onSwarmUpdate function. Advisor is disabled if empty.
	AdvisorScript string `yaml:"advisor-script"`
	// Max running time of a single advisor call.
	AdvisorTimeout time.Duration `yaml:"advisor-timeout"`
	// Max number of advisor calls per second.
	AdvisorRate float64 `yaml:"advisor-rate"`

	Scheduler piecescheduler.Config `yaml:"scheduler"`
}

// DefaultConfig for Session.
var DefaultConfig = Config{
	Database:           "~/.opit/stats.db",
	TickInterval:       time.Second,
	StatusInterval:     time.Second,
	StatsWriteInterval: 10 * time.Second,
	RPCEnabled:         true,
	RPCHost:            "127.0.0.1",
	RPCPort:            7246,
	RPCShutdownTimeout: 5 * time.Second,
	AdvisorTimeout:     100 * time.Millisecond,
	AdvisorRate:        1,
	Scheduler:          piecescheduler.DefaultConfig,
}

// LoadConfig reads the YAML file at filename on top of DefaultConfig.
// DefaultConfig is returned if the file does not exist.
func LoadConfig(filename string) (*Config, error) {
	c := DefaultConfig
	b, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return &c, nil
	}
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, c.Validate()
}

// Validate returns an error describing the first invalid field.
func (c *Config) Validate() error {
	switch {
	case c.TickInterval <= 0:
		return errors.New("tick-interval must be positive")
	case c.StatusInterval <= 0:
		return errors.New("status-interval must be positive")
	case c.Database != "" && c.StatsWriteInterval <= 0:
		return errors.New("stats-write-interval must be positive")
	case c.RPCEnabled && (c.RPCPort < 0 || c.RPCPort > 65535):
		return errors.New("invalid rpc-port")
	case c.AdvisorTimeout <= 0:
		return errors.New("advisor-timeout must be positive")
	case c.AdvisorRate <= 0:
		return errors.New("advisor-rate must be positive")
	}
	return c.Scheduler.Validate()
}
