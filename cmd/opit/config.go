package main

import (
	"os"

	"github.com/opifices/opit/internal/simswarm"
	"gopkg.in/yaml.v2"
)

// loadSimulationConfig reads the "simulation" section of the config file on top of simswarm.DefaultConfig.
func loadSimulationConfig(filename string) (*simswarm.Config, error) {
	c := struct {
		Simulation simswarm.Config `yaml:"simulation"`
	}{
		Simulation: simswarm.DefaultConfig,
	}
	b, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return &c.Simulation, nil
	}
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c.Simulation, c.Simulation.Validate()
}
