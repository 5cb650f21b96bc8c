package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/jobshop-sim/jobshop-sim/sim"
)

// ScenarioConfig is the YAML scenario file layout: named run presets.
type ScenarioConfig struct {
	Scenarios map[string]sim.Config `yaml:"scenarios"`
}

// GetScenario loads one named preset from a YAML scenario file.
func GetScenario(path string, name string) (sim.Config, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		logrus.Fatalf("Unable to read scenario file %s: %v", path, err)
	}

	var cfg ScenarioConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		logrus.Fatalf("Unable to parse scenario file %s: %v", path, err)
	}

	scenario, ok := cfg.Scenarios[name]
	return scenario, ok
}
