package simulation

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultStateFile is the state file name inside a data directory.
const DefaultStateFile = "simulation_state.yaml"

// SimState captures the persisted simulation clock and content queue.
type SimState struct {
	CurrentDay  int                `yaml:"current_simulation_day" json:"current_simulation_day"`
	Started     bool               `yaml:"started" json:"started"`
	Queued      []string           `yaml:"ads_scheduled_for_day" json:"ads_scheduled_for_day"`
	Active      []string           `yaml:"active_ads" json:"active_ads"`
	Deactivated []string           `yaml:"deactivated_ads,omitempty" json:"deactivated_ads,omitempty"`
	Scores      map[string]float64 `yaml:"scores,omitempty" json:"scores,omitempty"`
}

// NewSimState returns the state of a run that has not started.
func NewSimState() *SimState {
	return &SimState{
		Queued: []string{},
		Active: []string{},
	}
}

// LoadSimState reads the persisted simulation state. Missing keys keep
// their defaults.
func LoadSimState(path string) (*SimState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	state := NewSimState()
	if err := yaml.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return state, nil
}

// SaveSimState writes state atomically.
func SaveSimState(path string, state *SimState) error {
	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
